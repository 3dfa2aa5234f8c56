package handler

import (
	"github.com/gin-gonic/gin"

	"scoring-system/backend/internal/dto"
	"scoring-system/backend/internal/service"
	"scoring-system/backend/pkg/response"
)

// NotificationHandler 站内通知 HTTP 处理器
type NotificationHandler struct {
	notificationSvc service.NotificationService
}

// NewNotificationHandler 创建 NotificationHandler
func NewNotificationHandler(notificationSvc service.NotificationService) *NotificationHandler {
	return &NotificationHandler{notificationSvc: notificationSvc}
}

// ListNotifications 当前用户的通知
// GET /api/v1/notifications?page=1&page_size=20
func (h *NotificationHandler) ListNotifications(c *gin.Context) {
	var page dto.PaginationRequest
	if err := c.ShouldBindQuery(&page); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	email, ok := MustGetUserEmail(c)
	if !ok {
		return
	}

	list, total, err := h.notificationSvc.List(c.Request.Context(), email, page.GetPage(), page.GetPageSize())
	if err != nil {
		response.InternalError(c)
		return
	}
	response.OKPage(c, list, total, page.GetPage(), page.GetPageSize())
}
