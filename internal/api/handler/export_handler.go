package handler

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"scoring-system/backend/internal/service"
	"scoring-system/backend/pkg/response"
)

// ExportHandler 导出模块 HTTP 处理器
type ExportHandler struct {
	exportSvc service.ExportService
}

// NewExportHandler 创建 ExportHandler
func NewExportHandler(exportSvc service.ExportService) *ExportHandler {
	return &ExportHandler{exportSvc: exportSvc}
}

// ExportStageRankings 导出阶段排名
// GET /api/v1/projects/:pid/stages/:sid/export
func (h *ExportHandler) ExportStageRankings(c *gin.Context) {
	actor, ok := MustGetActor(c)
	if !ok {
		return
	}

	buf, filename, err := h.exportSvc.ExportStageRankings(c.Request.Context(), actor, c.Param("pid"), c.Param("sid"))
	if err != nil {
		h.handleExportError(c, err)
		return
	}

	// 设置下载响应头
	encodedFilename := url.QueryEscape(filename)
	c.Header("Content-Description", "File Transfer")
	c.Header("Content-Disposition", "attachment; filename*=UTF-8''"+encodedFilename)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

func (h *ExportHandler) handleExportError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrExportNoRankings):
		response.NotFound(c, 16101, "该阶段暂无排名数据")
	case errors.Is(err, service.ErrExportGenerateFail):
		response.InternalError(c)
	default:
		handleConsensusError(c, err)
	}
}
