package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"scoring-system/backend/internal/dto"
	"scoring-system/backend/internal/repository"
)

// NotificationService 站内通知查询
type NotificationService interface {
	List(ctx context.Context, userEmail string, page, pageSize int) ([]dto.NotificationResponse, int64, error)
}

type notificationService struct {
	repo   *repository.Repository
	logger *zap.Logger
}

// NewNotificationService 创建 NotificationService 实例
func NewNotificationService(repo *repository.Repository, logger *zap.Logger) NotificationService {
	return &notificationService{repo: repo, logger: logger}
}

func (s *notificationService) List(ctx context.Context, userEmail string, page, pageSize int) ([]dto.NotificationResponse, int64, error) {
	page, pageSize = normalizePage(page, pageSize)
	rows, total, err := s.repo.Notification.ListByUser(ctx, normalizeEmail(userEmail), (page-1)*pageSize, pageSize)
	if err != nil {
		s.logger.Error("查询通知列表失败", zap.Error(err))
		return nil, 0, err
	}

	list := make([]dto.NotificationResponse, 0, len(rows))
	for _, n := range rows {
		list = append(list, dto.NotificationResponse{
			NotificationID: n.NotificationID,
			Type:           n.Type,
			Title:          n.Title,
			Content:        n.Content,
			IsRead:         n.IsRead,
			ProjectID:      n.ProjectID,
			RelatedType:    n.RelatedType,
			RelatedID:      n.RelatedID,
			CreatedAt:      n.CreatedAt.Format(time.RFC3339),
		})
	}
	return list, total, nil
}
