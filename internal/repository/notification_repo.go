package repository

import (
	"context"

	"gorm.io/gorm"

	"scoring-system/backend/internal/model"
)

// NotificationRepository 站内通知数据访问接口
type NotificationRepository interface {
	BatchCreate(ctx context.Context, list []model.Notification) error
	ListByUser(ctx context.Context, userEmail string, offset, limit int) ([]model.Notification, int64, error)
}

type notificationRepo struct {
	db *gorm.DB
}

func NewNotificationRepo(db *gorm.DB) NotificationRepository {
	return &notificationRepo{db: db}
}

func (r *notificationRepo) BatchCreate(ctx context.Context, list []model.Notification) error {
	if len(list) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&list).Error
}

func (r *notificationRepo) ListByUser(ctx context.Context, userEmail string, offset, limit int) ([]model.Notification, int64, error) {
	var list []model.Notification
	var total int64

	query := r.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("user_email = ?", userEmail)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&list).Error
	return list, total, err
}
