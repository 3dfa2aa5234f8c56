package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"scoring-system/backend/internal/model"
	pkgerrors "scoring-system/backend/pkg/errors"
)

// ActionLogRepository 去重动作日志数据访问接口
type ActionLogRepository interface {
	// Insert 写入动作日志；dedup_key 已存在时返回 pkgerrors.ErrDuplicateKey
	Insert(ctx context.Context, log *model.ActionLog) error
}

// EventLogRepository 操作审计日志数据访问接口
type EventLogRepository interface {
	Create(ctx context.Context, log *model.EventLog) error
	ListByEntity(ctx context.Context, entityType, entityID string, offset, limit int) ([]model.EventLog, int64, error)
}

// ── ActionLog Repository 实现 ──

type actionLogRepo struct {
	db *gorm.DB
}

func NewActionLogRepo(db *gorm.DB) ActionLogRepository {
	return &actionLogRepo{db: db}
}

func (r *actionLogRepo) Insert(ctx context.Context, log *model.ActionLog) error {
	err := r.db.WithContext(ctx).Create(log).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return pkgerrors.ErrDuplicateKey
	}
	return err
}

// ── EventLog Repository 实现 ──

type eventLogRepo struct {
	db *gorm.DB
}

func NewEventLogRepo(db *gorm.DB) EventLogRepository {
	return &eventLogRepo{db: db}
}

func (r *eventLogRepo) Create(ctx context.Context, log *model.EventLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

func (r *eventLogRepo) ListByEntity(ctx context.Context, entityType, entityID string, offset, limit int) ([]model.EventLog, int64, error) {
	var logs []model.EventLog
	var total int64

	query := r.db.WithContext(ctx).
		Model(&model.EventLog{}).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&logs).Error
	return logs, total, err
}
