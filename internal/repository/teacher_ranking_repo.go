package repository

import (
	"context"

	"gorm.io/gorm"

	"scoring-system/backend/internal/model"
)

// TeacherRankingRepository 教师排名数据访问接口（按版本追加，不删除旧版本）
type TeacherRankingRepository interface {
	CreateVersion(ctx context.Context, rows []model.TeacherRanking) error
	ListByStage(ctx context.Context, projectID, stageID string) ([]model.TeacherRanking, error)
	ListByRater(ctx context.Context, projectID, stageID, raterEmail string) ([]model.TeacherRanking, error)
}

type teacherRankingRepo struct {
	db *gorm.DB
}

func NewTeacherRankingRepo(db *gorm.DB) TeacherRankingRepository {
	return &teacherRankingRepo{db: db}
}

// CreateVersion 一次提交的所有行在同一事务中写入，避免出现半个版本
func (r *teacherRankingRepo) CreateVersion(ctx context.Context, rows []model.TeacherRanking) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&rows).Error
	})
}

// ListByStage 按提交时间升序返回，聚合时依赖首次出现顺序
func (r *teacherRankingRepo) ListByStage(ctx context.Context, projectID, stageID string) ([]model.TeacherRanking, error) {
	var rows []model.TeacherRanking
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND stage_id = ?", projectID, stageID).
		Order("created_time ASC, rank ASC").
		Find(&rows).Error
	return rows, err
}

func (r *teacherRankingRepo) ListByRater(ctx context.Context, projectID, stageID, raterEmail string) ([]model.TeacherRanking, error) {
	var rows []model.TeacherRanking
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND stage_id = ? AND rater_email = ?", projectID, stageID, raterEmail).
		Order("created_time DESC, target_type ASC, rank ASC").
		Find(&rows).Error
	return rows, err
}
