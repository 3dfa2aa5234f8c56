package repository

import (
	"context"

	"gorm.io/gorm"

	"scoring-system/backend/internal/model"
)

// ProjectRepository 项目数据访问接口（只读）
type ProjectRepository interface {
	GetByID(ctx context.Context, projectID string) (*model.Project, error)
}

// StageRepository 阶段数据访问接口（只读）
type StageRepository interface {
	GetByID(ctx context.Context, projectID, stageID string) (*model.Stage, error)
}

// MembershipRepository 小组成员与项目查看角色数据访问接口（只读）
type MembershipRepository interface {
	ListActiveByGroup(ctx context.Context, projectID, groupID string) ([]model.GroupMembership, error)
	GetActiveByUser(ctx context.Context, projectID, userEmail string) (*model.GroupMembership, error)
	GetActiveViewer(ctx context.Context, projectID, userEmail string) (*model.ProjectViewer, error)
}

// TargetRepository 排名目标状态查询接口
type TargetRepository interface {
	SubmissionStatuses(ctx context.Context, projectID, stageID string, ids []string) (map[string]string, error)
	CommentStatuses(ctx context.Context, projectID, stageID string, ids []string) (map[string]string, error)
}

// ── Project Repository 实现 ──

type projectRepo struct {
	db *gorm.DB
}

func NewProjectRepo(db *gorm.DB) ProjectRepository {
	return &projectRepo{db: db}
}

func (r *projectRepo) GetByID(ctx context.Context, projectID string) (*model.Project, error) {
	var p model.Project
	err := r.db.WithContext(ctx).Where("project_id = ?", projectID).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ── Stage Repository 实现 ──

type stageRepo struct {
	db *gorm.DB
}

func NewStageRepo(db *gorm.DB) StageRepository {
	return &stageRepo{db: db}
}

func (r *stageRepo) GetByID(ctx context.Context, projectID, stageID string) (*model.Stage, error) {
	var s model.Stage
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND stage_id = ?", projectID, stageID).
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ── Membership Repository 实现 ──

type membershipRepo struct {
	db *gorm.DB
}

func NewMembershipRepo(db *gorm.DB) MembershipRepository {
	return &membershipRepo{db: db}
}

func (r *membershipRepo) ListActiveByGroup(ctx context.Context, projectID, groupID string) ([]model.GroupMembership, error) {
	var members []model.GroupMembership
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND group_id = ? AND is_active = ?", projectID, groupID, true).
		Order("joined_at ASC").
		Find(&members).Error
	return members, err
}

func (r *membershipRepo) GetActiveByUser(ctx context.Context, projectID, userEmail string) (*model.GroupMembership, error) {
	var m model.GroupMembership
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND user_email = ? AND is_active = ?", projectID, userEmail, true).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *membershipRepo) GetActiveViewer(ctx context.Context, projectID, userEmail string) (*model.ProjectViewer, error) {
	var v model.ProjectViewer
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND user_email = ? AND is_active = ?", projectID, userEmail, true).
		First(&v).Error
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ── Target Repository 实现 ──

type targetRepo struct {
	db *gorm.DB
}

func NewTargetRepo(db *gorm.DB) TargetRepository {
	return &targetRepo{db: db}
}

type targetStatusRow struct {
	ID     string
	Status string
}

func (r *targetRepo) SubmissionStatuses(ctx context.Context, projectID, stageID string, ids []string) (map[string]string, error) {
	if len(ids) == 0 {
		return map[string]string{}, nil
	}
	var rows []targetStatusRow
	err := r.db.WithContext(ctx).
		Model(&model.Submission{}).
		Select("submission_id AS id, status").
		Where("project_id = ? AND stage_id = ? AND submission_id IN ?", projectID, stageID, ids).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return toStatusMap(rows), nil
}

func (r *targetRepo) CommentStatuses(ctx context.Context, projectID, stageID string, ids []string) (map[string]string, error) {
	if len(ids) == 0 {
		return map[string]string{}, nil
	}
	var rows []targetStatusRow
	err := r.db.WithContext(ctx).
		Model(&model.Comment{}).
		Select("comment_id AS id, status").
		Where("project_id = ? AND stage_id = ? AND comment_id IN ?", projectID, stageID, ids).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return toStatusMap(rows), nil
}

func toStatusMap(rows []targetStatusRow) map[string]string {
	m := make(map[string]string, len(rows))
	for _, row := range rows {
		m[row.ID] = row.Status
	}
	return m
}
