package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"scoring-system/backend/internal/model"
	pkgerrors "scoring-system/backend/pkg/errors"
)

// ProposalRepository 排名提案数据访问接口
//
// 终态写入全部是条件更新（CAS）：WHERE 终态列 IS NULL，
// 影响 0 行即返回 pkgerrors.ErrCASConflict，调用方不得盲目重试覆盖。
type ProposalRepository interface {
	Create(ctx context.Context, proposal *model.Proposal) error
	GetByID(ctx context.Context, id string) (*model.Proposal, error)
	ListByStage(ctx context.Context, projectID, stageID string) ([]model.Proposal, error)
	ListByGroupStage(ctx context.Context, projectID, stageID, groupID string) ([]model.Proposal, error)
	GetSuccessor(ctx context.Context, predecessorID string) (*model.Proposal, error)
	CountResets(ctx context.Context, projectID, stageID, groupID string) (int64, error)
	MarkWithdrawn(ctx context.Context, id, actorEmail string, at time.Time) error
	MarkSettled(ctx context.Context, id string, at time.Time) error
	ResetWithSuccessor(ctx context.Context, oldID, actorEmail string, at time.Time, successor *model.Proposal) error
}

// VoteRepository 投票账本数据访问接口（只追加）
type VoteRepository interface {
	Append(ctx context.Context, vote *model.ProposalVote) error
	ListByProposal(ctx context.Context, proposalID string) ([]model.ProposalVote, error)
	ListByProposals(ctx context.Context, proposalIDs []string) ([]model.ProposalVote, error)
}

// openCondition 三个终态列均为空
const openCondition = "settled_at IS NULL AND withdrawn_at IS NULL AND reset_at IS NULL"

// ── Proposal Repository 实现 ──

type proposalRepo struct {
	db *gorm.DB
}

func NewProposalRepo(db *gorm.DB) ProposalRepository {
	return &proposalRepo{db: db}
}

func (r *proposalRepo) Create(ctx context.Context, proposal *model.Proposal) error {
	err := r.db.WithContext(ctx).Create(proposal).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return pkgerrors.ErrDuplicateKey
	}
	return err
}

func (r *proposalRepo) GetByID(ctx context.Context, id string) (*model.Proposal, error) {
	var p model.Proposal
	err := r.db.WithContext(ctx).
		Where("proposal_id = ?", id).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *proposalRepo) ListByStage(ctx context.Context, projectID, stageID string) ([]model.Proposal, error) {
	var list []model.Proposal
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND stage_id = ?", projectID, stageID).
		Order("group_id ASC, created_time ASC").
		Find(&list).Error
	return list, err
}

func (r *proposalRepo) ListByGroupStage(ctx context.Context, projectID, stageID, groupID string) ([]model.Proposal, error) {
	var list []model.Proposal
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND stage_id = ? AND group_id = ?", projectID, stageID, groupID).
		Order("created_time ASC").
		Find(&list).Error
	return list, err
}

func (r *proposalRepo) GetSuccessor(ctx context.Context, predecessorID string) (*model.Proposal, error) {
	var p model.Proposal
	err := r.db.WithContext(ctx).
		Where("predecessor_id = ?", predecessorID).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *proposalRepo) CountResets(ctx context.Context, projectID, stageID, groupID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Proposal{}).
		Where("project_id = ? AND stage_id = ? AND group_id = ? AND reset_at IS NOT NULL", projectID, stageID, groupID).
		Count(&count).Error
	return count, err
}

func (r *proposalRepo) MarkWithdrawn(ctx context.Context, id, actorEmail string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&model.Proposal{}).
		Where("proposal_id = ? AND "+openCondition, id).
		Updates(map[string]interface{}{
			"withdrawn_at": at,
			"withdrawn_by": actorEmail,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.ErrCASConflict
	}
	return nil
}

func (r *proposalRepo) MarkSettled(ctx context.Context, id string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&model.Proposal{}).
		Where("proposal_id = ? AND "+openCondition, id).
		Update("settled_at", at)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.ErrCASConflict
	}
	return nil
}

// ResetWithSuccessor 在同一事务内终结旧提案并插入后继提案，任一步失败整体回滚
func (r *proposalRepo) ResetWithSuccessor(ctx context.Context, oldID, actorEmail string, at time.Time, successor *model.Proposal) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&model.Proposal{}).
			Where("proposal_id = ? AND "+openCondition, oldID).
			Updates(map[string]interface{}{
				"reset_at": at,
				"reset_by": actorEmail,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return pkgerrors.ErrCASConflict
		}

		if err := tx.Create(successor).Error; err != nil {
			// 后继唯一索引 / 未终结唯一索引冲突：另一个重置请求已抢先完成
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return pkgerrors.ErrCASConflict
			}
			return err
		}
		return nil
	})
}

// ── Vote Repository 实现 ──

type voteRepo struct {
	db *gorm.DB
}

func NewVoteRepo(db *gorm.DB) VoteRepository {
	return &voteRepo{db: db}
}

// Append 以共享锁锁住未终结的提案行后写入选票，与终态写入互斥；
// 提案已终结时返回 pkgerrors.ErrCASConflict
func (r *voteRepo) Append(ctx context.Context, vote *model.ProposalVote) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p model.Proposal
		err := tx.Clauses(clause.Locking{Strength: "SHARE"}).
			Select("proposal_id").
			Where("proposal_id = ? AND "+openCondition, vote.ProposalID).
			Take(&p).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.ErrCASConflict
		}
		if err != nil {
			return err
		}
		return tx.Create(vote).Error
	})
}

func (r *voteRepo) ListByProposal(ctx context.Context, proposalID string) ([]model.ProposalVote, error) {
	var votes []model.ProposalVote
	err := r.db.WithContext(ctx).
		Where("proposal_id = ?", proposalID).
		Order("voted_at ASC").
		Find(&votes).Error
	return votes, err
}

func (r *voteRepo) ListByProposals(ctx context.Context, proposalIDs []string) ([]model.ProposalVote, error) {
	if len(proposalIDs) == 0 {
		return nil, nil
	}
	var votes []model.ProposalVote
	err := r.db.WithContext(ctx).
		Where("proposal_id IN ?", proposalIDs).
		Order("voted_at ASC").
		Find(&votes).Error
	return votes, err
}
