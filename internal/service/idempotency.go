package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"scoring-system/backend/internal/model"
	"scoring-system/backend/internal/repository"
	pkgerrors "scoring-system/backend/pkg/errors"
)

// 去重动作名
const (
	ActionSubmit      = "ranking_submit"
	ActionVote        = "ranking_vote"
	ActionWithdraw    = "ranking_withdraw"
	ActionReset       = "ranking_reset"
	ActionSettle      = "ranking_settle"
	ActionTeacherRank = "teacher_ranking"
)

// DedupKey 构造去重键 {action}:{entityID}:{actor}:{bucket}
// bucket = floor(now / window)，同一时间桶内的相同请求视为重试
func DedupKey(action, entityID, actorEmail string, now time.Time, window time.Duration) string {
	if window <= 0 {
		window = time.Minute
	}
	bucket := now.UnixMilli() / window.Milliseconds()
	return fmt.Sprintf("%s:%s:%s:%d", action, entityID, normalizeEmail(actorEmail), bucket)
}

// ActionMeta 写入动作日志的上下文
type ActionMeta struct {
	Action     string
	ActorEmail string
	EntityType string
	EntityID   string
	ProjectID  string
	Context    map[string]interface{}
}

// IdempotencyGuard 幂等守卫
// RecordIfNew 在任何状态变更前调用；返回 false 表示同一动作已记录过。
type IdempotencyGuard interface {
	RecordIfNew(ctx context.Context, dedupKey string, meta ActionMeta) (bool, error)
}

type actionLogGuard struct {
	repo repository.ActionLogRepository
	now  func() time.Time
}

// NewIdempotencyGuard 基于 action_logs 唯一约束的幂等守卫
func NewIdempotencyGuard(repo repository.ActionLogRepository, now func() time.Time) IdempotencyGuard {
	if now == nil {
		now = time.Now
	}
	return &actionLogGuard{repo: repo, now: now}
}

func (g *actionLogGuard) RecordIfNew(ctx context.Context, dedupKey string, meta ActionMeta) (bool, error) {
	log := &model.ActionLog{
		LogID:      uuid.NewString(),
		DedupKey:   dedupKey,
		Action:     meta.Action,
		ActorEmail: meta.ActorEmail,
		EntityType: meta.EntityType,
		EntityID:   meta.EntityID,
		Context:    meta.Context,
		CreatedAt:  g.now(),
	}
	if meta.ProjectID != "" {
		log.ProjectID = &meta.ProjectID
	}

	err := g.repo.Insert(ctx, log)
	if errors.Is(err, pkgerrors.ErrDuplicateKey) {
		return false, nil
	}
	if err != nil {
		// 非唯一冲突的存储错误向上抛出，调用方不得继续变更
		return false, err
	}
	return true, nil
}
