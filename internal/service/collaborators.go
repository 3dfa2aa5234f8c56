package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"scoring-system/backend/config"
	"scoring-system/backend/internal/model"
	"scoring-system/backend/internal/repository"
)

// ════════════════════════════════════════════════════════════
// 外部协作方接口及默认实现
// ════════════════════════════════════════════════════════════

// GroupMember 小组有效成员
type GroupMember struct {
	Email string
	Role  string // leader | member
}

// MembershipLookup 成员与项目角色查询
type MembershipLookup interface {
	GetActiveGroupMembers(ctx context.Context, projectID, groupID string) ([]GroupMember, error)
	// GetActiveMembership 用户在项目中的小组；不属于任何小组时返回 nil, nil
	GetActiveMembership(ctx context.Context, projectID, userEmail string) (*model.GroupMembership, error)
	// GetProjectRole 返回 teacher / observer；无角色返回空串
	GetProjectRole(ctx context.Context, projectID, userEmail string) (string, error)
}

// StageGateResult 阶段闸门判定
type StageGateResult struct {
	Valid     bool
	ErrorCode string
	Status    model.StageStatus
}

// StageGate 判断阶段当前是否接受排名操作
type StageGate interface {
	StageAcceptsRankings(ctx context.Context, projectID, stageID string) (StageGateResult, error)
}

// TargetValidator 过滤失效的排名目标
type TargetValidator interface {
	FilterValid(ctx context.Context, projectID, stageID string, items []model.RankingItem) (valid, dropped []model.RankingItem, err error)
}

// Operation 审计日志条目
type Operation struct {
	ActorEmail string
	Action     string
	EntityType string
	EntityID   string
	ProjectID  string
	Details    map[string]interface{}
	Level      string
}

// AuditLogger 审计日志（旁路写入，失败不影响主流程）
type AuditLogger interface {
	RecordOperation(ctx context.Context, op Operation)
}

// Notice 通知内容
type Notice struct {
	Type        string
	Title       string
	Content     string
	ProjectID   string
	RelatedType string
	RelatedID   string
}

// Notifier 通知分发（尽力而为，失败只记日志）
type Notifier interface {
	Notify(ctx context.Context, targetEmails []string, notice Notice)
}

// NoticePublisher 实时通知发布端（*redis.Client 实现）
type NoticePublisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Collaborators 共识服务依赖的协作方集合
type Collaborators struct {
	Members  MembershipLookup
	Stages   StageGate
	Targets  TargetValidator
	Guard    IdempotencyGuard
	Audit    AuditLogger
	Notifier Notifier
	Now      func() time.Time
}

// NewCollaborators 基于存储的默认协作方
// publisher 为 nil 时只写站内通知，不做实时推送
func NewCollaborators(repo *repository.Repository, publisher NoticePublisher, cfg *config.Config, logger *zap.Logger) Collaborators {
	now := func() time.Time { return time.Now().UTC() }
	return Collaborators{
		Members: &repoMembershipLookup{repo: repo},
		Stages:  &repoStageGate{repo: repo, now: now},
		Targets: &repoTargetValidator{repo: repo},
		Guard:   NewIdempotencyGuard(repo.ActionLog, now),
		Audit: &eventLogAuditor{
			repo:    repo.EventLog,
			timeout: cfg.Consensus.CollaboratorTimeout,
			logger:  logger,
			now:     now,
		},
		Notifier: &storeNotifier{
			repo:        repo.Notification,
			publisher:   publisher,
			channel:     cfg.Redis.NoticeChannel,
			timeout:     cfg.Consensus.CollaboratorTimeout,
			concurrency: cfg.Consensus.NotifyConcurrency,
			logger:      logger,
			now:         now,
		},
		Now: now,
	}
}

// ── MembershipLookup ──

type repoMembershipLookup struct {
	repo *repository.Repository
}

func (l *repoMembershipLookup) GetActiveGroupMembers(ctx context.Context, projectID, groupID string) ([]GroupMember, error) {
	rows, err := l.repo.Membership.ListActiveByGroup(ctx, projectID, groupID)
	if err != nil {
		return nil, err
	}
	members := make([]GroupMember, 0, len(rows))
	for _, r := range rows {
		members = append(members, GroupMember{Email: r.UserEmail, Role: r.Role})
	}
	return members, nil
}

func (l *repoMembershipLookup) GetActiveMembership(ctx context.Context, projectID, userEmail string) (*model.GroupMembership, error) {
	m, err := l.repo.Membership.GetActiveByUser(ctx, projectID, userEmail)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return m, err
}

func (l *repoMembershipLookup) GetProjectRole(ctx context.Context, projectID, userEmail string) (string, error) {
	v, err := l.repo.Membership.GetActiveViewer(ctx, projectID, userEmail)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return v.Role, nil
}

// ── StageGate ──

type repoStageGate struct {
	repo *repository.Repository
	now  func() time.Time
}

func (g *repoStageGate) StageAcceptsRankings(ctx context.Context, projectID, stageID string) (StageGateResult, error) {
	stage, err := g.repo.Stage.GetByID(ctx, projectID, stageID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return StageGateResult{ErrorCode: ErrStageNotFound.ErrorCode}, nil
	}
	if err != nil {
		return StageGateResult{}, err
	}

	status := stage.StatusAt(g.now())
	res := StageGateResult{Status: status}
	switch status {
	case model.StageActive, model.StageVoting:
		res.Valid = true
	case model.StagePending:
		res.ErrorCode = ErrStageNotStarted.ErrorCode
	case model.StageSettling:
		res.ErrorCode = ErrStageSettling.ErrorCode
	case model.StageCompleted:
		res.ErrorCode = ErrStageCompleted.ErrorCode
	default:
		res.ErrorCode = ErrStageArchived.ErrorCode
	}
	return res, nil
}

// ── TargetValidator ──

type repoTargetValidator struct {
	repo *repository.Repository
}

// FilterValid 作品须为 approved，评论须为 visible；保持原有顺序
func (v *repoTargetValidator) FilterValid(ctx context.Context, projectID, stageID string, items []model.RankingItem) ([]model.RankingItem, []model.RankingItem, error) {
	var submissionIDs, commentIDs []string
	for _, it := range items {
		switch it.TargetType {
		case model.TargetSubmission:
			submissionIDs = append(submissionIDs, it.TargetID)
		case model.TargetComment:
			commentIDs = append(commentIDs, it.TargetID)
		}
	}

	subStatus, err := v.repo.Target.SubmissionStatuses(ctx, projectID, stageID, submissionIDs)
	if err != nil {
		return nil, nil, err
	}
	commentStatus, err := v.repo.Target.CommentStatuses(ctx, projectID, stageID, commentIDs)
	if err != nil {
		return nil, nil, err
	}

	valid := make([]model.RankingItem, 0, len(items))
	var dropped []model.RankingItem
	for _, it := range items {
		ok := false
		switch it.TargetType {
		case model.TargetSubmission:
			ok = subStatus[it.TargetID] == model.SubmissionApproved
		case model.TargetComment:
			ok = commentStatus[it.TargetID] == model.CommentVisible
		}
		if ok {
			valid = append(valid, it)
		} else {
			dropped = append(dropped, it)
		}
	}
	return valid, dropped, nil
}

// ── AuditLogger ──

type eventLogAuditor struct {
	repo    repository.EventLogRepository
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// RecordOperation 脱离请求取消信号写入，超时或失败只记日志
func (a *eventLogAuditor) RecordOperation(ctx context.Context, op Operation) {
	ctx, cancel := detachedContext(ctx, a.timeout)
	defer cancel()

	level := op.Level
	if level == "" {
		level = model.LogLevelInfo
	}
	entry := &model.EventLog{
		EventID:    uuid.NewString(),
		ActorEmail: op.ActorEmail,
		Action:     op.Action,
		EntityType: op.EntityType,
		EntityID:   op.EntityID,
		Details:    op.Details,
		Level:      level,
		CreatedAt:  a.now(),
	}
	if op.ProjectID != "" {
		entry.ProjectID = &op.ProjectID
	}

	if err := a.repo.Create(ctx, entry); err != nil {
		a.logger.Warn("写入审计日志失败",
			zap.String("action", op.Action),
			zap.String("entity_id", op.EntityID),
			zap.Error(err),
		)
	}
}

// ── Notifier ──

type storeNotifier struct {
	repo        repository.NotificationRepository
	publisher   NoticePublisher
	channel     string
	timeout     time.Duration
	concurrency int
	logger      *zap.Logger
	now         func() time.Time
}

// noticePayload 推送给实时通道的消息体
type noticePayload struct {
	Type        string `json:"type"`
	UserEmail   string `json:"user_email"`
	ProjectID   string `json:"project_id,omitempty"`
	RelatedType string `json:"related_type,omitempty"`
	RelatedID   string `json:"related_id,omitempty"`
	Title       string `json:"title"`
}

func (n *storeNotifier) Notify(ctx context.Context, targetEmails []string, notice Notice) {
	if len(targetEmails) == 0 {
		return
	}
	ctx, cancel := detachedContext(ctx, n.timeout)
	defer cancel()

	now := n.now()
	rows := make([]model.Notification, 0, len(targetEmails))
	for _, email := range targetEmails {
		row := model.Notification{
			NotificationID: uuid.NewString(),
			UserEmail:      normalizeEmail(email),
			Type:           notice.Type,
			Title:          notice.Title,
			Content:        notice.Content,
			CreatedAt:      now,
		}
		if notice.ProjectID != "" {
			row.ProjectID = strPtr(notice.ProjectID)
		}
		if notice.RelatedType != "" {
			row.RelatedType = strPtr(notice.RelatedType)
		}
		if notice.RelatedID != "" {
			row.RelatedID = strPtr(notice.RelatedID)
		}
		rows = append(rows, row)
	}
	if err := n.repo.BatchCreate(ctx, rows); err != nil {
		n.logger.Warn("写入站内通知失败", zap.String("type", notice.Type), zap.Error(err))
	}

	if n.publisher == nil {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	limit := n.concurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)
	for _, email := range targetEmails {
		payload, err := json.Marshal(noticePayload{
			Type:        notice.Type,
			UserEmail:   email,
			ProjectID:   notice.ProjectID,
			RelatedType: notice.RelatedType,
			RelatedID:   notice.RelatedID,
			Title:       notice.Title,
		})
		if err != nil {
			continue
		}
		g.Go(func() error {
			return n.publisher.Publish(gctx, n.channel, payload)
		})
	}
	if err := g.Wait(); err != nil {
		n.logger.Warn("推送实时通知失败", zap.String("type", notice.Type), zap.Error(err))
	}
}

// detachedContext 保留请求上下文的值但不继承取消，供旁路写入使用
func detachedContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

func strPtr(s string) *string { return &s }
