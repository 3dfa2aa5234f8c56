package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"scoring-system/backend/config"
	"scoring-system/backend/internal/dto"
	"scoring-system/backend/internal/model"
	"scoring-system/backend/internal/repository"
	pkgerrors "scoring-system/backend/pkg/errors"
)

// Actor 当前操作者（由认证中间件注入，显式传递）
type Actor struct {
	Email string
	Role  string // 全局角色: admin | teacher | student
}

// IsAdmin 全局管理员
func (a Actor) IsAdmin() bool { return a.Role == "admin" }

// ProposalService 小组排名提案与共识业务接口
type ProposalService interface {
	Submit(ctx context.Context, actor Actor, projectID, stageID string, req *dto.SubmitProposalRequest) (*dto.ProposalActionResponse, error)
	Vote(ctx context.Context, actor Actor, proposalID string, req *dto.VoteRequest) (*dto.ProposalActionResponse, error)
	Withdraw(ctx context.Context, actor Actor, proposalID string) (*dto.ProposalActionResponse, error)
	Reset(ctx context.Context, actor Actor, proposalID string, req *dto.ResetRequest) (*dto.ResetResponse, error)
	Settle(ctx context.Context, actor Actor, proposalID string) (*dto.ProposalActionResponse, error)

	Get(ctx context.Context, actor Actor, proposalID string) (*dto.ProposalDetailResponse, error)
	ListStage(ctx context.Context, actor Actor, projectID, stageID string) (*dto.StageProposalsResponse, error)
	VotingStatus(ctx context.Context, actor Actor, projectID, stageID string) (*dto.VotingStatusResponse, error)
	ConsensusSummary(ctx context.Context, actor Actor, projectID, stageID string) (*dto.ConsensusSummaryResponse, error)
	History(ctx context.Context, actor Actor, proposalID string, page, pageSize int) ([]dto.EventLogResponse, int64, error)
}

type proposalService struct {
	repo   *repository.Repository
	collab Collaborators
	cfg    config.ConsensusConfig
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
	newID  func() string
}

// NewProposalService 创建 ProposalService 实例
func NewProposalService(repo *repository.Repository, collab Collaborators, cfg *config.ConsensusConfig, logger *zap.Logger) ProposalService {
	now := collab.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &proposalService{
		repo:   repo,
		collab: collab,
		cfg:    *cfg,
		logger: logger,
		tracer: otel.Tracer("scoring-system/service/proposal"),
		now:    now,
		newID:  uuid.NewString,
	}
}

// ════════════════════════════════════════════════════════════
// Submit — 提交排名提案
// ════════════════════════════════════════════════════════════

func (s *proposalService) Submit(ctx context.Context, actor Actor, projectID, stageID string, req *dto.SubmitProposalRequest) (res *dto.ProposalActionResponse, err error) {
	ctx, span := s.startSpan(ctx, "ProposalService.Submit", actor,
		attribute.String("project_id", projectID), attribute.String("stage_id", stageID))
	defer func() { endSpan(span, err) }()

	membership, err := s.collab.Members.GetActiveMembership(ctx, projectID, actor.Email)
	if err != nil {
		s.logger.Error("查询小组成员失败", zap.Error(err))
		return nil, err
	}
	if membership == nil || (req.GroupID != "" && req.GroupID != membership.GroupID) {
		return nil, ErrNotGroupMember
	}
	groupID := membership.GroupID

	if err := s.checkStage(ctx, projectID, stageID); err != nil {
		return nil, err
	}

	items := make([]model.RankingItem, 0, len(req.RankingData))
	for _, it := range req.RankingData {
		items = append(items, model.RankingItem{TargetType: it.TargetType, TargetID: it.TargetID, GroupID: it.GroupID})
	}
	if err := validateRankingItems(items); err != nil {
		return nil, err
	}

	// 目标过滤在去重守卫之前：被拒绝的提交不占用去重键
	valid, dropped, err := s.collab.Targets.FilterValid(ctx, projectID, stageID, items)
	if err != nil {
		s.logger.Error("校验排名目标失败", zap.Error(err))
		return nil, err
	}
	if len(valid) == 0 {
		return nil, ErrEmptyRanking
	}

	scope := projectID + "/" + stageID + "/" + groupID
	isNew, err := s.collab.Guard.RecordIfNew(ctx, s.dedupKey(ActionSubmit, scope, actor.Email), ActionMeta{
		Action: ActionSubmit, ActorEmail: actor.Email, EntityType: "stage", EntityID: stageID, ProjectID: projectID,
		Context: map[string]interface{}{"group_id": groupID, "item_count": len(req.RankingData)},
	})
	if err != nil {
		s.logger.Error("写入去重日志失败", zap.Error(err))
		return nil, err
	}

	existing, err := s.repo.Proposal.ListByGroupStage(ctx, projectID, stageID, groupID)
	if err != nil {
		s.logger.Error("查询小组提案失败", zap.Error(err))
		return nil, err
	}

	if !isNew {
		// 前一次请求已生效：返回调用者刚提交的待表决提案
		for i := len(existing) - 1; i >= 0; i-- {
			p := existing[i]
			if p.IsOpen() && sameEmail(p.ProposerEmail, actor.Email) {
				return &dto.ProposalActionResponse{
					ProposalID:    p.ProposalID,
					Status:        string(model.ProposalPending),
					TallyResponse: toTallyResponse(Tally{}),
					Deduped:       true,
				}, nil
			}
		}
	}

	for _, p := range existing {
		if p.SettledAt != nil {
			return nil, ErrSettledProposalExists
		}
		if p.IsOpen() {
			return nil, ErrProposalExists
		}
	}
	if !isNew {
		return nil, ErrRequestInFlight
	}

	if len(dropped) > 0 {
		s.logger.Info("排名提案中存在已失效目标，已过滤",
			zap.String("project_id", projectID),
			zap.String("group_id", groupID),
			zap.Int("dropped", len(dropped)),
		)
		s.collab.Audit.RecordOperation(ctx, Operation{
			ActorEmail: actor.Email, Action: "ranking_items_filtered", EntityType: "stage", EntityID: stageID,
			ProjectID: projectID, Level: model.LogLevelWarning,
			Details: map[string]interface{}{"group_id": groupID, "dropped": targetIDs(dropped)},
		})
	}

	proposal := &model.Proposal{
		ProposalID:    s.newID(),
		ProjectID:     projectID,
		StageID:       stageID,
		GroupID:       groupID,
		ProposerEmail: actor.Email,
		RankingData:   valid,
		CreatedTime:   s.now(),
	}
	if err := s.repo.Proposal.Create(ctx, proposal); err != nil {
		if errors.Is(err, pkgerrors.ErrDuplicateKey) {
			return nil, ErrProposalExists
		}
		s.logger.Error("创建排名提案失败", zap.Error(err))
		return nil, err
	}

	s.collab.Audit.RecordOperation(ctx, Operation{
		ActorEmail: actor.Email, Action: "submit_proposal", EntityType: "proposal", EntityID: proposal.ProposalID,
		ProjectID: projectID, Level: model.LogLevelInfo,
		Details: map[string]interface{}{"stage_id": stageID, "group_id": groupID, "item_count": len(valid)},
	})
	s.notifyGroup(ctx, projectID, groupID, actor.Email, Notice{
		Type:    "proposal_submitted",
		Title:   "新的排名提案",
		Content: fmt.Sprintf("%s 提交了新的排名提案，请尽快投票", actor.Email),
	}, proposal.ProposalID)

	return &dto.ProposalActionResponse{
		ProposalID:    proposal.ProposalID,
		Status:        string(model.ProposalPending),
		TallyResponse: toTallyResponse(Tally{}),
		FilteredItems: toRankingItemResponses(dropped),
	}, nil
}

// ════════════════════════════════════════════════════════════
// Vote — 投票（只追加；同一投票人以最近一票为准）
// ════════════════════════════════════════════════════════════

func (s *proposalService) Vote(ctx context.Context, actor Actor, proposalID string, req *dto.VoteRequest) (res *dto.ProposalActionResponse, err error) {
	ctx, span := s.startSpan(ctx, "ProposalService.Vote", actor, attribute.String("proposal_id", proposalID))
	defer func() { endSpan(span, err) }()

	if req.Agree != 1 && req.Agree != -1 {
		return nil, ErrInvalidVote
	}

	p, err := s.loadProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	members, _, err := s.requireMember(ctx, p, actor.Email)
	if err != nil {
		return nil, err
	}
	if err := s.checkStage(ctx, p.ProjectID, p.StageID); err != nil {
		return nil, err
	}
	if err := checkVotable(p); err != nil {
		return nil, err
	}

	_, history, err := s.tallyFor(ctx, p.ProposalID)
	if err != nil {
		return nil, err
	}
	entity := fmt.Sprintf("%s/%s/%+d", proposalID, voteAnchor(history, actor.Email, req.Agree), req.Agree)
	isNew, err := s.collab.Guard.RecordIfNew(ctx, s.dedupKey(ActionVote, entity, actor.Email), ActionMeta{
		Action: ActionVote, ActorEmail: actor.Email, EntityType: "proposal", EntityID: proposalID, ProjectID: p.ProjectID,
		Context: map[string]interface{}{"agree": req.Agree},
	})
	if err != nil {
		s.logger.Error("写入去重日志失败", zap.Error(err))
		return nil, err
	}

	if isNew {
		vote := &model.ProposalVote{
			VoteID:     s.newID(),
			ProposalID: p.ProposalID,
			ProjectID:  p.ProjectID,
			GroupID:    p.GroupID,
			VoterEmail: actor.Email,
			Agree:      int8(req.Agree),
			Comment:    req.Comment,
			VotedAt:    s.now(),
		}
		if err := s.repo.Vote.Append(ctx, vote); err != nil {
			if errors.Is(err, pkgerrors.ErrCASConflict) {
				// 投票期间提案被终结
				return nil, s.explainConflict(ctx, proposalID, checkVotable, ErrVoteFailed)
			}
			s.logger.Error("写入投票失败", zap.Error(err))
			return nil, err
		}
	}

	tally, _, err := s.tallyFor(ctx, p.ProposalID)
	if err != nil {
		return nil, err
	}

	res = &dto.ProposalActionResponse{
		ProposalID:    p.ProposalID,
		Status:        string(DeriveStatus(p, tally, members)),
		TallyResponse: toTallyResponse(tally),
		UserVote:      userVoteLabel(tally, actor.Email),
		Deduped:       !isNew,
	}
	if !isNew {
		return res, nil
	}

	s.collab.Audit.RecordOperation(ctx, Operation{
		ActorEmail: actor.Email, Action: "vote_proposal", EntityType: "proposal", EntityID: p.ProposalID,
		ProjectID: p.ProjectID, Level: model.LogLevelInfo,
		Details: map[string]interface{}{"agree": req.Agree, "support": tally.SupportCount, "oppose": tally.OpposeCount},
	})
	if tally.AllVoted(members) {
		s.notifyGroup(ctx, p.ProjectID, p.GroupID, "", Notice{
			Type:    "proposal_all_voted",
			Title:   "排名提案投票完成",
			Content: fmt.Sprintf("全员已投票：赞成 %d，反对 %d", tally.SupportCount, tally.OpposeCount),
		}, p.ProposalID)
	}
	return res, nil
}

// ════════════════════════════════════════════════════════════
// Withdraw — 撤回提案
// ════════════════════════════════════════════════════════════
//
// 顺序：成员校验 → 去重守卫 → 终态校验 → 条件更新。
// 守卫先于终态校验，重复请求才能得到“已处理”而非 ALREADY_WITHDRAWN。

func (s *proposalService) Withdraw(ctx context.Context, actor Actor, proposalID string) (res *dto.ProposalActionResponse, err error) {
	ctx, span := s.startSpan(ctx, "ProposalService.Withdraw", actor, attribute.String("proposal_id", proposalID))
	defer func() { endSpan(span, err) }()

	p, err := s.loadProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if _, _, err := s.requireMember(ctx, p, actor.Email); err != nil {
		return nil, err
	}

	isNew, err := s.collab.Guard.RecordIfNew(ctx, s.dedupKey(ActionWithdraw, proposalID, actor.Email), ActionMeta{
		Action: ActionWithdraw, ActorEmail: actor.Email, EntityType: "proposal", EntityID: proposalID, ProjectID: p.ProjectID,
	})
	if err != nil {
		s.logger.Error("写入去重日志失败", zap.Error(err))
		return nil, err
	}

	if !isNew {
		if p, err = s.loadProposal(ctx, proposalID); err != nil {
			return nil, err
		}
		if p.WithdrawnAt != nil {
			return s.actionResponse(ctx, p, actor.Email, true)
		}
		if err := checkWithdrawable(p); err != nil {
			return nil, err
		}
		return nil, ErrRequestInFlight
	}

	if err := checkWithdrawable(p); err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.repo.Proposal.MarkWithdrawn(ctx, proposalID, actor.Email, now); err != nil {
		if errors.Is(err, pkgerrors.ErrCASConflict) {
			s.logger.Warn("撤回提案条件更新未命中", zap.String("proposal_id", proposalID))
			return nil, ErrWithdrawFailed
		}
		s.logger.Error("撤回提案失败", zap.Error(err))
		return nil, err
	}
	p.WithdrawnAt = &now
	p.WithdrawnBy = &actor.Email

	s.collab.Audit.RecordOperation(ctx, Operation{
		ActorEmail: actor.Email, Action: "withdraw_proposal", EntityType: "proposal", EntityID: proposalID,
		ProjectID: p.ProjectID, Level: model.LogLevelWarning,
		Details: map[string]interface{}{"stage_id": p.StageID, "group_id": p.GroupID},
	})
	s.notifyGroup(ctx, p.ProjectID, p.GroupID, actor.Email, Notice{
		Type:    "proposal_withdrawn",
		Title:   "排名提案已撤回",
		Content: fmt.Sprintf("%s 撤回了排名提案", actor.Email),
	}, proposalID)

	return s.actionResponse(ctx, p, actor.Email, false)
}

// ════════════════════════════════════════════════════════════
// Reset — 重置投票（持平或反对多时，以相同排名生成新提案重新表决）
// ════════════════════════════════════════════════════════════
//
// 顺序：组长校验 → 投票条件 → 去重守卫 → 待表决校验 → 配额 → 原子事务。
// 投票条件放在守卫之前：旧提案的选票在终结后不再变化，重复请求得出同样结论。

func (s *proposalService) Reset(ctx context.Context, actor Actor, proposalID string, req *dto.ResetRequest) (res *dto.ResetResponse, err error) {
	ctx, span := s.startSpan(ctx, "ProposalService.Reset", actor, attribute.String("proposal_id", proposalID))
	defer func() { endSpan(span, err) }()

	p, err := s.loadProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	members, self, err := s.requireMember(ctx, p, actor.Email)
	if err != nil {
		return nil, err
	}
	if self.Role != model.GroupRoleLeader {
		return nil, ErrNotGroupLeader
	}
	if p.SettledAt != nil || p.WithdrawnAt != nil {
		return nil, ErrProposalNotPending
	}

	tally, _, err := s.tallyFor(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if err := checkResetVotes(members, tally); err != nil {
		return nil, err
	}

	maxResets, err := s.maxResets(ctx, p.ProjectID)
	if err != nil {
		return nil, err
	}

	isNew, err := s.collab.Guard.RecordIfNew(ctx, s.dedupKey(ActionReset, proposalID, actor.Email), ActionMeta{
		Action: ActionReset, ActorEmail: actor.Email, EntityType: "proposal", EntityID: proposalID, ProjectID: p.ProjectID,
		Context: map[string]interface{}{"support": tally.SupportCount, "oppose": tally.OpposeCount},
	})
	if err != nil {
		s.logger.Error("写入去重日志失败", zap.Error(err))
		return nil, err
	}

	if !isNew {
		succ, err := s.repo.Proposal.GetSuccessor(ctx, proposalID)
		if err == nil {
			used, err := s.repo.Proposal.CountResets(ctx, p.ProjectID, p.StageID, p.GroupID)
			if err != nil {
				s.logger.Error("统计重置次数失败", zap.Error(err))
				return nil, err
			}
			old, err := s.loadProposal(ctx, proposalID)
			if err != nil {
				return nil, err
			}
			return s.resetResponse(old, succ, tally, int(used), maxResets, true), nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Error("查询后继提案失败", zap.Error(err))
			return nil, err
		}
		if p, err = s.loadProposal(ctx, proposalID); err != nil {
			return nil, err
		}
		if !p.IsOpen() {
			return nil, ErrProposalNotPending
		}
		// 首次请求因配额被拒时，重试仍返回配额错误
		if _, err := s.checkResetQuota(ctx, p, maxResets); err != nil {
			return nil, err
		}
		return nil, ErrRequestInFlight
	}

	if !p.IsOpen() {
		return nil, ErrProposalNotPending
	}

	used, err := s.checkResetQuota(ctx, p, maxResets)
	if err != nil {
		return nil, err
	}

	now := s.now()
	created := now
	if !created.After(p.CreatedTime) {
		created = p.CreatedTime.Add(time.Millisecond)
	}
	predecessor := p.ProposalID
	successor := &model.Proposal{
		ProposalID:    s.newID(),
		ProjectID:     p.ProjectID,
		StageID:       p.StageID,
		GroupID:       p.GroupID,
		ProposerEmail: actor.Email,
		RankingData:   append([]model.RankingItem(nil), p.RankingData...),
		CreatedTime:   created,
		PredecessorID: &predecessor,
	}

	if err := s.repo.Proposal.ResetWithSuccessor(ctx, proposalID, actor.Email, now, successor); err != nil {
		if errors.Is(err, pkgerrors.ErrCASConflict) {
			s.logger.Warn("重置提案条件更新未命中", zap.String("proposal_id", proposalID))
			return nil, ErrResetFailed
		}
		s.logger.Error("重置提案失败", zap.Error(err))
		return nil, err
	}
	p.ResetAt = &now
	p.ResetBy = &actor.Email

	reason := "反对票多"
	if tally.Result() == ResultTie {
		reason = "票数持平"
	}
	details := map[string]interface{}{
		"new_proposal_id": successor.ProposalID,
		"support":         tally.SupportCount,
		"oppose":          tally.OpposeCount,
		"reason":          reason,
	}
	if req != nil && req.Reason != "" {
		details["leader_reason"] = req.Reason
	}
	s.collab.Audit.RecordOperation(ctx, Operation{
		ActorEmail: actor.Email, Action: "reset_proposal", EntityType: "proposal", EntityID: proposalID,
		ProjectID: p.ProjectID, Level: model.LogLevelWarning, Details: details,
	})
	s.notifyGroup(ctx, p.ProjectID, p.GroupID, "", Notice{
		Type:    "proposal_reset",
		Title:   "排名提案已重置",
		Content: fmt.Sprintf("上一轮投票%s（赞成 %d，反对 %d），组长已发起重新投票", reason, tally.SupportCount, tally.OpposeCount),
	}, successor.ProposalID)

	return s.resetResponse(p, successor, tally, int(used)+1, maxResets, false), nil
}

// ════════════════════════════════════════════════════════════
// Settle — 定案（由教师或结算流程触发，要求赞成多于反对）
// ════════════════════════════════════════════════════════════

func (s *proposalService) Settle(ctx context.Context, actor Actor, proposalID string) (res *dto.ProposalActionResponse, err error) {
	ctx, span := s.startSpan(ctx, "ProposalService.Settle", actor, attribute.String("proposal_id", proposalID))
	defer func() { endSpan(span, err) }()

	p, err := s.loadProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() {
		role, err := s.collab.Members.GetProjectRole(ctx, p.ProjectID, actor.Email)
		if err != nil {
			s.logger.Error("查询项目角色失败", zap.Error(err))
			return nil, err
		}
		if role != model.ProjectRoleTeacher {
			return nil, ErrNotTeacher
		}
	}

	isNew, err := s.collab.Guard.RecordIfNew(ctx, s.dedupKey(ActionSettle, proposalID, actor.Email), ActionMeta{
		Action: ActionSettle, ActorEmail: actor.Email, EntityType: "proposal", EntityID: proposalID, ProjectID: p.ProjectID,
	})
	if err != nil {
		s.logger.Error("写入去重日志失败", zap.Error(err))
		return nil, err
	}
	if !isNew {
		if p, err = s.loadProposal(ctx, proposalID); err != nil {
			return nil, err
		}
		if p.SettledAt != nil {
			return s.actionResponse(ctx, p, actor.Email, true)
		}
		if err := checkSettleable(p); err != nil {
			return nil, err
		}
		if _, err := s.passedTally(ctx, proposalID); err != nil {
			return nil, err
		}
		return nil, ErrRequestInFlight
	}

	if err := checkSettleable(p); err != nil {
		return nil, err
	}
	tally, err := s.passedTally(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.repo.Proposal.MarkSettled(ctx, proposalID, now); err != nil {
		if errors.Is(err, pkgerrors.ErrCASConflict) {
			s.logger.Warn("定案条件更新未命中", zap.String("proposal_id", proposalID))
			return nil, ErrSettleFailed
		}
		s.logger.Error("提案定案失败", zap.Error(err))
		return nil, err
	}
	p.SettledAt = &now

	s.collab.Audit.RecordOperation(ctx, Operation{
		ActorEmail: actor.Email, Action: "settle_proposal", EntityType: "proposal", EntityID: proposalID,
		ProjectID: p.ProjectID, Level: model.LogLevelInfo,
		Details: map[string]interface{}{"support": tally.SupportCount, "oppose": tally.OpposeCount},
	})
	s.notifyGroup(ctx, p.ProjectID, p.GroupID, "", Notice{
		Type:    "proposal_settled",
		Title:   "排名提案已定案",
		Content: fmt.Sprintf("小组排名提案已定案（赞成 %d，反对 %d）", tally.SupportCount, tally.OpposeCount),
	}, proposalID)

	return s.actionResponse(ctx, p, actor.Email, false)
}

// ── 内部辅助 ──

func (s *proposalService) loadProposal(ctx context.Context, id string) (*model.Proposal, error) {
	p, err := s.repo.Proposal.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProposalNotFound
		}
		s.logger.Error("查询提案失败", zap.String("proposal_id", id), zap.Error(err))
		return nil, err
	}
	return p, nil
}

// requireMember 调用者须为提案所属小组的有效成员，返回全部成员与调用者本人
func (s *proposalService) requireMember(ctx context.Context, p *model.Proposal, email string) ([]GroupMember, GroupMember, error) {
	members, err := s.collab.Members.GetActiveGroupMembers(ctx, p.ProjectID, p.GroupID)
	if err != nil {
		s.logger.Error("查询小组成员失败", zap.Error(err))
		return nil, GroupMember{}, err
	}
	for _, m := range members {
		if sameEmail(m.Email, email) {
			return members, m, nil
		}
	}
	return nil, GroupMember{}, ErrNotGroupMember
}

func (s *proposalService) checkStage(ctx context.Context, projectID, stageID string) error {
	return checkStageGate(ctx, s.collab.Stages, s.logger, projectID, stageID)
}

// checkStageGate 阶段闸门不通过时返回对应的阶段错误
func checkStageGate(ctx context.Context, gate StageGate, logger *zap.Logger, projectID, stageID string) error {
	res, err := gate.StageAcceptsRankings(ctx, projectID, stageID)
	if err != nil {
		logger.Error("查询阶段状态失败", zap.Error(err))
		return err
	}
	if res.Valid {
		return nil
	}
	if e, ok := stageGateErrors[res.ErrorCode]; ok {
		return e
	}
	return ErrStageCompleted.withDetail("阶段状态 %s", res.Status)
}

func (s *proposalService) tallyFor(ctx context.Context, proposalID string) (Tally, []model.ProposalVote, error) {
	votes, err := s.repo.Vote.ListByProposal(ctx, proposalID)
	if err != nil {
		s.logger.Error("查询投票记录失败", zap.Error(err))
		return Tally{}, nil, err
	}
	return TallyVotes(votes), votes, nil
}

// passedTally 赞成须多于反对才可定案
func (s *proposalService) passedTally(ctx context.Context, proposalID string) (Tally, error) {
	tally, _, err := s.tallyFor(ctx, proposalID)
	if err != nil {
		return Tally{}, err
	}
	if tally.SupportCount <= tally.OpposeCount {
		return tally, ErrProposalNotPassed.withDetail("赞成 %d，反对 %d", tally.SupportCount, tally.OpposeCount)
	}
	return tally, nil
}

// checkResetQuota 返回小组在本阶段已用的重置次数，用尽时返回 ErrResetLimitExceeded
func (s *proposalService) checkResetQuota(ctx context.Context, p *model.Proposal, maxResets int) (int64, error) {
	used, err := s.repo.Proposal.CountResets(ctx, p.ProjectID, p.StageID, p.GroupID)
	if err != nil {
		s.logger.Error("统计重置次数失败", zap.Error(err))
		return 0, err
	}
	if int(used) >= maxResets {
		return used, ErrResetLimitExceeded.withDetail("已重置 %d/%d 次", used, maxResets)
	}
	return used, nil
}

func (s *proposalService) maxResets(ctx context.Context, projectID string) (int, error) {
	project, err := s.repo.Project.GetByID(ctx, projectID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return s.cfg.MaxResetCount, nil
		}
		s.logger.Error("查询项目配置失败", zap.Error(err))
		return 0, err
	}
	if project.MaxVoteResetCount != nil {
		return *project.MaxVoteResetCount, nil
	}
	return s.cfg.MaxResetCount, nil
}

func (s *proposalService) dedupKey(action, entityID, actor string) string {
	return DedupKey(action, entityID, actor, s.now(), s.cfg.DedupWindow)
}

// explainConflict 条件写入失败后重新读取：状态已终结则返回对应规则错误，否则返回冲突错误
func (s *proposalService) explainConflict(ctx context.Context, proposalID string, check func(*model.Proposal) error, conflict *ConsensusError) error {
	p, err := s.loadProposal(ctx, proposalID)
	if err != nil {
		return err
	}
	if err := check(p); err != nil {
		return err
	}
	return conflict
}

func (s *proposalService) actionResponse(ctx context.Context, p *model.Proposal, actorEmail string, deduped bool) (*dto.ProposalActionResponse, error) {
	tally, _, err := s.tallyFor(ctx, p.ProposalID)
	if err != nil {
		return nil, err
	}
	members, err := s.collab.Members.GetActiveGroupMembers(ctx, p.ProjectID, p.GroupID)
	if err != nil {
		s.logger.Error("查询小组成员失败", zap.Error(err))
		return nil, err
	}
	return &dto.ProposalActionResponse{
		ProposalID:    p.ProposalID,
		Status:        string(DeriveStatus(p, tally, members)),
		TallyResponse: toTallyResponse(tally),
		UserVote:      userVoteLabel(tally, actorEmail),
		Deduped:       deduped,
	}, nil
}

func (s *proposalService) resetResponse(old, succ *model.Proposal, tally Tally, used, maxResets int, deduped bool) *dto.ResetResponse {
	resetTime := ""
	if old.ResetAt != nil {
		resetTime = old.ResetAt.Format(time.RFC3339)
	}
	return &dto.ResetResponse{
		OldProposalID: old.ProposalID,
		NewProposalID: succ.ProposalID,
		Status:        string(model.ProposalReset),
		ResetTime:     resetTime,
		PreviousVotes: toTallyResponse(tally),
		ResetsUsed:    used,
		MaxResets:     maxResets,
		Deduped:       deduped,
	}
}

// notifyGroup 通知小组成员（except 为空时通知全部）
func (s *proposalService) notifyGroup(ctx context.Context, projectID, groupID, except string, notice Notice, proposalID string) {
	members, err := s.collab.Members.GetActiveGroupMembers(ctx, projectID, groupID)
	if err != nil {
		s.logger.Warn("查询通知对象失败", zap.String("group_id", groupID), zap.Error(err))
		return
	}
	targets := make([]string, 0, len(members))
	for _, m := range members {
		if except != "" && sameEmail(m.Email, except) {
			continue
		}
		targets = append(targets, m.Email)
	}
	notice.ProjectID = projectID
	notice.RelatedType = "proposal"
	notice.RelatedID = proposalID
	s.collab.Notifier.Notify(ctx, targets, notice)
}

func (s *proposalService) startSpan(ctx context.Context, name string, actor Actor, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("actor", actor.Email))
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// validateRankingItems 排名项不得重复
func validateRankingItems(items []model.RankingItem) error {
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		key := it.TargetType + ":" + it.TargetID
		if seen[key] {
			return ErrInvalidRanking.withDetail("重复的排名目标 %s", it.TargetID)
		}
		seen[key] = true
	}
	return nil
}

func targetIDs(items []model.RankingItem) []string {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.TargetID)
	}
	return ids
}

func toTallyResponse(t Tally) dto.TallyResponse {
	return dto.TallyResponse{
		SupportCount: t.SupportCount,
		OpposeCount:  t.OpposeCount,
		TotalVotes:   t.TotalVoters(),
		VotingResult: string(t.Result()),
	}
}

func toRankingItemResponses(items []model.RankingItem) []dto.RankingItemResponse {
	if len(items) == 0 {
		return nil
	}
	out := make([]dto.RankingItemResponse, 0, len(items))
	for i, it := range items {
		out = append(out, dto.RankingItemResponse{
			Position:   i + 1,
			TargetType: it.TargetType,
			TargetID:   it.TargetID,
			GroupID:    it.GroupID,
		})
	}
	return out
}

func userVoteLabel(t Tally, email string) string {
	v, ok := t.VoteOf(email)
	if !ok {
		return ""
	}
	if v.Agree > 0 {
		return "support"
	}
	return "oppose"
}

// voteAnchor 投票人最近一张与本次取值不同的选票 ID，没有时为 "none"。
// 同值重试落在同一去重键上，改票后再改回则生成新键。
func voteAnchor(votes []model.ProposalVote, email string, agree int) string {
	var anchor *model.ProposalVote
	for i := range votes {
		v := &votes[i]
		if !sameEmail(v.VoterEmail, email) || int(v.Agree) == agree {
			continue
		}
		if anchor == nil || !v.VotedAt.Before(anchor.VotedAt) {
			anchor = v
		}
	}
	if anchor == nil {
		return "none"
	}
	return anchor.VoteID
}
