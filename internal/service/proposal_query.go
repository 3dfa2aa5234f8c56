package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"scoring-system/backend/internal/dto"
	"scoring-system/backend/internal/model"
)

// ════════════════════════════════════════════════════════════
// 读取投影（只读，不经过去重守卫）
// ════════════════════════════════════════════════════════════

// 查看者角色
const (
	viewerAdmin    = "admin"
	viewerTeacher  = model.ProjectRoleTeacher
	viewerObserver = model.ProjectRoleObserver
	viewerMember   = "member"
)

// viewer 调用者在项目中的身份
type viewer struct {
	role       string
	membership *model.GroupMembership
}

func (v viewer) canSeeAllGroups() bool {
	return v.role == viewerAdmin || v.role == viewerTeacher || v.role == viewerObserver
}

func (v viewer) canSeeGroup(groupID string) bool {
	if v.canSeeAllGroups() {
		return true
	}
	return v.membership != nil && v.membership.GroupID == groupID
}

// resolveViewer 管理员 > 项目教师/观察者 > 小组成员
func resolveViewer(ctx context.Context, members MembershipLookup, logger *zap.Logger, actor Actor, projectID string) (viewer, error) {
	membership, err := members.GetActiveMembership(ctx, projectID, actor.Email)
	if err != nil {
		logger.Error("查询小组成员失败", zap.Error(err))
		return viewer{}, err
	}
	if actor.IsAdmin() {
		return viewer{role: viewerAdmin, membership: membership}, nil
	}
	role, err := members.GetProjectRole(ctx, projectID, actor.Email)
	if err != nil {
		logger.Error("查询项目角色失败", zap.Error(err))
		return viewer{}, err
	}
	if role != "" {
		return viewer{role: role, membership: membership}, nil
	}
	if membership != nil {
		return viewer{role: viewerMember, membership: membership}, nil
	}
	return viewer{}, ErrNotAuthorized
}

func (s *proposalService) resolveViewer(ctx context.Context, actor Actor, projectID string) (viewer, error) {
	return resolveViewer(ctx, s.collab.Members, s.logger, actor, projectID)
}

// ── Get ──

func (s *proposalService) Get(ctx context.Context, actor Actor, proposalID string) (*dto.ProposalDetailResponse, error) {
	p, err := s.loadProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	v, err := s.resolveViewer(ctx, actor, p.ProjectID)
	if err != nil {
		return nil, err
	}
	if !v.canSeeGroup(p.GroupID) {
		return nil, ErrNotAuthorized
	}

	siblings, err := s.repo.Proposal.ListByGroupStage(ctx, p.ProjectID, p.StageID, p.GroupID)
	if err != nil {
		s.logger.Error("查询小组提案失败", zap.Error(err))
		return nil, err
	}
	members, err := s.collab.Members.GetActiveGroupMembers(ctx, p.ProjectID, p.GroupID)
	if err != nil {
		s.logger.Error("查询小组成员失败", zap.Error(err))
		return nil, err
	}
	votes, err := s.repo.Vote.ListByProposal(ctx, p.ProposalID)
	if err != nil {
		s.logger.Error("查询投票记录失败", zap.Error(err))
		return nil, err
	}

	valid, _, err := s.collab.Targets.FilterValid(ctx, p.ProjectID, p.StageID, p.RankingData)
	if err != nil {
		s.logger.Error("校验排名目标失败", zap.Error(err))
		return nil, err
	}

	detail := s.toDetail(p, versionIndex(siblings, p.ProposalID), votes, members, valid, actor.Email)
	return &detail, nil
}

// ── ListStage ──

func (s *proposalService) ListStage(ctx context.Context, actor Actor, projectID, stageID string) (*dto.StageProposalsResponse, error) {
	v, err := s.resolveViewer(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}

	var proposals []model.Proposal
	if v.canSeeAllGroups() {
		proposals, err = s.repo.Proposal.ListByStage(ctx, projectID, stageID)
	} else {
		proposals, err = s.repo.Proposal.ListByGroupStage(ctx, projectID, stageID, v.membership.GroupID)
	}
	if err != nil {
		s.logger.Error("查询阶段提案失败", zap.Error(err))
		return nil, err
	}

	votesByProposal, err := s.votesByProposal(ctx, proposals)
	if err != nil {
		return nil, err
	}
	membersCache := make(map[string][]GroupMember)
	groupMembers := func(groupID string) ([]GroupMember, error) {
		if m, ok := membersCache[groupID]; ok {
			return m, nil
		}
		m, err := s.collab.Members.GetActiveGroupMembers(ctx, projectID, groupID)
		if err != nil {
			s.logger.Error("查询小组成员失败", zap.Error(err))
			return nil, err
		}
		membersCache[groupID] = m
		return m, nil
	}

	res := &dto.StageProposalsResponse{
		Proposals:  make([]dto.ProposalDetailResponse, 0, len(proposals)),
		ViewerRole: v.role,
	}
	versions := make(map[string]int)
	for i := range proposals {
		p := &proposals[i]
		versions[p.GroupID]++
		members, err := groupMembers(p.GroupID)
		if err != nil {
			return nil, err
		}
		valid, _, err := s.collab.Targets.FilterValid(ctx, projectID, stageID, p.RankingData)
		if err != nil {
			s.logger.Error("校验排名目标失败", zap.Error(err))
			return nil, err
		}
		res.Proposals = append(res.Proposals,
			s.toDetail(p, versions[p.GroupID], votesByProposal[p.ProposalID], members, valid, actor.Email))
	}

	if v.membership != nil {
		info, err := s.userGroupInfo(ctx, projectID, stageID, v.membership, groupMembers)
		if err != nil {
			return nil, err
		}
		res.UserGroupInfo = info
	}
	return res, nil
}

func (s *proposalService) userGroupInfo(ctx context.Context, projectID, stageID string, m *model.GroupMembership, groupMembers func(string) ([]GroupMember, error)) (*dto.UserGroupInfo, error) {
	members, err := groupMembers(m.GroupID)
	if err != nil {
		return nil, err
	}
	used, err := s.repo.Proposal.CountResets(ctx, projectID, stageID, m.GroupID)
	if err != nil {
		s.logger.Error("统计重置次数失败", zap.Error(err))
		return nil, err
	}
	maxResets, err := s.maxResets(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return &dto.UserGroupInfo{
		GroupID:          m.GroupID,
		IsGroupLeader:    m.Role == model.GroupRoleLeader,
		GroupMemberCount: len(members),
		ResetsUsed:       int(used),
		MaxResets:        maxResets,
	}, nil
}

// ── VotingStatus ──

// VotingStatus 调用者所在小组最新提案的逐人投票情况
func (s *proposalService) VotingStatus(ctx context.Context, actor Actor, projectID, stageID string) (*dto.VotingStatusResponse, error) {
	membership, err := s.collab.Members.GetActiveMembership(ctx, projectID, actor.Email)
	if err != nil {
		s.logger.Error("查询小组成员失败", zap.Error(err))
		return nil, err
	}
	if membership == nil {
		return nil, ErrNotGroupMember
	}

	members, err := s.collab.Members.GetActiveGroupMembers(ctx, projectID, membership.GroupID)
	if err != nil {
		s.logger.Error("查询小组成员失败", zap.Error(err))
		return nil, err
	}
	proposals, err := s.repo.Proposal.ListByGroupStage(ctx, projectID, stageID, membership.GroupID)
	if err != nil {
		s.logger.Error("查询小组提案失败", zap.Error(err))
		return nil, err
	}

	res := &dto.VotingStatusResponse{
		GroupID: membership.GroupID,
		Members: make([]dto.MemberVoteState, 0, len(members)),
	}
	var tally Tally
	if len(proposals) == 0 {
		res.Status = "none"
		res.TallyResponse = toTallyResponse(tally)
	} else {
		latest := &proposals[len(proposals)-1]
		tally, _, err = s.tallyFor(ctx, latest.ProposalID)
		if err != nil {
			return nil, err
		}
		res.ProposalID = &latest.ProposalID
		res.Status = string(DeriveStatus(latest, tally, members))
		res.TallyResponse = toTallyResponse(tally)
		res.AllVoted = tally.AllVoted(members)
	}

	for _, m := range members {
		state := dto.MemberVoteState{Email: m.Email, Role: m.Role}
		if vote, ok := tally.VoteOf(m.Email); ok {
			agree := int(vote.Agree)
			votedAt := vote.VotedAt.Format(time.RFC3339)
			state.HasVoted = true
			state.Agree = &agree
			state.VotedAt = &votedAt
		}
		res.Members = append(res.Members, state)
	}
	return res, nil
}

// ── ConsensusSummary ──

// ConsensusSummary 结算前共识汇总：每组只看最新提案
func (s *proposalService) ConsensusSummary(ctx context.Context, actor Actor, projectID, stageID string) (*dto.ConsensusSummaryResponse, error) {
	v, err := s.resolveViewer(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}
	if !v.canSeeAllGroups() {
		return nil, ErrNotAuthorized
	}

	proposals, err := s.repo.Proposal.ListByStage(ctx, projectID, stageID)
	if err != nil {
		s.logger.Error("查询阶段提案失败", zap.Error(err))
		return nil, err
	}

	groups := groupProposals(proposals)
	latest := make([]model.Proposal, 0, len(groups))
	for _, g := range groups {
		latest = append(latest, g.proposals[len(g.proposals)-1])
	}
	votesByProposal, err := s.votesByProposal(ctx, latest)
	if err != nil {
		return nil, err
	}

	res := &dto.ConsensusSummaryResponse{
		TotalGroups: len(groups),
		Groups:      make([]dto.GroupConsensusState, 0, len(groups)),
	}
	ready := len(groups) > 0
	for i, g := range groups {
		p := &latest[i]
		members, err := s.collab.Members.GetActiveGroupMembers(ctx, projectID, g.groupID)
		if err != nil {
			s.logger.Error("查询小组成员失败", zap.Error(err))
			return nil, err
		}
		tally := TallyVotes(votesByProposal[p.ProposalID])
		status := DeriveStatus(p, tally, members)

		switch status {
		case model.ProposalSettled:
			res.SettledCount++
		case model.ProposalApproved:
			res.AgreedCount++
		case model.ProposalDisagreed:
			res.DisagreedCount++
		case model.ProposalTied:
			res.TiedCount++
		case model.ProposalWithdrawn:
			res.WithdrawnCount++
		case model.ProposalReset:
			res.ResetCount++
		default:
			res.PendingCount++
		}
		if status != model.ProposalSettled && status != model.ProposalApproved {
			ready = false
		}

		resets := 0
		for _, q := range g.proposals {
			if q.ResetAt != nil {
				resets++
			}
		}
		res.Groups = append(res.Groups, dto.GroupConsensusState{
			GroupID:          g.groupID,
			LatestProposalID: p.ProposalID,
			Status:           string(status),
			VotingResult:     string(tally.Result()),
			VersionCount:     len(g.proposals),
			ResetsUsed:       resets,
		})
	}
	res.ReadyToSettle = ready
	return res, nil
}

// ── History ──

func (s *proposalService) History(ctx context.Context, actor Actor, proposalID string, page, pageSize int) ([]dto.EventLogResponse, int64, error) {
	p, err := s.loadProposal(ctx, proposalID)
	if err != nil {
		return nil, 0, err
	}
	v, err := s.resolveViewer(ctx, actor, p.ProjectID)
	if err != nil {
		return nil, 0, err
	}
	if !v.canSeeGroup(p.GroupID) {
		return nil, 0, ErrNotAuthorized
	}

	page, pageSize = normalizePage(page, pageSize)
	logs, total, err := s.repo.EventLog.ListByEntity(ctx, "proposal", proposalID, (page-1)*pageSize, pageSize)
	if err != nil {
		s.logger.Error("查询提案操作记录失败", zap.Error(err))
		return nil, 0, err
	}
	list := make([]dto.EventLogResponse, 0, len(logs))
	for _, l := range logs {
		list = append(list, dto.EventLogResponse{
			EventID:    l.EventID,
			ActorEmail: l.ActorEmail,
			Action:     l.Action,
			Level:      l.Level,
			Details:    l.Details,
			CreatedAt:  l.CreatedAt.Format(time.RFC3339),
		})
	}
	return list, total, nil
}

// ── 投影辅助 ──

func (s *proposalService) votesByProposal(ctx context.Context, proposals []model.Proposal) (map[string][]model.ProposalVote, error) {
	ids := make([]string, 0, len(proposals))
	for _, p := range proposals {
		ids = append(ids, p.ProposalID)
	}
	votes, err := s.repo.Vote.ListByProposals(ctx, ids)
	if err != nil {
		s.logger.Error("查询投票记录失败", zap.Error(err))
		return nil, err
	}
	out := make(map[string][]model.ProposalVote, len(ids))
	for _, v := range votes {
		out[v.ProposalID] = append(out[v.ProposalID], v)
	}
	return out, nil
}

func (s *proposalService) toDetail(p *model.Proposal, version int, votes []model.ProposalVote, members []GroupMember, valid []model.RankingItem, actorEmail string) dto.ProposalDetailResponse {
	tally := TallyVotes(votes)
	d := dto.ProposalDetailResponse{
		ProposalID:    p.ProposalID,
		ProjectID:     p.ProjectID,
		StageID:       p.StageID,
		GroupID:       p.GroupID,
		ProposerEmail: p.ProposerEmail,
		Version:       version,
		Status:        string(DeriveStatus(p, tally, members)),
		TallyResponse: toTallyResponse(tally),
		MemberCount:   len(members),
		AllVoted:      tally.AllVoted(members),
		RankingData:   toRankingItemResponses(valid),
		CreatedTime:   p.CreatedTime.Format(time.RFC3339),
		SettledAt:     formatTimePtr(p.SettledAt),
		WithdrawnAt:   formatTimePtr(p.WithdrawnAt),
		WithdrawnBy:   p.WithdrawnBy,
		ResetAt:       formatTimePtr(p.ResetAt),
		PredecessorID: p.PredecessorID,
		Votes:         make([]dto.VoteRecordResponse, 0, len(votes)),
		UserVote:      userVoteLabel(tally, actorEmail),
	}
	if d.RankingData == nil {
		d.RankingData = []dto.RankingItemResponse{}
	}
	for _, v := range votes {
		cur, _ := tally.VoteOf(v.VoterEmail)
		d.Votes = append(d.Votes, dto.VoteRecordResponse{
			VoterEmail: v.VoterEmail,
			Agree:      int(v.Agree),
			Comment:    v.Comment,
			VotedAt:    v.VotedAt.Format(time.RFC3339),
			IsCurrent:  cur.VoteID == v.VoteID,
		})
	}
	return d
}

// groupedProposals 同一小组的提案，按创建时间升序
type groupedProposals struct {
	groupID   string
	proposals []model.Proposal
}

// groupProposals 按小组分组，保持输入中小组首次出现的顺序
func groupProposals(proposals []model.Proposal) []groupedProposals {
	index := make(map[string]int)
	var groups []groupedProposals
	for _, p := range proposals {
		i, ok := index[p.GroupID]
		if !ok {
			i = len(groups)
			index[p.GroupID] = i
			groups = append(groups, groupedProposals{groupID: p.GroupID})
		}
		groups[i].proposals = append(groups[i].proposals, p)
	}
	return groups
}

// versionIndex 提案在小组内按创建时间的序号（从 1 开始）
func versionIndex(siblings []model.Proposal, proposalID string) int {
	for i, p := range siblings {
		if p.ProposalID == proposalID {
			return i + 1
		}
	}
	return len(siblings)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}
