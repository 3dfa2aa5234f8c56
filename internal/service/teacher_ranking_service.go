package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"scoring-system/backend/config"
	"scoring-system/backend/internal/dto"
	"scoring-system/backend/internal/model"
	"scoring-system/backend/internal/repository"
)

// TeacherRankingService 教师排名与阶段排名聚合
type TeacherRankingService interface {
	Submit(ctx context.Context, actor Actor, projectID, stageID string, req *dto.SubmitTeacherRankingRequest) (*dto.TeacherRankingResponse, error)
	ListMine(ctx context.Context, actor Actor, projectID, stageID string) (*dto.TeacherRankingResponse, error)
	StageRankings(ctx context.Context, actor Actor, projectID, stageID string) (*dto.StageRankingsResponse, error)
	ListVersions(ctx context.Context, actor Actor, projectID, stageID, targetType string) (*dto.TeacherRankingVersionsResponse, error)
}

type teacherRankingService struct {
	repo   *repository.Repository
	collab Collaborators
	cfg    config.ConsensusConfig
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewTeacherRankingService 创建 TeacherRankingService 实例
func NewTeacherRankingService(repo *repository.Repository, collab Collaborators, cfg *config.ConsensusConfig, logger *zap.Logger) TeacherRankingService {
	now := collab.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &teacherRankingService{
		repo:   repo,
		collab: collab,
		cfg:    *cfg,
		logger: logger,
		tracer: otel.Tracer("scoring-system/service/teacher_ranking"),
		now:    now,
	}
}

// ════════════════════════════════════════════════════════════
// Submit — 提交教师排名（追加新版本，旧版本保留）
// ════════════════════════════════════════════════════════════

func (s *teacherRankingService) Submit(ctx context.Context, actor Actor, projectID, stageID string, req *dto.SubmitTeacherRankingRequest) (res *dto.TeacherRankingResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "TeacherRankingService.Submit", trace.WithAttributes(
		attribute.String("actor", actor.Email),
		attribute.String("project_id", projectID),
		attribute.String("stage_id", stageID),
	))
	defer func() { endSpan(span, err) }()

	role, err := s.collab.Members.GetProjectRole(ctx, projectID, actor.Email)
	if err != nil {
		s.logger.Error("查询项目角色失败", zap.Error(err))
		return nil, err
	}
	if role != model.ProjectRoleTeacher {
		return nil, ErrNotTeacher
	}
	if err := checkStageGate(ctx, s.collab.Stages, s.logger, projectID, stageID); err != nil {
		return nil, err
	}
	if err := s.validateItems(req.Rankings); err != nil {
		return nil, err
	}

	items := make([]model.RankingItem, 0, len(req.Rankings))
	for _, it := range req.Rankings {
		items = append(items, model.RankingItem{TargetType: it.TargetType, TargetID: it.TargetID, GroupID: it.GroupID})
	}
	_, dropped, err := s.collab.Targets.FilterValid(ctx, projectID, stageID, items)
	if err != nil {
		s.logger.Error("校验排名目标失败", zap.Error(err))
		return nil, err
	}
	if len(dropped) > 0 {
		return nil, ErrInvalidRanking.withDetail("目标不可排名: %v", targetIDs(dropped))
	}

	isNew, err := s.collab.Guard.RecordIfNew(ctx,
		DedupKey(ActionTeacherRank, projectID+"/"+stageID, actor.Email, s.now(), s.cfg.DedupWindow),
		ActionMeta{
			Action: ActionTeacherRank, ActorEmail: actor.Email, EntityType: "stage", EntityID: stageID, ProjectID: projectID,
			Context: map[string]interface{}{"item_count": len(req.Rankings)},
		})
	if err != nil {
		s.logger.Error("写入去重日志失败", zap.Error(err))
		return nil, err
	}
	if !isNew {
		res, err := s.ListMine(ctx, actor, projectID, stageID)
		if err != nil {
			return nil, err
		}
		res.Deduped = true
		return res, nil
	}

	version := s.now()
	rows := make([]model.TeacherRanking, 0, len(req.Rankings))
	for _, it := range req.Rankings {
		row := model.TeacherRanking{
			RankingID:   uuid.NewString(),
			ProjectID:   projectID,
			StageID:     stageID,
			RaterEmail:  actor.Email,
			TargetType:  it.TargetType,
			TargetID:    it.TargetID,
			Rank:        it.Rank,
			CreatedTime: version,
		}
		if it.GroupID != "" {
			row.GroupID = strPtr(it.GroupID)
		}
		rows = append(rows, row)
	}
	if err := s.repo.TeacherRanking.CreateVersion(ctx, rows); err != nil {
		s.logger.Error("写入教师排名失败", zap.Error(err))
		return nil, err
	}

	s.collab.Audit.RecordOperation(ctx, Operation{
		ActorEmail: actor.Email, Action: "submit_teacher_ranking", EntityType: "stage", EntityID: stageID,
		ProjectID: projectID, Level: model.LogLevelInfo,
		Details: map[string]interface{}{"item_count": len(rows), "version": version.Format(time.RFC3339Nano)},
	})

	return s.ListMine(ctx, actor, projectID, stageID)
}

// validateItems 名次为正且同类型内唯一；同一目标只能出现一次；评论条数受上限约束
func (s *teacherRankingService) validateItems(items []dto.TeacherRankingItemRequest) error {
	ranks := make(map[string]bool, len(items))
	targets := make(map[string]bool, len(items))
	comments := 0
	for _, it := range items {
		if it.Rank < 1 {
			return ErrInvalidRanking.withDetail("名次必须为正整数: %s", it.TargetID)
		}
		rankKey := fmt.Sprintf("%s#%d", it.TargetType, it.Rank)
		if ranks[rankKey] {
			return ErrInvalidRanking.withDetail("重复的名次 %d", it.Rank)
		}
		ranks[rankKey] = true

		targetKey := it.TargetType + ":" + it.TargetID
		if targets[targetKey] {
			return ErrInvalidRanking.withDetail("重复的排名目标 %s", it.TargetID)
		}
		targets[targetKey] = true

		if it.TargetType == model.TargetComment {
			comments++
		}
	}
	if s.cfg.MaxCommentSelections > 0 && comments > s.cfg.MaxCommentSelections {
		return ErrTooManyCommentSelections.withDetail("最多 %d 条，实际 %d 条", s.cfg.MaxCommentSelections, comments)
	}
	return nil
}

// ── ListMine ──

// ListMine 调用者最新版本及历史版本数
func (s *teacherRankingService) ListMine(ctx context.Context, actor Actor, projectID, stageID string) (*dto.TeacherRankingResponse, error) {
	rows, err := s.repo.TeacherRanking.ListByRater(ctx, projectID, stageID, actor.Email)
	if err != nil {
		s.logger.Error("查询教师排名失败", zap.Error(err))
		return nil, err
	}

	res := &dto.TeacherRankingResponse{Items: []dto.TeacherRankingItemResponse{}}
	if len(rows) == 0 {
		return res, nil
	}

	versions := make(map[int64]bool)
	var latest time.Time
	for _, r := range rows {
		versions[r.CreatedTime.UnixNano()] = true
		if r.CreatedTime.After(latest) {
			latest = r.CreatedTime
		}
	}
	res.Version = latest.Format(time.RFC3339Nano)
	res.VersionCount = len(versions)

	for _, r := range rows {
		if !r.CreatedTime.Equal(latest) {
			continue
		}
		item := dto.TeacherRankingItemResponse{TargetType: r.TargetType, TargetID: r.TargetID, Rank: r.Rank}
		if r.GroupID != nil {
			item.GroupID = *r.GroupID
		}
		res.Items = append(res.Items, item)
	}
	sort.SliceStable(res.Items, func(i, j int) bool {
		if res.Items[i].TargetType != res.Items[j].TargetType {
			return res.Items[i].TargetType > res.Items[j].TargetType // submission 在前
		}
		return res.Items[i].Rank < res.Items[j].Rank
	})
	return res, nil
}

// ── ListVersions ──

// ListVersions 调用者某一类型排名的全部版本，按提交时间分组，新版本在前。
// targetType 为空时按作品排名处理；某次提交不含该类型时不出现在结果中。
func (s *teacherRankingService) ListVersions(ctx context.Context, actor Actor, projectID, stageID, targetType string) (*dto.TeacherRankingVersionsResponse, error) {
	if targetType == "" {
		targetType = model.TargetSubmission
	}
	if targetType != model.TargetSubmission && targetType != model.TargetComment {
		return nil, ErrInvalidRanking.withDetail("未知的排名类型: %s", targetType)
	}

	role, err := s.collab.Members.GetProjectRole(ctx, projectID, actor.Email)
	if err != nil {
		s.logger.Error("查询项目角色失败", zap.Error(err))
		return nil, err
	}
	if role != model.ProjectRoleTeacher {
		return nil, ErrNotTeacher
	}

	rows, err := s.repo.TeacherRanking.ListByRater(ctx, projectID, stageID, actor.Email)
	if err != nil {
		s.logger.Error("查询教师排名失败", zap.Error(err))
		return nil, err
	}

	byVersion := make(map[int64]*dto.TeacherRankingVersionResponse)
	var stamps []time.Time
	for _, r := range rows {
		if r.TargetType != targetType {
			continue
		}
		key := r.CreatedTime.UnixNano()
		v, ok := byVersion[key]
		if !ok {
			v = &dto.TeacherRankingVersionResponse{
				Version:    r.CreatedTime.Format(time.RFC3339Nano),
				TargetType: targetType,
				Items:      []dto.TeacherRankingItemResponse{},
			}
			byVersion[key] = v
			stamps = append(stamps, r.CreatedTime)
		}
		item := dto.TeacherRankingItemResponse{TargetType: r.TargetType, TargetID: r.TargetID, Rank: r.Rank}
		if r.GroupID != nil {
			item.GroupID = *r.GroupID
		}
		v.Items = append(v.Items, item)
	}

	sort.Slice(stamps, func(i, j int) bool { return stamps[i].After(stamps[j]) })
	res := &dto.TeacherRankingVersionsResponse{
		TargetType: targetType,
		Versions:   make([]dto.TeacherRankingVersionResponse, 0, len(stamps)),
	}
	for _, ts := range stamps {
		v := byVersion[ts.UnixNano()]
		sort.SliceStable(v.Items, func(i, j int) bool { return v.Items[i].Rank < v.Items[j].Rank })
		v.TotalItems = len(v.Items)
		res.Versions = append(res.Versions, *v)
	}
	return res, nil
}

// ════════════════════════════════════════════════════════════
// StageRankings — 教师排名与小组投票排名并列展示
// ════════════════════════════════════════════════════════════
//
// 教师排名：各教师最新版本中作品排名按小组聚合（名次均值四舍五入）。
// 投票排名：调用者所在小组最新的待表决或已定案提案中，各小组作品的位置。
// 教师、观察者和管理员额外看到各小组的提案统计。

func (s *teacherRankingService) StageRankings(ctx context.Context, actor Actor, projectID, stageID string) (*dto.StageRankingsResponse, error) {
	v, err := resolveViewer(ctx, s.collab.Members, s.logger, actor, projectID)
	if err != nil {
		return nil, err
	}

	rows, err := s.repo.TeacherRanking.ListByStage(ctx, projectID, stageID)
	if err != nil {
		s.logger.Error("查询教师排名失败", zap.Error(err))
		return nil, err
	}
	proposals, err := s.repo.Proposal.ListByStage(ctx, projectID, stageID)
	if err != nil {
		s.logger.Error("查询阶段提案失败", zap.Error(err))
		return nil, err
	}

	aggregated, teacherCount := aggregateGroupRanks(rows)
	grouped := groupProposals(proposals)

	res := &dto.StageRankingsResponse{
		ProjectID:    projectID,
		StageID:      stageID,
		TeacherCount: teacherCount,
	}

	byGroup := make(map[string]*dto.GroupRankingResponse)
	var order []string
	entry := func(groupID string) *dto.GroupRankingResponse {
		if g, ok := byGroup[groupID]; ok {
			return g
		}
		g := &dto.GroupRankingResponse{GroupID: groupID}
		byGroup[groupID] = g
		order = append(order, groupID)
		return g
	}

	for _, a := range aggregated {
		g := entry(a.Target)
		rank, mean := a.Rank, a.MeanRank
		g.TeacherRank = &rank
		g.TeacherMeanRank = &mean
		g.TeacherCount = a.RaterCount
	}
	for _, gp := range grouped {
		entry(gp.groupID)
	}

	if v.membership != nil {
		if own := latestVotableProposal(grouped, v.membership.GroupID); own != nil {
			for pos, groupID := range groupPositions(own.RankingData) {
				rank := pos + 1
				entry(groupID).VoteRank = &rank
			}
		}
	}

	if v.canSeeAllGroups() {
		if err := s.fillProposalStats(ctx, projectID, grouped, entry); err != nil {
			return nil, err
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		a, b := byGroup[order[i]], byGroup[order[j]]
		switch {
		case a.TeacherRank != nil && b.TeacherRank != nil && *a.TeacherRank != *b.TeacherRank:
			return *a.TeacherRank < *b.TeacherRank
		case a.TeacherRank != nil && b.TeacherRank != nil:
			return a.GroupID < b.GroupID
		case a.TeacherRank != nil:
			return true
		case b.TeacherRank != nil:
			return false
		default:
			return a.GroupID < b.GroupID
		}
	})
	res.Groups = make([]dto.GroupRankingResponse, 0, len(order))
	for _, id := range order {
		res.Groups = append(res.Groups, *byGroup[id])
	}
	return res, nil
}

func (s *teacherRankingService) fillProposalStats(ctx context.Context, projectID string, grouped []groupedProposals, entry func(string) *dto.GroupRankingResponse) error {
	for _, gp := range grouped {
		latest := &gp.proposals[len(gp.proposals)-1]
		votes, err := s.repo.Vote.ListByProposal(ctx, latest.ProposalID)
		if err != nil {
			s.logger.Error("查询投票记录失败", zap.Error(err))
			return err
		}
		members, err := s.collab.Members.GetActiveGroupMembers(ctx, projectID, gp.groupID)
		if err != nil {
			s.logger.Error("查询小组成员失败", zap.Error(err))
			return err
		}
		tally := TallyVotes(votes)
		entry(gp.groupID).ProposalStats = &dto.ProposalStatsResponse{
			VersionCount:       len(gp.proposals),
			LatestStatus:       string(DeriveStatus(latest, tally, members)),
			LatestVotingResult: string(tally.Result()),
		}
	}
	return nil
}

// aggregateGroupRanks 只取每位教师最新版本中的作品排名，以小组为聚合目标
func aggregateGroupRanks(rows []model.TeacherRanking) ([]AggregatedRank, int) {
	latest := make(map[string]time.Time)
	for _, r := range rows {
		rater := normalizeEmail(r.RaterEmail)
		if v, ok := latest[rater]; !ok || r.CreatedTime.After(v) {
			latest[rater] = r.CreatedTime
		}
	}

	input := make([]RaterRank, 0, len(rows))
	raters := make(map[string]bool)
	for _, r := range rows {
		rater := normalizeEmail(r.RaterEmail)
		if !r.CreatedTime.Equal(latest[rater]) || r.TargetType != model.TargetSubmission || r.GroupID == nil {
			continue
		}
		raters[rater] = true
		input = append(input, RaterRank{Rater: rater, Target: *r.GroupID, Rank: r.Rank, Version: r.CreatedTime})
	}
	return AggregateRaterRankings(input), len(raters)
}

// latestVotableProposal 小组最新一版提案，仅在待表决或已定案时返回
func latestVotableProposal(grouped []groupedProposals, groupID string) *model.Proposal {
	for _, gp := range grouped {
		if gp.groupID != groupID {
			continue
		}
		p := &gp.proposals[len(gp.proposals)-1]
		if p.IsOpen() || p.SettledAt != nil {
			return p
		}
		return nil
	}
	return nil
}

// groupPositions 提案中作品所属小组的出现顺序（同组多件作品取首次位置）
func groupPositions(items []model.RankingItem) []string {
	seen := make(map[string]bool)
	var out []string
	for _, it := range items {
		if it.TargetType != model.TargetSubmission || it.GroupID == "" || seen[it.GroupID] {
			continue
		}
		seen[it.GroupID] = true
		out = append(out, it.GroupID)
	}
	return out
}
