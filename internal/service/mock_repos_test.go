package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"scoring-system/backend/internal/model"
	"scoring-system/backend/internal/repository"
	pkgerrors "scoring-system/backend/pkg/errors"
)

// ── 测试时钟 ──

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// ── Mock ProposalRepository ──
//
// 与数据库约束保持一致：终态写入为 CAS；同一小组同一阶段至多一个未终结提案；
// predecessor_id 唯一；ResetWithSuccessor 原子执行。

type mockProposalRepo struct {
	mu        sync.Mutex
	proposals map[string]*model.Proposal
	// createErr 非空时 Create 直接返回该错误
	createErr error
}

func newMockProposalRepo() *mockProposalRepo {
	return &mockProposalRepo{proposals: make(map[string]*model.Proposal)}
}

func cloneProposal(p *model.Proposal) *model.Proposal {
	cp := *p
	cp.RankingData = append([]model.RankingItem(nil), p.RankingData...)
	return &cp
}

func (m *mockProposalRepo) openConflict(p *model.Proposal) bool {
	for _, q := range m.proposals {
		if q.ProjectID == p.ProjectID && q.StageID == p.StageID && q.GroupID == p.GroupID && q.IsOpen() {
			return true
		}
	}
	return false
}

func (m *mockProposalRepo) Create(_ context.Context, p *model.Proposal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.proposals[p.ProposalID]; ok || m.openConflict(p) {
		return pkgerrors.ErrDuplicateKey
	}
	m.proposals[p.ProposalID] = cloneProposal(p)
	return nil
}

func (m *mockProposalRepo) GetByID(_ context.Context, id string) (*model.Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.proposals[id]; ok {
		return cloneProposal(p), nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockProposalRepo) ListByStage(_ context.Context, projectID, stageID string) ([]model.Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Proposal
	for _, p := range m.proposals {
		if p.ProjectID == projectID && p.StageID == stageID {
			out = append(out, *cloneProposal(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GroupID != out[j].GroupID {
			return out[i].GroupID < out[j].GroupID
		}
		return out[i].CreatedTime.Before(out[j].CreatedTime)
	})
	return out, nil
}

func (m *mockProposalRepo) ListByGroupStage(ctx context.Context, projectID, stageID, groupID string) ([]model.Proposal, error) {
	all, _ := m.ListByStage(ctx, projectID, stageID)
	var out []model.Proposal
	for _, p := range all {
		if p.GroupID == groupID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockProposalRepo) GetSuccessor(_ context.Context, predecessorID string) (*model.Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.proposals {
		if p.PredecessorID != nil && *p.PredecessorID == predecessorID {
			return cloneProposal(p), nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockProposalRepo) CountResets(_ context.Context, projectID, stageID, groupID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, p := range m.proposals {
		if p.ProjectID == projectID && p.StageID == stageID && p.GroupID == groupID && p.ResetAt != nil {
			n++
		}
	}
	return n, nil
}

func (m *mockProposalRepo) MarkWithdrawn(_ context.Context, id, actorEmail string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[id]
	if !ok || !p.IsOpen() {
		return pkgerrors.ErrCASConflict
	}
	p.WithdrawnAt = &at
	p.WithdrawnBy = &actorEmail
	return nil
}

func (m *mockProposalRepo) MarkSettled(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[id]
	if !ok || !p.IsOpen() {
		return pkgerrors.ErrCASConflict
	}
	p.SettledAt = &at
	return nil
}

func (m *mockProposalRepo) ResetWithSuccessor(_ context.Context, oldID, actorEmail string, at time.Time, successor *model.Proposal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.proposals[oldID]
	if !ok || !old.IsOpen() {
		return pkgerrors.ErrCASConflict
	}
	for _, p := range m.proposals {
		if p.PredecessorID != nil && successor.PredecessorID != nil && *p.PredecessorID == *successor.PredecessorID {
			return pkgerrors.ErrCASConflict
		}
	}
	old.ResetAt = &at
	old.ResetBy = &actorEmail
	m.proposals[successor.ProposalID] = cloneProposal(successor)
	return nil
}

func (m *mockProposalRepo) isOpen(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[id]
	return ok && p.IsOpen()
}

// put 直接写入提案（测试准备数据）
func (m *mockProposalRepo) put(p *model.Proposal) {
	m.mu.Lock()
	m.proposals[p.ProposalID] = cloneProposal(p)
	m.mu.Unlock()
}

// ── Mock VoteRepository ──

type mockVoteRepo struct {
	mu        sync.Mutex
	votes     []model.ProposalVote
	proposals *mockProposalRepo
}

func newMockVoteRepo(proposals *mockProposalRepo) *mockVoteRepo {
	return &mockVoteRepo{proposals: proposals}
}

func (m *mockVoteRepo) Append(_ context.Context, vote *model.ProposalVote) error {
	if !m.proposals.isOpen(vote.ProposalID) {
		return pkgerrors.ErrCASConflict
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.votes = append(m.votes, *vote)
	return nil
}

func (m *mockVoteRepo) ListByProposal(_ context.Context, proposalID string) ([]model.ProposalVote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ProposalVote
	for _, v := range m.votes {
		if v.ProposalID == proposalID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *mockVoteRepo) ListByProposals(_ context.Context, ids []string) ([]model.ProposalVote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []model.ProposalVote
	for _, v := range m.votes {
		if want[v.ProposalID] {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *mockVoteRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.votes)
}

// ── Mock ActionLogRepository ──

type mockActionLogRepo struct {
	mu   sync.Mutex
	logs map[string]*model.ActionLog
	// insertErr 非空时模拟存储故障
	insertErr error
}

func newMockActionLogRepo() *mockActionLogRepo {
	return &mockActionLogRepo{logs: make(map[string]*model.ActionLog)}
}

func (m *mockActionLogRepo) Insert(_ context.Context, log *model.ActionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	if _, ok := m.logs[log.DedupKey]; ok {
		return pkgerrors.ErrDuplicateKey
	}
	cp := *log
	m.logs[log.DedupKey] = &cp
	return nil
}

func (m *mockActionLogRepo) get(key string) *model.ActionLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logs[key]
}

func (m *mockActionLogRepo) countAction(action string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, l := range m.logs {
		if l.Action == action {
			n++
		}
	}
	return n
}

// ── Mock EventLogRepository ──

type mockEventLogRepo struct {
	mu   sync.Mutex
	logs []model.EventLog
}

func newMockEventLogRepo() *mockEventLogRepo {
	return &mockEventLogRepo{}
}

func (m *mockEventLogRepo) Create(_ context.Context, log *model.EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, *log)
	return nil
}

func (m *mockEventLogRepo) ListByEntity(_ context.Context, entityType, entityID string, offset, limit int) ([]model.EventLog, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []model.EventLog
	for _, l := range m.logs {
		if l.EntityType == entityType && l.EntityID == entityID {
			matched = append(matched, l)
		}
	}
	total := int64(len(matched))
	if offset >= len(matched) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func (m *mockEventLogRepo) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.logs))
	for _, l := range m.logs {
		out = append(out, l.Action)
	}
	return out
}

func (m *mockEventLogRepo) find(action string) *model.EventLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.logs {
		if m.logs[i].Action == action {
			cp := m.logs[i]
			return &cp
		}
	}
	return nil
}

// ── Mock ProjectRepository / StageRepository ──

type mockProjectRepo struct {
	projects map[string]*model.Project
}

func newMockProjectRepo() *mockProjectRepo {
	return &mockProjectRepo{projects: make(map[string]*model.Project)}
}

func (m *mockProjectRepo) GetByID(_ context.Context, id string) (*model.Project, error) {
	if p, ok := m.projects[id]; ok {
		return p, nil
	}
	return nil, gorm.ErrRecordNotFound
}

type mockStageRepo struct {
	stages map[string]*model.Stage
}

func newMockStageRepo() *mockStageRepo {
	return &mockStageRepo{stages: make(map[string]*model.Stage)}
}

func (m *mockStageRepo) GetByID(_ context.Context, projectID, stageID string) (*model.Stage, error) {
	if s, ok := m.stages[stageID]; ok && s.ProjectID == projectID {
		return s, nil
	}
	return nil, gorm.ErrRecordNotFound
}

// ── Mock MembershipRepository ──

type mockMembershipRepo struct {
	mu          sync.Mutex
	memberships []model.GroupMembership
	viewers     []model.ProjectViewer
}

func newMockMembershipRepo() *mockMembershipRepo {
	return &mockMembershipRepo{}
}

func (m *mockMembershipRepo) ListActiveByGroup(_ context.Context, projectID, groupID string) ([]model.GroupMembership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.GroupMembership
	for _, gm := range m.memberships {
		if gm.ProjectID == projectID && gm.GroupID == groupID && gm.IsActive {
			out = append(out, gm)
		}
	}
	return out, nil
}

func (m *mockMembershipRepo) GetActiveByUser(_ context.Context, projectID, email string) (*model.GroupMembership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.memberships {
		gm := m.memberships[i]
		if gm.ProjectID == projectID && strings.EqualFold(gm.UserEmail, email) && gm.IsActive {
			return &gm, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockMembershipRepo) GetActiveViewer(_ context.Context, projectID, email string) (*model.ProjectViewer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.viewers {
		v := m.viewers[i]
		if v.ProjectID == projectID && strings.EqualFold(v.UserEmail, email) {
			return &v, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockMembershipRepo) deactivate(email string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.memberships {
		if strings.EqualFold(m.memberships[i].UserEmail, email) {
			m.memberships[i].IsActive = false
		}
	}
}

// ── Mock TargetRepository ──

type mockTargetRepo struct {
	mu          sync.Mutex
	submissions map[string]string
	comments    map[string]string
}

func newMockTargetRepo() *mockTargetRepo {
	return &mockTargetRepo{submissions: make(map[string]string), comments: make(map[string]string)}
}

func (m *mockTargetRepo) SubmissionStatuses(_ context.Context, _, _ string, ids []string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	for _, id := range ids {
		if s, ok := m.submissions[id]; ok {
			out[id] = s
		}
	}
	return out, nil
}

func (m *mockTargetRepo) CommentStatuses(_ context.Context, _, _ string, ids []string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	for _, id := range ids {
		if s, ok := m.comments[id]; ok {
			out[id] = s
		}
	}
	return out, nil
}

func (m *mockTargetRepo) setSubmission(id, status string) {
	m.mu.Lock()
	m.submissions[id] = status
	m.mu.Unlock()
}

// ── Mock TeacherRankingRepository ──

type mockTeacherRankingRepo struct {
	mu   sync.Mutex
	rows []model.TeacherRanking
}

func newMockTeacherRankingRepo() *mockTeacherRankingRepo {
	return &mockTeacherRankingRepo{}
}

func (m *mockTeacherRankingRepo) CreateVersion(_ context.Context, rows []model.TeacherRanking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, rows...)
	return nil
}

func (m *mockTeacherRankingRepo) ListByStage(_ context.Context, projectID, stageID string) ([]model.TeacherRanking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.TeacherRanking
	for _, r := range m.rows {
		if r.ProjectID == projectID && r.StageID == stageID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedTime.Equal(out[j].CreatedTime) {
			return out[i].CreatedTime.Before(out[j].CreatedTime)
		}
		return out[i].Rank < out[j].Rank
	})
	return out, nil
}

func (m *mockTeacherRankingRepo) ListByRater(ctx context.Context, projectID, stageID, rater string) ([]model.TeacherRanking, error) {
	all, _ := m.ListByStage(ctx, projectID, stageID)
	var out []model.TeacherRanking
	for _, r := range all {
		if strings.EqualFold(r.RaterEmail, rater) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedTime.After(out[j].CreatedTime) })
	return out, nil
}

// ── Mock NotificationRepository ──

type mockNotificationRepo struct {
	mu   sync.Mutex
	rows []model.Notification
}

func newMockNotificationRepo() *mockNotificationRepo {
	return &mockNotificationRepo{}
}

func (m *mockNotificationRepo) BatchCreate(_ context.Context, list []model.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, list...)
	return nil
}

func (m *mockNotificationRepo) ListByUser(_ context.Context, email string, offset, limit int) ([]model.Notification, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []model.Notification
	for i := len(m.rows) - 1; i >= 0; i-- {
		if m.rows[i].UserEmail == email {
			matched = append(matched, m.rows[i])
		}
	}
	total := int64(len(matched))
	if offset >= len(matched) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func (m *mockNotificationRepo) byType(typ string) []model.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Notification
	for _, n := range m.rows {
		if n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

// ── Mock NoticePublisher ──

type mockPublisher struct {
	mu       sync.Mutex
	payloads [][]byte
	err      error
}

func (m *mockPublisher) Publish(_ context.Context, _ string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads = append(m.payloads, payload)
	return m.err
}

func (m *mockPublisher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.payloads)
}

// ── 聚合 ──

type mockRepos struct {
	proposals     *mockProposalRepo
	votes         *mockVoteRepo
	actionLogs    *mockActionLogRepo
	eventLogs     *mockEventLogRepo
	projects      *mockProjectRepo
	stages        *mockStageRepo
	memberships   *mockMembershipRepo
	targets       *mockTargetRepo
	rankings      *mockTeacherRankingRepo
	notifications *mockNotificationRepo
}

func newMockRepos() *mockRepos {
	proposals := newMockProposalRepo()
	return &mockRepos{
		proposals:     proposals,
		votes:         newMockVoteRepo(proposals),
		actionLogs:    newMockActionLogRepo(),
		eventLogs:     newMockEventLogRepo(),
		projects:      newMockProjectRepo(),
		stages:        newMockStageRepo(),
		memberships:   newMockMembershipRepo(),
		targets:       newMockTargetRepo(),
		rankings:      newMockTeacherRankingRepo(),
		notifications: newMockNotificationRepo(),
	}
}

func (m *mockRepos) repository() *repository.Repository {
	return &repository.Repository{
		Project:        m.projects,
		Stage:          m.stages,
		Membership:     m.memberships,
		Target:         m.targets,
		Proposal:       m.proposals,
		Vote:           m.votes,
		ActionLog:      m.actionLogs,
		EventLog:       m.eventLogs,
		TeacherRanking: m.rankings,
		Notification:   m.notifications,
	}
}
