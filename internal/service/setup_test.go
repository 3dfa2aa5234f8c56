package service

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"scoring-system/backend/config"
	"scoring-system/backend/internal/dto"
	"scoring-system/backend/internal/model"
)

// ── 测试夹具 ──
//
// 项目 p1 / 阶段 s1（进行中）
//   g1: leader@ (组长), alice@, bob@
//   g2: carol@ (组长)
//   g3: dan@ (组长), erin@
// 教师 teacher@ / teacher2@，观察者 observer@

const (
	testProject = "p1"
	testStage   = "s1"

	emailLeader   = "leader@example.com"
	emailAlice    = "alice@example.com"
	emailBob      = "bob@example.com"
	emailCarol    = "carol@example.com"
	emailDan      = "dan@example.com"
	emailErin     = "erin@example.com"
	emailTeacher  = "teacher@example.com"
	emailTeacher2 = "teacher2@example.com"
	emailObserver = "observer@example.com"
	emailOutsider = "outsider@example.com"
)

// submissionGroups 作品 → 所属小组
var submissionGroups = map[string]string{
	"s-g1": "g1",
	"s-g2": "g2",
	"s-g3": "g3",
}

type testEnv struct {
	repos     *mockRepos
	clock     *testClock
	pub       *mockPublisher
	cfg       *config.ConsensusConfig
	collab    Collaborators
	proposals ProposalService
	rankings  TeacherRankingService
}

func asStudent(email string) Actor { return Actor{Email: email, Role: "student"} }
func asTeacher(email string) Actor { return Actor{Email: email, Role: "teacher"} }
func asAdmin() Actor { return Actor{Email: "admin@example.com", Role: "admin"} }

func intPtr(n int) *int { return &n }

func newTestCollaborators(repos *mockRepos, clock *testClock, pub NoticePublisher) Collaborators {
	repo := repos.repository()
	logger := zap.NewNop()
	return Collaborators{
		Members: &repoMembershipLookup{repo: repo},
		Stages:  &repoStageGate{repo: repo, now: clock.Now},
		Targets: &repoTargetValidator{repo: repo},
		Guard:   NewIdempotencyGuard(repos.actionLogs, clock.Now),
		Audit: &eventLogAuditor{
			repo:    repos.eventLogs,
			timeout: time.Second,
			logger:  logger,
			now:     clock.Now,
		},
		Notifier: &storeNotifier{
			repo:        repos.notifications,
			publisher:   pub,
			channel:     "proposal.updated",
			timeout:     time.Second,
			concurrency: 2,
			logger:      logger,
			now:         clock.Now,
		},
		Now: clock.Now,
	}
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repos := newMockRepos()
	clock := newTestClock()
	now := clock.Now()

	repos.projects.projects[testProject] = &model.Project{ProjectID: testProject, Name: "课程项目", CreatedBy: emailTeacher}
	repos.stages.stages[testStage] = &model.Stage{
		StageID:   testStage,
		ProjectID: testProject,
		Name:      "第一阶段",
		StartTime: now.Add(-time.Hour),
		EndTime:   now.Add(24 * time.Hour),
	}

	addMember := func(group, email, role string) {
		repos.memberships.memberships = append(repos.memberships.memberships, model.GroupMembership{
			MembershipID: group + "-" + email,
			ProjectID:    testProject,
			GroupID:      group,
			UserEmail:    email,
			Role:         role,
			IsActive:     true,
		})
	}
	addMember("g1", emailLeader, model.GroupRoleLeader)
	addMember("g1", emailAlice, model.GroupRoleMember)
	addMember("g1", emailBob, model.GroupRoleMember)
	addMember("g2", emailCarol, model.GroupRoleLeader)
	addMember("g3", emailDan, model.GroupRoleLeader)
	addMember("g3", emailErin, model.GroupRoleMember)

	repos.memberships.viewers = []model.ProjectViewer{
		{ProjectID: testProject, UserEmail: emailTeacher, Role: model.ProjectRoleTeacher, IsActive: true},
		{ProjectID: testProject, UserEmail: emailTeacher2, Role: model.ProjectRoleTeacher, IsActive: true},
		{ProjectID: testProject, UserEmail: emailObserver, Role: model.ProjectRoleObserver, IsActive: true},
	}

	for id := range submissionGroups {
		repos.targets.setSubmission(id, model.SubmissionApproved)
	}
	repos.targets.setSubmission("s-draft", "draft")
	for _, id := range []string{"c1", "c2", "c3", "c4"} {
		repos.targets.comments[id] = model.CommentVisible
	}

	cfg := &config.ConsensusConfig{
		MaxResetCount:        1,
		DedupWindow:          time.Minute,
		CollaboratorTimeout:  time.Second,
		NotifyConcurrency:    2,
		MaxCommentSelections: 3,
	}
	pub := &mockPublisher{}
	collab := newTestCollaborators(repos, clock, pub)
	logger := zap.NewNop()

	return &testEnv{
		repos:     repos,
		clock:     clock,
		pub:       pub,
		cfg:       cfg,
		collab:    collab,
		proposals: NewProposalService(repos.repository(), collab, cfg, logger),
		rankings:  NewTeacherRankingService(repos.repository(), collab, cfg, logger),
	}
}

func submitRequest(targets ...string) *dto.SubmitProposalRequest {
	req := &dto.SubmitProposalRequest{}
	for _, id := range targets {
		req.RankingData = append(req.RankingData, dto.RankingItemRequest{
			TargetType: model.TargetSubmission,
			TargetID:   id,
			GroupID:    submissionGroups[id],
		})
	}
	return req
}

// mustSubmit 提交提案并返回提案 ID
func (e *testEnv) mustSubmit(t *testing.T, email string, targets ...string) string {
	t.Helper()
	res, err := e.proposals.Submit(context.Background(), asStudent(email), testProject, testStage, submitRequest(targets...))
	if err != nil {
		t.Fatalf("Submit 应成功: %v", err)
	}
	return res.ProposalID
}

func (e *testEnv) mustVote(t *testing.T, email, proposalID string, agree int) *dto.ProposalActionResponse {
	t.Helper()
	res, err := e.proposals.Vote(context.Background(), asStudent(email), proposalID, &dto.VoteRequest{Agree: agree})
	if err != nil {
		t.Fatalf("Vote(%s, %+d) 应成功: %v", email, agree, err)
	}
	return res
}

func (e *testEnv) status(t *testing.T, proposalID string) string {
	t.Helper()
	d, err := e.proposals.Get(context.Background(), asAdmin(), proposalID)
	if err != nil {
		t.Fatalf("Get 应成功: %v", err)
	}
	return d.Status
}
