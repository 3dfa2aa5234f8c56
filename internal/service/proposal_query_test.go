package service

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"scoring-system/backend/internal/model"
)

func TestProposalService_Get_Visibility(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	id := env.mustSubmit(t, emailLeader, "s-g1")

	for _, a := range []Actor{asStudent(emailAlice), asTeacher(emailTeacher), asStudent(emailObserver), asAdmin()} {
		if _, err := env.proposals.Get(ctx, a, id); err != nil {
			t.Errorf("%s 应可查看: %v", a.Email, err)
		}
	}
	for _, a := range []Actor{asStudent(emailCarol), asStudent(emailOutsider)} {
		if _, err := env.proposals.Get(ctx, a, id); !errors.Is(err, ErrNotAuthorized) {
			t.Errorf("%s 应返回 ErrNotAuthorized，实际: %v", a.Email, err)
		}
	}
	if _, err := env.proposals.Get(ctx, asAdmin(), "missing"); !errors.Is(err, ErrProposalNotFound) {
		t.Errorf("期望 ErrProposalNotFound，实际: %v", err)
	}
}

func TestProposalService_Get_VersionAndFilteredRanking(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	p1 := env.mustSubmit(t, emailDan, "s-g1", "s-g2")
	env.mustVote(t, emailDan, p1, -1)
	env.mustVote(t, emailErin, p1, -1)
	reset, err := env.proposals.Reset(ctx, asStudent(emailDan), p1, nil)
	if err != nil {
		t.Fatalf("Reset 应成功: %v", err)
	}

	// 作品在提交后被退回
	env.repos.targets.setSubmission("s-g2", "rejected")

	d, err := env.proposals.Get(ctx, asStudent(emailErin), reset.NewProposalID)
	if err != nil {
		t.Fatalf("Get 应成功: %v", err)
	}
	if d.Version != 2 {
		t.Errorf("重置后的提案应为第 2 版，实际: %d", d.Version)
	}
	if d.PredecessorID == nil || *d.PredecessorID != p1 {
		t.Error("应返回前驱提案 ID")
	}
	if len(d.RankingData) != 1 || d.RankingData[0].TargetID != "s-g1" || d.RankingData[0].Position != 1 {
		t.Errorf("读取时应过滤失效目标，实际: %+v", d.RankingData)
	}
	if d.MemberCount != 2 || d.AllVoted {
		t.Errorf("新提案成员数 2 且未投票，实际: %d/%v", d.MemberCount, d.AllVoted)
	}
}

func TestProposalService_ListStage(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	env.mustSubmit(t, emailLeader, "s-g2", "s-g3")
	env.mustSubmit(t, emailCarol, "s-g1", "s-g3")

	res, err := env.proposals.ListStage(ctx, asTeacher(emailTeacher), testProject, testStage)
	if err != nil {
		t.Fatalf("ListStage 应成功: %v", err)
	}
	if len(res.Proposals) != 2 || res.ViewerRole != viewerTeacher || res.UserGroupInfo != nil {
		t.Errorf("教师应看到全部提案且无小组信息，实际: %d %s %+v", len(res.Proposals), res.ViewerRole, res.UserGroupInfo)
	}

	res, err = env.proposals.ListStage(ctx, asStudent(emailAlice), testProject, testStage)
	if err != nil {
		t.Fatalf("ListStage 应成功: %v", err)
	}
	if len(res.Proposals) != 1 || res.Proposals[0].GroupID != "g1" {
		t.Errorf("组员只应看到本组提案，实际: %+v", res.Proposals)
	}
	info := res.UserGroupInfo
	if info == nil || info.GroupID != "g1" || info.IsGroupLeader || info.GroupMemberCount != 3 || info.MaxResets != 1 {
		t.Errorf("UserGroupInfo 不符: %+v", info)
	}

	if _, err := env.proposals.ListStage(ctx, asStudent(emailOutsider), testProject, testStage); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("期望 ErrNotAuthorized，实际: %v", err)
	}
}

func TestProposalService_VotingStatus(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	res, err := env.proposals.VotingStatus(ctx, asStudent(emailAlice), testProject, testStage)
	if err != nil {
		t.Fatalf("VotingStatus 应成功: %v", err)
	}
	if res.Status != "none" || res.ProposalID != nil || len(res.Members) != 3 {
		t.Errorf("无提案时状态不符: %+v", res)
	}

	id := env.mustSubmit(t, emailLeader, "s-g1")
	env.mustVote(t, emailBob, id, -1)

	res, err = env.proposals.VotingStatus(ctx, asStudent(emailAlice), testProject, testStage)
	if err != nil {
		t.Fatalf("VotingStatus 应成功: %v", err)
	}
	if res.ProposalID == nil || *res.ProposalID != id || res.OpposeCount != 1 || res.AllVoted {
		t.Errorf("投票进度不符: %+v", res)
	}
	voted := 0
	for _, m := range res.Members {
		if m.HasVoted {
			voted++
			if m.Email != emailBob || m.Agree == nil || *m.Agree != -1 {
				t.Errorf("投票成员信息不符: %+v", m)
			}
		}
	}
	if voted != 1 {
		t.Errorf("期望 1 人已投票，实际: %d", voted)
	}

	if _, err := env.proposals.VotingStatus(ctx, asTeacher(emailTeacher), testProject, testStage); !errors.Is(err, ErrNotGroupMember) {
		t.Errorf("非组员应返回 ErrNotGroupMember，实际: %v", err)
	}
}

func TestProposalService_ConsensusSummary(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	res, err := env.proposals.ConsensusSummary(ctx, asTeacher(emailTeacher), testProject, testStage)
	if err != nil {
		t.Fatalf("ConsensusSummary 应成功: %v", err)
	}
	if res.TotalGroups != 0 || res.ReadyToSettle {
		t.Errorf("无提案时不应可结算: %+v", res)
	}

	g1 := env.mustSubmit(t, emailLeader, "s-g2")
	env.mustVote(t, emailLeader, g1, 1)
	env.mustVote(t, emailAlice, g1, 1)
	env.mustVote(t, emailBob, g1, 1)

	g3 := env.mustSubmit(t, emailDan, "s-g1")
	env.mustVote(t, emailDan, g3, 1)
	env.mustVote(t, emailErin, g3, -1)

	res, err = env.proposals.ConsensusSummary(ctx, asStudent(emailObserver), testProject, testStage)
	if err != nil {
		t.Fatalf("ConsensusSummary 应成功: %v", err)
	}
	if res.TotalGroups != 2 || res.AgreedCount != 1 || res.TiedCount != 1 || res.ReadyToSettle {
		t.Errorf("汇总不符: %+v", res)
	}

	// g3 重置后重新投票通过
	reset, err := env.proposals.Reset(ctx, asStudent(emailDan), g3, nil)
	if err != nil {
		t.Fatalf("Reset 应成功: %v", err)
	}
	env.mustVote(t, emailDan, reset.NewProposalID, 1)
	env.mustVote(t, emailErin, reset.NewProposalID, 1)
	if _, err := env.proposals.Settle(ctx, asTeacher(emailTeacher), g1); err != nil {
		t.Fatalf("Settle 应成功: %v", err)
	}

	res, err = env.proposals.ConsensusSummary(ctx, asAdmin(), testProject, testStage)
	if err != nil {
		t.Fatalf("ConsensusSummary 应成功: %v", err)
	}
	if !res.ReadyToSettle || res.SettledCount != 1 || res.AgreedCount != 1 {
		t.Errorf("全部定案或通过时应可结算: %+v", res)
	}
	for _, g := range res.Groups {
		if g.GroupID == "g3" && (g.VersionCount != 2 || g.ResetsUsed != 1 || g.LatestProposalID != reset.NewProposalID) {
			t.Errorf("g3 汇总不符: %+v", g)
		}
	}

	if _, err := env.proposals.ConsensusSummary(ctx, asStudent(emailAlice), testProject, testStage); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("组员应返回 ErrNotAuthorized，实际: %v", err)
	}
}

func TestProposalService_History(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	id := env.mustSubmit(t, emailLeader, "s-g1")
	env.mustVote(t, emailAlice, id, 1)
	env.mustVote(t, emailBob, id, -1)

	list, total, err := env.proposals.History(ctx, asStudent(emailAlice), id, 1, 2)
	if err != nil {
		t.Fatalf("History 应成功: %v", err)
	}
	if total != 3 || len(list) != 2 {
		t.Fatalf("期望共 3 条、本页 2 条，实际: %d/%d", total, len(list))
	}
	if list[0].Action != "submit_proposal" {
		t.Errorf("第一条应为 submit_proposal，实际: %s", list[0].Action)
	}

	if _, _, err := env.proposals.History(ctx, asStudent(emailCarol), id, 1, 20); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("其他小组成员应返回 ErrNotAuthorized，实际: %v", err)
	}
}

func TestNotificationService_List(t *testing.T) {
	env := setupTestEnv(t)
	env.mustSubmit(t, emailLeader, "s-g1")

	svc := NewNotificationService(env.repos.repository(), zap.NewNop())
	list, total, err := svc.List(context.Background(), "Alice@Example.com", 0, 0)
	if err != nil {
		t.Fatalf("List 应成功: %v", err)
	}
	if total != 1 || len(list) != 1 || list[0].Type != "proposal_submitted" {
		t.Fatalf("通知列表不符: %d %+v", total, list)
	}
	if list[0].RelatedType == nil || *list[0].RelatedType != "proposal" {
		t.Error("通知应关联提案")
	}
}

func TestResolveViewer_Precedence(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	// 同时是组员和教师时按教师处理
	env.repos.memberships.viewers = append(env.repos.memberships.viewers,
		model.ProjectViewer{ProjectID: testProject, UserEmail: emailAlice, Role: model.ProjectRoleObserver, IsActive: true})

	cases := []struct {
		actor Actor
		role  string
	}{
		{asAdmin(), viewerAdmin},
		{asStudent(emailTeacher), viewerTeacher},
		{asStudent(emailAlice), viewerObserver},
		{asStudent(emailBob), viewerMember},
	}
	for _, tc := range cases {
		v, err := resolveViewer(ctx, env.collab.Members, zap.NewNop(), tc.actor, testProject)
		if err != nil {
			t.Fatalf("resolveViewer(%s) 应成功: %v", tc.actor.Email, err)
		}
		if v.role != tc.role {
			t.Errorf("%s 期望 %s，实际: %s", tc.actor.Email, tc.role, v.role)
		}
	}
	if v, _ := resolveViewer(ctx, env.collab.Members, zap.NewNop(), asStudent(emailAlice), testProject); v.membership == nil || !v.canSeeGroup("g2") {
		t.Error("观察者应保留小组信息且可查看所有小组")
	}
}

func TestNormalizePage(t *testing.T) {
	cases := []struct{ page, size, wantPage, wantSize int }{
		{0, 0, 1, 20},
		{3, 50, 3, 50},
		{-1, 101, 1, 20},
	}
	for _, tc := range cases {
		p, s := normalizePage(tc.page, tc.size)
		if p != tc.wantPage || s != tc.wantSize {
			t.Errorf("normalizePage(%d,%d) = %d,%d", tc.page, tc.size, p, s)
		}
	}
}
