package service

import (
	"errors"
	"testing"
	"time"

	"scoring-system/backend/internal/model"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func vote(id, voter string, agree int8, offset time.Duration) model.ProposalVote {
	return model.ProposalVote{VoteID: id, ProposalID: "p", VoterEmail: voter, Agree: agree, VotedAt: t0.Add(offset)}
}

func members(emails ...string) []GroupMember {
	out := make([]GroupMember, 0, len(emails))
	for _, e := range emails {
		out = append(out, GroupMember{Email: e, Role: model.GroupRoleMember})
	}
	return out
}

// ── TallyVotes ──

func TestTallyVotes_LatestPerVoter(t *testing.T) {
	tally := TallyVotes([]model.ProposalVote{
		vote("1", "a@x.com", 1, 0),
		vote("2", "b@x.com", 1, time.Second),
		vote("3", "A@X.com", -1, 2*time.Second), // 同一人改票，大小写不敏感
	})
	if tally.SupportCount != 1 || tally.OpposeCount != 1 {
		t.Errorf("期望 1:1，实际: %d:%d", tally.SupportCount, tally.OpposeCount)
	}
	if v, ok := tally.VoteOf("a@x.com"); !ok || v.VoteID != "3" {
		t.Errorf("a 的当前票应为 3，实际: %+v", v)
	}
}

func TestTallyVotes_OutOfOrderInput(t *testing.T) {
	tally := TallyVotes([]model.ProposalVote{
		vote("late", "a@x.com", -1, time.Minute),
		vote("early", "a@x.com", 1, 0),
	})
	if tally.SupportCount != 0 || tally.OpposeCount != 1 {
		t.Errorf("应以 VotedAt 最大者为准，实际: %d:%d", tally.SupportCount, tally.OpposeCount)
	}
}

func TestTallyVotes_SameTimestampLaterRowWins(t *testing.T) {
	tally := TallyVotes([]model.ProposalVote{
		vote("first", "a@x.com", 1, 0),
		vote("second", "a@x.com", -1, 0),
	})
	if v, _ := tally.VoteOf("a@x.com"); v.VoteID != "second" {
		t.Errorf("时间相同时应取靠后的一行，实际: %s", v.VoteID)
	}
}

func TestTally_Result(t *testing.T) {
	cases := []struct {
		support, oppose int
		want            VotingResult
	}{
		{0, 0, ResultNoVotes},
		{2, 1, ResultAgree},
		{1, 2, ResultDisagree},
		{2, 2, ResultTie},
	}
	for _, tc := range cases {
		got := Tally{SupportCount: tc.support, OpposeCount: tc.oppose}.Result()
		if got != tc.want {
			t.Errorf("%d:%d 期望 %s，实际: %s", tc.support, tc.oppose, tc.want, got)
		}
	}
}

func TestTally_AllVotedIgnoresFormerMembers(t *testing.T) {
	tally := TallyVotes([]model.ProposalVote{
		vote("1", "a@x.com", 1, 0),
		vote("2", "left@x.com", -1, 0),
	})
	group := members("a@x.com", "b@x.com")
	if tally.AllVoted(group) {
		t.Error("b 未投票时不应视为全员已投")
	}
	if n := tally.VotedMemberCount(group); n != 1 {
		t.Errorf("已离组成员不计入已投人数，实际: %d", n)
	}
	if tally.AllVoted(nil) {
		t.Error("没有成员时不应视为全员已投")
	}
}

// ── DeriveStatus ──

func TestDeriveStatus(t *testing.T) {
	now := t0
	group := members("a@x.com", "b@x.com")
	allAgree := TallyVotes([]model.ProposalVote{vote("1", "a@x.com", 1, 0), vote("2", "b@x.com", 1, 0)})
	split := TallyVotes([]model.ProposalVote{vote("1", "a@x.com", 1, 0), vote("2", "b@x.com", -1, 0)})
	against := TallyVotes([]model.ProposalVote{vote("1", "a@x.com", -1, 0), vote("2", "b@x.com", -1, 0)})
	partial := TallyVotes([]model.ProposalVote{vote("1", "a@x.com", 1, 0)})

	cases := []struct {
		name  string
		p     model.Proposal
		tally Tally
		want  model.ProposalStatus
	}{
		{"未全员投票", model.Proposal{}, partial, model.ProposalPending},
		{"全员赞成", model.Proposal{}, allAgree, model.ProposalApproved},
		{"持平", model.Proposal{}, split, model.ProposalTied},
		{"反对多", model.Proposal{}, against, model.ProposalDisagreed},
		{"已定案优先", model.Proposal{SettledAt: &now}, split, model.ProposalSettled},
		{"已撤回", model.Proposal{WithdrawnAt: &now}, allAgree, model.ProposalWithdrawn},
		{"已重置", model.Proposal{ResetAt: &now}, against, model.ProposalReset},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DeriveStatus(&tc.p, tc.tally, group); got != tc.want {
				t.Errorf("期望 %s，实际: %s", tc.want, got)
			}
		})
	}
}

// ── 转移前置条件 ──

func TestCheckWithdrawable(t *testing.T) {
	now := t0
	cases := []struct {
		p    model.Proposal
		want error
	}{
		{model.Proposal{}, nil},
		{model.Proposal{WithdrawnAt: &now}, ErrAlreadyWithdrawn},
		{model.Proposal{SettledAt: &now}, ErrCannotWithdrawSettled},
		{model.Proposal{ResetAt: &now}, ErrProposalNotPending},
	}
	for _, tc := range cases {
		if err := checkWithdrawable(&tc.p); !errors.Is(err, tc.want) {
			t.Errorf("期望 %v，实际: %v", tc.want, err)
		}
	}
}

func TestCheckResetVotes(t *testing.T) {
	group := members("a@x.com", "b@x.com", "c@x.com")

	cases := []struct {
		name  string
		group []GroupMember
		votes []model.ProposalVote
		want  error
	}{
		{"无成员", nil, nil, ErrNoGroupMembers},
		{"无投票", group, nil, ErrNoVotes},
		{"未全员投票", group, []model.ProposalVote{vote("1", "a@x.com", -1, 0)}, ErrNotAllVoted},
		{"赞成多", group, []model.ProposalVote{
			vote("1", "a@x.com", 1, 0), vote("2", "b@x.com", 1, 0), vote("3", "c@x.com", -1, 0),
		}, ErrProposalPassed},
		{"反对多", group, []model.ProposalVote{
			vote("1", "a@x.com", 1, 0), vote("2", "b@x.com", -1, 0), vote("3", "c@x.com", -1, 0),
		}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := checkResetVotes(tc.group, TallyVotes(tc.votes))
			if !errors.Is(err, tc.want) {
				t.Errorf("期望 %v，实际: %v", tc.want, err)
			}
		})
	}
}

func TestConsensusError_IsMatchesDetailCopies(t *testing.T) {
	err := ErrNotAllVoted.withDetail("已投票 %d/%d", 1, 3)
	if !errors.Is(err, ErrNotAllVoted) {
		t.Error("带 Detail 的副本应与哨兵错误相等")
	}
	if errors.Is(err, ErrNoVotes) {
		t.Error("不同错误码不应相等")
	}
	if err.Detail != "已投票 1/3" || ErrNotAllVoted.Detail != "" {
		t.Error("withDetail 不应修改哨兵错误")
	}
}
