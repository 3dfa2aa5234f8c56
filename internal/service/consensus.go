package service

import (
	"strings"

	"scoring-system/backend/internal/model"
)

// ════════════════════════════════════════════════════════════
// 共识状态机（纯函数，不访问存储）
// ════════════════════════════════════════════════════════════

// VotingResult 计票结果
type VotingResult string

const (
	ResultAgree    VotingResult = "agree"
	ResultDisagree VotingResult = "disagree"
	ResultTie      VotingResult = "tie"
	ResultNoVotes  VotingResult = "no_votes"
)

// Tally 计票结果：每个投票人只计最近一票
type Tally struct {
	SupportCount int
	OpposeCount  int
	// Latest 投票人（小写邮箱）→ 最近一票
	Latest map[string]model.ProposalVote
}

// TallyVotes 按投票人去重后计票
//
// 同一投票人取 VotedAt 最大的一行；时间相同时取输入中靠后的一行
// （存储按写入顺序返回，靠后即后提交）。历史行不参与计数但不删除。
func TallyVotes(votes []model.ProposalVote) Tally {
	latest := make(map[string]model.ProposalVote, len(votes))
	for _, v := range votes {
		key := normalizeEmail(v.VoterEmail)
		cur, ok := latest[key]
		if !ok || !v.VotedAt.Before(cur.VotedAt) {
			latest[key] = v
		}
	}

	t := Tally{Latest: latest}
	for _, v := range latest {
		switch v.Agree {
		case 1:
			t.SupportCount++
		case -1:
			t.OpposeCount++
		}
	}
	return t
}

// TotalVoters 参与计票的去重投票人数
func (t Tally) TotalVoters() int {
	return t.SupportCount + t.OpposeCount
}

// Result support>oppose → agree；oppose>support → disagree；相等且>0 → tie；无票 → no_votes
func (t Tally) Result() VotingResult {
	switch {
	case t.TotalVoters() == 0:
		return ResultNoVotes
	case t.SupportCount > t.OpposeCount:
		return ResultAgree
	case t.OpposeCount > t.SupportCount:
		return ResultDisagree
	default:
		return ResultTie
	}
}

// VoteOf 返回 email 的最近一票
func (t Tally) VoteOf(email string) (model.ProposalVote, bool) {
	v, ok := t.Latest[normalizeEmail(email)]
	return v, ok
}

// VotedMemberCount 当前有效成员中已投票的人数
func (t Tally) VotedMemberCount(members []GroupMember) int {
	n := 0
	for _, m := range members {
		if _, ok := t.VoteOf(m.Email); ok {
			n++
		}
	}
	return n
}

// AllVoted 全部有效成员都有当前票
func (t Tally) AllVoted(members []GroupMember) bool {
	return len(members) > 0 && t.VotedMemberCount(members) == len(members)
}

// DeriveStatus 推导展示状态
// 终态直接返回；待表决提案在全员投票后显示 approved / disagreed / tied
func DeriveStatus(p *model.Proposal, t Tally, members []GroupMember) model.ProposalStatus {
	if s := p.LifecycleStatus(); s != model.ProposalPending {
		return s
	}
	if !t.AllVoted(members) {
		return model.ProposalPending
	}
	switch t.Result() {
	case ResultAgree:
		return model.ProposalApproved
	case ResultDisagree:
		return model.ProposalDisagreed
	case ResultTie:
		return model.ProposalTied
	default:
		return model.ProposalPending
	}
}

// ── 转移前置条件 ──

// checkVotable 只有待表决提案可以投票
func checkVotable(p *model.Proposal) error {
	switch {
	case p.SettledAt != nil:
		return ErrProposalSettled
	case p.WithdrawnAt != nil:
		return ErrProposalWithdrawn
	case p.ResetAt != nil:
		return ErrProposalReset
	}
	return nil
}

// checkWithdrawable 撤回前置条件
func checkWithdrawable(p *model.Proposal) error {
	switch {
	case p.WithdrawnAt != nil:
		return ErrAlreadyWithdrawn
	case p.SettledAt != nil:
		return ErrCannotWithdrawSettled
	case p.ResetAt != nil:
		return ErrProposalNotPending
	}
	return nil
}

// checkSettleable 定案前置条件（不含计票）
func checkSettleable(p *model.Proposal) error {
	return checkVotable(p)
}

// checkResetVotes 重置的投票条件：全员已投且未获多数支持（持平或反对多）
// 投票账本在提案终结后不再变化，因此重复请求得到相同结论
func checkResetVotes(members []GroupMember, t Tally) error {
	if len(members) == 0 {
		return ErrNoGroupMembers
	}
	if t.TotalVoters() == 0 {
		return ErrNoVotes
	}
	if voted := t.VotedMemberCount(members); voted < len(members) {
		return ErrNotAllVoted.withDetail("已投票 %d/%d", voted, len(members))
	}
	if t.SupportCount > t.OpposeCount {
		return ErrProposalPassed.withDetail("赞成 %d，反对 %d", t.SupportCount, t.OpposeCount)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func sameEmail(a, b string) bool {
	return normalizeEmail(a) == normalizeEmail(b)
}
