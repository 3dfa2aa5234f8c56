package service

import "fmt"

// ErrorKind 共识模块错误分类，决定 HTTP 状态码与客户端是否可重试
type ErrorKind int

const (
	KindPolicy    ErrorKind = iota // 业务规则拒绝，不应自动重试
	KindForbidden                  // 身份不满足（非组员、非组长、非教师）
	KindNotFound
	KindInvalid  // 请求参数不合法
	KindConflict // 条件更新影响 0 行，可重新读取后重试
)

// ConsensusError 带稳定错误码的业务错误
type ConsensusError struct {
	Kind      ErrorKind
	ErrorCode string
	Code      int
	Message   string
	Detail    string
}

func (e *ConsensusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.ErrorCode, e.Message, e.Detail)
	}
	return e.ErrorCode + ": " + e.Message
}

// Is 按错误码比较，带 Detail 的副本仍与哨兵错误相等
func (e *ConsensusError) Is(target error) bool {
	t, ok := target.(*ConsensusError)
	return ok && t.ErrorCode == e.ErrorCode
}

func (e *ConsensusError) withDetail(format string, args ...interface{}) *ConsensusError {
	cp := *e
	cp.Detail = fmt.Sprintf(format, args...)
	return &cp
}

func newConsensusError(kind ErrorKind, code int, errorCode, message string) *ConsensusError {
	return &ConsensusError{Kind: kind, Code: code, ErrorCode: errorCode, Message: message}
}

// ── 身份 ──

var (
	ErrNotGroupMember = newConsensusError(KindForbidden, 20001, "NOT_GROUP_MEMBER", "您不是该小组的有效成员")
	ErrNotGroupLeader = newConsensusError(KindForbidden, 20002, "NOT_GROUP_LEADER", "只有组长可以执行该操作")
	ErrNotTeacher     = newConsensusError(KindForbidden, 20003, "NOT_TEACHER", "只有项目教师可以执行该操作")
	ErrNotAuthorized  = newConsensusError(KindForbidden, 20004, "NOT_AUTHORIZED", "无权访问该项目的排名数据")
)

// ── 资源不存在 ──

var (
	ErrProposalNotFound = newConsensusError(KindNotFound, 20101, "PROPOSAL_NOT_FOUND", "提案不存在")
	ErrStageNotFound    = newConsensusError(KindNotFound, 20102, "STAGE_NOT_FOUND", "阶段不存在")
)

// ── 业务规则拒绝 ──

var (
	ErrAlreadyWithdrawn      = newConsensusError(KindPolicy, 20201, "ALREADY_WITHDRAWN", "提案已撤回")
	ErrCannotWithdrawSettled = newConsensusError(KindPolicy, 20202, "CANNOT_WITHDRAW_SETTLED", "提案已定案，无法撤回")
	ErrProposalPassed        = newConsensusError(KindPolicy, 20203, "PROPOSAL_PASSED", "提案已获多数支持，无法重置")
	ErrResetLimitExceeded    = newConsensusError(KindPolicy, 20204, "RESET_LIMIT_EXCEEDED", "本阶段重置次数已用完")
	ErrNotAllVoted           = newConsensusError(KindPolicy, 20205, "NOT_ALL_VOTED", "尚有组员未投票")
	ErrNoVotes               = newConsensusError(KindPolicy, 20206, "NO_VOTES", "提案尚无投票")
	ErrNoGroupMembers        = newConsensusError(KindPolicy, 20207, "NO_GROUP_MEMBERS", "小组没有有效成员")
	ErrProposalNotPending    = newConsensusError(KindPolicy, 20208, "PROPOSAL_NOT_PENDING", "提案不在待表决状态")
	ErrProposalSettled       = newConsensusError(KindPolicy, 20209, "PROPOSAL_SETTLED", "提案已定案")
	ErrProposalWithdrawn     = newConsensusError(KindPolicy, 20210, "PROPOSAL_WITHDRAWN", "提案已撤回")
	ErrProposalReset         = newConsensusError(KindPolicy, 20211, "PROPOSAL_RESET", "提案已重置，请对新提案投票")
	ErrProposalExists        = newConsensusError(KindPolicy, 20212, "PROPOSAL_EXISTS", "本阶段已有待表决的提案")
	ErrSettledProposalExists = newConsensusError(KindPolicy, 20213, "SETTLED_PROPOSAL_EXISTS", "本阶段排名已定案")
	ErrEmptyRanking          = newConsensusError(KindPolicy, 20214, "EMPTY_RANKING", "排名中没有有效的作品")
	ErrProposalNotPassed     = newConsensusError(KindPolicy, 20215, "PROPOSAL_NOT_PASSED", "提案未获多数支持，无法定案")
)

// ── 阶段闸门 ──

var (
	ErrStageNotStarted = newConsensusError(KindPolicy, 20301, "STAGE_NOT_STARTED", "阶段尚未开始")
	ErrStageSettling   = newConsensusError(KindPolicy, 20302, "STAGE_SETTLING", "阶段正在结算，暂停排名操作")
	ErrStageCompleted  = newConsensusError(KindPolicy, 20303, "STAGE_COMPLETED", "阶段已结束")
	ErrStageArchived   = newConsensusError(KindPolicy, 20304, "STAGE_ARCHIVED", "阶段已归档")
)

// ── 参数 ──

var (
	ErrInvalidRanking           = newConsensusError(KindInvalid, 20401, "INVALID_RANKING", "排名数据不合法")
	ErrInvalidVote              = newConsensusError(KindInvalid, 20402, "INVALID_VOTE", "投票值只能是 1 或 -1")
	ErrTooManyCommentSelections = newConsensusError(KindInvalid, 20403, "TOO_MANY_COMMENT_SELECTIONS", "评论排名数量超出上限")
)

// ── 并发冲突 ──

var (
	ErrWithdrawFailed  = newConsensusError(KindConflict, 20501, "WITHDRAW_FAILED", "提案状态已变化，撤回失败")
	ErrResetFailed     = newConsensusError(KindConflict, 20502, "RESET_FAILED", "提案状态已变化，重置失败")
	ErrSettleFailed    = newConsensusError(KindConflict, 20503, "SETTLE_FAILED", "提案状态已变化，定案失败")
	ErrVoteFailed      = newConsensusError(KindConflict, 20504, "VOTE_FAILED", "提案状态已变化，投票失败")
	ErrRequestInFlight = newConsensusError(KindConflict, 20505, "REQUEST_IN_FLIGHT", "相同请求正在处理或刚刚失败，请稍后刷新重试")
)

// stageGateErrors 阶段闸门错误码 → 哨兵错误
var stageGateErrors = map[string]*ConsensusError{
	ErrStageNotFound.ErrorCode:   ErrStageNotFound,
	ErrStageNotStarted.ErrorCode: ErrStageNotStarted,
	ErrStageSettling.ErrorCode:   ErrStageSettling,
	ErrStageCompleted.ErrorCode:  ErrStageCompleted,
	ErrStageArchived.ErrorCode:   ErrStageArchived,
}
