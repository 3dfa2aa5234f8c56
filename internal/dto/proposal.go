package dto

// ── 排名提案请求 ──

// RankingItemRequest 排名项，数组顺序即名次
type RankingItemRequest struct {
	TargetType string `json:"target_type" binding:"required,oneof=submission comment"`
	TargetID   string `json:"target_id"   binding:"required,max=64"`
	GroupID    string `json:"group_id"    binding:"omitempty,max=64"`
}

// SubmitProposalRequest 提交排名提案
type SubmitProposalRequest struct {
	// GroupID 可省略，默认取调用者所在小组
	GroupID     string               `json:"group_id"     binding:"omitempty,max=64"`
	RankingData []RankingItemRequest `json:"ranking_data" binding:"required,min=1,max=200,dive"`
}

// VoteRequest 投票
type VoteRequest struct {
	Agree   int     `json:"agree"   binding:"required,oneof=1 -1"`
	Comment *string `json:"comment" binding:"omitempty,max=500"`
}

// ResetRequest 重置投票
type ResetRequest struct {
	Reason string `json:"reason" binding:"omitempty,max=500"`
}

// ── 排名提案响应 ──

// TallyResponse 计票
type TallyResponse struct {
	SupportCount int    `json:"support_count"`
	OpposeCount  int    `json:"oppose_count"`
	TotalVotes   int    `json:"total_votes"`
	VotingResult string `json:"voting_result"` // agree | disagree | tie | no_votes
}

// RankingItemResponse 排名项
type RankingItemResponse struct {
	Position   int    `json:"position"`
	TargetType string `json:"target_type"`
	TargetID   string `json:"target_id"`
	GroupID    string `json:"group_id,omitempty"`
}

// ProposalActionResponse 提交 / 投票 / 撤回 / 定案的结果
type ProposalActionResponse struct {
	ProposalID string `json:"proposal_id"`
	Status     string `json:"status"`
	TallyResponse
	UserVote      string                `json:"user_vote,omitempty"` // support | oppose
	FilteredItems []RankingItemResponse `json:"filtered_items,omitempty"`
	// Deduped 为 true 表示同一请求已处理过，本次未重复变更
	Deduped bool `json:"deduped,omitempty"`
}

// ResetResponse 重置结果
type ResetResponse struct {
	OldProposalID string        `json:"old_proposal_id"`
	NewProposalID string        `json:"new_proposal_id"`
	Status        string        `json:"status"` // 固定为 reset
	ResetTime     string        `json:"reset_time"`
	PreviousVotes TallyResponse `json:"previous_votes"`
	ResetsUsed    int           `json:"resets_used"`
	MaxResets     int           `json:"max_resets"`
	Deduped       bool          `json:"deduped,omitempty"`
}

// VoteRecordResponse 投票记录（含历史）
type VoteRecordResponse struct {
	VoterEmail string  `json:"voter_email"`
	Agree      int     `json:"agree"`
	Comment    *string `json:"comment,omitempty"`
	VotedAt    string  `json:"voted_at"`
	IsCurrent  bool    `json:"is_current"` // 是否为该投票人最近一票
}

// ProposalDetailResponse 提案详情
type ProposalDetailResponse struct {
	ProposalID    string `json:"proposal_id"`
	ProjectID     string `json:"project_id"`
	StageID       string `json:"stage_id"`
	GroupID       string `json:"group_id"`
	ProposerEmail string `json:"proposer_email"`
	Version       int    `json:"version"`
	Status        string `json:"status"`
	TallyResponse
	MemberCount   int                   `json:"member_count"`
	AllVoted      bool                  `json:"all_voted"`
	RankingData   []RankingItemResponse `json:"ranking_data"`
	CreatedTime   string                `json:"created_time"`
	SettledAt     *string               `json:"settled_at,omitempty"`
	WithdrawnAt   *string               `json:"withdrawn_at,omitempty"`
	WithdrawnBy   *string               `json:"withdrawn_by,omitempty"`
	ResetAt       *string               `json:"reset_at,omitempty"`
	PredecessorID *string               `json:"predecessor_id,omitempty"`
	Votes         []VoteRecordResponse  `json:"votes"`
	UserVote      string                `json:"user_vote,omitempty"`
}

// UserGroupInfo 调用者所在小组信息
type UserGroupInfo struct {
	GroupID          string `json:"group_id"`
	IsGroupLeader    bool   `json:"is_group_leader"`
	GroupMemberCount int    `json:"group_member_count"`
	ResetsUsed       int    `json:"resets_used"`
	MaxResets        int    `json:"max_resets"`
}

// StageProposalsResponse 阶段提案列表
type StageProposalsResponse struct {
	Proposals     []ProposalDetailResponse `json:"proposals"`
	UserGroupInfo *UserGroupInfo           `json:"user_group_info,omitempty"`
	ViewerRole    string                   `json:"viewer_role"` // admin | teacher | observer | member
}

// MemberVoteState 成员投票情况
type MemberVoteState struct {
	Email    string  `json:"email"`
	Role     string  `json:"role"`
	HasVoted bool    `json:"has_voted"`
	Agree    *int    `json:"agree,omitempty"`
	VotedAt  *string `json:"voted_at,omitempty"`
}

// VotingStatusResponse 小组当前提案投票进度
type VotingStatusResponse struct {
	GroupID    string  `json:"group_id"`
	ProposalID *string `json:"proposal_id,omitempty"`
	Status     string  `json:"status"`
	TallyResponse
	AllVoted bool              `json:"all_voted"`
	Members  []MemberVoteState `json:"members"`
}

// GroupConsensusState 小组最新提案共识状态
type GroupConsensusState struct {
	GroupID          string `json:"group_id"`
	LatestProposalID string `json:"latest_proposal_id"`
	Status           string `json:"status"`
	VotingResult     string `json:"voting_result"`
	VersionCount     int    `json:"version_count"`
	ResetsUsed       int    `json:"resets_used"`
}

// ConsensusSummaryResponse 结算前共识汇总
type ConsensusSummaryResponse struct {
	TotalGroups    int                   `json:"total_groups"`
	SettledCount   int                   `json:"settled_count"`
	AgreedCount    int                   `json:"agreed_count"`
	DisagreedCount int                   `json:"disagreed_count"`
	TiedCount      int                   `json:"tied_count"`
	PendingCount   int                   `json:"pending_count"`
	WithdrawnCount int                   `json:"withdrawn_count"`
	ResetCount     int                   `json:"reset_count"`
	ReadyToSettle  bool                  `json:"ready_to_settle"`
	Groups         []GroupConsensusState `json:"groups"`
}

// EventLogResponse 操作记录
type EventLogResponse struct {
	EventID    string                 `json:"event_id"`
	ActorEmail string                 `json:"actor_email"`
	Action     string                 `json:"action"`
	Level      string                 `json:"level"`
	Details    map[string]interface{} `json:"details,omitempty"`
	CreatedAt  string                 `json:"created_at"`
}
