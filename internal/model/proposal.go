package model

import (
	"time"

	"gorm.io/datatypes"
)

// ProposalStatus 提案状态（读取时推导，从不落库）
type ProposalStatus string

const (
	ProposalPending   ProposalStatus = "pending"
	ProposalApproved  ProposalStatus = "approved"
	ProposalDisagreed ProposalStatus = "disagreed"
	ProposalTied      ProposalStatus = "tied"
	ProposalReset     ProposalStatus = "reset"
	ProposalWithdrawn ProposalStatus = "withdrawn"
	ProposalSettled   ProposalStatus = "settled"
)

// 排名目标类型
const (
	TargetSubmission = "submission"
	TargetComment    = "comment"
)

// RankingItem 提案中的一个排名项，顺序即名次
type RankingItem struct {
	TargetType string `json:"target_type"`        // submission | comment
	TargetID   string `json:"target_id"`
	GroupID    string `json:"group_id,omitempty"` // 作品所属小组
}

// Proposal 小组排名提案表 — 对应 ranking_proposals
//
// 状态只由 SettledAt / WithdrawnAt / ResetAt 三个终态时间推导，
// 三者至多一个非空（数据库 CHECK 约束保证）。
type Proposal struct {
	ProposalID    string                           `gorm:"type:uuid;primaryKey"       json:"proposal_id"`
	ProjectID     string                           `gorm:"type:varchar(64);not null"  json:"project_id"`
	StageID       string                           `gorm:"type:varchar(64);not null"  json:"stage_id"`
	GroupID       string                           `gorm:"type:varchar(64);not null"  json:"group_id"`
	ProposerEmail string                           `gorm:"type:varchar(255);not null" json:"proposer_email"`
	RankingData   datatypes.JSONSlice[RankingItem] `gorm:"type:jsonb;not null"        json:"ranking_data"`
	CreatedTime   time.Time                        `gorm:"not null"                   json:"created_time"`
	SettledAt     *time.Time                       `json:"settled_at,omitempty"`
	WithdrawnAt   *time.Time                       `json:"withdrawn_at,omitempty"`
	WithdrawnBy   *string                          `gorm:"type:varchar(255)"          json:"withdrawn_by,omitempty"`
	ResetAt       *time.Time                       `json:"reset_at,omitempty"`
	ResetBy       *string                          `gorm:"type:varchar(255)"          json:"reset_by,omitempty"`
	PredecessorID *string                          `gorm:"type:uuid"                  json:"predecessor_id,omitempty"`
}

// TableName 指定表名
func (Proposal) TableName() string { return "ranking_proposals" }

// LifecycleStatus 仅由终态时间推导的生命周期状态：settled / withdrawn / reset / pending
func (p *Proposal) LifecycleStatus() ProposalStatus {
	switch {
	case p.SettledAt != nil:
		return ProposalSettled
	case p.WithdrawnAt != nil:
		return ProposalWithdrawn
	case p.ResetAt != nil:
		return ProposalReset
	default:
		return ProposalPending
	}
}

// IsOpen 未进入任何终态
func (p *Proposal) IsOpen() bool {
	return p.SettledAt == nil && p.WithdrawnAt == nil && p.ResetAt == nil
}

// ProposalVote 投票账本表 — 对应 proposal_votes（只追加，数据库触发器禁止 UPDATE/DELETE）
type ProposalVote struct {
	VoteID     string    `gorm:"type:uuid;primaryKey"       json:"vote_id"`
	ProposalID string    `gorm:"type:uuid;not null"         json:"proposal_id"`
	ProjectID  string    `gorm:"type:varchar(64);not null"  json:"project_id"`
	GroupID    string    `gorm:"type:varchar(64);not null"  json:"group_id"`
	VoterEmail string    `gorm:"type:varchar(255);not null" json:"voter_email"`
	Agree      int8      `gorm:"type:smallint;not null"     json:"agree"` // +1 赞成 / -1 反对
	Comment    *string   `gorm:"type:text"                  json:"comment,omitempty"`
	VotedAt    time.Time `gorm:"not null"                   json:"voted_at"`
}

// TableName 指定表名
func (ProposalVote) TableName() string { return "proposal_votes" }
