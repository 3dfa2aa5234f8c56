package model

import "time"

// Project 项目表 — 对应 projects
type Project struct {
	ProjectID string `gorm:"type:varchar(64);primaryKey" json:"project_id"`
	Name      string `gorm:"type:varchar(200);not null"  json:"name"`
	CreatedBy string `gorm:"type:varchar(255);not null"  json:"created_by"`
	// MaxVoteResetCount 项目级重置上限，为空时使用全局配置
	MaxVoteResetCount *int      `gorm:"type:int"                           json:"max_vote_reset_count,omitempty"`
	CreatedAt         time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt         time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName 指定表名
func (Project) TableName() string { return "projects" }

// ── 阶段 ──

// StageStatus 阶段状态（由时间字段推导，不落库）
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageActive    StageStatus = "active"
	StageVoting    StageStatus = "voting"
	StageSettling  StageStatus = "settling"
	StageCompleted StageStatus = "completed"
	StageArchived  StageStatus = "archived"
)

// Stage 项目阶段表 — 对应 stages
type Stage struct {
	StageID    string     `gorm:"type:varchar(64);primaryKey" json:"stage_id"`
	ProjectID  string     `gorm:"type:varchar(64);not null"   json:"project_id"`
	Name       string     `gorm:"type:varchar(200);not null"  json:"name"`
	StartTime  time.Time  `gorm:"not null"                    json:"start_time"`
	EndTime    time.Time  `gorm:"not null"                    json:"end_time"`
	SettlingAt *time.Time `json:"settling_at,omitempty"`
	SettledAt  *time.Time `json:"settled_at,omitempty"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
	CreatedAt  time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName 指定表名
func (Stage) TableName() string { return "stages" }

// StatusAt 推导阶段在 now 时刻的状态
// 优先级：archived > completed > settling > 时间窗口
func (s *Stage) StatusAt(now time.Time) StageStatus {
	switch {
	case s.ArchivedAt != nil:
		return StageArchived
	case s.SettledAt != nil:
		return StageCompleted
	case s.SettlingAt != nil:
		return StageSettling
	case now.Before(s.StartTime):
		return StagePending
	case now.After(s.EndTime):
		return StageVoting
	default:
		return StageActive
	}
}

// ── 成员与角色 ──

// 小组内角色
const (
	GroupRoleLeader = "leader"
	GroupRoleMember = "member"
)

// GroupMembership 小组成员表 — 对应 group_memberships
type GroupMembership struct {
	MembershipID string    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"membership_id"`
	ProjectID    string    `gorm:"type:varchar(64);not null"                      json:"project_id"`
	GroupID      string    `gorm:"type:varchar(64);not null"                      json:"group_id"`
	UserEmail    string    `gorm:"type:varchar(255);not null"                     json:"user_email"`
	Role         string    `gorm:"type:varchar(10);not null"                      json:"role"` // leader | member
	IsActive     bool      `gorm:"not null;default:true"                          json:"is_active"`
	JoinedAt     time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"             json:"joined_at"`
}

// TableName 指定表名
func (GroupMembership) TableName() string { return "group_memberships" }

// 项目级查看角色
const (
	ProjectRoleTeacher  = "teacher"
	ProjectRoleObserver = "observer"
)

// ProjectViewer 项目教师/观察者表 — 对应 project_viewers
type ProjectViewer struct {
	ProjectID string `gorm:"type:varchar(64);primaryKey"  json:"project_id"`
	UserEmail string `gorm:"type:varchar(255);primaryKey" json:"user_email"`
	Role      string `gorm:"type:varchar(10);not null"    json:"role"` // teacher | observer
	IsActive  bool   `gorm:"not null;default:true"        json:"is_active"`
}

// TableName 指定表名
func (ProjectViewer) TableName() string { return "project_viewers" }

// ── 排名目标 ──

// 作品/评论有效状态
const (
	SubmissionApproved = "approved"
	CommentVisible     = "visible"
)

// Submission 阶段作品（只读，用于排名目标有效性校验）
type Submission struct {
	SubmissionID string    `gorm:"type:varchar(64);primaryKey" json:"submission_id"`
	ProjectID    string    `gorm:"type:varchar(64);not null"   json:"project_id"`
	StageID      string    `gorm:"type:varchar(64);not null"   json:"stage_id"`
	GroupID      string    `gorm:"type:varchar(64);not null"   json:"group_id"`
	Status       string    `gorm:"type:varchar(20);not null"   json:"status"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName 指定表名
func (Submission) TableName() string { return "submissions" }

// Comment 阶段评论（只读，用于排名目标有效性校验）
type Comment struct {
	CommentID   string    `gorm:"type:varchar(64);primaryKey" json:"comment_id"`
	ProjectID   string    `gorm:"type:varchar(64);not null"   json:"project_id"`
	StageID     string    `gorm:"type:varchar(64);not null"   json:"stage_id"`
	AuthorEmail string    `gorm:"type:varchar(255);not null"  json:"author_email"`
	Status      string    `gorm:"type:varchar(20);not null"   json:"status"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName 指定表名
func (Comment) TableName() string { return "comments" }
