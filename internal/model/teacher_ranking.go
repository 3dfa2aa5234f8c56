package model

import "time"

// TeacherRanking 教师排名表 — 对应 teacher_rankings
// 同一教师同一阶段的一次提交共享 CreatedTime，作为版本戳；旧版本保留不删。
type TeacherRanking struct {
	RankingID   string    `gorm:"type:uuid;primaryKey"       json:"ranking_id"`
	ProjectID   string    `gorm:"type:varchar(64);not null"  json:"project_id"`
	StageID     string    `gorm:"type:varchar(64);not null"  json:"stage_id"`
	RaterEmail  string    `gorm:"type:varchar(255);not null" json:"rater_email"`
	TargetType  string    `gorm:"type:varchar(20);not null"  json:"target_type"` // submission | comment
	TargetID    string    `gorm:"type:varchar(64);not null"  json:"target_id"`
	GroupID     *string   `gorm:"type:varchar(64)"           json:"group_id,omitempty"`
	Rank        int       `gorm:"not null"                   json:"rank"`
	CreatedTime time.Time `gorm:"not null"                   json:"created_time"`
}

// TableName 指定表名
func (TeacherRanking) TableName() string { return "teacher_rankings" }
