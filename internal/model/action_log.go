package model

import (
	"time"

	"gorm.io/datatypes"
)

// ActionLog 去重动作日志表 — 对应 action_logs
// DedupKey 唯一约束是幂等守卫的唯一依据
type ActionLog struct {
	LogID      string            `gorm:"type:uuid;primaryKey"        json:"log_id"`
	DedupKey   string            `gorm:"type:varchar(512);not null"  json:"dedup_key"`
	Action     string            `gorm:"type:varchar(50);not null"   json:"action"`
	ActorEmail string            `gorm:"type:varchar(255);not null"  json:"actor_email"`
	EntityType string            `gorm:"type:varchar(30);not null"   json:"entity_type"`
	EntityID   string            `gorm:"type:varchar(255);not null"  json:"entity_id"`
	ProjectID  *string           `gorm:"type:varchar(64)"            json:"project_id,omitempty"`
	Context    datatypes.JSONMap `gorm:"type:jsonb"                  json:"context,omitempty"`
	CreatedAt  time.Time         `gorm:"not null"                    json:"created_at"`
}

// TableName 指定表名
func (ActionLog) TableName() string { return "action_logs" }

// 事件日志级别
const (
	LogLevelInfo    = "info"
	LogLevelWarning = "warning"
	LogLevelError   = "error"
)

// EventLog 操作审计表 — 对应 event_logs
type EventLog struct {
	EventID    string            `gorm:"type:uuid;primaryKey"       json:"event_id"`
	ProjectID  *string           `gorm:"type:varchar(64)"           json:"project_id,omitempty"`
	ActorEmail string            `gorm:"type:varchar(255);not null" json:"actor_email"`
	Action     string            `gorm:"type:varchar(50);not null"  json:"action"`
	EntityType string            `gorm:"type:varchar(30);not null"  json:"entity_type"`
	EntityID   string            `gorm:"type:varchar(255);not null" json:"entity_id"`
	Details    datatypes.JSONMap `gorm:"type:jsonb"                 json:"details,omitempty"`
	Level      string            `gorm:"type:varchar(10);not null"  json:"level"`
	CreatedAt  time.Time         `gorm:"not null"                   json:"created_at"`
}

// TableName 指定表名
func (EventLog) TableName() string { return "event_logs" }
