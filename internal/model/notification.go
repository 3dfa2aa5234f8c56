package model

import "time"

// Notification 站内通知表 — 对应 notifications
type Notification struct {
	NotificationID string    `gorm:"type:uuid;primaryKey"        json:"notification_id"`
	UserEmail      string    `gorm:"type:varchar(255);not null"  json:"user_email"`
	ProjectID      *string   `gorm:"type:varchar(64)"            json:"project_id,omitempty"`
	Type           string    `gorm:"type:varchar(50);not null"   json:"type"`
	Title          string    `gorm:"type:varchar(200);not null"  json:"title"`
	Content        string    `gorm:"type:text;not null"          json:"content"`
	IsRead         bool      `gorm:"not null;default:false"      json:"is_read"`
	RelatedType    *string   `gorm:"type:varchar(20)"            json:"related_type,omitempty"` // proposal | stage
	RelatedID      *string   `gorm:"type:varchar(64)"            json:"related_id,omitempty"`
	CreatedAt      time.Time `gorm:"not null"                    json:"created_at"`
}

// TableName 指定表名
func (Notification) TableName() string { return "notifications" }
