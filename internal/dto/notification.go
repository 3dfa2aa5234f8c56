package dto

// NotificationResponse 站内通知
type NotificationResponse struct {
	NotificationID string  `json:"notification_id"`
	Type           string  `json:"type"`
	Title          string  `json:"title"`
	Content        string  `json:"content"`
	IsRead         bool    `json:"is_read"`
	ProjectID      *string `json:"project_id,omitempty"`
	RelatedType    *string `json:"related_type,omitempty"`
	RelatedID      *string `json:"related_id,omitempty"`
	CreatedAt      string  `json:"created_at"`
}
