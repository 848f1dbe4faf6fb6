package model

import "time"

// NotificationType classifies an in-app notification.
type NotificationType string

const (
	NotificationRankChanged NotificationType = "rank_changed"
	NotificationRankLost    NotificationType = "rank_lost"
	NotificationRankFound   NotificationType = "rank_found"
	NotificationCheckFailed NotificationType = "check_failed"
)

// Notification is a message shown to a user about one of their keywords.
type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	KeywordID string           `json:"keyword_id,omitempty"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	ReadAt    *time.Time       `json:"read_at,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// IsRead returns true once the user has acknowledged the notification.
func (n *Notification) IsRead() bool {
	return n.ReadAt != nil
}
