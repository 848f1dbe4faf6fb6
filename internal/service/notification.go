package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rankwatch/rankwatch/internal/model"
	"github.com/rankwatch/rankwatch/internal/repository"
)

// NotificationStore persists notifications.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *model.Notification) error
	ListNotifications(ctx context.Context, filter repository.NotificationFilter, cursor string, limit int) ([]*model.Notification, string, error)
	MarkNotificationRead(ctx context.Context, userID, id string) error
	MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error)
	CountUnreadNotifications(ctx context.Context, userID string) (int, error)
}

// NotificationService manages in-app notifications.
type NotificationService struct {
	store NotificationStore
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(store NotificationStore) *NotificationService {
	return &NotificationService{store: store}
}

// ListNotificationsInput defines input for listing notifications.
type ListNotificationsInput struct {
	UserID     string
	UnreadOnly bool
	Cursor     string
	Limit      int
}

// ListNotificationsOutput is a page of notifications.
type ListNotificationsOutput struct {
	Notifications []*model.Notification
	NextCursor    string
	HasMore       bool
}

// List returns a page of the user's notifications, newest first.
func (s *NotificationService) List(ctx context.Context, input ListNotificationsInput) (*ListNotificationsOutput, error) {
	filter := repository.NotificationFilter{UserID: input.UserID, UnreadOnly: input.UnreadOnly}

	items, next, err := s.store.ListNotifications(ctx, filter, input.Cursor, repository.ClampLimit(input.Limit))
	if err != nil {
		return nil, mapCursorError(err)
	}
	if items == nil {
		items = []*model.Notification{}
	}
	return &ListNotificationsOutput{
		Notifications: items,
		NextCursor:    next,
		HasMore:       next != "",
	}, nil
}

// MarkRead marks one notification read. Marking twice is not an error.
func (s *NotificationService) MarkRead(ctx context.Context, userID, id string) error {
	if err := s.store.MarkNotificationRead(ctx, userID, id); err != nil {
		if errors.Is(err, repository.ErrNotificationNotFound) {
			return ErrNotificationNotFound
		}
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	return nil
}

// MarkAllRead marks every unread notification read and returns how many changed.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	n, err := s.store.MarkAllNotificationsRead(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return n, nil
}

// UnreadCount returns the number of unread notifications.
func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int, error) {
	n, err := s.store.CountUnreadNotifications(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to count notifications: %w", err)
	}
	return n, nil
}

// NotifyRankChange records a notification describing a keyword's move from
// previous to its current position.
func (s *NotificationService) NotifyRankChange(ctx context.Context, keyword *model.Keyword, domain *model.Domain, previous *int) error {
	n := &model.Notification{
		ID:        newID(),
		UserID:    keyword.OwnerID,
		KeywordID: keyword.ID,
		CreatedAt: time.Now().UTC(),
	}

	current := keyword.LastPosition
	label := domain.Label()
	switch {
	case previous != nil && current == nil:
		n.Type = model.NotificationRankLost
		n.Title = fmt.Sprintf("%s dropped out for %q", label, keyword.Phrase)
		n.Body = fmt.Sprintf("Previously at position %d, now not in the top results (%s).", *previous, keyword.Country)
	case previous == nil && current != nil:
		n.Type = model.NotificationRankFound
		n.Title = fmt.Sprintf("%s now ranks for %q", label, keyword.Phrase)
		n.Body = fmt.Sprintf("Entered at position %d (%s).", *current, keyword.Country)
	case previous != nil && current != nil:
		n.Type = model.NotificationRankChanged
		direction := "up"
		if *current > *previous {
			direction = "down"
		}
		n.Title = fmt.Sprintf("%q moved %s for %s", keyword.Phrase, direction, label)
		n.Body = fmt.Sprintf("Position %d → %d (%s).", *previous, *current, keyword.Country)
	default:
		return nil
	}

	if err := s.store.CreateNotification(ctx, n); err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// NotifyCheckFailed records a notification for a check that cannot succeed
// without user or operator action.
func (s *NotificationService) NotifyCheckFailed(ctx context.Context, keyword *model.Keyword, reason string) error {
	n := &model.Notification{
		ID:        newID(),
		UserID:    keyword.OwnerID,
		KeywordID: keyword.ID,
		Type:      model.NotificationCheckFailed,
		Title:     fmt.Sprintf("Rank check failed for %q", keyword.Phrase),
		Body:      reason,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateNotification(ctx, n); err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}
