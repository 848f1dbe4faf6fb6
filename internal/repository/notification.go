package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rankwatch/rankwatch/internal/model"
)

// ErrNotificationNotFound is returned for unknown or foreign notifications.
var ErrNotificationNotFound = errors.New("notification not found")

// NotificationFilter defines filters for listing notifications.
type NotificationFilter struct {
	UserID     string
	UnreadOnly bool
}

// CreateNotification inserts a notification.
func (r *Repository) CreateNotification(ctx context.Context, n *model.Notification) error {
	query := `
		INSERT INTO notifications (id, user_id, keyword_id, type, title, body, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)
	`

	_, err := r.pool.Exec(ctx, query, n.ID, n.UserID, n.KeywordID, n.Type, n.Title, n.Body, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// ListNotifications returns a page of notifications, newest first.
func (r *Repository) ListNotifications(ctx context.Context, filter NotificationFilter, cursor string, limit int) ([]*model.Notification, string, error) {
	query := `
		SELECT id, user_id, COALESCE(keyword_id, ''), type, title, body, read_at, created_at
		FROM notifications
		WHERE user_id = $1
	`
	args := []any{filter.UserID}
	argIndex := 2

	if filter.UnreadOnly {
		query += " AND read_at IS NULL"
	}

	if cursor != "" {
		c, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", err
		}
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIndex, argIndex+1)
		args = append(args, c.CreatedAt, c.ID)
		argIndex += 2
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", argIndex)
	args = append(args, limit+1)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*model.Notification
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.KeywordID, &n.Type, &n.Title, &n.Body, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, "", fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, &n)
	}

	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("error iterating notifications: %w", err)
	}

	notifications, next := nextCursor(notifications, limit, func(n *model.Notification) PaginationCursor {
		return PaginationCursor{ID: n.ID, CreatedAt: n.CreatedAt}
	})
	return notifications, next, nil
}

// MarkNotificationRead marks one notification as read. Already-read
// notifications are left untouched.
func (r *Repository) MarkNotificationRead(ctx context.Context, userID, id string) error {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		WITH updated AS (
			UPDATE notifications SET read_at = NOW()
			WHERE id = $1 AND user_id = $2 AND read_at IS NULL
		)
		SELECT EXISTS(SELECT 1 FROM notifications WHERE id = $1 AND user_id = $2)
	`, id, userID).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotificationNotFound
		}
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	if !exists {
		return ErrNotificationNotFound
	}
	return nil
}

// MarkAllNotificationsRead marks every unread notification of a user as read.
func (r *Repository) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	result, err := r.pool.Exec(ctx,
		`UPDATE notifications SET read_at = NOW() WHERE user_id = $1 AND read_at IS NULL`,
		userID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return result.RowsAffected(), nil
}

// CountUnreadNotifications returns the number of unread notifications.
func (r *Repository) CountUnreadNotifications(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read_at IS NULL`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}
