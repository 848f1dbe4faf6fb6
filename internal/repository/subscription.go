package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rankwatch/rankwatch/internal/model"
)

// ErrSubscriptionNotFound is returned when a user has no live subscription.
var ErrSubscriptionNotFound = errors.New("subscription not found")

const subscriptionColumns = `id, user_id, plan_code, status, current_period_end, canceled_at, created_at, updated_at`

// GetActiveSubscription returns the user's live (not canceled) subscription.
func (r *Repository) GetActiveSubscription(ctx context.Context, userID string) (*model.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE user_id = $1 AND status <> 'canceled'
		ORDER BY created_at DESC
		LIMIT 1
	`

	var sub model.Subscription
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&sub.ID,
		&sub.UserID,
		&sub.PlanCode,
		&sub.Status,
		&sub.CurrentPeriodEnd,
		&sub.CanceledAt,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	return &sub, nil
}

// UpsertSubscription creates the user's live subscription or switches its
// plan. ID and CreatedAt are set from the stored row.
func (r *Repository) UpsertSubscription(ctx context.Context, sub *model.Subscription) error {
	query := `
		INSERT INTO subscriptions (id, user_id, plan_code, status, current_period_end, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (user_id) WHERE status <> 'canceled'
		DO UPDATE SET
			plan_code = EXCLUDED.plan_code,
			status = EXCLUDED.status,
			current_period_end = EXCLUDED.current_period_end,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`

	err := r.pool.QueryRow(ctx, query,
		sub.ID,
		sub.UserID,
		sub.PlanCode,
		sub.Status,
		sub.CurrentPeriodEnd,
		sub.UpdatedAt,
	).Scan(&sub.ID, &sub.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}

	return nil
}

// CancelSubscription marks the user's live subscription canceled.
func (r *Repository) CancelSubscription(ctx context.Context, userID string, at time.Time) error {
	query := `
		UPDATE subscriptions
		SET status = 'canceled', canceled_at = $2, updated_at = $2
		WHERE user_id = $1 AND status <> 'canceled'
	`

	result, err := r.pool.Exec(ctx, query, userID, at)
	if err != nil {
		return fmt.Errorf("failed to cancel subscription: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}
