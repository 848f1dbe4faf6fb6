package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/rankwatch/rankwatch/internal/model"
)

// ErrAPIKeyNotFound covers missing, foreign and already revoked keys.
var ErrAPIKeyNotFound = errors.New("api key not found")

const apiKeyColumns = `id, user_id, key_hash, key_prefix, scopes, rate_limit_tier, name, revoked_at, last_used_at, created_at`

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (r *Repository) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	return insertAPIKey(ctx, r.pool, key)
}

func insertAPIKey(ctx context.Context, q execer, key *model.APIKey) error {
	_, err := q.Exec(ctx, `
		INSERT INTO api_keys (id, user_id, key_hash, key_prefix, scopes, rate_limit_tier, name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.UserID, key.KeyHash, key.KeyPrefix,
		pq.Array(key.Scopes), key.RateLimitTier, key.Name, key.CreatedAt)
	if isForeignKeyViolation(err) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

func (r *Repository) GetAPIKeyByID(ctx context.Context, id string) (*model.APIKey, error) {
	return scanAPIKey(r.pool.QueryRow(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE id = $1`, id))
}

// GetAPIKeysByPrefix returns the live keys sharing a lookup prefix. The
// caller verifies the secret against each hash.
func (r *Repository) GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]*model.APIKey, error) {
	return r.queryAPIKeys(ctx, `
		SELECT `+apiKeyColumns+` FROM api_keys
		WHERE key_prefix = $1 AND revoked_at IS NULL`, prefix)
}

// ListAPIKeysByUserID returns every key of a user, revoked ones included,
// newest first.
func (r *Repository) ListAPIKeysByUserID(ctx context.Context, userID string) ([]*model.APIKey, error) {
	return r.queryAPIKeys(ctx, `
		SELECT `+apiKeyColumns+` FROM api_keys
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC`, userID)
}

// RevokeAPIKey revokes a live key owned by userID.
func (r *Repository) RevokeAPIKey(ctx context.Context, userID, id string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE api_keys SET revoked_at = $3
		WHERE id = $1 AND user_id = $2 AND revoked_at IS NULL`,
		id, userID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAPIKeyNotFound
	}
	return nil
}

// RotateAPIKey revokes the live key oldID of userID and stores fresh in its
// place, copying the old key's name and scopes onto fresh. Either both
// happen or neither does.
func (r *Repository) RotateAPIKey(ctx context.Context, userID, oldID string, fresh *model.APIKey) error {
	return r.withTx(ctx, func(tx pgx.Tx) error {
		var scopes []string
		err := tx.QueryRow(ctx, `
			UPDATE api_keys SET revoked_at = $3
			WHERE id = $1 AND user_id = $2 AND revoked_at IS NULL
			RETURNING name, scopes`,
			oldID, userID, fresh.CreatedAt).Scan(&fresh.Name, pq.Array(&scopes))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAPIKeyNotFound
		}
		if err != nil {
			return fmt.Errorf("revoke rotated api key: %w", err)
		}
		fresh.Scopes = scopes
		return insertAPIKey(ctx, tx, fresh)
	})
}

// UpdateAPIKeyLastUsed stamps a key after a successful authentication.
func (r *Repository) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	return nil
}

// UpdateAPIKeyTiersByUser moves every live key of a user to tier and
// returns how many changed.
func (r *Repository) UpdateAPIKeyTiersByUser(ctx context.Context, userID, tier string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE api_keys SET rate_limit_tier = $2
		WHERE user_id = $1 AND revoked_at IS NULL AND rate_limit_tier <> $2`, userID, tier)
	if err != nil {
		return 0, fmt.Errorf("update api key tiers: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) queryAPIKeys(ctx context.Context, query string, args ...any) ([]*model.APIKey, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query api keys: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*model.APIKey, error) {
		return scanAPIKey(row)
	})
}

func scanAPIKey(row pgx.Row) (*model.APIKey, error) {
	var k model.APIKey
	err := row.Scan(
		&k.ID, &k.UserID, &k.KeyHash, &k.KeyPrefix, pq.Array(&k.Scopes),
		&k.RateLimitTier, &k.Name, &k.RevokedAt, &k.LastUsedAt, &k.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAPIKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan api key: %w", err)
	}
	return &k, nil
}
