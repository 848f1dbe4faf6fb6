// Package repository is the PostgreSQL store for accounts, API keys,
// domains, keywords, rank history, subscriptions and notifications.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository runs queries against one connection pool. Queries are always
// scoped by owner where the table has one.
type Repository struct {
	pool *pgxpool.Pool
}

// Option adjusts the pool before it connects.
type Option func(*pgxpool.Config)

// WithMaxConns caps the pool size. The API server, the rank consumers and
// the webhook worker share it.
func WithMaxConns(n int32) Option {
	return func(c *pgxpool.Config) {
		if n > 0 {
			c.MaxConns = n
			c.MinConns = min(c.MinConns, n)
		}
	}
}

// New opens a pool for databaseURL and checks that it answers.
func New(ctx context.Context, databaseURL string, opts ...Option) (*Repository, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second
	for _, apply := range opts {
		apply(cfg)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Repository{pool: pool}, nil
}

// Ping backs the readiness probe.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Repository) Close() {
	r.pool.Close()
}

// Pool is shared with the webhook store, which keeps its own queries.
func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}

// withTx commits when fn returns nil and rolls back otherwise.
func (r *Repository) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ErrLimitReached is returned when an insert would take an owner past the
// limit it was checked against.
var ErrLimitReached = errors.New("owner limit reached")

// LimitError reports how many rows the owner already had.
type LimitError struct {
	Limit int
	InUse int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s: %d of %d in use", ErrLimitReached, e.InUse, e.Limit)
}

func (e *LimitError) Unwrap() error {
	return ErrLimitReached
}

// ownerLockSpace keeps owner locks apart from other advisory locks.
const ownerLockSpace int32 = 7316

// checkOwnerLimit serializes limit-checked inserts for one owner until tx
// ends, then fails with *LimitError when adding n rows to the live rows
// counted by countSQL would exceed limit. A limit of 0 is unlimited.
func checkOwnerLimit(ctx context.Context, tx pgx.Tx, ownerID, countSQL string, limit, n int) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1, hashtext($2))`, ownerLockSpace, ownerID); err != nil {
		return fmt.Errorf("lock owner: %w", err)
	}
	if limit <= 0 {
		return nil
	}
	var inUse int
	if err := tx.QueryRow(ctx, countSQL, ownerID).Scan(&inUse); err != nil {
		return fmt.Errorf("count owner rows: %w", err)
	}
	if inUse+n > limit {
		return &LimitError{Limit: limit, InUse: inUse}
	}
	return nil
}
