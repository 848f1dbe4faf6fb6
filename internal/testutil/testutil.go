// Package testutil sets up the Postgres and Redis instances integration
// tests run against and builds fixtures for them.
package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/rankwatch/rankwatch/internal/model"
)

// RequireEnv skips the test when key is unset.
func RequireEnv(t testing.TB, key string) string {
	t.Helper()
	v := os.Getenv(key)
	if v == "" {
		t.Skipf("%s not set", key)
	}
	return v
}

// Postgres gives the test exclusive use of the DATABASE_URL database with a
// freshly migrated schema. Packages that share the database take turns on an
// advisory lock held until cleanup. pool is typically the caller's own pool
// opened from DATABASE_URL.
func Postgres(t testing.TB, pool *pgxpool.Pool) {
	t.Helper()
	ctx := context.Background()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire connection: %v", err)
	}
	const lockID int64 = 7_316_001
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", lockID); err != nil {
		conn.Release()
		t.Fatalf("take schema lock: %v", err)
	}
	t.Cleanup(func() {
		_, _ = conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", lockID)
		conn.Release()
	})

	if err := ResetSchema(ctx, pool); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
}

// PostgresPool opens DATABASE_URL and prepares it with Postgres. It skips in
// -short mode and when the variable is unset.
func PostgresPool(t testing.TB) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test")
	}
	pool, err := pgxpool.New(context.Background(), RequireEnv(t, "DATABASE_URL"))
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	t.Cleanup(pool.Close)
	Postgres(t, pool)
	return pool
}

// Redis returns a client for REDIS_URL with the database flushed. It skips
// when Redis is not configured or not reachable.
func Redis(t testing.TB) *redis.Client {
	t.Helper()
	opts, err := redis.ParseURL(RequireEnv(t, "REDIS_URL"))
	if err != nil {
		t.Fatalf("parse REDIS_URL: %v", err)
	}
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("flush redis: %v", err)
	}
	return client
}

// MigrationFiles lists migrations/*.<direction>.sql in the order they are
// applied: ascending for up, descending for down.
func MigrationFiles(direction string) ([]string, error) {
	root, err := ProjectRoot()
	if err != nil {
		return nil, err
	}
	files, err := filepath.Glob(filepath.Join(root, "migrations", "*."+direction+".sql"))
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no %s migrations in %s", direction, root)
	}
	slices.Sort(files)
	if direction == "down" {
		slices.Reverse(files)
	}
	return files, nil
}

// ResetSchema runs every down migration and then every up migration.
func ResetSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, direction := range []string{"down", "up"} {
		files, err := MigrationFiles(direction)
		if err != nil {
			return err
		}
		for _, path := range files {
			sql, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			if _, err := pool.Exec(ctx, string(sql)); err != nil {
				return fmt.Errorf("%s: %w", filepath.Base(path), err)
			}
		}
	}
	return nil
}

// ProjectRoot is the directory holding go.mod.
func ProjectRoot() (string, error) {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("locate testutil source")
	}
	return filepath.Join(filepath.Dir(file), "..", ".."), nil
}

var seq atomic.Int64

// UniqueID returns an ID no other call in this process returns.
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano(), seq.Add(1))
}

func NewTestUser(t testing.TB) *model.User {
	t.Helper()
	id := UniqueID("user")
	return &model.User{
		ID:        id,
		Email:     strings.ToLower(id) + "@example.com",
		CreatedAt: time.Now().UTC(),
	}
}

func NewTestDomain(t testing.TB, ownerID, hostname string) *model.Domain {
	t.Helper()
	now := time.Now().UTC()
	return &model.Domain{
		ID:        UniqueID("dom"),
		OwnerID:   ownerID,
		Hostname:  hostname,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewTestKeyword returns a US/en desktop keyword that is due now.
func NewTestKeyword(t testing.TB, domain *model.Domain, phrase string) *model.Keyword {
	t.Helper()
	now := time.Now().UTC()
	return &model.Keyword{
		ID:          UniqueID("kw"),
		OwnerID:     domain.OwnerID,
		DomainID:    domain.ID,
		Phrase:      phrase,
		Country:     "US",
		Language:    "en",
		Device:      model.DeviceDesktop,
		NextCheckAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// NewTestAPIKey returns a free-tier read/write key. The hash is random text,
// so the key cannot authenticate.
func NewTestAPIKey(t testing.TB, userID string) *model.APIKey {
	t.Helper()
	return &model.APIKey{
		ID:            UniqueID("key"),
		UserID:        userID,
		KeyHash:       UniqueID("hash"),
		KeyPrefix:     "rw_test_",
		Scopes:        []string{model.ScopeRead, model.ScopeWrite},
		RateLimitTier: model.TierFree,
		Name:          "Test Key",
		CreatedAt:     time.Now().UTC(),
	}
}

func NewTestAPIKeyWithTier(t testing.TB, userID, tier string) *model.APIKey {
	t.Helper()
	key := NewTestAPIKey(t, userID)
	key.RateLimitTier = tier
	return key
}

func IntPtr(v int) *int {
	return &v
}
