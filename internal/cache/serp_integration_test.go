//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rankwatch/rankwatch/internal/model"
	"github.com/rankwatch/rankwatch/internal/serp"
	"github.com/rankwatch/rankwatch/internal/testutil"
)

func newTestCache(t *testing.T) (context.Context, *Cache) {
	t.Helper()

	testutil.Redis(t)
	ctx := context.Background()
	c, err := New(ctx, testutil.RequireEnv(t, "REDIS_URL"), WithPoolSize(4))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return ctx, c
}

func TestIntegrationSERPCache_RoundTrip(t *testing.T) {
	ctx, c := newTestCache(t)

	key := SERPKey{Phrase: "coffee grinder", Country: "US", Language: "en", Device: "desktop", Depth: 100}

	_, err := c.GetSERP(ctx, key)
	assert.ErrorIs(t, err, ErrCacheMiss)

	page := &CachedSERP{
		Results:   []serp.Result{{Position: 1, URL: "https://a.com/", Host: "a.com"}},
		Source:    serp.SourceJSON,
		FetchedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, c.SetSERP(ctx, key, page, time.Minute))

	got, err := c.GetSERP(ctx, SERPKey{Phrase: "Coffee  Grinder", Country: "us", Language: "en", Device: "desktop", Depth: 100})
	require.NoError(t, err)
	assert.Equal(t, page.Results, got.Results)
	assert.True(t, page.FetchedAt.Equal(got.FetchedAt))
}

func TestIntegrationKeywordLock(t *testing.T) {
	ctx, c := newTestCache(t)

	require.NoError(t, c.AcquireKeywordLock(ctx, "kw1", "token-a", time.Minute))
	assert.ErrorIs(t, c.AcquireKeywordLock(ctx, "kw1", "token-b", time.Minute), ErrLockHeld)

	assert.ErrorIs(t, c.ReleaseKeywordLock(ctx, "kw1", "token-b"), ErrLockLost)
	require.NoError(t, c.ReleaseKeywordLock(ctx, "kw1", "token-a"))

	assert.NoError(t, c.AcquireKeywordLock(ctx, "kw1", "token-b", time.Minute))
}

func TestIntegrationPrincipals_InvalidateOwner(t *testing.T) {
	ctx, c := newTestCache(t)

	principal := &model.Principal{KeyID: "k1", UserID: "u1", RateLimitTier: model.TierFree}
	require.NoError(t, c.SetPrincipal(ctx, "abc", principal))
	require.NoError(t, c.SetPrincipal(ctx, "def", principal))

	got, err := c.GetPrincipal(ctx, "abc")
	require.NoError(t, err)
	require.NotNil(t, got)

	require.NoError(t, c.InvalidatePrincipals(ctx, "u1"))

	for _, key := range []string{"abc", "def"} {
		got, err := c.GetPrincipal(ctx, key)
		require.NoError(t, err)
		assert.Nil(t, got)
	}
}
