//go:build integration

package repository

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rankwatch/rankwatch/internal/model"
	"github.com/rankwatch/rankwatch/internal/testutil"
)

func TestIntegrationAPIKey_CreateAndGet(t *testing.T) {
	ctx, repo := newIntegrationEnv(t)
	userID := seedUser(t, ctx, repo)

	key := testutil.NewTestAPIKey(t, userID)
	key.Scopes = []string{model.ScopeRead, model.ScopeWebhook}
	require.NoError(t, repo.CreateAPIKey(ctx, key))

	got, err := repo.GetAPIKeyByID(ctx, key.ID)
	require.NoError(t, err)
	assert.Equal(t, userID, got.UserID)
	assert.Equal(t, key.KeyHash, got.KeyHash)
	assert.Equal(t, key.KeyPrefix, got.KeyPrefix)
	assert.Equal(t, key.Name, got.Name)
	assert.Equal(t, []string{model.ScopeRead, model.ScopeWebhook}, got.Scopes)
	assert.Equal(t, model.TierFree, got.RateLimitTier)
	assert.Nil(t, got.LastUsedAt)
	assert.False(t, got.IsRevoked())

	_, err = repo.GetAPIKeyByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrAPIKeyNotFound)
}

func TestIntegrationAPIKey_CreateForUnknownUser(t *testing.T) {
	ctx, repo := newIntegrationEnv(t)

	err := repo.CreateAPIKey(ctx, testutil.NewTestAPIKey(t, "ghost"))
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestIntegrationAPIKey_PrefixLookupSkipsRevoked(t *testing.T) {
	ctx, repo := newIntegrationEnv(t)
	userID := seedUser(t, ctx, repo)

	const prefix = "rw_live_shared"
	revoked := testutil.NewTestAPIKey(t, userID)
	live := testutil.NewTestAPIKey(t, userID)
	other := testutil.NewTestAPIKey(t, userID)
	revoked.KeyPrefix, live.KeyPrefix = prefix, prefix
	for _, k := range []*model.APIKey{revoked, live, other} {
		require.NoError(t, repo.CreateAPIKey(ctx, k))
	}
	require.NoError(t, repo.RevokeAPIKey(ctx, userID, revoked.ID))

	keys, err := repo.GetAPIKeysByPrefix(ctx, prefix)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, live.ID, keys[0].ID)
}

func TestIntegrationAPIKey_ListNewestFirst(t *testing.T) {
	ctx, repo := newIntegrationEnv(t)
	userID := seedUser(t, ctx, repo)
	otherID := seedUser(t, ctx, repo)

	base := time.Now().UTC().Truncate(time.Millisecond)
	var ids []string
	for i := range 3 {
		k := testutil.NewTestAPIKey(t, userID)
		k.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, repo.CreateAPIKey(ctx, k))
		ids = append([]string{k.ID}, ids...)
	}
	require.NoError(t, repo.CreateAPIKey(ctx, testutil.NewTestAPIKey(t, otherID)))
	require.NoError(t, repo.RevokeAPIKey(ctx, userID, ids[1]))

	keys, err := repo.ListAPIKeysByUserID(ctx, userID)
	require.NoError(t, err)
	require.Len(t, keys, 3)
	for i, k := range keys {
		assert.Equal(t, ids[i], k.ID)
	}
	assert.True(t, keys[1].IsRevoked())

	none, err := repo.ListAPIKeysByUserID(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestIntegrationAPIKey_Revoke(t *testing.T) {
	ctx, repo := newIntegrationEnv(t)
	userID := seedUser(t, ctx, repo)
	otherID := seedUser(t, ctx, repo)

	key := testutil.NewTestAPIKey(t, userID)
	require.NoError(t, repo.CreateAPIKey(ctx, key))

	assert.ErrorIs(t, repo.RevokeAPIKey(ctx, otherID, key.ID), ErrAPIKeyNotFound, "foreign owner")
	got, err := repo.GetAPIKeyByID(ctx, key.ID)
	require.NoError(t, err)
	assert.False(t, got.IsRevoked())

	require.NoError(t, repo.RevokeAPIKey(ctx, userID, key.ID))
	got, err = repo.GetAPIKeyByID(ctx, key.ID)
	require.NoError(t, err)
	assert.True(t, got.IsRevoked())

	assert.ErrorIs(t, repo.RevokeAPIKey(ctx, userID, key.ID), ErrAPIKeyNotFound, "second revoke")
	assert.ErrorIs(t, repo.RevokeAPIKey(ctx, userID, "missing"), ErrAPIKeyNotFound)
}

func TestIntegrationAPIKey_Rotate(t *testing.T) {
	ctx, repo := newIntegrationEnv(t)
	userID := seedUser(t, ctx, repo)
	otherID := seedUser(t, ctx, repo)

	old := testutil.NewTestAPIKey(t, userID)
	old.Name = "deploy"
	old.Scopes = []string{model.ScopeWrite, model.ScopeWebhook}
	require.NoError(t, repo.CreateAPIKey(ctx, old))

	t.Run("foreign owner", func(t *testing.T) {
		fresh := testutil.NewTestAPIKey(t, otherID)
		assert.ErrorIs(t, repo.RotateAPIKey(ctx, otherID, old.ID, fresh), ErrAPIKeyNotFound)
		_, err := repo.GetAPIKeyByID(ctx, fresh.ID)
		assert.ErrorIs(t, err, ErrAPIKeyNotFound)
	})

	fresh := testutil.NewTestAPIKeyWithTier(t, userID, model.TierPro)
	fresh.Name, fresh.Scopes = "", nil
	require.NoError(t, repo.RotateAPIKey(ctx, userID, old.ID, fresh))
	assert.Equal(t, "deploy", fresh.Name)
	assert.Equal(t, old.Scopes, fresh.Scopes)

	got, err := repo.GetAPIKeyByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, "deploy", got.Name)
	assert.Equal(t, old.Scopes, got.Scopes)
	assert.Equal(t, model.TierPro, got.RateLimitTier)

	prev, err := repo.GetAPIKeyByID(ctx, old.ID)
	require.NoError(t, err)
	require.True(t, prev.IsRevoked())

	t.Run("revoked key cannot rotate again", func(t *testing.T) {
		again := testutil.NewTestAPIKey(t, userID)
		assert.ErrorIs(t, repo.RotateAPIKey(ctx, userID, old.ID, again), ErrAPIKeyNotFound)
	})

	t.Run("failed insert keeps the old key live", func(t *testing.T) {
		dup := testutil.NewTestAPIKey(t, userID)
		dup.ID = old.ID
		assert.Error(t, repo.RotateAPIKey(ctx, userID, fresh.ID, dup))

		still, err := repo.GetAPIKeyByID(ctx, fresh.ID)
		require.NoError(t, err)
		assert.False(t, still.IsRevoked())
	})
}

func TestIntegrationAPIKey_TouchLastUsed(t *testing.T) {
	ctx, repo := newIntegrationEnv(t)
	userID := seedUser(t, ctx, repo)

	key := testutil.NewTestAPIKey(t, userID)
	require.NoError(t, repo.CreateAPIKey(ctx, key))
	require.NoError(t, repo.UpdateAPIKeyLastUsed(ctx, key.ID))

	got, err := repo.GetAPIKeyByID(ctx, key.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastUsedAt)
	assert.WithinDuration(t, time.Now(), *got.LastUsedAt, time.Minute)
}

func TestIntegrationAPIKey_UpdateTiersByUser(t *testing.T) {
	ctx, repo := newIntegrationEnv(t)
	userID := seedUser(t, ctx, repo)

	live := testutil.NewTestAPIKey(t, userID)
	revoked := testutil.NewTestAPIKey(t, userID)
	already := testutil.NewTestAPIKeyWithTier(t, userID, model.TierPro)
	for _, k := range []*model.APIKey{live, revoked, already} {
		require.NoError(t, repo.CreateAPIKey(ctx, k))
	}
	require.NoError(t, repo.RevokeAPIKey(ctx, userID, revoked.ID))

	n, err := repo.UpdateAPIKeyTiersByUser(ctx, userID, model.TierPro)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	for id, want := range map[string]string{live.ID: model.TierPro, revoked.ID: model.TierFree, already.ID: model.TierPro} {
		got, err := repo.GetAPIKeyByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.RateLimitTier, id)
	}
}

func TestIntegrationUser_Ensure(t *testing.T) {
	ctx, repo := newIntegrationEnv(t)

	email := testutil.UniqueID("owner") + "@example.com"
	first, err := repo.EnsureUser(ctx, &model.User{ID: testutil.UniqueID("user"), Email: "  " + strings.ToUpper(email)})
	require.NoError(t, err)
	assert.Equal(t, strings.ToLower(email), first.Email)
	assert.False(t, first.CreatedAt.IsZero())

	again, err := repo.EnsureUser(ctx, &model.User{ID: "ignored", Email: email})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	assert.ErrorIs(t, repo.CreateUser(ctx, &model.User{ID: "dup", Email: email, CreatedAt: time.Now()}), ErrEmailExists)

	_, err = repo.GetUserByID(ctx, "ignored")
	assert.ErrorIs(t, err, ErrUserNotFound)
}
