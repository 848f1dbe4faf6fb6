//go:build integration

package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rankwatch/rankwatch/internal/model"
	"github.com/rankwatch/rankwatch/internal/testutil"
)

// ============================================================================
// Domain / Keyword / Rank Check Integration Tests
// ============================================================================

func TestIntegrationDomainRepository_CreateAndGet(t *testing.T) {
	ctx, repo := newIntegrationEnv(t)
	owner := seedUser(t, ctx, repo)

	domain := testutil.NewTestDomain(t, owner, "example.com")
	require.NoError(t, repo.CreateDomain(ctx, domain))

	got, err := repo.GetDomainByID(ctx, owner, domain.ID)
	require.NoError(t, err)
	assert.Equal(t, "example.com", got.Hostname)
	assert.Equal(t, 0, got.KeywordCount)

	_, err = repo.GetDomainByID(ctx, seedUser(t, ctx, repo), domain.ID)
	assert.ErrorIs(t, err, ErrDomainNotFound)

	dup := testutil.NewTestDomain(t, owner, "example.com")
	assert.ErrorIs(t, repo.CreateDomain(ctx, dup), ErrDomainExists)
}

func TestIntegrationDomainRepository_ListPagination(t *testing.T) {
	ctx, repo := newIntegrationEnv(t)
	owner := seedUser(t, ctx, repo)

	for _, host := range []string{"a.com", "b.com", "c.com"} {
		d := testutil.NewTestDomain(t, owner, host)
		require.NoError(t, repo.CreateDomain(ctx, d))
		time.Sleep(time.Millisecond)
	}

	page1, cursor, err := repo.ListDomains(ctx, owner, "", 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.Equal(t, "c.com", page1[0].Hostname)
	require.NotEmpty(t, cursor)

	page2, cursor, err := repo.ListDomains(ctx, owner, cursor, 2)
	require.NoError(t, err)
	require.Len(t, page2, 1)
	assert.Equal(t, "a.com", page2[0].Hostname)
	assert.Empty(t, cursor)

	_, _, err = repo.ListDomains(ctx, owner, "not-a-cursor", 2)
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestIntegrationDomainRepository_DeleteCascadesToKeywords(t *testing.T) {
	ctx, repo := newIntegrationEnv(t)
	owner := seedUser(t, ctx, repo)
	domain := seedDomain(t, ctx, repo, owner, "cascade.com")

	kw := testutil.NewTestKeyword(t, domain, "cascade test")
	require.NoError(t, repo.CreateKeyword(ctx, kw))

	count, err := repo.CountKeywordsByOwner(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, repo.DeleteDomain(ctx, owner, domain.ID))

	_, err = repo.GetKeywordByID(ctx, owner, kw.ID)
	assert.ErrorIs(t, err, ErrKeywordNotFound)

	count, err = repo.CountKeywordsByOwner(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	assert.ErrorIs(t, repo.DeleteDomain(ctx, owner, domain.ID), ErrDomainNotFound)

	// The hostname can be tracked again once the old row is deleted.
	again := testutil.NewTestDomain(t, owner, "cascade.com")
	assert.NoError(t, repo.CreateDomain(ctx, again))
}

func TestIntegrationKeywordRepository_Uniqueness(t *testing.T) {
	ctx, repo := newIntegrationEnv(t)
	owner := seedUser(t, ctx, repo)
	domain := seedDomain(t, ctx, repo, owner, "unique.com")

	require.NoError(t, repo.CreateKeyword(ctx, testutil.NewTestKeyword(t, domain, "Blue Widgets")))

	err := repo.CreateKeyword(ctx, testutil.NewTestKeyword(t, domain, "blue widgets"))
	assert.ErrorIs(t, err, ErrKeywordExists)

	other := testutil.NewTestKeyword(t, domain, "blue widgets")
	other.Country = "GB"
	assert.NoError(t, repo.CreateKeyword(ctx, other))
}

func TestIntegrationKeywordRepository_CreateKeywordsIsAtomic(t *testing.T) {
	ctx, repo := newIntegrationEnv(t)
	owner := seedUser(t, ctx, repo)
	domain := seedDomain(t, ctx, repo, owner, "bulk.com")

	require.NoError(t, repo.CreateKeyword(ctx, testutil.NewTestKeyword(t, domain, "existing")))

	batch := []*model.Keyword{
		testutil.NewTestKeyword(t, domain, "fresh one"),
		testutil.NewTestKeyword(t, domain, "existing"),
	}
	err := repo.CreateKeywords(ctx, batch)
	assert.ErrorIs(t, err, ErrKeywordExists)

	count, err := repo.CountKeywordsByOwner(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestIntegrationKeywordRepository_ClaimDue(t *testing.T) {
	ctx, repo := newIntegrationEnv(t)
	owner := seedUser(t, ctx, repo)
	domain := seedDomain(t, ctx, repo, owner, "due.com")

	now := time.Now().UTC()
	due := testutil.NewTestKeyword(t, domain, "due now")
	due.NextCheckAt = now.Add(-time.Minute)
	later := testutil.NewTestKeyword(t, domain, "due later")
	later.NextCheckAt = now.Add(time.Hour)
	require.NoError(t, repo.CreateKeywords(ctx, []*model.Keyword{due, later}))

	claimed, err := repo.ClaimDueKeywords(ctx, now, 10*time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, due.ID, claimed[0].ID)
	assert.WithinDuration(t, now.Add(10*time.Minute), claimed[0].NextCheckAt, time.Second)

	claimed, err = repo.ClaimDueKeywords(ctx, now, 10*time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestIntegrationKeywordRepository_RecordCheck(t *testing.T) {
	ctx, repo := newIntegrationEnv(t)
	owner := seedUser(t, ctx, repo)
	domain := seedDomain(t, ctx, repo, owner, "record.com")
	kw := testutil.NewTestKeyword(t, domain, "record me")
	require.NoError(t, repo.CreateKeyword(ctx, kw))

	record := func(pos *int, status model.CheckStatus) PriorRank {
		t.Helper()
		check := &model.RankCheck{
			ID:        testutil.UniqueID("chk"),
			KeywordID: kw.ID,
			Position:  pos,
			Status:    status,
			Source:    model.CheckSourceJSON,
			CheckedAt: time.Now().UTC(),
		}
		prior, err := repo.RecordCheck(ctx, kw, check, time.Now().Add(24*time.Hour))
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
		return prior
	}

	first := record(testutil.IntPtr(8), model.CheckStatusFound)
	assert.Nil(t, first.CheckedAt, "never checked before")
	assert.Nil(t, first.Position)

	second := record(testutil.IntPtr(3), model.CheckStatusFound)
	require.NotNil(t, second.CheckedAt)
	require.NotNil(t, second.Position)
	assert.Equal(t, 8, *second.Position)

	failed := record(nil, model.CheckStatusFailed)
	require.NotNil(t, failed.Position)
	assert.Equal(t, 3, *failed.Position)

	last := record(testutil.IntPtr(5), model.CheckStatusFound)
	require.NotNil(t, last.Position)
	assert.Equal(t, 3, *last.Position, "a failed check leaves the baseline alone")

	stored, err := repo.GetKeywordByID(ctx, owner, kw.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastPosition)
	require.NotNil(t, stored.PreviousPosition)
	require.NotNil(t, stored.BestPosition)
	assert.Equal(t, 5, *stored.LastPosition)
	assert.Equal(t, 3, *stored.PreviousPosition)
	assert.Equal(t, 3, *stored.BestPosition)
	assert.Equal(t, *stored.LastPosition, *kw.LastPosition)

	checks, err := repo.ListRankChecks(ctx, kw.ID, time.Now().Add(-time.Hour), time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, checks, 4)
	assert.Equal(t, model.CheckStatusFound, checks[0].Status)
	assert.Equal(t, model.CheckStatusFailed, checks[1].Status)

	latest, err := repo.LatestRankChecksByDomain(ctx, domain.ID)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, 5, *latest[0].Position)
}

// A stale copy of the keyword must not hide the check recorded before it.
func TestIntegrationKeywordRepository_RecordCheckStaleSnapshot(t *testing.T) {
	ctx, repo := newIntegrationEnv(t)
	owner := seedUser(t, ctx, repo)
	domain := seedDomain(t, ctx, repo, owner, "stale.com")
	kw := testutil.NewTestKeyword(t, domain, "stale snapshot")
	require.NoError(t, repo.CreateKeyword(ctx, kw))

	a, err := repo.GetKeyword(ctx, kw.ID)
	require.NoError(t, err)
	b, err := repo.GetKeyword(ctx, kw.ID)
	require.NoError(t, err)

	check := func(pos int) *model.RankCheck {
		return &model.RankCheck{
			ID: testutil.UniqueID("chk"), KeywordID: kw.ID, Position: testutil.IntPtr(pos),
			Status: model.CheckStatusFound, Source: model.CheckSourceJSON, CheckedAt: time.Now().UTC(),
		}
	}
	_, err = repo.RecordCheck(ctx, a, check(4), time.Now().Add(time.Hour))
	require.NoError(t, err)

	prior, err := repo.RecordCheck(ctx, b, check(4), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, prior.CheckedAt)
	require.NotNil(t, prior.Position)
	assert.Equal(t, 4, *prior.Position)
}

func TestIntegrationRepository_PlanLimitsUnderConcurrency(t *testing.T) {
	ctx, repo := newIntegrationEnv(t)
	const attempts = 6
	const limit = attempts - 1

	race := func(t *testing.T, create func(i int) error) (created, rejected int) {
		t.Helper()
		errs := make(chan error, attempts)
		var wg sync.WaitGroup
		for i := range attempts {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- create(i)
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			switch {
			case err == nil:
				created++
			case errors.Is(err, ErrLimitReached):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}
		return created, rejected
	}

	t.Run("domains", func(t *testing.T) {
		owner := seedUser(t, ctx, repo)
		created, rejected := race(t, func(i int) error {
			return repo.CreateDomainWithinLimit(ctx, testutil.NewTestDomain(t, owner, fmt.Sprintf("race%d.com", i)), limit)
		})
		assert.Equal(t, limit, created)
		assert.Equal(t, 1, rejected)

		count, err := repo.CountDomainsByOwner(ctx, owner)
		require.NoError(t, err)
		assert.Equal(t, limit, count)
	})

	t.Run("keywords", func(t *testing.T) {
		owner := seedUser(t, ctx, repo)
		domain := seedDomain(t, ctx, repo, owner, "race-keywords.com")
		created, rejected := race(t, func(i int) error {
			return repo.CreateKeywordsWithinLimit(ctx, []*model.Keyword{
				testutil.NewTestKeyword(t, domain, fmt.Sprintf("race phrase %d", i)),
			}, limit)
		})
		assert.Equal(t, limit, created)
		assert.Equal(t, 1, rejected)

		count, err := repo.CountKeywordsByOwner(ctx, owner)
		require.NoError(t, err)
		assert.Equal(t, limit, count)

		var limitErr *LimitError
		err = repo.CreateKeywordsWithinLimit(ctx, []*model.Keyword{testutil.NewTestKeyword(t, domain, "one more")}, limit)
		require.ErrorAs(t, err, &limitErr)
		assert.Equal(t, limit, limitErr.InUse)
	})

	t.Run("zero is unlimited", func(t *testing.T) {
		owner := seedUser(t, ctx, repo)
		for i := range attempts {
			require.NoError(t, repo.CreateDomainWithinLimit(ctx, testutil.NewTestDomain(t, owner, fmt.Sprintf("free%d.com", i)), 0))
		}
	})
}

func TestIntegrationSubscriptionRepository_Lifecycle(t *testing.T) {
	ctx, repo := newIntegrationEnv(t)
	user := seedUser(t, ctx, repo)

	_, err := repo.GetActiveSubscription(ctx, user)
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)

	sub := &model.Subscription{
		ID:        testutil.UniqueID("sub"),
		UserID:    user,
		PlanCode:  "starter",
		Status:    model.SubscriptionActive,
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.UpsertSubscription(ctx, sub))
	firstID := sub.ID

	sub.ID = testutil.UniqueID("sub")
	sub.PlanCode = "pro"
	require.NoError(t, repo.UpsertSubscription(ctx, sub))
	assert.Equal(t, firstID, sub.ID)

	active, err := repo.GetActiveSubscription(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "pro", active.PlanCode)

	require.NoError(t, repo.CancelSubscription(ctx, user, time.Now()))
	_, err = repo.GetActiveSubscription(ctx, user)
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
	assert.ErrorIs(t, repo.CancelSubscription(ctx, user, time.Now()), ErrSubscriptionNotFound)
}

func TestIntegrationNotificationRepository_ReadState(t *testing.T) {
	ctx, repo := newIntegrationEnv(t)
	user := seedUser(t, ctx, repo)

	var ids []string
	for i := 0; i < 3; i++ {
		n := &model.Notification{
			ID:        testutil.UniqueID("ntf"),
			UserID:    user,
			Type:      model.NotificationRankChanged,
			Title:     "moved",
			CreatedAt: time.Now().UTC(),
		}
		require.NoError(t, repo.CreateNotification(ctx, n))
		ids = append(ids, n.ID)
		time.Sleep(time.Millisecond)
	}

	unread, err := repo.CountUnreadNotifications(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 3, unread)

	require.NoError(t, repo.MarkNotificationRead(ctx, user, ids[0]))
	require.NoError(t, repo.MarkNotificationRead(ctx, user, ids[0]))
	assert.ErrorIs(t, repo.MarkNotificationRead(ctx, seedUser(t, ctx, repo), ids[1]), ErrNotificationNotFound)

	list, _, err := repo.ListNotifications(ctx, NotificationFilter{UserID: user, UnreadOnly: true}, "", 10)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	n, err := repo.MarkAllNotificationsRead(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func newIntegrationEnv(t *testing.T) (context.Context, *Repository) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}

	ctx := context.Background()
	repo, err := New(ctx, testutil.RequireEnv(t, "DATABASE_URL"), WithMaxConns(4))
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(repo.Close)
	testutil.Postgres(t, repo.Pool())
	return ctx, repo
}

func seedUser(t *testing.T, ctx context.Context, repo *Repository) string {
	t.Helper()
	user := testutil.NewTestUser(t)
	if err := repo.CreateUser(ctx, user); err != nil && !errors.Is(err, ErrEmailExists) {
		t.Fatalf("create user: %v", err)
	}
	return user.ID
}

func seedDomain(t *testing.T, ctx context.Context, repo *Repository, ownerID, hostname string) *model.Domain {
	t.Helper()
	domain := testutil.NewTestDomain(t, ownerID, hostname)
	if err := repo.CreateDomain(ctx, domain); err != nil {
		t.Fatalf("create domain: %v", err)
	}
	return domain
}
