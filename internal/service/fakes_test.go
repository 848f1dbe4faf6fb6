package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rankwatch/rankwatch/internal/cache"
	"github.com/rankwatch/rankwatch/internal/model"
	"github.com/rankwatch/rankwatch/internal/rankqueue"
	"github.com/rankwatch/rankwatch/internal/repository"
	"github.com/rankwatch/rankwatch/internal/scraper"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory stand-in for the PostgreSQL repository.
type memStore struct {
	mu            sync.Mutex
	domains       map[string]*model.Domain
	keywords      map[string]*model.Keyword
	checks        []*model.RankCheck
	subs          map[string]*model.Subscription
	notifications []*model.Notification
	tiers         map[string]string
	recordErr     error
}

func newMemStore() *memStore {
	return &memStore{
		domains:  map[string]*model.Domain{},
		keywords: map[string]*model.Keyword{},
		subs:     map[string]*model.Subscription{},
		tiers:    map[string]string{},
	}
}

func (m *memStore) CreateDomain(ctx context.Context, d *model.Domain) error {
	return m.CreateDomainWithinLimit(ctx, d, 0)
}

// CreateDomainWithinLimit counts and inserts under one lock, like the
// repository's per-owner transaction.
func (m *memStore) CreateDomainWithinLimit(ctx context.Context, d *model.Domain, limit int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inUse := 0
	for _, existing := range m.domains {
		if existing.OwnerID == d.OwnerID && existing.DeletedAt == nil {
			inUse++
		}
	}
	if limit > 0 && inUse+1 > limit {
		return &repository.LimitError{Limit: limit, InUse: inUse}
	}
	for _, existing := range m.domains {
		if existing.OwnerID == d.OwnerID && existing.Hostname == d.Hostname && existing.DeletedAt == nil {
			return repository.ErrDomainExists
		}
	}
	cp := *d
	m.domains[d.ID] = &cp
	return nil
}

func (m *memStore) GetDomainByID(ctx context.Context, ownerID, id string) (*model.Domain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.domains[id]
	if !ok || d.OwnerID != ownerID || d.DeletedAt != nil {
		return nil, repository.ErrDomainNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memStore) ListDomains(ctx context.Context, ownerID, cursor string, limit int) ([]*model.Domain, string, error) {
	if cursor == "bad" {
		return nil, "", repository.ErrInvalidCursor
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Domain
	for _, d := range m.domains {
		if d.OwnerID == ownerID && d.DeletedAt == nil {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, "", nil
}

func (m *memStore) UpdateDomain(ctx context.Context, d *model.Domain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.domains[d.ID]
	if !ok || existing.OwnerID != d.OwnerID || existing.DeletedAt != nil {
		return repository.ErrDomainNotFound
	}
	existing.DisplayName = d.DisplayName
	existing.UpdatedAt = d.UpdatedAt
	return nil
}

func (m *memStore) DeleteDomain(ctx context.Context, ownerID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.domains[id]
	if !ok || d.OwnerID != ownerID || d.DeletedAt != nil {
		return repository.ErrDomainNotFound
	}
	now := time.Now()
	d.DeletedAt = &now
	for _, k := range m.keywords {
		if k.DomainID == id && k.DeletedAt == nil {
			k.DeletedAt = &now
		}
	}
	return nil
}

func (m *memStore) CountDomainsByOwner(ctx context.Context, ownerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, d := range m.domains {
		if d.OwnerID == ownerID && d.DeletedAt == nil {
			n++
		}
	}
	return n, nil
}

func keywordKey(k *model.Keyword) string {
	return strings.Join([]string{k.DomainID, strings.ToLower(k.Phrase), k.Country, k.Language}, "|")
}

func (m *memStore) CreateKeywords(ctx context.Context, keywords []*model.Keyword) error {
	return m.CreateKeywordsWithinLimit(ctx, keywords, 0)
}

func (m *memStore) CreateKeywordsWithinLimit(ctx context.Context, keywords []*model.Keyword, limit int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	taken := map[string]bool{}
	inUse := 0
	for _, k := range m.keywords {
		if k.DeletedAt == nil {
			taken[keywordKey(k)] = true
			if len(keywords) > 0 && k.OwnerID == keywords[0].OwnerID {
				inUse++
			}
		}
	}
	if limit > 0 && inUse+len(keywords) > limit {
		return &repository.LimitError{Limit: limit, InUse: inUse}
	}
	for _, k := range keywords {
		if taken[keywordKey(k)] {
			return fmt.Errorf("%w: %q", repository.ErrKeywordExists, k.Phrase)
		}
		taken[keywordKey(k)] = true
	}
	for _, k := range keywords {
		cp := *k
		m.keywords[k.ID] = &cp
	}
	return nil
}

func (m *memStore) GetKeyword(ctx context.Context, id string) (*model.Keyword, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keywords[id]
	if !ok || k.DeletedAt != nil {
		return nil, repository.ErrKeywordNotFound
	}
	cp := *k
	return &cp, nil
}

func (m *memStore) GetKeywordByID(ctx context.Context, ownerID, id string) (*model.Keyword, error) {
	k, err := m.GetKeyword(ctx, id)
	if err != nil {
		return nil, err
	}
	if k.OwnerID != ownerID {
		return nil, repository.ErrKeywordNotFound
	}
	return k, nil
}

func (m *memStore) ListKeywords(ctx context.Context, filter repository.KeywordFilter, cursor string, limit int) ([]*model.Keyword, string, error) {
	if cursor == "bad" {
		return nil, "", repository.ErrInvalidCursor
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Keyword
	for _, k := range m.keywords {
		if k.OwnerID != filter.OwnerID || k.DeletedAt != nil {
			continue
		}
		if filter.DomainID != "" && k.DomainID != filter.DomainID {
			continue
		}
		cp := *k
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, "", nil
}

func (m *memStore) ListKeywordsByDomain(ctx context.Context, ownerID, domainID string) ([]*model.Keyword, error) {
	out, _, err := m.ListKeywords(ctx, repository.KeywordFilter{OwnerID: ownerID, DomainID: domainID}, "", 0)
	return out, err
}

func (m *memStore) UpdateKeyword(ctx context.Context, k *model.Keyword) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.keywords[k.ID]
	if !ok || existing.OwnerID != k.OwnerID || existing.DeletedAt != nil {
		return repository.ErrKeywordNotFound
	}
	for _, other := range m.keywords {
		if other.ID != k.ID && other.DeletedAt == nil && keywordKey(other) == keywordKey(k) {
			return repository.ErrKeywordExists
		}
	}
	cp := *k
	m.keywords[k.ID] = &cp
	return nil
}

func (m *memStore) DeleteKeyword(ctx context.Context, ownerID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keywords[id]
	if !ok || k.OwnerID != ownerID || k.DeletedAt != nil {
		return repository.ErrKeywordNotFound
	}
	now := time.Now()
	k.DeletedAt = &now
	return nil
}

func (m *memStore) CountKeywordsByOwner(ctx context.Context, ownerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, k := range m.keywords {
		if k.OwnerID == ownerID && k.DeletedAt == nil {
			n++
		}
	}
	return n, nil
}

// RecordCheck mirrors the repository: failed checks only reschedule, and
// the prior rank is read from the stored row.
func (m *memStore) RecordCheck(ctx context.Context, keyword *model.Keyword, check *model.RankCheck, next time.Time) (repository.PriorRank, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordErr != nil {
		return repository.PriorRank{}, m.recordErr
	}
	stored, ok := m.keywords[keyword.ID]
	if !ok || stored.DeletedAt != nil {
		return repository.PriorRank{}, repository.ErrKeywordNotFound
	}
	cp := *check
	m.checks = append(m.checks, &cp)

	prior := repository.PriorRank{Position: stored.LastPosition, CheckedAt: stored.LastCheckedAt}
	stored.NextCheckAt = next
	if check.Status != model.CheckStatusFailed {
		stored.PreviousPosition = stored.LastPosition
		stored.LastPosition = check.Position
		if check.Position != nil && (stored.BestPosition == nil || *check.Position < *stored.BestPosition) {
			p := *check.Position
			stored.BestPosition = &p
		}
		at := check.CheckedAt
		stored.LastCheckedAt = &at
		stored.LastURL = check.URL
	}
	*keyword = *stored
	return prior, nil
}

func (m *memStore) ListRankChecks(ctx context.Context, keywordID string, from, to time.Time, limit int) ([]*model.RankCheck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.RankCheck
	for i := len(m.checks) - 1; i >= 0; i-- {
		c := m.checks[i]
		if c.KeywordID == keywordID && !c.CheckedAt.Before(from) && !c.CheckedAt.After(to) && len(out) < limit {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memStore) LatestRankChecksByDomain(ctx context.Context, domainID string) ([]*model.RankCheck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	latest := map[string]*model.RankCheck{}
	for _, c := range m.checks {
		k := m.keywords[c.KeywordID]
		if k == nil || k.DomainID != domainID || k.DeletedAt != nil {
			continue
		}
		latest[c.KeywordID] = c
	}
	out := make([]*model.RankCheck, 0, len(latest))
	for _, c := range latest {
		out = append(out, c)
	}
	return out, nil
}

func (m *memStore) GetActiveSubscription(ctx context.Context, userID string) (*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[userID]
	if !ok || sub.Status == model.SubscriptionCanceled {
		return nil, repository.ErrSubscriptionNotFound
	}
	cp := *sub
	return &cp, nil
}

func (m *memStore) UpsertSubscription(ctx context.Context, sub *model.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.subs[sub.UserID]; ok && existing.Status != model.SubscriptionCanceled {
		sub.ID = existing.ID
		sub.CreatedAt = existing.CreatedAt
	} else {
		sub.CreatedAt = sub.UpdatedAt
	}
	cp := *sub
	m.subs[sub.UserID] = &cp
	return nil
}

func (m *memStore) CancelSubscription(ctx context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[userID]
	if !ok || sub.Status == model.SubscriptionCanceled {
		return repository.ErrSubscriptionNotFound
	}
	sub.Status = model.SubscriptionCanceled
	sub.CanceledAt = &at
	return nil
}

func (m *memStore) UpdateAPIKeyTiersByUser(ctx context.Context, userID, tier string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tiers[userID] = tier
	return 1, nil
}

func (m *memStore) CreateNotification(ctx context.Context, n *model.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *n
	m.notifications = append(m.notifications, &cp)
	return nil
}

func (m *memStore) ListNotifications(ctx context.Context, filter repository.NotificationFilter, cursor string, limit int) ([]*model.Notification, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Notification
	for i := len(m.notifications) - 1; i >= 0; i-- {
		n := m.notifications[i]
		if n.UserID != filter.UserID || (filter.UnreadOnly && n.ReadAt != nil) {
			continue
		}
		out = append(out, n)
	}
	return out, "", nil
}

func (m *memStore) MarkNotificationRead(ctx context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.notifications {
		if n.ID == id && n.UserID == userID {
			if n.ReadAt == nil {
				now := time.Now()
				n.ReadAt = &now
			}
			return nil
		}
	}
	return repository.ErrNotificationNotFound
}

func (m *memStore) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	now := time.Now()
	for _, item := range m.notifications {
		if item.UserID == userID && item.ReadAt == nil {
			item.ReadAt = &now
			n++
		}
	}
	return n, nil
}

func (m *memStore) CountUnreadNotifications(ctx context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, item := range m.notifications {
		if item.UserID == userID && item.ReadAt == nil {
			n++
		}
	}
	return n, nil
}

// staticPlans applies one plan to every user.
type staticPlans struct {
	plan model.Plan
}

func (s staticPlans) PlanFor(ctx context.Context, userID string) (*model.Plan, error) {
	p := s.plan
	return &p, nil
}

// memCache is an in-memory SERP cache and lock table.
type memCache struct {
	mu    sync.Mutex
	pages map[string]*cache.CachedSERP
	locks map[string]string
}

func newMemCache() *memCache {
	return &memCache{pages: map[string]*cache.CachedSERP{}, locks: map[string]string{}}
}

func serpKeyString(k cache.SERPKey) string {
	return fmt.Sprintf("%s|%s|%s|%s|%d", strings.ToLower(k.Phrase), k.Country, k.Language, k.Device, k.Depth)
}

func (c *memCache) GetSERP(ctx context.Context, key cache.SERPKey) (*cache.CachedSERP, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	page, ok := c.pages[serpKeyString(key)]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return page, nil
}

func (c *memCache) SetSERP(ctx context.Context, key cache.SERPKey, page *cache.CachedSERP, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages[serpKeyString(key)] = page
	return nil
}

func (c *memCache) AcquireKeywordLock(ctx context.Context, keywordID, token string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, held := c.locks[keywordID]; held {
		return cache.ErrLockHeld
	}
	c.locks[keywordID] = token
	return nil
}

func (c *memCache) ReleaseKeywordLock(ctx context.Context, keywordID, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locks[keywordID] != token {
		return cache.ErrLockLost
	}
	delete(c.locks, keywordID)
	return nil
}

// stubFetcher returns canned payloads.
type stubFetcher struct {
	mu      sync.Mutex
	body    []byte
	err     error
	queries []scraper.Query
	// onFetch runs while the request is in flight.
	onFetch func()
}

func (f *stubFetcher) Fetch(ctx context.Context, q scraper.Query) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.onFetch != nil {
		f.onFetch()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.body, nil
}

type publishedEvent struct {
	userID    string
	eventType model.EventType
	data      model.RankEventData
}

type recordingEvents struct {
	events []publishedEvent
}

func (r *recordingEvents) PublishRankEvent(ctx context.Context, userID string, eventType model.EventType, data model.RankEventData) error {
	r.events = append(r.events, publishedEvent{userID: userID, eventType: eventType, data: data})
	return nil
}

type recordingQueue struct {
	jobs []rankqueue.Job
	err  error
}

func (q *recordingQueue) Enqueue(ctx context.Context, job rankqueue.Job) (string, error) {
	if q.err != nil {
		return "", q.err
	}
	q.jobs = append(q.jobs, job)
	return "1-0", nil
}

type recordingInvalidator struct {
	users []string
}

func (r *recordingInvalidator) InvalidatePrincipals(ctx context.Context, userID string) error {
	r.users = append(r.users, userID)
	return nil
}

func intPtr(v int) *int {
	return &v
}
