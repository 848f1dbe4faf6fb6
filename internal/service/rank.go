package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rankwatch/rankwatch/internal/cache"
	"github.com/rankwatch/rankwatch/internal/metrics"
	"github.com/rankwatch/rankwatch/internal/model"
	"github.com/rankwatch/rankwatch/internal/repository"
	"github.com/rankwatch/rankwatch/internal/scraper"
	"github.com/rankwatch/rankwatch/internal/serp"
)

const (
	defaultLockTTL      = 5 * time.Minute
	lockMargin          = time.Minute
	maxCheckErrorLength = 500
	defaultFailureDelay = 30 * time.Minute
	defaultHistoryRange = 30 * 24 * time.Hour
	maxHistoryPoints    = 1000
)

// RankStore reads keywords and records checks.
type RankStore interface {
	GetKeyword(ctx context.Context, id string) (*model.Keyword, error)
	GetKeywordByID(ctx context.Context, ownerID, id string) (*model.Keyword, error)
	GetDomainByID(ctx context.Context, ownerID, id string) (*model.Domain, error)
	RecordCheck(ctx context.Context, keyword *model.Keyword, check *model.RankCheck, next time.Time) (repository.PriorRank, error)
	ListRankChecks(ctx context.Context, keywordID string, from, to time.Time, limit int) ([]*model.RankCheck, error)
}

// SERPCache shares result pages between checks and serializes checks per keyword.
type SERPCache interface {
	GetSERP(ctx context.Context, key cache.SERPKey) (*cache.CachedSERP, error)
	SetSERP(ctx context.Context, key cache.SERPKey, page *cache.CachedSERP, ttl time.Duration) error
	AcquireKeywordLock(ctx context.Context, keywordID, token string, ttl time.Duration) error
	ReleaseKeywordLock(ctx context.Context, keywordID, token string) error
}

// SERPFetcher downloads a raw result page.
type SERPFetcher interface {
	Fetch(ctx context.Context, q scraper.Query) ([]byte, error)
}

// fetchBudget is implemented by fetchers that know how long a Fetch can run.
type fetchBudget interface {
	MaxFetchDuration() time.Duration
}

// RankNotifier tells users about rank changes and failing checks.
type RankNotifier interface {
	NotifyRankChange(ctx context.Context, keyword *model.Keyword, domain *model.Domain, previous *int) error
	NotifyCheckFailed(ctx context.Context, keyword *model.Keyword, reason string) error
}

// RankEventPublisher fans rank changes out to webhook endpoints.
type RankEventPublisher interface {
	PublishRankEvent(ctx context.Context, userID string, eventType model.EventType, data model.RankEventData) error
}

// RankConfig tunes rank checks. Zero values fall back to defaults. An unset
// LockTTL covers the fetcher's longest possible Fetch plus a minute.
type RankConfig struct {
	Depth        int
	CacheTTL     time.Duration
	LockTTL      time.Duration
	FailureDelay time.Duration
}

// RankService performs rank checks and serves rank history.
type RankService struct {
	store    RankStore
	cache    SERPCache
	fetcher  SERPFetcher
	plans    PlanSource
	notifier RankNotifier
	events   RankEventPublisher
	logger   *slog.Logger
	metrics  metrics.Recorder
	cfg      RankConfig
	now      func() time.Time
}

// RankServiceDeps groups the collaborators of RankService.
// Notifier and Events are optional.
type RankServiceDeps struct {
	Store    RankStore
	Cache    SERPCache
	Fetcher  SERPFetcher
	Plans    PlanSource
	Notifier RankNotifier
	Events   RankEventPublisher
	Logger   *slog.Logger
	Metrics  metrics.Recorder
}

// NewRankService creates a new RankService.
func NewRankService(deps RankServiceDeps, cfg RankConfig) *RankService {
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoop()
	}
	if cfg.Depth <= 0 {
		cfg.Depth = scraper.DefaultDepth
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
		if b, ok := deps.Fetcher.(fetchBudget); ok {
			cfg.LockTTL = b.MaxFetchDuration() + lockMargin
		}
	}
	if cfg.FailureDelay <= 0 {
		cfg.FailureDelay = defaultFailureDelay
	}
	return &RankService{
		store:    deps.Store,
		cache:    deps.Cache,
		fetcher:  deps.Fetcher,
		plans:    deps.Plans,
		notifier: deps.Notifier,
		events:   deps.Events,
		logger:   deps.Logger.With("component", "service.rank"),
		metrics:  deps.Metrics,
		cfg:      cfg,
		now:      time.Now,
	}
}

// CheckKeyword fetches the result page for a keyword, locates the domain and
// records the outcome. Fetch and parse failures are recorded as failed checks
// and rescheduled; only storage and locking errors are returned. The keyword
// is read after the per-keyword lock is taken, and changes are announced
// against the rank stored when the check is recorded.
func (s *RankService) CheckKeyword(ctx context.Context, keywordID string) (*model.RankCheck, error) {
	start := time.Now()

	token := newID()
	if err := s.cache.AcquireKeywordLock(ctx, keywordID, token, s.cfg.LockTTL); err != nil {
		if errors.Is(err, cache.ErrLockHeld) {
			return nil, ErrCheckInProgress
		}
		return nil, fmt.Errorf("failed to lock keyword: %w", err)
	}
	defer func() {
		// Release with a fresh context so cancellation does not leak the lock.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := s.cache.ReleaseKeywordLock(releaseCtx, keywordID, token); err != nil {
			s.logger.Warn("failed to release keyword lock", "keyword_id", keywordID, "error", err)
		}
	}()

	keyword, err := s.store.GetKeyword(ctx, keywordID)
	if err != nil {
		if errors.Is(err, repository.ErrKeywordNotFound) {
			return nil, ErrKeywordNotFound
		}
		return nil, fmt.Errorf("failed to load keyword: %w", err)
	}

	domain, err := s.store.GetDomainByID(ctx, keyword.OwnerID, keyword.DomainID)
	if err != nil {
		if errors.Is(err, repository.ErrDomainNotFound) {
			return nil, ErrDomainNotFound
		}
		return nil, fmt.Errorf("failed to load domain: %w", err)
	}

	plan, err := s.plans.PlanFor(ctx, keyword.OwnerID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	check := &model.RankCheck{
		ID:        newID(),
		KeywordID: keyword.ID,
		CheckedAt: now,
	}

	results, source, fetchErr := s.resultPage(ctx, keyword)
	if fetchErr != nil {
		if errors.Is(fetchErr, context.Canceled) {
			return nil, fetchErr
		}
		return s.recordFailure(ctx, keyword, check, plan, fetchErr, start)
	}

	check.Source = source
	check.ResultCount = len(results)
	if match, ok := serp.FindPosition(results, domain.Hostname); ok {
		position := match.Position
		check.Status = model.CheckStatusFound
		check.Position = &position
		check.URL = match.URL
		check.Title = match.Title
	} else {
		check.Status = model.CheckStatusNotFound
	}

	prior, err := s.store.RecordCheck(ctx, keyword, check, now.Add(plan.CheckInterval))
	if err != nil {
		if errors.Is(err, repository.ErrKeywordNotFound) {
			return nil, ErrKeywordNotFound
		}
		return nil, fmt.Errorf("failed to record check: %w", err)
	}

	s.metrics.IncRankCheck(string(check.Status))
	s.metrics.ObserveRankCheckDuration(time.Since(start))
	s.logger.Info("rank_checked",
		"keyword_id", keyword.ID,
		"status", check.Status,
		"position", positionAttr(check.Position),
		"source", check.Source,
		"results", check.ResultCount,
	)

	if prior.CheckedAt != nil && !samePosition(prior.Position, keyword.LastPosition) {
		s.announceChange(ctx, keyword, domain, prior.Position)
	}
	return check, nil
}

// resultPage returns the extracted results from the shared cache or a live fetch.
func (s *RankService) resultPage(ctx context.Context, keyword *model.Keyword) ([]serp.Result, model.CheckSource, error) {
	key := cache.SERPKey{
		Phrase:   keyword.Phrase,
		Country:  keyword.Country,
		Language: keyword.Language,
		Device:   string(keyword.Device),
		Depth:    s.cfg.Depth,
	}

	if s.cfg.CacheTTL > 0 {
		cached, err := s.cache.GetSERP(ctx, key)
		switch {
		case err == nil:
			s.metrics.IncSERPCacheHit()
			return cached.Results, model.CheckSourceCache, nil
		case errors.Is(err, cache.ErrCacheMiss):
			s.metrics.IncSERPCacheMiss()
		default:
			s.logger.Warn("serp cache read failed", "error", err)
		}
	}

	fetchStart := time.Now()
	body, err := s.fetcher.Fetch(ctx, scraper.Query{
		Phrase:   keyword.Phrase,
		Country:  keyword.Country,
		Language: keyword.Language,
		Device:   string(keyword.Device),
		Depth:    s.cfg.Depth,
	})
	s.metrics.ObserveScraperDuration(time.Since(fetchStart))
	if err != nil {
		if errors.Is(err, scraper.ErrUpstreamRejected) {
			s.metrics.IncScraperRequest("rejected")
		} else {
			s.metrics.IncScraperRequest("error")
		}
		return nil, "", err
	}
	s.metrics.IncScraperRequest("success")

	extraction, err := serp.Parse(body)
	if err != nil {
		return nil, "", fmt.Errorf("parse result page: %w", err)
	}
	if len(extraction.Results) == 0 {
		return nil, "", fmt.Errorf("parse result page: %w", serp.ErrUnrecognizedPayload)
	}

	page := &cache.CachedSERP{
		Results:   extraction.Results,
		Source:    extraction.Source,
		FetchedAt: s.now().UTC(),
	}
	if s.cfg.CacheTTL > 0 {
		if err := s.cache.SetSERP(ctx, key, page, s.cfg.CacheTTL); err != nil {
			s.logger.Warn("serp cache write failed", "error", err)
		}
	}
	return page.Results, model.CheckSource(extraction.Source), nil
}

func (s *RankService) recordFailure(ctx context.Context, keyword *model.Keyword, check *model.RankCheck, plan *model.Plan, cause error, start time.Time) (*model.RankCheck, error) {
	check.Status = model.CheckStatusFailed
	check.Error = scraper.Snippet(cause.Error(), maxCheckErrorLength)

	delay := s.cfg.FailureDelay
	if plan.CheckInterval > 0 && plan.CheckInterval < delay {
		delay = plan.CheckInterval
	}

	if _, err := s.store.RecordCheck(ctx, keyword, check, check.CheckedAt.Add(delay)); err != nil {
		if errors.Is(err, repository.ErrKeywordNotFound) {
			return nil, ErrKeywordNotFound
		}
		return nil, fmt.Errorf("failed to record failed check: %w", err)
	}

	s.metrics.IncRankCheck(string(check.Status))
	s.metrics.ObserveRankCheckDuration(time.Since(start))
	s.logger.Warn("rank_check_failed",
		"keyword_id", keyword.ID,
		"retry_in", delay,
		"error", check.Error,
	)

	// Operator-side misconfiguration is not the user's concern.
	if !scraper.IsRetryable(cause) && !errors.Is(cause, scraper.ErrNotConfigured) && s.notifier != nil {
		if err := s.notifier.NotifyCheckFailed(ctx, keyword, check.Error); err != nil {
			s.logger.Warn("failed to notify check failure", "keyword_id", keyword.ID, "error", err)
		}
	}
	return check, nil
}

func (s *RankService) announceChange(ctx context.Context, keyword *model.Keyword, domain *model.Domain, previous *int) {
	if s.notifier != nil {
		if err := s.notifier.NotifyRankChange(ctx, keyword, domain, previous); err != nil {
			s.logger.Warn("failed to notify rank change", "keyword_id", keyword.ID, "error", err)
		}
	}
	if s.events != nil {
		data := model.RankEventData{
			KeywordID:        keyword.ID,
			DomainID:         domain.ID,
			Domain:           domain.Hostname,
			Phrase:           keyword.Phrase,
			Country:          keyword.Country,
			Position:         keyword.LastPosition,
			PreviousPosition: previous,
			URL:              keyword.LastURL,
		}
		eventType := model.EventTypeForChange(previous, keyword.LastPosition)
		if err := s.events.PublishRankEvent(ctx, keyword.OwnerID, eventType, data); err != nil {
			s.logger.Warn("failed to publish rank event", "keyword_id", keyword.ID, "error", err)
		}
	}
}

// HistoryInput defines input for reading a keyword's rank history.
type HistoryInput struct {
	OwnerID   string
	KeywordID string
	From      time.Time
	To        time.Time
	Limit     int
}

// History returns the checks of a keyword within a time range, newest
// first. The range defaults to the last 30 days.
func (s *RankService) History(ctx context.Context, input HistoryInput) ([]*model.RankCheck, error) {
	if _, err := s.store.GetKeywordByID(ctx, input.OwnerID, input.KeywordID); err != nil {
		if errors.Is(err, repository.ErrKeywordNotFound) {
			return nil, ErrKeywordNotFound
		}
		return nil, fmt.Errorf("failed to get keyword: %w", err)
	}

	to := input.To
	if to.IsZero() {
		to = s.now().UTC()
	}
	from := input.From
	if from.IsZero() {
		from = to.Add(-defaultHistoryRange)
	}
	if from.After(to) {
		return nil, ErrInvalidTimeRange
	}

	limit := input.Limit
	if limit <= 0 || limit > maxHistoryPoints {
		limit = maxHistoryPoints
	}

	checks, err := s.store.ListRankChecks(ctx, input.KeywordID, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list rank checks: %w", err)
	}
	if checks == nil {
		checks = []*model.RankCheck{}
	}
	return checks, nil
}

func samePosition(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func positionAttr(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}
