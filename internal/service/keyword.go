package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rankwatch/rankwatch/internal/metrics"
	"github.com/rankwatch/rankwatch/internal/model"
	"github.com/rankwatch/rankwatch/internal/rankqueue"
	"github.com/rankwatch/rankwatch/internal/repository"
)

const (
	maxPhraseLength = 200

	// MaxPhrasesPerRequest caps a bulk keyword import.
	MaxPhrasesPerRequest = 100
)

var (
	countryPattern  = regexp.MustCompile(`^[A-Z]{2}$`)
	languagePattern = regexp.MustCompile(`^[a-z]{2}(-[a-z]{2})?$`)
)

// KeywordStore persists keywords.
type KeywordStore interface {
	CreateKeywordsWithinLimit(ctx context.Context, keywords []*model.Keyword, limit int) error
	GetKeywordByID(ctx context.Context, ownerID, id string) (*model.Keyword, error)
	ListKeywords(ctx context.Context, filter repository.KeywordFilter, cursor string, limit int) ([]*model.Keyword, string, error)
	UpdateKeyword(ctx context.Context, keyword *model.Keyword) error
	DeleteKeyword(ctx context.Context, ownerID, id string) error
	GetDomainByID(ctx context.Context, ownerID, id string) (*model.Domain, error)
}

// CheckQueue accepts on-demand rank check jobs.
type CheckQueue interface {
	Enqueue(ctx context.Context, job rankqueue.Job) (string, error)
}

// KeywordService handles keyword business logic.
type KeywordService struct {
	store           KeywordStore
	plans           PlanSource
	queue           CheckQueue
	logger          *slog.Logger
	metrics         metrics.Recorder
	defaultCountry  string
	defaultLanguage string
}

// KeywordDefaults are applied when a request omits locale settings.
type KeywordDefaults struct {
	Country  string
	Language string
}

// NewKeywordService creates a new KeywordService. queue may be nil, in
// which case on-demand checks are unavailable.
func NewKeywordService(store KeywordStore, plans PlanSource, queue CheckQueue, defaults KeywordDefaults, logger *slog.Logger, recorder metrics.Recorder) *KeywordService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	country := strings.ToUpper(defaults.Country)
	if country == "" {
		country = "US"
	}
	language := strings.ToLower(defaults.Language)
	if language == "" {
		language = "en"
	}
	return &KeywordService{
		store:           store,
		plans:           plans,
		queue:           queue,
		logger:          logger.With("component", "service.keyword"),
		metrics:         recorder,
		defaultCountry:  country,
		defaultLanguage: language,
	}
}

// CreateKeywordsInput defines input for adding one or more keywords to a domain.
type CreateKeywordsInput struct {
	OwnerID  string
	DomainID string
	Phrases  []string
	Country  string
	Language string
	Device   string
}

// CreateKeywords validates and stores keywords atomically. Duplicate
// phrases within the request are collapsed. Every keyword is due for its
// first check immediately.
func (s *KeywordService) CreateKeywords(ctx context.Context, input CreateKeywordsInput) ([]*model.Keyword, error) {
	phrases, err := normalizePhrases(input.Phrases)
	if err != nil {
		return nil, err
	}

	country, language, device, err := s.resolveLocale(input.Country, input.Language, input.Device)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.GetDomainByID(ctx, input.OwnerID, input.DomainID); err != nil {
		if errors.Is(err, repository.ErrDomainNotFound) {
			return nil, ErrDomainNotFound
		}
		return nil, fmt.Errorf("failed to get domain: %w", err)
	}

	plan, err := s.plans.PlanFor(ctx, input.OwnerID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	keywords := make([]*model.Keyword, 0, len(phrases))
	for _, phrase := range phrases {
		keywords = append(keywords, &model.Keyword{
			ID:          newID(),
			OwnerID:     input.OwnerID,
			DomainID:    input.DomainID,
			Phrase:      phrase,
			Country:     country,
			Language:    language,
			Device:      device,
			NextCheckAt: now,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}

	if err := s.store.CreateKeywordsWithinLimit(ctx, keywords, plan.KeywordLimit); err != nil {
		var limitErr *repository.LimitError
		switch {
		case errors.As(err, &limitErr):
			return nil, fmt.Errorf("%w: %s plan allows %d keywords, %d in use",
				ErrPlanLimitReached, plan.Name, plan.KeywordLimit, limitErr.InUse)
		case errors.Is(err, repository.ErrKeywordExists):
			return nil, ErrKeywordExists
		case errors.Is(err, repository.ErrDomainNotFound):
			return nil, ErrDomainNotFound
		}
		return nil, fmt.Errorf("failed to create keywords: %w", err)
	}

	s.metrics.IncKeywordsCreated(len(keywords))
	s.logger.Info("keywords_created",
		"owner_id", input.OwnerID,
		"domain_id", input.DomainID,
		"count", len(keywords),
	)
	return keywords, nil
}

// GetKeyword returns a keyword owned by ownerID.
func (s *KeywordService) GetKeyword(ctx context.Context, ownerID, id string) (*model.Keyword, error) {
	keyword, err := s.store.GetKeywordByID(ctx, ownerID, id)
	if err != nil {
		if errors.Is(err, repository.ErrKeywordNotFound) {
			return nil, ErrKeywordNotFound
		}
		return nil, fmt.Errorf("failed to get keyword: %w", err)
	}
	return keyword, nil
}

// ListKeywordsInput defines input for listing keywords.
type ListKeywordsInput struct {
	OwnerID  string
	DomainID string
	Cursor   string
	Limit    int
}

// ListKeywordsOutput is a page of keywords.
type ListKeywordsOutput struct {
	Keywords   []*model.Keyword
	NextCursor string
	HasMore    bool
}

// ListKeywords returns a page of the owner's keywords, optionally for one domain.
func (s *KeywordService) ListKeywords(ctx context.Context, input ListKeywordsInput) (*ListKeywordsOutput, error) {
	filter := repository.KeywordFilter{OwnerID: input.OwnerID, DomainID: input.DomainID}

	keywords, next, err := s.store.ListKeywords(ctx, filter, input.Cursor, repository.ClampLimit(input.Limit))
	if err != nil {
		return nil, mapCursorError(err)
	}
	if keywords == nil {
		keywords = []*model.Keyword{}
	}
	return &ListKeywordsOutput{
		Keywords:   keywords,
		NextCursor: next,
		HasMore:    next != "",
	}, nil
}

// UpdateKeywordInput defines input for changing a keyword's locale.
type UpdateKeywordInput struct {
	OwnerID  string
	ID       string
	Country  *string
	Language *string
	Device   *string
}

// UpdateKeyword changes a keyword's locale. A changed locale makes the
// keyword due again so the stored positions are refreshed.
func (s *KeywordService) UpdateKeyword(ctx context.Context, input UpdateKeywordInput) (*model.Keyword, error) {
	keyword, err := s.GetKeyword(ctx, input.OwnerID, input.ID)
	if err != nil {
		return nil, err
	}

	country, language, device := keyword.Country, keyword.Language, string(keyword.Device)
	if input.Country != nil {
		country = *input.Country
	}
	if input.Language != nil {
		language = *input.Language
	}
	if input.Device != nil {
		device = *input.Device
	}

	c, l, d, err := s.resolveLocale(country, language, device)
	if err != nil {
		return nil, err
	}
	if c == keyword.Country && l == keyword.Language && d == keyword.Device {
		return keyword, nil
	}

	now := time.Now().UTC()
	keyword.Country, keyword.Language, keyword.Device = c, l, d
	keyword.NextCheckAt = now
	keyword.UpdatedAt = now

	if err := s.store.UpdateKeyword(ctx, keyword); err != nil {
		switch {
		case errors.Is(err, repository.ErrKeywordExists):
			return nil, ErrKeywordExists
		case errors.Is(err, repository.ErrKeywordNotFound):
			return nil, ErrKeywordNotFound
		}
		return nil, fmt.Errorf("failed to update keyword: %w", err)
	}
	return keyword, nil
}

// DeleteKeyword soft-deletes a keyword. Its history is kept.
func (s *KeywordService) DeleteKeyword(ctx context.Context, ownerID, id string) error {
	if err := s.store.DeleteKeyword(ctx, ownerID, id); err != nil {
		if errors.Is(err, repository.ErrKeywordNotFound) {
			return ErrKeywordNotFound
		}
		return fmt.Errorf("failed to delete keyword: %w", err)
	}
	s.metrics.IncKeywordDeleted()
	return nil
}

// RequestCheck queues an immediate rank check for a keyword.
func (s *KeywordService) RequestCheck(ctx context.Context, ownerID, id string) (*model.Keyword, error) {
	keyword, err := s.GetKeyword(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if s.queue == nil {
		return nil, ErrQueueUnavailable
	}

	if _, err := s.queue.Enqueue(ctx, rankqueue.NewJob(keyword.ID, keyword.OwnerID, rankqueue.ReasonManual)); err != nil {
		s.logger.Warn("failed to enqueue manual check", "keyword_id", keyword.ID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	return keyword, nil
}

func (s *KeywordService) resolveLocale(country, language, device string) (string, string, model.Device, error) {
	country = strings.ToUpper(strings.TrimSpace(country))
	if country == "" {
		country = s.defaultCountry
	}
	if !countryPattern.MatchString(country) {
		return "", "", "", ErrInvalidCountry
	}

	language = strings.ToLower(strings.TrimSpace(language))
	if language == "" {
		language = s.defaultLanguage
	}
	if !languagePattern.MatchString(language) {
		return "", "", "", ErrInvalidLanguage
	}

	d := model.Device(strings.ToLower(strings.TrimSpace(device)))
	if d == "" {
		d = model.DeviceDesktop
	}
	if !d.IsValid() {
		return "", "", "", ErrInvalidDevice
	}
	return country, language, d, nil
}

// NormalizePhrase trims and collapses whitespace and checks the length.
func NormalizePhrase(raw string) (string, error) {
	phrase := strings.Join(strings.Fields(raw), " ")
	n := utf8.RuneCountInString(phrase)
	if n == 0 || n > maxPhraseLength {
		return "", ErrInvalidPhrase
	}
	return phrase, nil
}

// normalizePhrases validates every phrase and drops case-insensitive
// duplicates, keeping the first spelling.
func normalizePhrases(raw []string) ([]string, error) {
	if len(raw) == 0 {
		return nil, ErrNoPhrases
	}
	if len(raw) > MaxPhrasesPerRequest {
		return nil, fmt.Errorf("%w: max %d", ErrTooManyPhrases, MaxPhrasesPerRequest)
	}

	seen := make(map[string]struct{}, len(raw))
	phrases := make([]string, 0, len(raw))
	for _, r := range raw {
		phrase, err := NormalizePhrase(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", err, r)
		}
		key := strings.ToLower(phrase)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		phrases = append(phrases, phrase)
	}
	return phrases, nil
}
