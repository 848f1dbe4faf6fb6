package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rankwatch/rankwatch/internal/model"
	"github.com/rankwatch/rankwatch/internal/plan"
	"github.com/rankwatch/rankwatch/internal/repository"
)

// SubscriptionStore persists subscriptions and reports usage.
type SubscriptionStore interface {
	GetActiveSubscription(ctx context.Context, userID string) (*model.Subscription, error)
	UpsertSubscription(ctx context.Context, sub *model.Subscription) error
	CancelSubscription(ctx context.Context, userID string, at time.Time) error
	CountDomainsByOwner(ctx context.Context, ownerID string) (int, error)
	CountKeywordsByOwner(ctx context.Context, ownerID string) (int, error)
	UpdateAPIKeyTiersByUser(ctx context.Context, userID, tier string) (int64, error)
}

// AuthInvalidator drops cached auth contexts so tier changes apply at once.
type AuthInvalidator interface {
	InvalidatePrincipals(ctx context.Context, userID string) error
}

// Usage is what a user currently consumes against plan limits.
type Usage struct {
	Domains  int `json:"domains"`
	Keywords int `json:"keywords"`
}

// SubscriptionView combines the live subscription, its plan and usage.
// Subscription is nil when the user is on the default plan.
type SubscriptionView struct {
	Subscription *model.Subscription
	Plan         model.Plan
	Usage        Usage
}

// SubscriptionService handles plans and subscriptions. Plan changes are
// recorded as-is; no payment provider is involved.
type SubscriptionService struct {
	store   SubscriptionStore
	catalog *plan.Catalog
	auth    AuthInvalidator
	logger  *slog.Logger
}

// NewSubscriptionService creates a new SubscriptionService. auth may be nil.
func NewSubscriptionService(store SubscriptionStore, catalog *plan.Catalog, auth AuthInvalidator, logger *slog.Logger) *SubscriptionService {
	return &SubscriptionService{
		store:   store,
		catalog: catalog,
		auth:    auth,
		logger:  logger.With("component", "service.subscription"),
	}
}

// Plans lists the available plans, cheapest first.
func (s *SubscriptionService) Plans() []model.Plan {
	return s.catalog.List()
}

// PlanFor returns the plan whose limits apply to the user. Users without a
// live subscription, or whose plan left the catalog, get the default plan.
func (s *SubscriptionService) PlanFor(ctx context.Context, userID string) (*model.Plan, error) {
	sub, err := s.activeSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	p := s.planOf(sub)
	return &p, nil
}

// Current returns the user's subscription, plan and usage.
func (s *SubscriptionService) Current(ctx context.Context, userID string) (*SubscriptionView, error) {
	sub, err := s.activeSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	usage, err := s.usage(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &SubscriptionView{Subscription: sub, Plan: s.planOf(sub), Usage: usage}, nil
}

// ChangePlan moves the user to another plan. Downgrades are rejected while
// usage exceeds the new plan's limits.
func (s *SubscriptionService) ChangePlan(ctx context.Context, userID, planCode string) (*SubscriptionView, error) {
	next, err := s.catalog.Get(planCode)
	if err != nil {
		if errors.Is(err, plan.ErrPlanNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}

	usage, err := s.usage(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !next.AllowsDomains(usage.Domains) || !next.AllowsKeywords(usage.Keywords) {
		return nil, fmt.Errorf("%w: %s plan allows %d domains and %d keywords, %d and %d in use",
			ErrPlanDowngradeBlocked, next.Name, next.DomainLimit, next.KeywordLimit, usage.Domains, usage.Keywords)
	}

	now := time.Now().UTC()
	periodEnd := now.AddDate(0, 1, 0)
	sub := &model.Subscription{
		ID:               newID(),
		UserID:           userID,
		PlanCode:         next.Code,
		Status:           model.SubscriptionActive,
		CurrentPeriodEnd: &periodEnd,
		UpdatedAt:        now,
	}
	if err := s.store.UpsertSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to save subscription: %w", err)
	}

	s.applyTier(ctx, userID, next.RateLimitTier)
	s.logger.Info("plan_changed", "user_id", userID, "plan", next.Code)

	return &SubscriptionView{Subscription: sub, Plan: next, Usage: usage}, nil
}

// Cancel ends the user's subscription; the default plan applies afterwards.
func (s *SubscriptionService) Cancel(ctx context.Context, userID string) (*SubscriptionView, error) {
	if err := s.store.CancelSubscription(ctx, userID, time.Now().UTC()); err != nil {
		if errors.Is(err, repository.ErrSubscriptionNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to cancel subscription: %w", err)
	}

	fallback := s.catalog.Default()
	s.applyTier(ctx, userID, fallback.RateLimitTier)
	s.logger.Info("subscription_canceled", "user_id", userID, "fallback_plan", fallback.Code)

	usage, err := s.usage(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &SubscriptionView{Plan: fallback, Usage: usage}, nil
}

func (s *SubscriptionService) activeSubscription(ctx context.Context, userID string) (*model.Subscription, error) {
	sub, err := s.store.GetActiveSubscription(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrSubscriptionNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

func (s *SubscriptionService) planOf(sub *model.Subscription) model.Plan {
	if sub == nil || !sub.IsActive() {
		return s.catalog.Default()
	}
	p, err := s.catalog.Get(sub.PlanCode)
	if err != nil {
		s.logger.Warn("subscription references unknown plan", "user_id", sub.UserID, "plan", sub.PlanCode)
		return s.catalog.Default()
	}
	return p
}

func (s *SubscriptionService) usage(ctx context.Context, userID string) (Usage, error) {
	domains, err := s.store.CountDomainsByOwner(ctx, userID)
	if err != nil {
		return Usage{}, fmt.Errorf("failed to count domains: %w", err)
	}
	keywords, err := s.store.CountKeywordsByOwner(ctx, userID)
	if err != nil {
		return Usage{}, fmt.Errorf("failed to count keywords: %w", err)
	}
	return Usage{Domains: domains, Keywords: keywords}, nil
}

// applyTier aligns the user's API keys with the plan's rate limit tier.
// Failures are logged; the plan change itself already succeeded.
func (s *SubscriptionService) applyTier(ctx context.Context, userID, tier string) {
	if tier == "" {
		return
	}
	if _, err := s.store.UpdateAPIKeyTiersByUser(ctx, userID, tier); err != nil {
		s.logger.Error("failed to update API key tiers", "user_id", userID, "error", err)
		return
	}
	if s.auth == nil {
		return
	}
	if err := s.auth.InvalidatePrincipals(ctx, userID); err != nil {
		s.logger.Warn("failed to invalidate cached auth contexts", "user_id", userID, "error", err)
	}
}
