package model

import "time"

// Plan describes the limits of a subscription tier.
// Zero limits mean unlimited.
type Plan struct {
	Code          string        `json:"code" yaml:"code"`
	Name          string        `json:"name" yaml:"name"`
	KeywordLimit  int           `json:"keyword_limit" yaml:"keyword_limit"`
	DomainLimit   int           `json:"domain_limit" yaml:"domain_limit"`
	CheckInterval time.Duration `json:"check_interval" yaml:"check_interval"`
	RateLimitTier string        `json:"rate_limit_tier" yaml:"rate_limit_tier"`
	PriceCents    int           `json:"price_cents" yaml:"price_cents"`
}

// AllowsKeywords reports whether total keywords fit within the plan.
func (p *Plan) AllowsKeywords(total int) bool {
	return p.KeywordLimit == 0 || total <= p.KeywordLimit
}

// AllowsDomains reports whether total domains fit within the plan.
func (p *Plan) AllowsDomains(total int) bool {
	return p.DomainLimit == 0 || total <= p.DomainLimit
}

// SubscriptionStatus is the lifecycle state of a subscription.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionTrialing SubscriptionStatus = "trialing"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// Subscription binds a user to a plan.
type Subscription struct {
	ID               string             `json:"id"`
	UserID           string             `json:"user_id"`
	PlanCode         string             `json:"plan_code"`
	Status           SubscriptionStatus `json:"status"`
	CurrentPeriodEnd *time.Time         `json:"current_period_end,omitempty"`
	CanceledAt       *time.Time         `json:"canceled_at,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// IsActive returns true if the subscription grants its plan's limits.
func (s *Subscription) IsActive() bool {
	return s.Status == SubscriptionActive || s.Status == SubscriptionTrialing
}
