package dto

import (
	"time"

	"github.com/rankwatch/rankwatch/internal/model"
)

// CreateDomainRequest is the body of POST /domains.
type CreateDomainRequest struct {
	Hostname    string `json:"hostname"`
	DisplayName string `json:"display_name,omitempty"`
}

// UpdateDomainRequest is the body of PATCH /domains/{id}.
type UpdateDomainRequest struct {
	DisplayName *string `json:"display_name"`
}

// CreateKeywordsRequest is the body of POST /keywords. Exactly one of
// Phrase or Phrases is expected; Phrase yields a single keyword response.
type CreateKeywordsRequest struct {
	DomainID string   `json:"domain_id"`
	Phrase   string   `json:"phrase,omitempty"`
	Phrases  []string `json:"phrases,omitempty"`
	Country  string   `json:"country,omitempty"`
	Language string   `json:"language,omitempty"`
	Device   string   `json:"device,omitempty"`
}

// UpdateKeywordRequest is the body of PATCH /keywords/{id}.
type UpdateKeywordRequest struct {
	Country  *string `json:"country,omitempty"`
	Language *string `json:"language,omitempty"`
	Device   *string `json:"device,omitempty"`
}

// CheckAcceptedResponse is returned when a manual check is queued.
type CheckAcceptedResponse struct {
	KeywordID string `json:"keyword_id"`
	Status    string `json:"status"`
}

// ChangePlanRequest is the body of PUT /subscription.
type ChangePlanRequest struct {
	Plan string `json:"plan"`
}

// PlanResponse describes a plan in the catalog.
type PlanResponse struct {
	Code                 string `json:"code"`
	Name                 string `json:"name"`
	KeywordLimit         int    `json:"keyword_limit"`
	DomainLimit          int    `json:"domain_limit"`
	CheckIntervalMinutes int    `json:"check_interval_minutes"`
	RateLimitTier        string `json:"rate_limit_tier"`
	PriceCents           int    `json:"price_cents"`
}

// ToPlanResponse converts a plan for the API.
func ToPlanResponse(p model.Plan) PlanResponse {
	return PlanResponse{
		Code:                 p.Code,
		Name:                 p.Name,
		KeywordLimit:         p.KeywordLimit,
		DomainLimit:          p.DomainLimit,
		CheckIntervalMinutes: int(p.CheckInterval.Minutes()),
		RateLimitTier:        p.RateLimitTier,
		PriceCents:           p.PriceCents,
	}
}

// SubscriptionResponse describes the caller's plan and usage. Status is
// "none" when the default plan applies without a subscription.
type SubscriptionResponse struct {
	Plan             PlanResponse              `json:"plan"`
	Status           string                    `json:"status"`
	CurrentPeriodEnd *time.Time                `json:"current_period_end,omitempty"`
	CanceledAt       *time.Time                `json:"canceled_at,omitempty"`
	Usage            SubscriptionUsageResponse `json:"usage"`
}

// SubscriptionUsageResponse reports current consumption against the plan.
type SubscriptionUsageResponse struct {
	Domains  int `json:"domains"`
	Keywords int `json:"keywords"`
}

// UnreadCountResponse is returned by GET /notifications/unread-count.
type UnreadCountResponse struct {
	Unread int `json:"unread"`
}

// MarkAllReadResponse is returned by POST /notifications/read-all.
type MarkAllReadResponse struct {
	Updated int64 `json:"updated"`
}
