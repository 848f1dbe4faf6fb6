package dto

import (
	"time"

	"github.com/rankwatch/rankwatch/internal/model"
)

// CreateWebhookRequest is the body of POST /webhooks. EventTypes defaults to
// every rank event and DomainIDs to every domain of the account.
type CreateWebhookRequest struct {
	Name        string            `json:"name,omitempty"`
	Description string            `json:"description,omitempty"`
	TargetURL   string            `json:"target_url"`
	EventTypes  []model.EventType `json:"event_types,omitempty"`
	DomainIDs   []string          `json:"domain_ids,omitempty"`
}

// UpdateWebhookRequest is the body of PATCH /webhooks/{id}.
type UpdateWebhookRequest struct {
	Name        *string            `json:"name,omitempty"`
	Description *string            `json:"description,omitempty"`
	TargetURL   *string            `json:"target_url,omitempty"`
	Enabled     *bool              `json:"enabled,omitempty"`
	EventTypes  *[]model.EventType `json:"event_types,omitempty"`
	DomainIDs   *[]string          `json:"domain_ids,omitempty"`
}

// WebhookResponse is a webhook endpoint without its secret.
type WebhookResponse struct {
	ID          string            `json:"id"`
	Name        string            `json:"name,omitempty"`
	Description string            `json:"description,omitempty"`
	TargetURL   string            `json:"target_url"`
	Enabled     bool              `json:"enabled"`
	EventTypes  []model.EventType `json:"event_types"`
	DomainIDs   []string          `json:"domain_ids"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// WebhookCreatedResponse carries the signing secret. It is only returned
// once.
type WebhookCreatedResponse struct {
	WebhookResponse
	Secret string `json:"secret"`
}

// WebhookSecretResponse is returned by secret rotation.
type WebhookSecretResponse struct {
	Secret string `json:"secret"`
}

// ToWebhookResponse converts an endpoint for the API.
func ToWebhookResponse(e *model.WebhookEndpoint) WebhookResponse {
	domainIDs := e.DomainIDs
	if domainIDs == nil {
		domainIDs = []string{}
	}
	return WebhookResponse{
		ID:          e.ID,
		Name:        e.Name,
		Description: e.Description,
		TargetURL:   e.TargetURL,
		Enabled:     e.Enabled,
		EventTypes:  e.EventTypes,
		DomainIDs:   domainIDs,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

// DeliveryResponse is one delivery of an event to an endpoint.
type DeliveryResponse struct {
	ID             string               `json:"id"`
	EventID        string               `json:"event_id"`
	EventType      model.EventType      `json:"event_type"`
	Status         model.DeliveryStatus `json:"status"`
	AttemptCount   int                  `json:"attempt_count"`
	MaxAttempts    int                  `json:"max_attempts"`
	NextRetryAt    *time.Time           `json:"next_retry_at,omitempty"`
	LastAttemptAt  *time.Time           `json:"last_attempt_at,omitempty"`
	LastHTTPStatus *int                 `json:"last_http_status,omitempty"`
	LastError      string               `json:"last_error,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
}

// ToDeliveryResponse converts a delivery for the API. NextRetryAt is only
// set while the worker still owns the delivery.
func ToDeliveryResponse(d *model.WebhookDelivery) DeliveryResponse {
	resp := DeliveryResponse{
		ID:             d.ID,
		EventID:        d.EventID,
		EventType:      d.EventType,
		Status:         d.Status,
		AttemptCount:   d.AttemptCount,
		MaxAttempts:    d.MaxAttempts,
		LastAttemptAt:  d.LastAttemptAt,
		LastHTTPStatus: d.LastHTTPStatus,
		LastError:      d.LastError,
		CreatedAt:      d.CreatedAt,
	}
	if !d.NextRetryAt.IsZero() && !d.Status.Terminal() {
		next := d.NextRetryAt
		resp.NextRetryAt = &next
	}
	return resp
}

// PageInfo describes offset pagination.
type PageInfo struct {
	Total   int `json:"total"`
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

// PagedResponse wraps one numbered page of items.
type PagedResponse[T any] struct {
	Data       []T      `json:"data"`
	Pagination PageInfo `json:"pagination"`
}

// NewPagedResponse builds a paged response, never encoding data as null.
func NewPagedResponse[T any](items []T, total, page, perPage int) *PagedResponse[T] {
	if items == nil {
		items = []T{}
	}
	return &PagedResponse[T]{
		Data:       items,
		Pagination: PageInfo{Total: total, Page: page, PerPage: perPage},
	}
}

// RetryScheduledResponse acknowledges a manual redelivery.
type RetryScheduledResponse struct {
	DeliveryID string `json:"delivery_id"`
	Status     string `json:"status"`
}
