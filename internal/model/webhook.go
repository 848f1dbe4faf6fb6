package model

import (
	"slices"
	"time"
)

// EventType names a rank event pushed to webhook endpoints.
type EventType string

const (
	EventRankChanged EventType = "rank.changed"
	EventRankLost    EventType = "rank.lost"
	EventRankFound   EventType = "rank.found"
)

// RankEvents lists every event an endpoint can subscribe to.
var RankEvents = []EventType{EventRankChanged, EventRankLost, EventRankFound}

// Valid reports whether et is a known rank event.
func (et EventType) Valid() bool {
	return slices.Contains(RankEvents, et)
}

// EventTypeForChange picks the event for a position transition. A nil
// position means the domain was not found in the results.
func EventTypeForChange(previous, current *int) EventType {
	switch {
	case previous != nil && current == nil:
		return EventRankLost
	case previous == nil && current != nil:
		return EventRankFound
	default:
		return EventRankChanged
	}
}

// DeliveryStatus is the state of one event sent to one endpoint.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySucceeded DeliveryStatus = "success"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryExhausted DeliveryStatus = "exhausted"
)

// Terminal reports whether the worker will never pick the delivery up again
// on its own.
func (s DeliveryStatus) Terminal() bool {
	return s == DeliverySucceeded || s == DeliveryExhausted
}

// WebhookEndpoint receives signed rank events for its owner. DomainIDs
// narrows delivery to events about those domains; empty means all of them.
type WebhookEndpoint struct {
	ID          string
	UserID      string
	TargetURL   string
	SecretHash  string
	Enabled     bool
	EventTypes  []EventType
	DomainIDs   []string
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}

// Active reports whether the endpoint is enabled and not deleted.
func (e *WebhookEndpoint) Active() bool {
	return e.Enabled && e.DeletedAt == nil
}

// Wants reports whether an event of type et about domainID should be sent
// to the endpoint.
func (e *WebhookEndpoint) Wants(et EventType, domainID string) bool {
	if !e.Active() || !slices.Contains(e.EventTypes, et) {
		return false
	}
	return len(e.DomainIDs) == 0 || slices.Contains(e.DomainIDs, domainID)
}

// WebhookDelivery tracks one rank event addressed to one endpoint across
// its attempts.
type WebhookDelivery struct {
	ID             string
	EndpointID     string
	EventID        string
	EventType      EventType
	PayloadJSON    string
	Status         DeliveryStatus
	AttemptCount   int
	MaxAttempts    int
	NextRetryAt    time.Time
	LastAttemptAt  *time.Time
	LastHTTPStatus *int
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RankEvent is the JSON body POSTed to endpoints and signed as-is.
type RankEvent struct {
	Type      EventType     `json:"event_type"`
	ID        string        `json:"event_id"`
	Timestamp time.Time     `json:"timestamp"`
	Data      RankEventData `json:"data"`
}

// RankEventData describes the position change of one keyword.
type RankEventData struct {
	KeywordID        string `json:"keyword_id"`
	DomainID         string `json:"domain_id"`
	Domain           string `json:"domain"`
	Phrase           string `json:"phrase"`
	Country          string `json:"country"`
	Position         *int   `json:"position"`
	PreviousPosition *int   `json:"previous_position"`
	URL              string `json:"url,omitempty"`
}
