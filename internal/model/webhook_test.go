package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEventTypeForChange(t *testing.T) {
	tests := []struct {
		name     string
		previous *int
		current  *int
		want     EventType
	}{
		{"lost", intPtr(4), nil, EventRankLost},
		{"found", nil, intPtr(4), EventRankFound},
		{"moved", intPtr(4), intPtr(2), EventRankChanged},
		{"still unranked", nil, nil, EventRankChanged},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EventTypeForChange(tt.previous, tt.current))
		})
	}
}

func TestEventType_Valid(t *testing.T) {
	for _, et := range RankEvents {
		assert.True(t, et.Valid(), et)
	}
	assert.False(t, EventType("keyword.deleted").Valid())
	assert.False(t, EventType("").Valid())
}

func TestDeliveryStatus_Terminal(t *testing.T) {
	assert.True(t, DeliverySucceeded.Terminal())
	assert.True(t, DeliveryExhausted.Terminal())
	assert.False(t, DeliveryPending.Terminal())
	assert.False(t, DeliveryFailed.Terminal())
}

func TestWebhookEndpoint_Wants(t *testing.T) {
	deleted := time.Now()
	tests := []struct {
		name     string
		endpoint WebhookEndpoint
		event    EventType
		domainID string
		want     bool
	}{
		{
			name:     "all domains",
			endpoint: WebhookEndpoint{Enabled: true, EventTypes: RankEvents},
			event:    EventRankLost,
			domainID: "dom_1",
			want:     true,
		},
		{
			name:     "unsubscribed event",
			endpoint: WebhookEndpoint{Enabled: true, EventTypes: []EventType{EventRankFound}},
			event:    EventRankLost,
			domainID: "dom_1",
		},
		{
			name:     "scoped to the domain",
			endpoint: WebhookEndpoint{Enabled: true, EventTypes: RankEvents, DomainIDs: []string{"dom_1", "dom_2"}},
			event:    EventRankChanged,
			domainID: "dom_2",
			want:     true,
		},
		{
			name:     "scoped to other domains",
			endpoint: WebhookEndpoint{Enabled: true, EventTypes: RankEvents, DomainIDs: []string{"dom_1"}},
			event:    EventRankChanged,
			domainID: "dom_9",
		},
		{
			name:     "disabled",
			endpoint: WebhookEndpoint{EventTypes: RankEvents},
			event:    EventRankChanged,
		},
		{
			name:     "deleted",
			endpoint: WebhookEndpoint{Enabled: true, EventTypes: RankEvents, DeletedAt: &deleted},
			event:    EventRankChanged,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.endpoint.Wants(tt.event, tt.domainID))
		})
	}
}
