package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rankwatch/rankwatch/internal/model"
)

// EventStore finds interested endpoints and queues deliveries.
type EventStore interface {
	ListSubscribedEndpoints(ctx context.Context, userID string, eventType model.EventType, domainID string) ([]*model.WebhookEndpoint, error)
	CreateDelivery(ctx context.Context, delivery *model.WebhookDelivery) (bool, error)
}

// Publisher turns rank events into pending deliveries. Sending them is the
// Worker's job.
type Publisher struct {
	store  EventStore
	logger *slog.Logger
	now    func() time.Time
}

// NewPublisher creates a publisher.
func NewPublisher(store EventStore, logger *slog.Logger) *Publisher {
	return &Publisher{
		store:  store,
		logger: logger.With("component", "webhook.publisher"),
		now:    time.Now,
	}
}

// PublishRankEvent queues one delivery per endpoint of userID that wants
// eventType for data.DomainID. Every delivery carries the same event ID and
// body. Failing to queue for one endpoint does not stop the others; the
// failures are returned together.
func (p *Publisher) PublishRankEvent(ctx context.Context, userID string, eventType model.EventType, data model.RankEventData) error {
	if !eventType.Valid() {
		return fmt.Errorf("unknown event type %q", eventType)
	}

	endpoints, err := p.store.ListSubscribedEndpoints(ctx, userID, eventType, data.DomainID)
	if err != nil {
		return fmt.Errorf("list subscribed endpoints: %w", err)
	}
	if len(endpoints) == 0 {
		return nil
	}

	now := p.now().UTC()
	event := model.RankEvent{
		Type:      eventType,
		ID:        ulid.Make().String(),
		Timestamp: now,
		Data:      data,
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal rank event: %w", err)
	}

	var errs []error
	for _, endpoint := range endpoints {
		delivery := &model.WebhookDelivery{
			ID:          ulid.Make().String(),
			EndpointID:  endpoint.ID,
			EventID:     event.ID,
			EventType:   eventType,
			PayloadJSON: string(body),
			Status:      model.DeliveryPending,
			MaxAttempts: DefaultMaxAttempts,
			NextRetryAt: now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if _, err := p.store.CreateDelivery(ctx, delivery); err != nil {
			errs = append(errs, fmt.Errorf("queue delivery to %s: %w", endpoint.ID, err))
			continue
		}
		p.logger.Debug("webhook delivery queued",
			"delivery_id", delivery.ID,
			"endpoint_id", endpoint.ID,
			"event_id", event.ID,
			"event_type", eventType,
		)
	}
	return errors.Join(errs...)
}
