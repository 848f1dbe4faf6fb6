package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rankwatch/rankwatch/internal/metrics"
	"github.com/rankwatch/rankwatch/internal/model"
)

// Worker defaults.
const (
	DefaultBatchSize       = 50
	DefaultConcurrency     = 8
	DefaultPollInterval    = 5 * time.Second
	DefaultMetricsInterval = 10 * time.Second
	DefaultClaimLease      = 2 * time.Minute
	DefaultRetention       = 30 * 24 * time.Hour

	purgeInterval = time.Hour
)

// drainLimit bounds how much of a receiver's response body is read.
const drainLimit = 4 << 10

// DeliveryStore is the persistence the Worker needs.
type DeliveryStore interface {
	ClaimPendingDeliveries(ctx context.Context, limit int, lease time.Duration) ([]*model.WebhookDelivery, error)
	GetEndpoint(ctx context.Context, id string) (*model.WebhookEndpoint, error)
	UpdateDeliverySuccess(ctx context.Context, id string, httpStatus int) error
	UpdateDeliveryFailure(ctx context.Context, id string, httpStatus *int, errMsg string, nextRetryAt time.Time, exhausted bool) error
	GetQueueDepth(ctx context.Context) (int64, error)
	PurgeDeliveries(ctx context.Context, cutoff time.Time) (int64, error)
}

// Worker polls for due deliveries and POSTs them to their endpoints.
type Worker struct {
	store   DeliveryStore
	client  *http.Client
	logger  *slog.Logger
	metrics metrics.Recorder
	backoff Backoff

	batchSize       int
	concurrency     int
	pollInterval    time.Duration
	metricsInterval time.Duration
	claimLease      time.Duration
	retention       time.Duration

	lastMetrics time.Time
	lastPurge   time.Time
	running     atomic.Bool
}

// NewWorker creates a delivery worker. The HTTP client enforces policy on
// every connection.
func NewWorker(store DeliveryStore, policy TargetPolicy, logger *slog.Logger, recorder metrics.Recorder) *Worker {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Worker{
		store:           store,
		client:          NewHTTPClient(policy),
		logger:          logger.With("component", "webhook.worker"),
		metrics:         recorder,
		backoff:         DefaultBackoff(),
		batchSize:       DefaultBatchSize,
		concurrency:     DefaultConcurrency,
		pollInterval:    DefaultPollInterval,
		metricsInterval: DefaultMetricsInterval,
		claimLease:      DefaultClaimLease,
		retention:       DefaultRetention,
	}
}

// Run polls until ctx is cancelled. A Worker runs at most once.
func (w *Worker) Run(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return errors.New("webhook worker already started")
	}

	w.logger.Info("webhook worker started",
		"poll_interval", w.pollInterval,
		"batch_size", w.batchSize,
		"concurrency", w.concurrency,
	)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("webhook worker stopping")
			return nil
		case <-ticker.C:
			if _, err := w.ProcessOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("webhook poll failed", "error", err)
			}
		}
	}
}

// ProcessOnce claims one batch of due deliveries, sends them with bounded
// parallelism and returns how many were attempted.
func (w *Worker) ProcessOnce(ctx context.Context) (int, error) {
	w.reportQueueDepth(ctx)
	w.purgeExpired(ctx)

	batch, err := w.store.ClaimPendingDeliveries(ctx, w.batchSize, w.claimLease)
	if err != nil {
		return 0, fmt.Errorf("claim deliveries: %w", err)
	}

	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup
	for _, d := range batch {
		sem <- struct{}{}
		wg.Add(1)
		go func(d *model.WebhookDelivery) {
			defer func() { <-sem; wg.Done() }()
			if err := w.deliver(ctx, d); err != nil && ctx.Err() == nil {
				w.logger.Warn("record delivery outcome", "delivery_id", d.ID, "error", err)
			}
		}(d)
	}
	wg.Wait()
	return len(batch), nil
}

// deliver makes one attempt and records its outcome.
func (w *Worker) deliver(ctx context.Context, d *model.WebhookDelivery) error {
	endpoint, err := w.store.GetEndpoint(ctx, d.EndpointID)
	switch {
	case errors.Is(err, ErrEndpointNotFound):
		return w.abandon(ctx, d, "endpoint deleted")
	case err != nil:
		return err
	case !endpoint.Active():
		return w.abandon(ctx, d, "endpoint disabled")
	}

	body := []byte(d.PayloadJSON)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.TargetURL, bytes.NewReader(body))
	if err != nil {
		return w.fail(ctx, d, nil, "build request: "+err.Error())
	}
	NewSigner(endpoint.SecretHash).Sign(req, body, d)

	start := time.Now()
	resp, err := w.client.Do(req)
	elapsed := time.Since(start)
	w.metrics.ObserveWebhookDeliveryDuration(endpoint.ID, elapsed)

	if err != nil {
		if ctx.Err() != nil {
			// Shutting down. The claim lease runs out and the delivery is
			// picked up again.
			return ctx.Err()
		}
		return w.fail(ctx, d, nil, err.Error())
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, drainLimit))
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		status := resp.StatusCode
		return w.fail(ctx, d, &status, fmt.Sprintf("HTTP %d", status))
	}

	w.logger.Info("webhook delivered",
		"delivery_id", d.ID,
		"event_type", d.EventType,
		"target_host", ExtractHost(endpoint.TargetURL),
		"http_status", resp.StatusCode,
		"duration_ms", elapsed.Milliseconds(),
	)
	w.metrics.IncWebhookDelivery(string(model.DeliverySucceeded), endpoint.ID)
	return w.store.UpdateDeliverySuccess(ctx, d.ID, resp.StatusCode)
}

// abandon exhausts a delivery whose endpoint can no longer receive it.
func (w *Worker) abandon(ctx context.Context, d *model.WebhookDelivery, reason string) error {
	w.metrics.IncWebhookDelivery(string(model.DeliveryExhausted), d.EndpointID)
	return w.store.UpdateDeliveryFailure(ctx, d.ID, nil, reason, time.Now(), true)
}

// fail records a failed attempt and schedules the next one, or exhausts the
// delivery when its attempts are used up.
func (w *Worker) fail(ctx context.Context, d *model.WebhookDelivery, httpStatus *int, reason string) error {
	attempt := d.AttemptCount + 1
	exhausted := attemptsExhausted(attempt, d.MaxAttempts)

	outcome := model.DeliveryFailed
	if exhausted {
		outcome = model.DeliveryExhausted
	} else {
		w.metrics.IncWebhookRetry(d.EndpointID, attempt)
	}
	w.metrics.IncWebhookDelivery(string(outcome), d.EndpointID)

	w.logger.Warn("webhook delivery failed",
		"delivery_id", d.ID,
		"attempt", attempt,
		"exhausted", exhausted,
		"error", reason,
	)
	return w.store.UpdateDeliveryFailure(ctx, d.ID, httpStatus, reason, w.backoff.Next(time.Now(), d.AttemptCount), exhausted)
}

func (w *Worker) reportQueueDepth(ctx context.Context) {
	if time.Since(w.lastMetrics) < w.metricsInterval {
		return
	}
	w.lastMetrics = time.Now()

	depth, err := w.store.GetQueueDepth(ctx)
	if err != nil {
		w.logger.Warn("read webhook queue depth", "error", err)
		return
	}
	w.metrics.SetWebhookQueueDepth(depth)
}

// purgeExpired drops finished deliveries older than the retention period,
// at most once per purgeInterval.
func (w *Worker) purgeExpired(ctx context.Context) {
	if time.Since(w.lastPurge) < purgeInterval {
		return
	}
	w.lastPurge = time.Now()

	n, err := w.store.PurgeDeliveries(ctx, w.lastPurge.Add(-w.retention))
	if err != nil {
		w.logger.Warn("purge webhook deliveries", "error", err)
		return
	}
	if n > 0 {
		w.logger.Info("purged webhook deliveries", "count", n, "retention", w.retention)
	}
}

// SetBatchSize overrides how many deliveries are claimed per poll.
func (w *Worker) SetBatchSize(size int) {
	if size > 0 {
		w.batchSize = size
	}
}

// SetConcurrency overrides how many deliveries are sent at once.
func (w *Worker) SetConcurrency(n int) {
	if n > 0 {
		w.concurrency = n
	}
}

// SetPollInterval overrides the time between polls.
func (w *Worker) SetPollInterval(interval time.Duration) {
	if interval > 0 {
		w.pollInterval = interval
	}
}

// SetClaimLease overrides how long claimed deliveries stay hidden.
func (w *Worker) SetClaimLease(lease time.Duration) {
	if lease > 0 {
		w.claimLease = lease
	}
}

// SetBackoff replaces the retry schedule.
func (w *Worker) SetBackoff(b Backoff) {
	if len(b.Delays) > 0 {
		w.backoff = b
	}
}

// SetRetention overrides how long finished deliveries are kept.
func (w *Worker) SetRetention(d time.Duration) {
	if d > 0 {
		w.retention = d
	}
}
