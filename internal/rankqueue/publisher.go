// Package rankqueue moves rank check jobs through a Redis stream: the
// scheduler and the API publish, workers in a consumer group check.
package rankqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rankwatch/rankwatch/internal/metrics"
)

const (
	StreamKey           = "stream:rank_checks"
	DeadLetterStreamKey = "stream:rank_checks:dlq"

	payloadField   = "payload"
	maxStreamLen   = 100_000
	maxDeadLetters = 10_000

	// publishTimeout bounds XADD so a slow Redis cannot stall the API.
	publishTimeout = 500 * time.Millisecond
)

// Publisher appends jobs to StreamKey.
type Publisher struct {
	rdb     *redis.Client
	logger  *slog.Logger
	metrics metrics.Recorder
}

// NewPublisher creates a publisher. recorder may be nil.
func NewPublisher(rdb *redis.Client, logger *slog.Logger, recorder metrics.Recorder) *Publisher {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Publisher{
		rdb:     rdb,
		logger:  logger.With("component", "rankqueue.publisher"),
		metrics: recorder,
	}
}

// Enqueue validates job, stamps it if needed and returns its stream ID.
func (p *Publisher) Enqueue(ctx context.Context, job Job) (string, error) {
	id, err := p.enqueue(ctx, job)
	if err != nil {
		p.metrics.IncRankJobEnqueued("dropped")
		return "", err
	}
	p.metrics.IncRankJobEnqueued("success")
	p.logger.Debug("rank job enqueued", "keyword_id", job.KeywordID, "reason", job.Reason, "stream_id", id)
	return id, nil
}

func (p *Publisher) enqueue(ctx context.Context, job Job) (string, error) {
	if job.EnqueuedAt == 0 {
		job.EnqueuedAt = time.Now().UnixMilli()
	}
	if err := job.Validate(); err != nil {
		return "", err
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("encode job: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	id, err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		MaxLen: maxStreamLen,
		Approx: true,
		Values: map[string]any{payloadField: string(payload)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("append job: %w", err)
	}
	return id, nil
}
