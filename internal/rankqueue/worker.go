package rankqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/rankwatch/rankwatch/internal/metrics"
)

// ConsumerGroup is shared by every process consuming StreamKey.
const ConsumerGroup = "rank_workers"

// Checker performs the rank check for one keyword.
type Checker interface {
	CheckKeyword(ctx context.Context, keywordID string) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context, keywordID string) error

func (f CheckerFunc) CheckKeyword(ctx context.Context, keywordID string) error {
	return f(ctx, keywordID)
}

// WorkerConfig tunes a Worker. Zero fields take the defaults listed.
type WorkerConfig struct {
	// Consumer names this process in the group. Defaults to host, pid and a
	// random suffix.
	Consumer string
	// BatchSize caps the jobs read per XREADGROUP. Default 10.
	BatchSize int
	// Concurrency caps the jobs of a batch checked at once. Default 4.
	Concurrency int
	// Block is how long a read waits for new jobs. Default 5s.
	Block time.Duration
	// MaxDeliveries moves a job to the dead-letter stream once it has been
	// delivered more often than this. Default 5.
	MaxDeliveries int64
	// ClaimEvery is how often pending jobs of dead consumers are taken over.
	// Default 30s.
	ClaimEvery time.Duration
	// ClaimIdle is how long a job must sit unacknowledged before it can be
	// taken over. It must exceed the slowest scrape including retries.
	// Default 5m.
	ClaimIdle time.Duration
	// DepthEvery is how often the queue depth gauge is refreshed. Default 5s.
	DepthEvery time.Duration
	// Permanent reports errors that retrying cannot fix. Such jobs are
	// acknowledged and dropped. Default: none are permanent.
	Permanent func(error) bool
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.Consumer == "" {
		c.Consumer = defaultConsumer()
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.Block <= 0 {
		c.Block = 5 * time.Second
	}
	if c.MaxDeliveries <= 0 {
		c.MaxDeliveries = 5
	}
	if c.ClaimEvery <= 0 {
		c.ClaimEvery = 30 * time.Second
	}
	if c.ClaimIdle <= 0 {
		c.ClaimIdle = 5 * time.Minute
	}
	if c.DepthEvery <= 0 {
		c.DepthEvery = 5 * time.Second
	}
	if c.Permanent == nil {
		c.Permanent = func(error) bool { return false }
	}
	return c
}

func defaultConsumer() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "rankwatch"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), strings.ToLower(ulid.Make().String()[20:]))
}

// outcome labels the rank_jobs_processed_total counter.
type outcome string

const (
	outcomeSuccess      outcome = "success"
	outcomeDropped      outcome = "failed"
	outcomeRetry        outcome = "retry"
	outcomeDeadLettered outcome = "dead_lettered"
	outcomeAbandoned    outcome = ""
)

// Worker consumes rank check jobs from StreamKey as one member of
// ConsumerGroup. A job stays pending until its check succeeds or fails
// permanently; pending jobs idle for too long are taken over by whichever
// consumer claims next.
type Worker struct {
	rdb     *redis.Client
	checker Checker
	cfg     WorkerConfig
	logger  *slog.Logger
	metrics metrics.Recorder

	claimCursor string
	nextClaim   time.Time
	nextDepth   time.Time
}

// NewWorker creates a worker. recorder may be nil.
func NewWorker(rdb *redis.Client, checker Checker, cfg WorkerConfig, logger *slog.Logger, recorder metrics.Recorder) *Worker {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	cfg = cfg.withDefaults()
	return &Worker{
		rdb:         rdb,
		checker:     checker,
		cfg:         cfg,
		logger:      logger.With("component", "rankqueue.worker", "consumer", cfg.Consumer),
		metrics:     recorder,
		claimCursor: "0-0",
	}
}

// Run consumes jobs until ctx is cancelled. Jobs in flight when that happens
// stay pending for another consumer.
func (w *Worker) Run(ctx context.Context) error {
	err := w.rdb.XGroupCreateMkStream(ctx, StreamKey, ConsumerGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}

	w.logger.Info("rank worker started",
		"concurrency", w.cfg.Concurrency,
		"batch_size", w.cfg.BatchSize,
	)
	for ctx.Err() == nil {
		if err := w.poll(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("poll rank jobs", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
	w.logger.Info("rank worker stopped")
	return nil
}

// poll checks one batch: taken-over jobs when there are any, fresh ones
// otherwise.
func (w *Worker) poll(ctx context.Context) error {
	now := time.Now()
	if !now.Before(w.nextDepth) {
		w.nextDepth = now.Add(w.cfg.DepthEvery)
		w.reportDepth(ctx)
	}

	var batch []redis.XMessage
	if !now.Before(w.nextClaim) {
		w.nextClaim = now.Add(w.cfg.ClaimEvery)
		claimed, err := w.claimStale(ctx)
		if err != nil {
			w.logger.Warn("claim stale rank jobs", "error", err)
		}
		batch = claimed
	}
	if len(batch) == 0 {
		fresh, err := w.read(ctx)
		if err != nil {
			return err
		}
		batch = fresh
	}

	sem := make(chan struct{}, w.cfg.Concurrency)
	var wg sync.WaitGroup
	for _, msg := range batch {
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if o := w.process(ctx, msg); o != outcomeAbandoned {
				w.metrics.IncRankJobProcessed(string(o))
			}
		}()
	}
	wg.Wait()
	return nil
}

func (w *Worker) process(ctx context.Context, msg redis.XMessage) outcome {
	job, err := decodeMessage(msg)
	if err != nil {
		return w.deadLetter(ctx, msg, "invalid_payload", err.Error())
	}

	start := time.Now()
	err = w.checker.CheckKeyword(ctx, job.KeywordID)
	log := w.logger.With("keyword_id", job.KeywordID, "message_id", msg.ID)

	switch {
	case err == nil:
		log.Debug("rank job done",
			"reason", job.Reason,
			"queue_lag_ms", job.Age(start).Milliseconds(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		w.ack(ctx, msg.ID)
		return outcomeSuccess
	case ctx.Err() != nil:
		return outcomeAbandoned
	case w.cfg.Permanent(err):
		log.Warn("rank job dropped", "error", err)
		w.ack(ctx, msg.ID)
		return outcomeDropped
	default:
		log.Warn("rank job failed, left pending", "error", err)
		return outcomeRetry
	}
}

func decodeMessage(msg redis.XMessage) (Job, error) {
	raw, ok := msg.Values[payloadField].(string)
	if !ok {
		return Job{}, fmt.Errorf("%w: no %s field", ErrInvalidJob, payloadField)
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return Job{}, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	return job, job.Validate()
}

func (w *Worker) read(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := w.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    ConsumerGroup,
		Consumer: w.cfg.Consumer,
		Streams:  []string{StreamKey, ">"},
		Count:    int64(w.cfg.BatchSize),
		Block:    w.cfg.Block,
	}).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("read group: %w", err)
	case len(streams) == 0:
		return nil, nil
	}
	return streams[0].Messages, nil
}

// claimStale takes over jobs idle longer than ClaimIdle. The scan resumes
// where the previous one stopped. Jobs past MaxDeliveries are dead-lettered
// instead of returned.
func (w *Worker) claimStale(ctx context.Context) ([]redis.XMessage, error) {
	msgs, cursor, err := w.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   StreamKey,
		Group:    ConsumerGroup,
		Consumer: w.cfg.Consumer,
		MinIdle:  w.cfg.ClaimIdle,
		Start:    w.claimCursor,
		Count:    int64(w.cfg.BatchSize),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("autoclaim: %w", err)
	}
	if cursor != "" {
		w.claimCursor = cursor
	}

	live := msgs[:0]
	for _, msg := range msgs {
		if n := w.deliveries(ctx, msg.ID); n > w.cfg.MaxDeliveries {
			w.metrics.IncRankJobProcessed(string(w.deadLetter(ctx, msg, "max_deliveries",
				fmt.Sprintf("delivered %d times", n))))
			continue
		}
		live = append(live, msg)
	}
	return live, nil
}

// deliveries returns 0 when the count cannot be read, so the job is retried.
func (w *Worker) deliveries(ctx context.Context, id string) int64 {
	pending, err := w.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: StreamKey,
		Group:  ConsumerGroup,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		return 0
	}
	return pending[0].RetryCount
}

func (w *Worker) reportDepth(ctx context.Context) {
	groups, err := w.rdb.XInfoGroups(ctx, StreamKey).Result()
	if err != nil {
		w.logger.Warn("read consumer groups", "error", err)
		return
	}
	for _, g := range groups {
		if g.Name == ConsumerGroup {
			w.metrics.SetRankQueueDepth(g.Pending + g.Lag)
			return
		}
	}
}

// deadLetter copies msg to DeadLetterStreamKey and acknowledges it. When the
// copy fails the job stays pending and is retried instead.
func (w *Worker) deadLetter(ctx context.Context, msg redis.XMessage, reason, detail string) outcome {
	err := w.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: DeadLetterStreamKey,
		MaxLen: maxDeadLetters,
		Approx: true,
		Values: map[string]any{
			"original_id":      msg.ID,
			"reason":           reason,
			"detail":           detail,
			payloadField:       fmt.Sprint(msg.Values[payloadField]),
			"dead_lettered_at": time.Now().UTC().Format(time.RFC3339),
		},
	}).Err()
	if err != nil {
		w.logger.Error("dead-letter rank job", "message_id", msg.ID, "error", err)
		return outcomeRetry
	}

	w.logger.Warn("rank job dead-lettered", "message_id", msg.ID, "reason", reason, "detail", detail)
	w.ack(ctx, msg.ID)
	return outcomeDeadLettered
}

func (w *Worker) ack(ctx context.Context, id string) {
	if err := w.rdb.XAck(ctx, StreamKey, ConsumerGroup, id).Err(); err != nil {
		w.logger.Error("ack rank job", "message_id", id, "error", err)
	}
}
