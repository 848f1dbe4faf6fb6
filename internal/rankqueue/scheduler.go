package rankqueue

import (
	"context"
	"log/slog"
	"time"

	"github.com/rankwatch/rankwatch/internal/model"
)

// DueClaimer leases keywords whose next check time has passed. A leased
// keyword is not returned again until the lease runs out, so a job lost on
// the way is rescheduled by itself.
type DueClaimer interface {
	ClaimDueKeywords(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*model.Keyword, error)
}

// Enqueuer publishes jobs to the stream.
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job) (string, error)
}

// Scheduler turns due keywords into queued jobs on a fixed tick.
type Scheduler struct {
	keywords DueClaimer
	queue    Enqueuer
	logger   *slog.Logger
	every    time.Duration
	batch    int
	lease    time.Duration
	now      func() time.Time
}

// NewScheduler polls every minute, claims up to 100 keywords per query and
// leases them for 30 minutes.
func NewScheduler(keywords DueClaimer, queue Enqueuer, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		keywords: keywords,
		queue:    queue,
		logger:   logger.With("component", "rankqueue.scheduler"),
		every:    time.Minute,
		batch:    100,
		lease:    30 * time.Minute,
		now:      time.Now,
	}
}

func (s *Scheduler) SetInterval(every time.Duration) {
	if every > 0 {
		s.every = every
	}
}

func (s *Scheduler) SetBatchSize(n int) {
	if n > 0 {
		s.batch = n
	}
}

// SetLease should exceed the time a job needs to get through the queue.
func (s *Scheduler) SetLease(lease time.Duration) {
	if lease > 0 {
		s.lease = lease
	}
}

// Run schedules once immediately and then on every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("rank scheduler started", "interval", s.every, "batch_size", s.batch)

	tick := time.NewTicker(s.every)
	defer tick.Stop()
	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("schedule due keywords", "error", err)
		}
		select {
		case <-ctx.Done():
			s.logger.Info("rank scheduler stopped")
			return nil
		case <-tick.C:
		}
	}
}

// RunOnce keeps claiming until a batch comes back short and returns how many
// jobs it enqueued. A keyword whose job cannot be published stays leased and
// is picked up after the lease.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	var queued int
	defer func() {
		if queued > 0 {
			s.logger.Info("due keywords enqueued", "count", queued)
		}
	}()

	for {
		due, err := s.keywords.ClaimDueKeywords(ctx, s.now(), s.lease, s.batch)
		if err != nil {
			return queued, err
		}
		for _, kw := range due {
			if _, err := s.queue.Enqueue(ctx, NewJob(kw.ID, kw.OwnerID, ReasonScheduled)); err != nil {
				s.logger.Warn("enqueue due keyword", "keyword_id", kw.ID, "error", err)
				continue
			}
			queued++
		}
		if len(due) < s.batch {
			return queued, nil
		}
		if err := ctx.Err(); err != nil {
			return queued, err
		}
	}
}
