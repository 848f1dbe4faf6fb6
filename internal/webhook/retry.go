package webhook

import (
	"math/rand/v2"
	"time"
)

// DefaultMaxAttempts is the number of delivery attempts before a rank event
// is marked exhausted and only a manual retry will resend it.
const DefaultMaxAttempts = 5

// Backoff spaces out redelivery of failed rank events. Delays[i] is the
// wait after the (i+1)th failed attempt; later attempts reuse the last
// delay. Jitter is a fraction applied in both directions.
type Backoff struct {
	Delays []time.Duration
	Jitter float64

	random func() float64
}

// DefaultBackoff waits 1m, 5m, 30m, 2h then 12h, each ±20%.
func DefaultBackoff() Backoff {
	return Backoff{
		Delays: []time.Duration{
			time.Minute,
			5 * time.Minute,
			30 * time.Minute,
			2 * time.Hour,
			12 * time.Hour,
		},
		Jitter: 0.2,
	}
}

// Delay returns the wait after failedAttempts previous failures (0-based).
func (b Backoff) Delay(failedAttempts int) time.Duration {
	if len(b.Delays) == 0 {
		return 0
	}
	idx := min(max(failedAttempts, 0), len(b.Delays)-1)
	base := float64(b.Delays[idx])

	rnd := b.random
	if rnd == nil {
		rnd = rand.Float64
	}
	spread := (rnd()*2 - 1) * b.Jitter * base
	return time.Duration(base + spread)
}

// Next returns when the delivery should be attempted again.
func (b Backoff) Next(now time.Time, failedAttempts int) time.Time {
	return now.Add(b.Delay(failedAttempts))
}

// Window is the longest a delivery can stay in retry, jitter included.
func (b Backoff) Window() time.Duration {
	var total time.Duration
	for _, d := range b.Delays {
		total += d
	}
	return time.Duration(float64(total) * (1 + b.Jitter))
}

// attemptsExhausted reports whether attempts has used up the delivery's budget.
func attemptsExhausted(attempts, maxAttempts int) bool {
	return attempts >= maxAttempts
}
