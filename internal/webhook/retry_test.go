package webhook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_DelayBounds(t *testing.T) {
	b := DefaultBackoff()

	tests := []struct {
		failed int
		base   time.Duration
	}{
		{-1, time.Minute},
		{0, time.Minute},
		{1, 5 * time.Minute},
		{2, 30 * time.Minute},
		{3, 2 * time.Hour},
		{4, 12 * time.Hour},
		{9, 12 * time.Hour},
	}

	for _, tt := range tests {
		for i := 0; i < 20; i++ {
			d := b.Delay(tt.failed)
			assert.GreaterOrEqual(t, d, time.Duration(float64(tt.base)*0.8), "failed=%d", tt.failed)
			assert.LessOrEqual(t, d, time.Duration(float64(tt.base)*1.2), "failed=%d", tt.failed)
		}
	}
}

func TestBackoff_JitterExtremes(t *testing.T) {
	b := Backoff{Delays: []time.Duration{10 * time.Minute}, Jitter: 0.5}

	b.random = func() float64 { return 0 }
	assert.Equal(t, 5*time.Minute, b.Delay(0))

	b.random = func() float64 { return 0.5 }
	assert.Equal(t, 10*time.Minute, b.Delay(3))

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, now.Add(10*time.Minute), b.Next(now, 0))
}

func TestBackoff_Empty(t *testing.T) {
	assert.Zero(t, Backoff{}.Delay(2))
	assert.Zero(t, Backoff{}.Window())
}

func TestBackoff_Window(t *testing.T) {
	b := DefaultBackoff()
	sum := time.Minute + 5*time.Minute + 30*time.Minute + 2*time.Hour + 12*time.Hour
	assert.Equal(t, time.Duration(float64(sum)*1.2), b.Window())
}

func TestAttemptsExhausted(t *testing.T) {
	assert.False(t, attemptsExhausted(0, DefaultMaxAttempts))
	assert.False(t, attemptsExhausted(4, DefaultMaxAttempts))
	assert.True(t, attemptsExhausted(5, DefaultMaxAttempts))
	assert.True(t, attemptsExhausted(1, 1))
}
