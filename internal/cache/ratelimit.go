package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const rateLimitPrefix = "ratelimit:"

// Bucket is a token bucket refilled at Rate tokens per second up to Burst.
// Idle buckets expire after Idle.
type Bucket struct {
	Rate  float64
	Burst int
	Idle  time.Duration
}

// PerMinute is the bucket of an API key tier.
func PerMinute(requests, burst int) Bucket {
	return Bucket{Rate: float64(requests) / 60, Burst: burst, Idle: 2 * time.Minute}
}

// PerSecond is the bucket of a public, per-IP route.
func PerSecond(requests, burst int) Bucket {
	return Bucket{Rate: float64(requests), Burst: burst, Idle: 10 * time.Second}
}

// RateLimitResult is the outcome of taking one token.
type RateLimitResult struct {
	Allowed    bool
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// APIKeySubject names the bucket of an API key.
func APIKeySubject(keyID string) string {
	return "apikey:" + keyID
}

// IPSubject names the bucket of a client address. The address is hashed
// so raw IPs are never written to Redis.
func IPSubject(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return "ip:" + hex.EncodeToString(sum[:8])
}

// takeToken refills and spends atomically. Times are in milliseconds.
// Returns {allowed, retry_after_ms, remaining}.
var takeToken = redis.NewScript(`
local rate_ms = tonumber(ARGV[1]) / 1000
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local idle = tonumber(ARGV[4])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'at')
local tokens = tonumber(state[1]) or burst
local at = tonumber(state[2]) or now
if now > at then
  tokens = math.min(burst, tokens + (now - at) * rate_ms)
end

local allowed = 0
local retry = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
else
  retry = math.ceil((1 - tokens) / rate_ms)
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'at', now)
redis.call('PEXPIRE', KEYS[1], idle)
return {allowed, retry, math.floor(tokens)}
`)

// Allow spends one token from subject's bucket. A zero Rate is unlimited
// and never touches Redis.
func (c *Cache) Allow(ctx context.Context, subject string, b Bucket) (*RateLimitResult, error) {
	now := time.Now()
	if b.Rate <= 0 {
		return &RateLimitResult{Allowed: true, Remaining: int64(b.Burst), ResetAt: now}, nil
	}

	out, err := takeToken.Run(ctx, c.client,
		[]string{rateLimitPrefix + subject},
		b.Rate, b.Burst, now.UnixMilli(), b.Idle.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("take token: %w", err)
	}

	res := &RateLimitResult{
		Allowed:    out[0] == 1,
		Remaining:  out[2],
		RetryAfter: time.Duration(out[1]) * time.Millisecond,
	}
	// Time until the bucket is full again.
	missing := float64(int64(b.Burst) - res.Remaining)
	res.ResetAt = now.Add(time.Duration(missing / b.Rate * float64(time.Second)))
	return res, nil
}
