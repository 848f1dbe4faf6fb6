package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rankwatch/rankwatch/internal/auth"
	"github.com/rankwatch/rankwatch/internal/cache"
)

// Limiter spends tokens from named buckets.
type Limiter interface {
	Allow(ctx context.Context, subject string, b cache.Bucket) (*cache.RateLimitResult, error)
}

// RateLimitConfig configures both rate limiters.
type RateLimitConfig struct {
	Logger  *slog.Logger
	Limiter Limiter

	// APIEnabled limits authenticated routes per key, by the key's tier.
	APIEnabled bool

	// PublicEnabled limits unauthenticated routes per client IP.
	PublicEnabled bool
	PublicRPS     int
	PublicBurst   int
}

// RateLimitAPI limits requests per API key using the tier carried by the
// principal. It must run after Auth. Limiter failures let the request
// through.
func RateLimitAPI(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := auth.PrincipalFrom(r.Context())
			if !cfg.APIEnabled || !ok {
				next.ServeHTTP(w, r)
				return
			}

			tier := p.RateLimit()
			if tier.RequestsPerMinute == 0 {
				next.ServeHTTP(w, r)
				return
			}

			bucket := cache.PerMinute(tier.RequestsPerMinute, tier.Burst)
			if cfg.admit(w, r, cache.APIKeySubject(p.KeyID), bucket, tier.RequestsPerMinute, slog.String("key_id", p.KeyID)) {
				next.ServeHTTP(w, r)
			}
		})
	}
}

// RateLimitIP limits unauthenticated routes such as the plan catalog per
// client address.
func RateLimitIP(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.PublicEnabled {
				next.ServeHTTP(w, r)
				return
			}

			ip := getClientIP(r)
			bucket := cache.PerSecond(cfg.PublicRPS, cfg.PublicBurst)
			if cfg.admit(w, r, cache.IPSubject(ip), bucket, 0, slog.String("ip", ip)) {
				next.ServeHTTP(w, r)
			}
		})
	}
}

// admit spends a token and reports whether the request may proceed,
// writing the 429 itself when it may not. limit > 0 adds X-RateLimit-*
// headers.
func (cfg RateLimitConfig) admit(w http.ResponseWriter, r *http.Request, subject string, b cache.Bucket, limit int, who slog.Attr) bool {
	res, err := cfg.Limiter.Allow(r.Context(), subject, b)
	if err != nil {
		cfg.Logger.Error("rate limit check failed", who, slog.String("error", err.Error()))
		return true
	}

	setRateLimitHeaders(w, limit, res.Remaining, res.ResetAt)
	if res.Allowed {
		return true
	}

	cfg.Logger.Warn("rate limit exceeded",
		who,
		slog.String("endpoint", r.Method+" "+r.URL.Path),
		slog.Int64("retry_after_seconds", retrySeconds(res.RetryAfter)),
		slog.String("request_id", GetRequestID(r.Context())),
	)
	w.Header().Set("Retry-After", strconv.FormatInt(retrySeconds(res.RetryAfter), 10))
	writeRateLimitError(w, res.RetryAfter)
	return false
}

// retrySeconds rounds up so clients never retry early.
func retrySeconds(d time.Duration) int64 {
	s := int64((d + time.Second - 1) / time.Second)
	return max(s, 1)
}

func setRateLimitHeaders(w http.ResponseWriter, limit int, remaining int64, resetAt time.Time) {
	if limit <= 0 {
		return
	}
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
}

func writeRateLimitError(w http.ResponseWriter, retryAfter time.Duration) {
	writeError(w, http.StatusTooManyRequests, "RATE_LIMITED",
		fmt.Sprintf("Rate limit exceeded. Retry after %d seconds.", retrySeconds(retryAfter)))
}

// getClientIP returns the first X-Forwarded-For hop, then X-Real-IP, then
// the host part of RemoteAddr.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
