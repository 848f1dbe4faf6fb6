package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rankwatch/rankwatch/internal/auth"
	"github.com/rankwatch/rankwatch/internal/model"
)

const (
	// minAuthDuration pads every authentication attempt so that failures
	// and successes take the same time.
	minAuthDuration = 200 * time.Millisecond

	touchTimeout = 5 * time.Second
)

// KeyStore looks up stored API keys.
type KeyStore interface {
	GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]*model.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, keyID string) error
}

// PrincipalCache caches resolved principals by key fingerprint.
type PrincipalCache interface {
	GetPrincipal(ctx context.Context, fingerprint string) (*model.Principal, error)
	SetPrincipal(ctx context.Context, fingerprint string, p *model.Principal) error
}

// AuthConfig holds the dependencies of the auth middleware.
type AuthConfig struct {
	Logger *slog.Logger
	Keys   KeyStore
	Cache  PrincipalCache
}

// Auth resolves the API key presented in Authorization: Bearer or
// X-API-Key into a principal and stores it on the request context. Every
// failure answers with the same 401 body.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	logger := cfg.Logger.With("component", "auth")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			defer func() {
				if wait := minAuthDuration - time.Since(start); wait > 0 {
					time.Sleep(wait)
				}
			}()

			p, cached, reason := cfg.resolve(r.Context(), extractAPIKey(r), logger)
			if p == nil {
				logger.Warn("authentication failed",
					slog.String("reason", reason),
					slog.String("ip", r.RemoteAddr),
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				writeAuthError(w)
				return
			}

			logger.Debug("authenticated",
				slog.String("key_id", p.KeyID),
				slog.String("key_prefix", p.KeyPrefix),
				slog.String("user_id", p.UserID),
				slog.Bool("cache_hit", cached),
				slog.String("request_id", GetRequestID(r.Context())),
			)
			recordKeyID(r.Context(), p.KeyID)
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
		})
	}
}

// resolve returns the principal for key, whether it came from the cache,
// and a failure reason for the log when it returns nil.
func (cfg AuthConfig) resolve(ctx context.Context, key string, logger *slog.Logger) (*model.Principal, bool, string) {
	if key == "" {
		return nil, false, "missing_key"
	}
	parsed, err := auth.ParseKey(key)
	if err != nil {
		return nil, false, "invalid_format"
	}

	fingerprint := auth.Fingerprint(key)
	if p, err := cfg.Cache.GetPrincipal(ctx, fingerprint); err == nil && p != nil {
		return p, true, ""
	}

	candidates, err := cfg.Keys.GetAPIKeysByPrefix(ctx, parsed.Prefix)
	if err != nil {
		logger.Error("key lookup failed", slog.String("error", err.Error()))
		return nil, false, "lookup_error"
	}

	// Prefixes are short enough to collide, so every candidate is checked.
	var matched *model.APIKey
	for _, k := range candidates {
		if ok, err := auth.Verify(key, k.KeyHash); err == nil && ok {
			matched = k
			break
		}
	}
	if matched == nil {
		return nil, false, "invalid_key"
	}

	p := model.PrincipalFor(matched)
	if err := cfg.Cache.SetPrincipal(ctx, fingerprint, p); err != nil {
		logger.Warn("cache principal failed", slog.String("error", err.Error()))
	}

	go func(keyID string) {
		touchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), touchTimeout)
		defer cancel()
		if err := cfg.Keys.UpdateAPIKeyLastUsed(touchCtx, keyID); err != nil {
			logger.Warn("touch api key failed", slog.String("key_id", keyID), slog.String("error", err.Error()))
		}
	}(matched.ID)

	return p, false, ""
}

// extractAPIKey prefers a Bearer token and falls back to X-API-Key.
func extractAPIKey(r *http.Request) string {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return token
	}
	return r.Header.Get("X-API-Key")
}

func writeAuthError(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or missing API key")
}
