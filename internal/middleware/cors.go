package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// CORSConfig lists what browsers on other origins may do with the API.
type CORSConfig struct {
	// AllowedOrigins accepts exact origins and one-wildcard patterns such
	// as https://*.example.com. Empty disables cross-origin access.
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	ExposedHeaders []string
	// MaxAge caches preflight results, in seconds.
	MaxAge int
}

// DefaultCORSConfig allows nothing cross-origin until origins are set.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete,
		},
		AllowedHeaders: []string{
			"Accept", "Accept-Language", "Content-Type",
			"Authorization", "X-API-Key", RequestIDHeader,
		},
		ExposedHeaders: []string{
			RequestIDHeader,
			"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset",
			"Retry-After",
		},
		MaxAge: 86400,
	}
}

// CORS answers preflights and decorates responses for allowed origins.
// API keys travel in headers, so credentials mode stays off.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	if len(cfg.AllowedOrigins) == 0 {
		// rs/cors treats an empty list as "*".
		return func(next http.Handler) http.Handler { return next }
	}
	return cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   cfg.AllowedMethods,
		AllowedHeaders:   cfg.AllowedHeaders,
		ExposedHeaders:   cfg.ExposedHeaders,
		MaxAge:           cfg.MaxAge,
		AllowCredentials: false,
	}).Handler
}
