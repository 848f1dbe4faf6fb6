// Package middleware provides the HTTP middleware chain of the Rankwatch API.
package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// Correlation headers echoed on every response.
const (
	RequestIDHeader = "X-Request-ID"
	TraceIDHeader   = "X-Trace-ID"
)

// maxInboundIDLen bounds caller-supplied correlation IDs.
const maxInboundIDLen = 128

// requestMeta is shared by the middleware chain for one request. The auth
// middleware fills keyID so the access log can attribute the request.
type requestMeta struct {
	id      string
	traceID string
	keyID   string
}

type metaKey struct{}

// RequestID assigns each request a correlation ID, reusing a well-formed
// X-Request-ID from the caller and minting a UUID otherwise.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		meta := &requestMeta{
			id:      inboundID(r.Header.Get(RequestIDHeader)),
			traceID: inboundID(r.Header.Get(TraceIDHeader)),
		}
		if meta.id == "" {
			meta.id = uuid.NewString()
		}

		w.Header().Set(RequestIDHeader, meta.id)
		if meta.traceID != "" {
			w.Header().Set(TraceIDHeader, meta.traceID)
		}

		ctx := context.WithValue(r.Context(), metaKey{}, meta)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// inboundID drops caller IDs that are too long or not printable ASCII so
// they cannot inject into logs or headers.
func inboundID(v string) string {
	if len(v) > maxInboundIDLen {
		return ""
	}
	for i := 0; i < len(v); i++ {
		if v[i] < 0x21 || v[i] > 0x7e {
			return ""
		}
	}
	return v
}

func metaFrom(ctx context.Context) *requestMeta {
	meta, _ := ctx.Value(metaKey{}).(*requestMeta)
	return meta
}

// GetRequestID returns the request's correlation ID, or "".
func GetRequestID(ctx context.Context) string {
	if meta := metaFrom(ctx); meta != nil {
		return meta.id
	}
	return ""
}

// GetTraceID returns the caller-supplied trace ID, or "".
func GetTraceID(ctx context.Context) string {
	if meta := metaFrom(ctx); meta != nil {
		return meta.traceID
	}
	return ""
}

func recordKeyID(ctx context.Context, keyID string) {
	if meta := metaFrom(ctx); meta != nil {
		meta.keyID = keyID
	}
}
