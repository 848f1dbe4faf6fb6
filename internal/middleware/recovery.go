package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// Recoverer answers a panicking request with INTERNAL_ERROR and logs the
// stack. http.ErrAbortHandler keeps propagating so the connection is dropped.
func Recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	log := logger.With("component", "http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					onPanic(log, w, r, v)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func onPanic(log *slog.Logger, w http.ResponseWriter, r *http.Request, v any) {
	if err, ok := v.(error); ok && errors.Is(err, http.ErrAbortHandler) {
		panic(v)
	}
	log.Error("handler panic",
		"request_id", GetRequestID(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
		"panic", v,
		"stack", string(debug.Stack()),
	)
	if r.Header.Get("Connection") == "Upgrade" {
		return
	}
	writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
}
