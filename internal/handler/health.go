package handler

import (
	"context"
	"net/http"
	"time"
)

// readyTimeout bounds each dependency probe.
const readyTimeout = 2 * time.Second

// HealthChecker is a dependency that can be pinged.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type dependency struct {
	name    string
	checker HealthChecker
}

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	deps []dependency
	info map[string]string
}

// NewHealthHandler probes Postgres and Redis on readiness. A nil checker
// is reported as "not configured" and does not fail the probe.
func NewHealthHandler(db, cache HealthChecker) *HealthHandler {
	return &HealthHandler{
		deps: []dependency{{"postgres", db}, {"redis", cache}},
		info: map[string]string{},
	}
}

// WithInfo adds an informational readiness entry that never fails the
// probe, such as whether live rank checks are enabled.
func (h *HealthHandler) WithInfo(name, value string) *HealthHandler {
	h.info[name] = value
	return h
}

// HealthResponse is the body of both probes.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Healthz reports that the process is serving. GET /healthz
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Readyz pings every dependency and answers 503 if any is down. Error
// details stay out of the public body. GET /readyz
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Checks: make(map[string]string, len(h.deps)+len(h.info))}
	for name, value := range h.info {
		resp.Checks[name] = value
	}

	for _, dep := range h.deps {
		if dep.checker == nil {
			resp.Checks[dep.name] = "not configured"
			continue
		}
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		err := dep.checker.Ping(ctx)
		cancel()
		if err != nil {
			resp.Checks[dep.name] = "unavailable"
			resp.Status = "unhealthy"
			continue
		}
		resp.Checks[dep.name] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
