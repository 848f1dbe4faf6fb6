package handler

import (
	"net/http"
)

// MetricsHandler serves the metrics exposition produced by the recorder.
type MetricsHandler struct {
	exporter http.Handler
}

// NewMetricsHandler wraps an exporter such as PrometheusRecorder.Handler().
// A nil exporter reports metrics as unavailable.
func NewMetricsHandler(exporter http.Handler) *MetricsHandler {
	return &MetricsHandler{exporter: exporter}
}

// Metrics handles GET /metrics.
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.exporter == nil {
		writeError(w, http.StatusServiceUnavailable, "METRICS_DISABLED", "metrics are disabled")
		return
	}
	h.exporter.ServeHTTP(w, r)
}
