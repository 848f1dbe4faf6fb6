// Command webhook-receiver is a minimal endpoint that verifies and logs
// Rankwatch rank event deliveries. Point a webhook endpoint at
// http://host:9000/webhook and start it with the secret returned on creation:
//
//	RANKWATCH_WEBHOOK_SECRET=... go run ./cmd/webhook-receiver
package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-chi/chi/v5"

	"github.com/rankwatch/rankwatch/internal/model"
	"github.com/rankwatch/rankwatch/internal/webhook"
)

type receiverConfig struct {
	Secret       string        `env:"RANKWATCH_WEBHOOK_SECRET,required"`
	Addr         string        `env:"RECEIVER_ADDR" envDefault:":9000"`
	ReplayWindow time.Duration `env:"RECEIVER_REPLAY_WINDOW" envDefault:"5m"`
}

const maxBodyBytes = 1 << 20

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	var cfg receiverConfig
	if err := env.Parse(&cfg); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newRouter(cfg, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("webhook receiver listening", "addr", cfg.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func newRouter(cfg receiverConfig, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/webhook", receive(cfg, logger))
	return r
}

func receive(cfg receiverConfig, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
			return
		}

		deliveryID := r.Header.Get(webhook.HeaderDeliveryID)
		verifier := webhook.Verifier{Secret: cfg.Secret, Window: cfg.ReplayWindow}
		if err := verifier.Verify(r.Header, body); err != nil {
			logger.Warn("rejected delivery", "delivery_id", deliveryID, "error", err)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
			return
		}

		var payload model.RankEvent
		if err := json.Unmarshal(body, &payload); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
			return
		}

		logger.Info("rank event",
			"delivery_id", deliveryID,
			"event_type", payload.Type,
			"event_id", payload.ID,
			"domain", payload.Data.Domain,
			"phrase", payload.Data.Phrase,
			"country", payload.Data.Country,
			"position", payload.Data.Position,
			"previous_position", payload.Data.PreviousPosition,
			"url", payload.Data.URL,
		)
		writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
