package main

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rankwatch/rankwatch/internal/model"
	"github.com/rankwatch/rankwatch/internal/webhook"
)

func TestReceive(t *testing.T) {
	secret := "s3cret"
	cfg := receiverConfig{Secret: secret, ReplayWindow: webhook.DefaultReplayWindow}
	router := newRouter(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	body := `{"event_type":"rank.changed","event_id":"ev_1","timestamp":"2026-01-02T03:04:05Z",` +
		`"data":{"keyword_id":"kw_1","domain_id":"dom_1","domain":"example.com","phrase":"coffee","country":"US","position":3,"previous_position":7}}`
	delivery := &model.WebhookDelivery{ID: "del_1", EventType: model.EventRankChanged}

	tests := []struct {
		name       string
		signWith   string
		body       string
		wantStatus int
	}{
		{"valid", webhook.HashSecret(secret), body, http.StatusOK},
		{"wrong key", "other", body, http.StatusUnauthorized},
		{"not json", webhook.HashSecret(secret), "nope", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(tt.body))
			webhook.NewSigner(tt.signWith).Sign(req, []byte(tt.body), delivery)

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
		})
	}
}

func TestReceive_UnsignedAndHealth(t *testing.T) {
	router := newRouter(receiverConfig{Secret: "x", ReplayWindow: time.Minute}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{}")))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReceive_StaleTimestamp(t *testing.T) {
	secret := "s3cret"
	router := newRouter(receiverConfig{Secret: secret, ReplayWindow: time.Minute}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	body := `{"event_type":"rank.lost","event_id":"ev_2","data":{}}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	webhook.NewSigner(webhook.HashSecret(secret)).Sign(req, []byte(body), &model.WebhookDelivery{ID: "del_2"})
	req.Header.Set(webhook.HeaderTimestamp, "1000")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "replay window")
}
