package middleware

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSecurity(t *testing.T) {
	for _, dev := range []bool{false, true} {
		h := Security(SecurityConfig{IsDevelopment: dev})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/domains", nil))

		for _, kv := range apiHeaders {
			assert.Equal(t, kv[1], rec.Header().Get(kv[0]), "dev=%v %s", dev, kv[0])
		}
		if dev {
			assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))
		} else {
			assert.Equal(t, hsts, rec.Header().Get("Strict-Transport-Security"))
		}
	}
}

func TestMaxBodySize(t *testing.T) {
	tests := []struct {
		name          string
		limit         int64
		body          string
		declared      int64
		wantStatus    int
		wantReadError bool
	}{
		{name: "within limit", limit: 1024, body: `{"phrase":"shoes"}`, declared: 18, wantStatus: http.StatusOK},
		{name: "declared too large", limit: 10, body: strings.Repeat("x", 100), declared: 100, wantStatus: http.StatusRequestEntityTooLarge},
		{name: "streamed too large", limit: 10, body: strings.Repeat("x", 100), declared: -1, wantStatus: http.StatusOK, wantReadError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var readErr error
			h := MaxBodySize(tt.limit)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, readErr = io.Copy(io.Discard, r.Body)
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodPost, "/api/v1/keywords", strings.NewReader(tt.body))
			req.ContentLength = tt.declared
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusRequestEntityTooLarge {
				assert.Contains(t, rec.Body.String(), `"code":"PAYLOAD_TOO_LARGE"`)
			}
			if tt.wantReadError {
				var tooLarge *http.MaxBytesError
				assert.True(t, errors.As(readErr, &tooLarge), "got %v", readErr)
			}
		})
	}
}
