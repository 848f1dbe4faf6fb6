package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rankwatch/rankwatch/internal/handler/dto"
	"github.com/rankwatch/rankwatch/internal/testutil"
)

// undocumented lists routes served outside the JSON API.
var undocumented = map[string]bool{
	"GET /metrics": true,
}

func loadSpec(t *testing.T) (*openapi3.T, routers.Router) {
	t.Helper()

	root, err := testutil.ProjectRoot()
	require.NoError(t, err)

	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromFile(filepath.Join(root, "docs", "api", "openapi.yaml"))
	require.NoError(t, err, "load OpenAPI document")
	require.NoError(t, doc.Validate(context.Background()), "validate OpenAPI document")

	router, err := gorillamux.NewRouter(doc)
	require.NoError(t, err)
	return doc, router
}

func TestContract_EveryRouteDocumented(t *testing.T) {
	doc, _ := loadSpec(t)

	mux, ok := newTestRouter(t, nil).(chi.Routes)
	require.True(t, ok)

	err := chi.Walk(mux, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		if route != "/" {
			route = strings.TrimSuffix(route, "/")
		}
		if undocumented[method+" "+route] {
			return nil
		}

		item := doc.Paths.Find(route)
		if !assert.NotNil(t, item, "path %s is not documented", route) {
			return nil
		}
		assert.NotNil(t, item.GetOperation(method), "%s %s is not documented", method, route)
		return nil
	})
	require.NoError(t, err)
}

func TestContract_ResponsesMatchSchema(t *testing.T) {
	_, specRouter := loadSpec(t)
	r := newTestRouter(t, nil)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"liveness", http.MethodGet, "/healthz", http.StatusOK},
		{"readiness", http.MethodGet, "/readyz", http.StatusOK},
		{"banner", http.MethodGet, "/", http.StatusOK},
		{"public plans", http.MethodGet, "/plans", http.StatusOK},
		{"domains without key", http.MethodGet, "/api/v1/domains", http.StatusUnauthorized},
		{"keyword check without key", http.MethodPost, "/api/v1/keywords/kw_1/check", http.StatusUnauthorized},
		{"subscription without key", http.MethodGet, "/api/v1/subscription", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())

			route, pathParams, err := specRouter.FindRoute(req)
			require.NoError(t, err)

			body := rec.Body.Bytes()
			input := &openapi3filter.ResponseValidationInput{
				RequestValidationInput: &openapi3filter.RequestValidationInput{
					Request:    req,
					PathParams: pathParams,
					Route:      route,
				},
				Status: rec.Code,
				Header: rec.Header(),
				Body:   io.NopCloser(bytes.NewReader(body)),
			}
			assert.NoError(t, openapi3filter.ValidateResponse(context.Background(), input), string(body))
		})
	}
}

func TestContract_ErrorEnvelope(t *testing.T) {
	r := newTestRouter(t, nil)

	for _, path := range []string{"/nope", "/api/v1/webhooks"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

			assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

			var envelope dto.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
			assert.NotEmpty(t, envelope.Error.Code)
			assert.NotEmpty(t, envelope.Error.Message)
		})
	}
}
