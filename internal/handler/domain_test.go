package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rankwatch/rankwatch/internal/model"
	"github.com/rankwatch/rankwatch/internal/service"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubDomains struct {
	created    service.CreateDomainInput
	createErr  error
	domain     *model.Domain
	getErr     error
	list       *service.ListDomainsOutput
	listCursor string
	listLimit  int
	deletedID  string
	report     *service.DomainReport
}

func (s *stubDomains) CreateDomain(ctx context.Context, input service.CreateDomainInput) (*model.Domain, error) {
	s.created = input
	if s.createErr != nil {
		return nil, s.createErr
	}
	return &model.Domain{ID: "dom_1", OwnerID: input.OwnerID, Hostname: input.Hostname, DisplayName: input.DisplayName}, nil
}

func (s *stubDomains) GetDomain(ctx context.Context, ownerID, id string) (*model.Domain, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.domain, nil
}

func (s *stubDomains) ListDomains(ctx context.Context, ownerID, cursor string, limit int) (*service.ListDomainsOutput, error) {
	s.listCursor, s.listLimit = cursor, limit
	return s.list, nil
}

func (s *stubDomains) UpdateDomain(ctx context.Context, ownerID, id string, displayName *string) (*model.Domain, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	d := *s.domain
	if displayName != nil {
		d.DisplayName = *displayName
	}
	return &d, nil
}

func (s *stubDomains) DeleteDomain(ctx context.Context, ownerID, id string) error {
	if s.getErr != nil {
		return s.getErr
	}
	s.deletedID = id
	return nil
}

func (s *stubDomains) DomainSummary(ctx context.Context, ownerID, domainID string) (*service.DomainReport, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.report, nil
}

func TestDomainHandler_Create(t *testing.T) {
	stub := &stubDomains{}
	h := NewDomainHandler(stub, stub, discardLogger())

	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/domains",
		strings.NewReader(`{"hostname":"Example.com","display_name":"Shop"}`)))
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, testUserID, stub.created.OwnerID)
	assert.Equal(t, "Example.com", stub.created.Hostname)

	var got model.Domain
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "dom_1", got.ID)
	assert.Equal(t, "Shop", got.DisplayName)
}

func TestDomainHandler_CreateErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		serviceErr error
		wantStatus int
		wantCode   string
	}{
		{name: "bad json", body: `{`, wantStatus: http.StatusBadRequest, wantCode: "INVALID_JSON"},
		{name: "unknown field", body: `{"host":"a.com"}`, wantStatus: http.StatusBadRequest, wantCode: "INVALID_JSON"},
		{name: "control chars", body: `{"hostname":"a.com","display_name":"a\u0000b"}`, wantStatus: http.StatusBadRequest, wantCode: "INVALID_DISPLAY_NAME"},
		{name: "invalid hostname", body: `{"hostname":"nope"}`, serviceErr: service.ErrInvalidHostname, wantStatus: http.StatusBadRequest, wantCode: "INVALID_HOSTNAME"},
		{name: "duplicate", body: `{"hostname":"a.com"}`, serviceErr: service.ErrDomainExists, wantStatus: http.StatusConflict, wantCode: "DOMAIN_EXISTS"},
		{name: "plan limit", body: `{"hostname":"a.com"}`, serviceErr: fmt.Errorf("%w: 1 domains", service.ErrPlanLimitReached), wantStatus: http.StatusForbidden, wantCode: "PLAN_LIMIT_REACHED"},
		{name: "unexpected", body: `{"hostname":"a.com"}`, serviceErr: fmt.Errorf("db down"), wantStatus: http.StatusInternalServerError, wantCode: "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewDomainHandler(&stubDomains{createErr: tt.serviceErr}, nil, discardLogger())

			rec := httptest.NewRecorder()
			h.Create(rec, authed(httptest.NewRequest(http.MethodPost, "/api/v1/domains", strings.NewReader(tt.body))))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, decodeErrorCode(t, rec))
		})
	}
}

func TestDomainHandler_RequiresAuth(t *testing.T) {
	h := NewDomainHandler(&stubDomains{}, nil, discardLogger())

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/v1/domains", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", decodeErrorCode(t, rec))
}

func TestDomainHandler_List(t *testing.T) {
	stub := &stubDomains{list: &service.ListDomainsOutput{
		Domains:    []*model.Domain{{ID: "d2", Hostname: "b.com"}, {ID: "d1", Hostname: "a.com"}},
		NextCursor: "next",
		HasMore:    true,
	}}
	h := NewDomainHandler(stub, nil, discardLogger())

	rec := httptest.NewRecorder()
	h.List(rec, authed(httptest.NewRequest(http.MethodGet, "/api/v1/domains?cursor=abc&limit=2", nil)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc", stub.listCursor)
	assert.Equal(t, 2, stub.listLimit)

	var got struct {
		Data       []model.Domain `json:"data"`
		Pagination struct {
			NextCursor string `json:"next_cursor"`
			HasMore    bool   `json:"has_more"`
		} `json:"pagination"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Len(t, got.Data, 2)
	assert.Equal(t, "b.com", got.Data[0].Hostname)
	assert.Equal(t, "next", got.Pagination.NextCursor)
	assert.True(t, got.Pagination.HasMore)
}

func TestDomainHandler_ListEmptyEncodesArray(t *testing.T) {
	h := NewDomainHandler(&stubDomains{list: &service.ListDomainsOutput{}}, nil, discardLogger())

	rec := httptest.NewRecorder()
	h.List(rec, authed(httptest.NewRequest(http.MethodGet, "/api/v1/domains?limit=9999", nil)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"data":[]`)
}

func TestDomainHandler_GetUpdateDelete(t *testing.T) {
	stub := &stubDomains{domain: &model.Domain{ID: "dom_1", Hostname: "a.com"}}
	h := NewDomainHandler(stub, stub, discardLogger())
	params := map[string]string{"id": "dom_1"}

	rec := httptest.NewRecorder()
	h.Get(rec, withURLParams(authed(httptest.NewRequest(http.MethodGet, "/api/v1/domains/dom_1", nil)), params))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.Update(rec, withURLParams(authed(httptest.NewRequest(http.MethodPatch, "/api/v1/domains/dom_1",
		strings.NewReader(`{"display_name":"Main"}`))), params))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"display_name":"Main"`)

	rec = httptest.NewRecorder()
	h.Delete(rec, withURLParams(authed(httptest.NewRequest(http.MethodDelete, "/api/v1/domains/dom_1", nil)), params))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "dom_1", stub.deletedID)
}

func TestDomainHandler_NotFound(t *testing.T) {
	stub := &stubDomains{getErr: service.ErrDomainNotFound}
	h := NewDomainHandler(stub, stub, discardLogger())
	params := map[string]string{"id": "missing"}

	for name, fn := range map[string]http.HandlerFunc{
		"get":    h.Get,
		"delete": h.Delete,
		"report": h.Report,
	} {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			fn(rec, withURLParams(authed(httptest.NewRequest(http.MethodGet, "/", nil)), params))
			assert.Equal(t, http.StatusNotFound, rec.Code)
			assert.Equal(t, "DOMAIN_NOT_FOUND", decodeErrorCode(t, rec))
		})
	}
}

func TestDomainHandler_Report(t *testing.T) {
	avg := 4.5
	stub := &stubDomains{report: &service.DomainReport{
		Domain:          &model.Domain{ID: "dom_1", Hostname: "a.com"},
		KeywordCount:    3,
		RankedCount:     2,
		AveragePosition: &avg,
	}}
	h := NewDomainHandler(stub, stub, discardLogger())

	rec := httptest.NewRecorder()
	h.Report(rec, withURLParams(authed(httptest.NewRequest(http.MethodGet, "/api/v1/domains/dom_1/report", nil)),
		map[string]string{"id": "dom_1"}))

	require.Equal(t, http.StatusOK, rec.Code)
	var got service.DomainReport
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, 3, got.KeywordCount)
	require.NotNil(t, got.AveragePosition)
	assert.InDelta(t, 4.5, *got.AveragePosition, 0.001)
}
