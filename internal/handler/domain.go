package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rankwatch/rankwatch/internal/handler/dto"
	"github.com/rankwatch/rankwatch/internal/middleware"
	"github.com/rankwatch/rankwatch/internal/model"
	"github.com/rankwatch/rankwatch/internal/service"
)

// DomainAPI is the domain service surface used by DomainHandler.
type DomainAPI interface {
	CreateDomain(ctx context.Context, input service.CreateDomainInput) (*model.Domain, error)
	GetDomain(ctx context.Context, ownerID, id string) (*model.Domain, error)
	ListDomains(ctx context.Context, ownerID, cursor string, limit int) (*service.ListDomainsOutput, error)
	UpdateDomain(ctx context.Context, ownerID, id string, displayName *string) (*model.Domain, error)
	DeleteDomain(ctx context.Context, ownerID, id string) error
}

// ReportAPI builds domain summaries.
type ReportAPI interface {
	DomainSummary(ctx context.Context, ownerID, domainID string) (*service.DomainReport, error)
}

// DomainHandler handles HTTP requests for tracked domains.
type DomainHandler struct {
	domains DomainAPI
	reports ReportAPI
	logger  *slog.Logger
}

// NewDomainHandler creates a new DomainHandler.
func NewDomainHandler(domains DomainAPI, reports ReportAPI, logger *slog.Logger) *DomainHandler {
	return &DomainHandler{
		domains: domains,
		reports: reports,
		logger:  logger.With("handler", "domain"),
	}
}

// Create handles POST /api/v1/domains.
func (h *DomainHandler) Create(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := requireAuth(w, r)
	if !ok {
		return
	}

	var req dto.CreateDomainRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}
	if err := middleware.ValidateText(req.DisplayName); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_DISPLAY_NAME", err.Error())
		return
	}

	domain, err := h.domains.CreateDomain(r.Context(), service.CreateDomainInput{
		OwnerID:     authCtx.UserID,
		Hostname:    req.Hostname,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	h.logger.Info("domain_created",
		"domain_id", domain.ID,
		"hostname", domain.Hostname,
		"user_id", authCtx.UserID,
	)
	writeJSON(w, http.StatusCreated, domain)
}

// Get handles GET /api/v1/domains/{id}.
func (h *DomainHandler) Get(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := requireAuth(w, r)
	if !ok {
		return
	}

	domain, err := h.domains.GetDomain(r.Context(), authCtx.UserID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, domain)
}

// List handles GET /api/v1/domains.
func (h *DomainHandler) List(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := requireAuth(w, r)
	if !ok {
		return
	}

	out, err := h.domains.ListDomains(r.Context(), authCtx.UserID, r.URL.Query().Get("cursor"), pageLimit(r))
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewListResponse(out.Domains, out.NextCursor, out.HasMore))
}

// Update handles PATCH /api/v1/domains/{id}.
func (h *DomainHandler) Update(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := requireAuth(w, r)
	if !ok {
		return
	}

	var req dto.UpdateDomainRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}
	if req.DisplayName != nil {
		if err := middleware.ValidateText(*req.DisplayName); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_DISPLAY_NAME", err.Error())
			return
		}
	}

	domain, err := h.domains.UpdateDomain(r.Context(), authCtx.UserID, chi.URLParam(r, "id"), req.DisplayName)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, domain)
}

// Delete handles DELETE /api/v1/domains/{id}. Keywords of the domain are
// removed with it.
func (h *DomainHandler) Delete(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := requireAuth(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.domains.DeleteDomain(r.Context(), authCtx.UserID, id); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	h.logger.Info("domain_deleted", "domain_id", id, "user_id", authCtx.UserID)
	w.WriteHeader(http.StatusNoContent)
}

// Report handles GET /api/v1/domains/{id}/report.
func (h *DomainHandler) Report(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := requireAuth(w, r)
	if !ok {
		return
	}

	report, err := h.reports.DomainSummary(r.Context(), authCtx.UserID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
