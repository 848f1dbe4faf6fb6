package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rankwatch/rankwatch/internal/handler/dto"
	"github.com/rankwatch/rankwatch/internal/model"
	"github.com/rankwatch/rankwatch/internal/service"
)

// SubscriptionAPI is the subscription service surface used by
// SubscriptionHandler.
type SubscriptionAPI interface {
	Plans() []model.Plan
	Current(ctx context.Context, userID string) (*service.SubscriptionView, error)
	ChangePlan(ctx context.Context, userID, planCode string) (*service.SubscriptionView, error)
	Cancel(ctx context.Context, userID string) (*service.SubscriptionView, error)
}

// SubscriptionHandler serves the plan catalog and the caller's subscription.
type SubscriptionHandler struct {
	subs   SubscriptionAPI
	logger *slog.Logger
}

// NewSubscriptionHandler creates a new SubscriptionHandler.
func NewSubscriptionHandler(subs SubscriptionAPI, logger *slog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		subs:   subs,
		logger: logger.With("handler", "subscription"),
	}
}

// Plans handles GET /api/v1/plans.
func (h *SubscriptionHandler) Plans(w http.ResponseWriter, r *http.Request) {
	plans := h.subs.Plans()
	resp := make([]dto.PlanResponse, 0, len(plans))
	for _, p := range plans {
		resp = append(resp, dto.ToPlanResponse(p))
	}
	writeJSON(w, http.StatusOK, dto.NewDataResponse(resp))
}

// Get handles GET /api/v1/subscription.
func (h *SubscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := requireAuth(w, r)
	if !ok {
		return
	}

	view, err := h.subs.Current(r.Context(), authCtx.UserID)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriptionResponse(view))
}

// Change handles PUT /api/v1/subscription.
func (h *SubscriptionHandler) Change(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := requireAuth(w, r)
	if !ok {
		return
	}

	var req dto.ChangePlanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}
	code := strings.ToLower(strings.TrimSpace(req.Plan))
	if code == "" {
		writeError(w, http.StatusBadRequest, "MISSING_PLAN", "plan is required")
		return
	}

	view, err := h.subs.ChangePlan(r.Context(), authCtx.UserID, code)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriptionResponse(view))
}

// Cancel handles DELETE /api/v1/subscription.
func (h *SubscriptionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := requireAuth(w, r)
	if !ok {
		return
	}

	view, err := h.subs.Cancel(r.Context(), authCtx.UserID)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriptionResponse(view))
}

func toSubscriptionResponse(view *service.SubscriptionView) dto.SubscriptionResponse {
	resp := dto.SubscriptionResponse{
		Plan:   dto.ToPlanResponse(view.Plan),
		Status: "none",
		Usage: dto.SubscriptionUsageResponse{
			Domains:  view.Usage.Domains,
			Keywords: view.Usage.Keywords,
		},
	}
	if sub := view.Subscription; sub != nil {
		resp.Status = string(sub.Status)
		resp.CurrentPeriodEnd = sub.CurrentPeriodEnd
		resp.CanceledAt = sub.CanceledAt
	}
	return resp
}
