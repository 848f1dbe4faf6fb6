package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/rankwatch/rankwatch/internal/handler/dto"
	"github.com/rankwatch/rankwatch/internal/middleware"
	"github.com/rankwatch/rankwatch/internal/model"
	"github.com/rankwatch/rankwatch/internal/webhook"
)

// maxScopedDomains caps domain_ids on a single endpoint.
const maxScopedDomains = 100

// WebhookStore persists webhook endpoints and their deliveries.
type WebhookStore interface {
	CreateEndpoint(ctx context.Context, endpoint *model.WebhookEndpoint) error
	GetEndpoint(ctx context.Context, id string) (*model.WebhookEndpoint, error)
	ListEndpointsByUser(ctx context.Context, userID string) ([]*model.WebhookEndpoint, error)
	UpdateEndpoint(ctx context.Context, endpoint *model.WebhookEndpoint) error
	UpdateEndpointSecret(ctx context.Context, id, secretHash string) error
	DeleteEndpoint(ctx context.Context, id string) error
	GetDelivery(ctx context.Context, id string) (*model.WebhookDelivery, error)
	ListDeliveriesByEndpoint(ctx context.Context, endpointID string, statuses []string, limit, offset int) ([]*model.WebhookDelivery, int, error)
	ResetDeliveryForRetry(ctx context.Context, id string) error
}

// DomainOwnership confirms that a domain belongs to the caller.
type DomainOwnership interface {
	GetDomain(ctx context.Context, ownerID, id string) (*model.Domain, error)
}

// WebhookHandler serves /webhooks.
type WebhookHandler struct {
	store         WebhookStore
	domains       DomainOwnership
	logger        *slog.Logger
	allowInsecure bool
}

// NewWebhookHandler creates a webhook handler. allowInsecure accepts http
// and private targets and is meant for local development.
func NewWebhookHandler(store WebhookStore, domains DomainOwnership, logger *slog.Logger, allowInsecure bool) *WebhookHandler {
	return &WebhookHandler{
		store:         store,
		domains:       domains,
		logger:        logger.With("handler", "webhook"),
		allowInsecure: allowInsecure,
	}
}

// Create handles POST /api/v1/webhooks.
func (h *WebhookHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, ok := requireAuth(w, r)
	if !ok {
		return
	}

	var req dto.CreateWebhookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if !h.validTarget(w, r, req.TargetURL) {
		return
	}

	events := req.EventTypes
	if len(events) == 0 {
		events = slices.Clone(model.RankEvents)
	}
	if !validEvents(w, events) {
		return
	}
	domainIDs, ok := h.ownedDomains(w, r, p.UserID, req.DomainIDs)
	if !ok {
		return
	}

	secret, err := webhook.GenerateSecret()
	if err != nil {
		h.logger.Error("generate webhook secret", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create webhook")
		return
	}

	now := time.Now().UTC()
	endpoint := &model.WebhookEndpoint{
		ID:          ulid.Make().String(),
		UserID:      p.UserID,
		TargetURL:   req.TargetURL,
		SecretHash:  webhook.HashSecret(secret),
		Enabled:     true,
		EventTypes:  events,
		DomainIDs:   domainIDs,
		Name:        req.Name,
		Description: req.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.store.CreateEndpoint(r.Context(), endpoint); err != nil {
		h.logger.Error("create webhook endpoint", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create webhook")
		return
	}

	h.logger.Info("webhook endpoint created",
		"endpoint_id", endpoint.ID,
		"user_id", p.UserID,
		"target_host", webhook.ExtractHost(endpoint.TargetURL),
		"scoped_domains", len(domainIDs),
	)
	writeJSON(w, http.StatusCreated, dto.WebhookCreatedResponse{
		WebhookResponse: dto.ToWebhookResponse(endpoint),
		Secret:          secret,
	})
}

// List handles GET /api/v1/webhooks.
func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	p, ok := requireAuth(w, r)
	if !ok {
		return
	}

	endpoints, err := h.store.ListEndpointsByUser(r.Context(), p.UserID)
	if err != nil {
		h.logger.Error("list webhook endpoints", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list webhooks")
		return
	}

	items := make([]dto.WebhookResponse, 0, len(endpoints))
	for _, e := range endpoints {
		items = append(items, dto.ToWebhookResponse(e))
	}
	writeJSON(w, http.StatusOK, dto.NewDataResponse(items))
}

// Get handles GET /api/v1/webhooks/{id}.
func (h *WebhookHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := requireAuth(w, r)
	if !ok {
		return
	}
	endpoint, ok := h.ownedEndpoint(w, r, p)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, dto.ToWebhookResponse(endpoint))
}

// Update handles PATCH /api/v1/webhooks/{id}. Absent fields are left alone;
// an empty domain_ids list widens the endpoint to every domain.
func (h *WebhookHandler) Update(w http.ResponseWriter, r *http.Request) {
	p, ok := requireAuth(w, r)
	if !ok {
		return
	}
	endpoint, ok := h.ownedEndpoint(w, r, p)
	if !ok {
		return
	}

	var req dto.UpdateWebhookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	if req.TargetURL != nil {
		if !h.validTarget(w, r, *req.TargetURL) {
			return
		}
		endpoint.TargetURL = *req.TargetURL
	}
	if req.EventTypes != nil {
		if len(*req.EventTypes) == 0 {
			writeError(w, http.StatusBadRequest, "INVALID_EVENT_TYPE", "event_types must not be empty")
			return
		}
		if !validEvents(w, *req.EventTypes) {
			return
		}
		endpoint.EventTypes = *req.EventTypes
	}
	if req.DomainIDs != nil {
		domainIDs, ok := h.ownedDomains(w, r, p.UserID, *req.DomainIDs)
		if !ok {
			return
		}
		endpoint.DomainIDs = domainIDs
	}
	if req.Name != nil {
		endpoint.Name = *req.Name
	}
	if req.Description != nil {
		endpoint.Description = *req.Description
	}
	if req.Enabled != nil {
		endpoint.Enabled = *req.Enabled
	}

	if err := h.store.UpdateEndpoint(r.Context(), endpoint); err != nil {
		h.logger.Error("update webhook endpoint", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to update webhook")
		return
	}

	h.logger.Info("webhook endpoint updated", "endpoint_id", endpoint.ID, "user_id", p.UserID)
	writeJSON(w, http.StatusOK, dto.ToWebhookResponse(endpoint))
}

// Delete handles DELETE /api/v1/webhooks/{id}. Pending deliveries of the
// endpoint are exhausted by the worker.
func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	p, ok := requireAuth(w, r)
	if !ok {
		return
	}
	endpoint, ok := h.ownedEndpoint(w, r, p)
	if !ok {
		return
	}

	if err := h.store.DeleteEndpoint(r.Context(), endpoint.ID); err != nil {
		h.logger.Error("delete webhook endpoint", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to delete webhook")
		return
	}

	h.logger.Info("webhook endpoint deleted", "endpoint_id", endpoint.ID, "user_id", p.UserID)
	w.WriteHeader(http.StatusNoContent)
}

// RotateSecret handles POST /api/v1/webhooks/{id}/rotate-secret. Deliveries
// sent after the rotation are signed with the new secret.
func (h *WebhookHandler) RotateSecret(w http.ResponseWriter, r *http.Request) {
	p, ok := requireAuth(w, r)
	if !ok {
		return
	}
	endpoint, ok := h.ownedEndpoint(w, r, p)
	if !ok {
		return
	}

	secret, err := webhook.GenerateSecret()
	if err != nil {
		h.logger.Error("generate webhook secret", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to rotate secret")
		return
	}
	if err := h.store.UpdateEndpointSecret(r.Context(), endpoint.ID, webhook.HashSecret(secret)); err != nil {
		h.logger.Error("store rotated secret", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to rotate secret")
		return
	}

	h.logger.Info("webhook secret rotated", "endpoint_id", endpoint.ID, "user_id", p.UserID)
	writeJSON(w, http.StatusOK, dto.WebhookSecretResponse{Secret: secret})
}

// ListDeliveries handles GET /api/v1/webhooks/{id}/deliveries?status=&page=&per_page=.
func (h *WebhookHandler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	p, ok := requireAuth(w, r)
	if !ok {
		return
	}
	endpoint, ok := h.ownedEndpoint(w, r, p)
	if !ok {
		return
	}

	query := r.URL.Query()
	statuses := query["status"]
	for _, s := range statuses {
		if !validDeliveryStatus(model.DeliveryStatus(s)) {
			writeError(w, http.StatusBadRequest, "INVALID_QUERY", "status: "+middleware.ErrUnknownQueryFilter.Error())
			return
		}
	}
	page, _ := strconv.Atoi(query.Get("page"))
	page = max(page, 1)
	perPage, _ := strconv.Atoi(query.Get("per_page"))
	if perPage < 1 || perPage > middleware.MaxPageLimit {
		perPage = defaultPageLimit
	}

	deliveries, total, err := h.store.ListDeliveriesByEndpoint(r.Context(), endpoint.ID, statuses, perPage, (page-1)*perPage)
	if err != nil {
		h.logger.Error("list webhook deliveries", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list deliveries")
		return
	}

	items := make([]dto.DeliveryResponse, 0, len(deliveries))
	for _, d := range deliveries {
		items = append(items, dto.ToDeliveryResponse(d))
	}
	writeJSON(w, http.StatusOK, dto.NewPagedResponse(items, total, page, perPage))
}

// RetryDelivery handles POST /api/v1/webhooks/{id}/deliveries/{deliveryId}/retry.
// Only exhausted deliveries of the endpoint can be retried.
func (h *WebhookHandler) RetryDelivery(w http.ResponseWriter, r *http.Request) {
	p, ok := requireAuth(w, r)
	if !ok {
		return
	}
	endpoint, ok := h.ownedEndpoint(w, r, p)
	if !ok {
		return
	}

	deliveryID := chi.URLParam(r, "deliveryId")
	delivery, err := h.store.GetDelivery(r.Context(), deliveryID)
	switch {
	case err != nil:
	case delivery.EndpointID != endpoint.ID:
		err = webhook.ErrDeliveryNotFound
	default:
		err = h.store.ResetDeliveryForRetry(r.Context(), deliveryID)
	}
	if errors.Is(err, webhook.ErrDeliveryNotFound) {
		writeError(w, http.StatusNotFound, "DELIVERY_NOT_FOUND", "Delivery not found or not exhausted")
		return
	}
	if err != nil {
		h.logger.Error("retry webhook delivery", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to retry delivery")
		return
	}

	h.logger.Info("webhook delivery requeued",
		"delivery_id", deliveryID,
		"endpoint_id", endpoint.ID,
		"user_id", p.UserID,
	)
	writeJSON(w, http.StatusAccepted, dto.RetryScheduledResponse{DeliveryID: deliveryID, Status: "retry_scheduled"})
}

// ownedEndpoint loads the endpoint named in the path. Other accounts'
// endpoints answer 404.
func (h *WebhookHandler) ownedEndpoint(w http.ResponseWriter, r *http.Request, p *model.Principal) (*model.WebhookEndpoint, bool) {
	endpoint, err := h.store.GetEndpoint(r.Context(), chi.URLParam(r, "id"))
	if err == nil && endpoint.UserID != p.UserID {
		err = webhook.ErrEndpointNotFound
	}
	if errors.Is(err, webhook.ErrEndpointNotFound) {
		writeError(w, http.StatusNotFound, "WEBHOOK_NOT_FOUND", "Webhook not found")
		return nil, false
	}
	if err != nil {
		h.logger.Error("load webhook endpoint", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load webhook")
		return nil, false
	}
	return endpoint, true
}

// ownedDomains deduplicates ids and checks that each belongs to ownerID.
func (h *WebhookHandler) ownedDomains(w http.ResponseWriter, r *http.Request, ownerID string, ids []string) ([]string, bool) {
	if len(ids) > maxScopedDomains {
		writeError(w, http.StatusBadRequest, "TOO_MANY_DOMAINS", "domain_ids accepts at most "+strconv.Itoa(maxScopedDomains)+" entries")
		return nil, false
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if slices.Contains(out, id) {
			continue
		}
		if _, err := h.domains.GetDomain(r.Context(), ownerID, id); err != nil {
			handleServiceError(w, h.logger, err)
			return nil, false
		}
		out = append(out, id)
	}
	return out, true
}

func (h *WebhookHandler) validTarget(w http.ResponseWriter, r *http.Request, target string) bool {
	if err := middleware.ValidateWebhookURL(target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_URL", err.Error())
		return false
	}
	policy := webhook.TargetPolicy{AllowInsecure: h.allowInsecure}
	if err := policy.Check(r.Context(), target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_URL", err.Error())
		return false
	}
	return true
}

func validEvents(w http.ResponseWriter, events []model.EventType) bool {
	for _, et := range events {
		if !et.Valid() {
			writeError(w, http.StatusBadRequest, "INVALID_EVENT_TYPE", "unknown event type: "+string(et))
			return false
		}
	}
	return true
}

func validDeliveryStatus(s model.DeliveryStatus) bool {
	switch s {
	case model.DeliveryPending, model.DeliverySucceeded, model.DeliveryFailed, model.DeliveryExhausted:
		return true
	}
	return false
}
