package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/rankwatch/rankwatch/internal/auth"
	"github.com/rankwatch/rankwatch/internal/handler/dto"
	"github.com/rankwatch/rankwatch/internal/model"
	"github.com/rankwatch/rankwatch/internal/repository"
)

// APIKeyStore persists API keys. Revoke and rotate only touch live keys of
// the given owner and answer repository.ErrAPIKeyNotFound otherwise.
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, key *model.APIKey) error
	ListAPIKeysByUserID(ctx context.Context, userID string) ([]*model.APIKey, error)
	RevokeAPIKey(ctx context.Context, userID, id string) error
	RotateAPIKey(ctx context.Context, userID, oldID string, fresh *model.APIKey) error
}

// PlanResolver reports the plan that applies to a user.
type PlanResolver interface {
	PlanFor(ctx context.Context, userID string) (*model.Plan, error)
}

// PrincipalInvalidator drops the cached principals of a user.
type PrincipalInvalidator interface {
	InvalidatePrincipals(ctx context.Context, userID string) error
}

// APIKeyHandler serves /api-keys.
type APIKeyHandler struct {
	logger     *slog.Logger
	store      APIKeyStore
	plans      PlanResolver
	principals PrincipalInvalidator
	now        func() time.Time
}

// NewAPIKeyHandler creates an API key handler. New keys take the rate limit
// tier of the owner's plan. plans and principals may be nil.
func NewAPIKeyHandler(logger *slog.Logger, store APIKeyStore, plans PlanResolver, principals PrincipalInvalidator) *APIKeyHandler {
	return &APIKeyHandler{
		logger:     logger.With("handler", "api_key"),
		store:      store,
		plans:      plans,
		principals: principals,
		now:        time.Now,
	}
}

// CreateAPIKey handles POST /api/v1/api-keys.
func (h *APIKeyHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	p, ok := requireAuth(w, r)
	if !ok {
		return
	}

	var req dto.CreateAPIKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	scopes, err := model.CleanScopes(req.Scopes)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_SCOPE",
			err.Error()+"; valid scopes: "+strings.Join(model.ValidScopes, ", "))
		return
	}
	if len(scopes) == 0 {
		scopes = []string{model.ScopeRead}
	}

	key, plaintext, ok := h.issue(r.Context(), w, p.UserID)
	if !ok {
		return
	}
	key.Name = strings.TrimSpace(req.Name)
	key.Scopes = scopes

	if err := h.store.CreateAPIKey(r.Context(), key); err != nil {
		h.logger.Error("create api key", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create API key")
		return
	}

	h.logger.Info("api key created",
		"key_id", key.ID,
		"key_prefix", key.KeyPrefix,
		"user_id", key.UserID,
		"tier", key.RateLimitTier,
	)
	writeJSON(w, http.StatusCreated, dto.APIKeyCreatedResponse{
		APIKeyResponse: dto.ToAPIKeyResponse(key),
		Key:            plaintext,
	})
}

// ListAPIKeys handles GET /api/v1/api-keys. Revoked keys are listed too.
func (h *APIKeyHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	p, ok := requireAuth(w, r)
	if !ok {
		return
	}

	keys, err := h.store.ListAPIKeysByUserID(r.Context(), p.UserID)
	if err != nil {
		h.logger.Error("list api keys", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list API keys")
		return
	}

	items := make([]dto.APIKeyResponse, 0, len(keys))
	for _, k := range keys {
		items = append(items, dto.ToAPIKeyResponse(k))
	}
	writeJSON(w, http.StatusOK, dto.NewDataResponse(items))
}

// RevokeAPIKey handles DELETE /api/v1/api-keys/{key_id}.
func (h *APIKeyHandler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	p, ok := requireAuth(w, r)
	if !ok {
		return
	}

	keyID := chi.URLParam(r, "key_id")
	if err := h.store.RevokeAPIKey(r.Context(), p.UserID, keyID); err != nil {
		h.storeError(w, "revoke api key", err)
		return
	}
	h.invalidate(r.Context(), p.UserID)

	h.logger.Info("api key revoked", "key_id", keyID, "user_id", p.UserID)
	w.WriteHeader(http.StatusNoContent)
}

// RotateAPIKey handles POST /api/v1/api-keys/{key_id}/rotate. The
// replacement keeps the old key's name and scopes, takes the owner's current
// tier, and is created in the same transaction that revokes the old key.
func (h *APIKeyHandler) RotateAPIKey(w http.ResponseWriter, r *http.Request) {
	p, ok := requireAuth(w, r)
	if !ok {
		return
	}

	oldID := chi.URLParam(r, "key_id")
	fresh, plaintext, ok := h.issue(r.Context(), w, p.UserID)
	if !ok {
		return
	}
	if err := h.store.RotateAPIKey(r.Context(), p.UserID, oldID, fresh); err != nil {
		h.storeError(w, "rotate api key", err)
		return
	}
	h.invalidate(r.Context(), p.UserID)

	h.logger.Info("api key rotated",
		"old_key_id", oldID,
		"new_key_id", fresh.ID,
		"user_id", p.UserID,
	)
	writeJSON(w, http.StatusCreated, dto.APIKeyCreatedResponse{
		APIKeyResponse: dto.ToAPIKeyResponse(fresh),
		Key:            plaintext,
		RotatedFrom:    oldID,
	})
}

// issue generates key material for userID. Name and scopes are left to the
// caller.
func (h *APIKeyHandler) issue(ctx context.Context, w http.ResponseWriter, userID string) (*model.APIKey, string, bool) {
	issued, err := auth.IssueKey(auth.EnvLive)
	if err != nil {
		h.logger.Error("generate api key", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to generate API key")
		return nil, "", false
	}
	return &model.APIKey{
		ID:            ulid.Make().String(),
		UserID:        userID,
		KeyHash:       issued.Hash,
		KeyPrefix:     issued.Prefix,
		RateLimitTier: h.tierFor(ctx, userID),
		CreatedAt:     h.now().UTC(),
	}, issued.Plaintext, true
}

func (h *APIKeyHandler) storeError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, repository.ErrAPIKeyNotFound) {
		writeError(w, http.StatusNotFound, "KEY_NOT_FOUND", "API key not found or already revoked")
		return
	}
	h.logger.Error(op, "error", err)
	writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to update API key")
}

func (h *APIKeyHandler) tierFor(ctx context.Context, userID string) string {
	if h.plans == nil {
		return model.TierFree
	}
	p, err := h.plans.PlanFor(ctx, userID)
	if err != nil {
		h.logger.Warn("resolve plan tier", "user_id", userID, "error", err)
		return model.TierFree
	}
	if p.RateLimitTier == "" {
		return model.TierFree
	}
	return p.RateLimitTier
}

func (h *APIKeyHandler) invalidate(ctx context.Context, userID string) {
	if h.principals == nil {
		return
	}
	if err := h.principals.InvalidatePrincipals(ctx, userID); err != nil {
		h.logger.Warn("invalidate cached principals", "user_id", userID, "error", err)
	}
}
