package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rankwatch/rankwatch/internal/handler/dto"
	"github.com/rankwatch/rankwatch/internal/middleware"
	"github.com/rankwatch/rankwatch/internal/model"
	"github.com/rankwatch/rankwatch/internal/service"
)

// KeywordAPI is the keyword service surface used by KeywordHandler.
type KeywordAPI interface {
	CreateKeywords(ctx context.Context, input service.CreateKeywordsInput) ([]*model.Keyword, error)
	GetKeyword(ctx context.Context, ownerID, id string) (*model.Keyword, error)
	ListKeywords(ctx context.Context, input service.ListKeywordsInput) (*service.ListKeywordsOutput, error)
	UpdateKeyword(ctx context.Context, input service.UpdateKeywordInput) (*model.Keyword, error)
	DeleteKeyword(ctx context.Context, ownerID, id string) error
	RequestCheck(ctx context.Context, ownerID, id string) (*model.Keyword, error)
}

// HistoryAPI returns recorded rank checks.
type HistoryAPI interface {
	History(ctx context.Context, input service.HistoryInput) ([]*model.RankCheck, error)
}

// KeywordHandler handles HTTP requests for tracked keywords.
type KeywordHandler struct {
	keywords KeywordAPI
	ranks    HistoryAPI
	logger   *slog.Logger
}

// NewKeywordHandler creates a new KeywordHandler.
func NewKeywordHandler(keywords KeywordAPI, ranks HistoryAPI, logger *slog.Logger) *KeywordHandler {
	return &KeywordHandler{
		keywords: keywords,
		ranks:    ranks,
		logger:   logger.With("handler", "keyword"),
	}
}

// Create handles POST /api/v1/keywords. A body with "phrase" returns the
// created keyword; a body with "phrases" returns the whole batch.
func (h *KeywordHandler) Create(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := requireAuth(w, r)
	if !ok {
		return
	}

	var req dto.CreateKeywordsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}
	if req.DomainID == "" {
		writeError(w, http.StatusBadRequest, "MISSING_DOMAIN_ID", "domain_id is required")
		return
	}

	single := req.Phrase != ""
	phrases := req.Phrases
	if single {
		if len(phrases) > 0 {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Send either phrase or phrases, not both")
			return
		}
		phrases = []string{req.Phrase}
	}
	for _, p := range phrases {
		if err := middleware.ValidateText(p); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_PHRASE", err.Error())
			return
		}
	}

	keywords, err := h.keywords.CreateKeywords(r.Context(), service.CreateKeywordsInput{
		OwnerID:  authCtx.UserID,
		DomainID: req.DomainID,
		Phrases:  phrases,
		Country:  req.Country,
		Language: req.Language,
		Device:   req.Device,
	})
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	h.logger.Info("keywords_created",
		"domain_id", req.DomainID,
		"count", len(keywords),
		"user_id", authCtx.UserID,
	)

	if single && len(keywords) == 1 {
		writeJSON(w, http.StatusCreated, keywords[0])
		return
	}
	writeJSON(w, http.StatusCreated, dto.NewDataResponse(keywords))
}

// Get handles GET /api/v1/keywords/{id}.
func (h *KeywordHandler) Get(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := requireAuth(w, r)
	if !ok {
		return
	}

	keyword, err := h.keywords.GetKeyword(r.Context(), authCtx.UserID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, keyword)
}

// List handles GET /api/v1/keywords?domain_id=&cursor=&limit=.
func (h *KeywordHandler) List(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := requireAuth(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	out, err := h.keywords.ListKeywords(r.Context(), service.ListKeywordsInput{
		OwnerID:  authCtx.UserID,
		DomainID: query.Get("domain_id"),
		Cursor:   query.Get("cursor"),
		Limit:    pageLimit(r),
	})
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewListResponse(out.Keywords, out.NextCursor, out.HasMore))
}

// Update handles PATCH /api/v1/keywords/{id}.
func (h *KeywordHandler) Update(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := requireAuth(w, r)
	if !ok {
		return
	}

	var req dto.UpdateKeywordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	keyword, err := h.keywords.UpdateKeyword(r.Context(), service.UpdateKeywordInput{
		OwnerID:  authCtx.UserID,
		ID:       chi.URLParam(r, "id"),
		Country:  req.Country,
		Language: req.Language,
		Device:   req.Device,
	})
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, keyword)
}

// Delete handles DELETE /api/v1/keywords/{id}.
func (h *KeywordHandler) Delete(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := requireAuth(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.keywords.DeleteKeyword(r.Context(), authCtx.UserID, id); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	h.logger.Info("keyword_deleted", "keyword_id", id, "user_id", authCtx.UserID)
	w.WriteHeader(http.StatusNoContent)
}

// Check handles POST /api/v1/keywords/{id}/check. The check runs
// asynchronously; the response only confirms it was queued.
func (h *KeywordHandler) Check(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := requireAuth(w, r)
	if !ok {
		return
	}

	keyword, err := h.keywords.RequestCheck(r.Context(), authCtx.UserID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusAccepted, dto.CheckAcceptedResponse{
		KeywordID: keyword.ID,
		Status:    "queued",
	})
}

// History handles GET /api/v1/keywords/{id}/history?from=&to=&limit=.
// A date-only "to" covers the whole day.
func (h *KeywordHandler) History(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := requireAuth(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	from, err := middleware.ParseDate(query.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_TIME_RANGE", "from: "+err.Error())
		return
	}
	rawTo := query.Get("to")
	to, err := middleware.ParseDate(rawTo)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_TIME_RANGE", "to: "+err.Error())
		return
	}
	if len(rawTo) == len(time.DateOnly) {
		to = to.Add(24*time.Hour - time.Nanosecond)
	}

	limit := 0
	if l := query.Get("limit"); l != "" {
		limit, _ = strconv.Atoi(l)
	}

	checks, err := h.ranks.History(r.Context(), service.HistoryInput{
		OwnerID:   authCtx.UserID,
		KeywordID: chi.URLParam(r, "id"),
		From:      from,
		To:        to,
		Limit:     limit,
	})
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewDataResponse(checks))
}
