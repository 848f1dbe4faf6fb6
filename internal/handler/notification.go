package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/rankwatch/rankwatch/internal/handler/dto"
	"github.com/rankwatch/rankwatch/internal/service"
)

// NotificationAPI is the notification service surface used by
// NotificationHandler.
type NotificationAPI interface {
	List(ctx context.Context, input service.ListNotificationsInput) (*service.ListNotificationsOutput, error)
	MarkRead(ctx context.Context, userID, id string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
}

// NotificationHandler serves the caller's in-app notifications.
type NotificationHandler struct {
	notifications NotificationAPI
	logger        *slog.Logger
}

// NewNotificationHandler creates a new NotificationHandler.
func NewNotificationHandler(notifications NotificationAPI, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		notifications: notifications,
		logger:        logger.With("handler", "notification"),
	}
}

// List handles GET /api/v1/notifications?unread=true&cursor=&limit=.
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := requireAuth(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	unreadOnly, _ := strconv.ParseBool(query.Get("unread"))

	out, err := h.notifications.List(r.Context(), service.ListNotificationsInput{
		UserID:     authCtx.UserID,
		UnreadOnly: unreadOnly,
		Cursor:     query.Get("cursor"),
		Limit:      pageLimit(r),
	})
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewListResponse(out.Notifications, out.NextCursor, out.HasMore))
}

// MarkRead handles POST /api/v1/notifications/{id}/read.
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := requireAuth(w, r)
	if !ok {
		return
	}

	if err := h.notifications.MarkRead(r.Context(), authCtx.UserID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkAllRead handles POST /api/v1/notifications/read-all.
func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := requireAuth(w, r)
	if !ok {
		return
	}

	updated, err := h.notifications.MarkAllRead(r.Context(), authCtx.UserID)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.MarkAllReadResponse{Updated: updated})
}

// UnreadCount handles GET /api/v1/notifications/unread-count.
func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := requireAuth(w, r)
	if !ok {
		return
	}

	n, err := h.notifications.UnreadCount(r.Context(), authCtx.UserID)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.UnreadCountResponse{Unread: n})
}
