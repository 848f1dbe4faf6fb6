package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/rankwatch/rankwatch/internal/service"
)

// serviceError maps a service sentinel to an HTTP status and error code.
type serviceError struct {
	err    error
	status int
	code   string
}

var serviceErrors = []serviceError{
	{service.ErrDomainNotFound, http.StatusNotFound, "DOMAIN_NOT_FOUND"},
	{service.ErrKeywordNotFound, http.StatusNotFound, "KEYWORD_NOT_FOUND"},
	{service.ErrNotificationNotFound, http.StatusNotFound, "NOTIFICATION_NOT_FOUND"},
	{service.ErrPlanNotFound, http.StatusNotFound, "PLAN_NOT_FOUND"},
	{service.ErrSubscriptionNotFound, http.StatusNotFound, "SUBSCRIPTION_NOT_FOUND"},
	{service.ErrDomainExists, http.StatusConflict, "DOMAIN_EXISTS"},
	{service.ErrKeywordExists, http.StatusConflict, "KEYWORD_EXISTS"},
	{service.ErrCheckInProgress, http.StatusConflict, "CHECK_IN_PROGRESS"},
	{service.ErrPlanLimitReached, http.StatusForbidden, "PLAN_LIMIT_REACHED"},
	{service.ErrPlanDowngradeBlocked, http.StatusConflict, "DOWNGRADE_BLOCKED"},
	{service.ErrInvalidHostname, http.StatusBadRequest, "INVALID_HOSTNAME"},
	{service.ErrDisplayNameTooLong, http.StatusBadRequest, "DISPLAY_NAME_TOO_LONG"},
	{service.ErrInvalidPhrase, http.StatusBadRequest, "INVALID_PHRASE"},
	{service.ErrInvalidCountry, http.StatusBadRequest, "INVALID_COUNTRY"},
	{service.ErrInvalidLanguage, http.StatusBadRequest, "INVALID_LANGUAGE"},
	{service.ErrInvalidDevice, http.StatusBadRequest, "INVALID_DEVICE"},
	{service.ErrNoPhrases, http.StatusBadRequest, "NO_PHRASES"},
	{service.ErrTooManyPhrases, http.StatusBadRequest, "TOO_MANY_PHRASES"},
	{service.ErrInvalidTimeRange, http.StatusBadRequest, "INVALID_TIME_RANGE"},
	{service.ErrInvalidCursor, http.StatusBadRequest, "INVALID_CURSOR"},
	{service.ErrQueueUnavailable, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE"},
}

// handleServiceError maps service errors to HTTP responses. Unknown errors
// are logged and reported as 500.
func handleServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	for _, se := range serviceErrors {
		if errors.Is(err, se.err) {
			writeError(w, se.status, se.code, err.Error())
			return
		}
	}
	logger.Error("internal_error", "error", err)
	writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
}
