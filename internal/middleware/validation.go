package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Query parameter limits.
const (
	// MaxPageLimit is the largest page size a list endpoint accepts.
	MaxPageLimit = 100

	// MaxCursorLength bounds opaque pagination cursors.
	MaxCursorLength = 256

	// MaxHistoryRange is the widest from/to window for rank history.
	MaxHistoryRange = 366 * 24 * time.Hour

	// MaxWebhookURLLength is the maximum length for webhook URLs.
	MaxWebhookURLLength = 2048
)

// Validation errors.
var (
	ErrLimitInvalid       = errors.New("limit must be an integer between 1 and 100")
	ErrCursorInvalid      = errors.New("cursor is malformed")
	ErrDateInvalid        = errors.New("date must be YYYY-MM-DD or RFC 3339")
	ErrRangeInvalid       = errors.New("from must not be after to")
	ErrRangeTooWide       = errors.New("date range exceeds one year")
	ErrWebhookURLTooLong  = errors.New("webhook URL exceeds maximum length")
	ErrTextControlChars   = errors.New("text contains control characters")
	ErrUnknownQueryFilter = errors.New("unknown filter value")
)

// ValidateLimit checks a raw limit query value. Empty is valid.
func ValidateLimit(raw string) error {
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > MaxPageLimit {
		return ErrLimitInvalid
	}
	return nil
}

// ValidateCursor rejects oversized or non-printable cursors before they
// reach the repository decoder.
func ValidateCursor(raw string) error {
	if len(raw) > MaxCursorLength {
		return ErrCursorInvalid
	}
	for _, r := range raw {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) {
			return ErrCursorInvalid
		}
	}
	return nil
}

// ParseDate accepts a calendar date or an RFC 3339 timestamp.
// Empty input returns the zero time.
func ParseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, ErrDateInvalid
	}
	return t.UTC(), nil
}

// ValidateDateRange checks a from/to pair. Either side may be empty.
func ValidateDateRange(rawFrom, rawTo string) error {
	from, err := ParseDate(rawFrom)
	if err != nil {
		return err
	}
	to, err := ParseDate(rawTo)
	if err != nil {
		return err
	}
	if from.IsZero() || to.IsZero() {
		return nil
	}
	if from.After(to) {
		return ErrRangeInvalid
	}
	if to.Sub(from) > MaxHistoryRange {
		return ErrRangeTooWide
	}
	return nil
}

// ValidateWebhookURL checks the length of a webhook target URL.
// Scheme, host and address checks live in webhook.TargetPolicy.
func ValidateWebhookURL(url string) error {
	if len(url) > MaxWebhookURLLength {
		return ErrWebhookURLTooLong
	}
	return nil
}

// ValidateText rejects control characters in user-supplied labels such as
// display names and keyword phrases. Tabs and newlines count as control
// characters.
func ValidateText(s string) error {
	for _, r := range s {
		if unicode.IsControl(r) {
			return ErrTextControlChars
		}
	}
	return nil
}

// ValidateQuery returns middleware that checks the common list parameters
// (limit, cursor, from, to) and any enumerated filters before the handler
// runs. allowed maps a query parameter to its accepted values; comparison
// is case-insensitive.
func ValidateQuery(allowed map[string][]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()

			if err := ValidateLimit(q.Get("limit")); err != nil {
				writeValidationError(w, "limit", err)
				return
			}
			if err := ValidateCursor(q.Get("cursor")); err != nil {
				writeValidationError(w, "cursor", err)
				return
			}
			if err := ValidateDateRange(q.Get("from"), q.Get("to")); err != nil {
				writeValidationError(w, "from", err)
				return
			}

			for param, values := range allowed {
				raw := q.Get(param)
				if raw == "" {
					continue
				}
				if !containsFold(values, raw) {
					writeValidationError(w, param, fmt.Errorf("%w %q", ErrUnknownQueryFilter, raw))
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func containsFold(values []string, v string) bool {
	for _, candidate := range values {
		if strings.EqualFold(candidate, v) {
			return true
		}
	}
	return false
}

// writeValidationError writes a 400 response in the API error envelope.
func writeValidationError(w http.ResponseWriter, param string, err error) {
	writeError(w, http.StatusBadRequest, "INVALID_QUERY", param+": "+err.Error())
}
