// Package service provides business logic for the application.
package service

import (
	"context"
	"errors"

	"github.com/oklog/ulid/v2"

	"github.com/rankwatch/rankwatch/internal/model"
	"github.com/rankwatch/rankwatch/internal/repository"
)

// Service errors.
var (
	ErrInvalidHostname      = errors.New("invalid hostname")
	ErrDisplayNameTooLong   = errors.New("display name too long")
	ErrDomainNotFound       = errors.New("domain not found")
	ErrDomainExists         = errors.New("domain already tracked")
	ErrInvalidPhrase        = errors.New("phrase must be 1-200 characters")
	ErrInvalidCountry       = errors.New("country must be an ISO 3166-1 alpha-2 code")
	ErrInvalidLanguage      = errors.New("invalid language code")
	ErrInvalidDevice        = errors.New("device must be desktop or mobile")
	ErrNoPhrases            = errors.New("at least one phrase is required")
	ErrTooManyPhrases       = errors.New("too many phrases in one request")
	ErrKeywordNotFound      = errors.New("keyword not found")
	ErrKeywordExists        = errors.New("keyword already tracked for this domain")
	ErrPlanLimitReached     = errors.New("plan limit reached")
	ErrPlanNotFound         = errors.New("plan not found")
	ErrPlanDowngradeBlocked = errors.New("current usage exceeds the new plan's limits")
	ErrSubscriptionNotFound = errors.New("no active subscription")
	ErrNotificationNotFound = errors.New("notification not found")
	ErrCheckInProgress      = errors.New("rank check already in progress")
	ErrQueueUnavailable     = errors.New("rank check queue unavailable")
	ErrInvalidTimeRange     = errors.New("invalid time range")
	ErrInvalidCursor        = errors.New("invalid cursor")
)

// PlanSource resolves the plan that currently applies to a user.
type PlanSource interface {
	PlanFor(ctx context.Context, userID string) (*model.Plan, error)
}

// IsPermanentCheckError reports whether a failed rank check job should be
// dropped instead of retried.
func IsPermanentCheckError(err error) bool {
	return errors.Is(err, ErrKeywordNotFound) ||
		errors.Is(err, ErrDomainNotFound) ||
		errors.Is(err, ErrCheckInProgress)
}

func newID() string {
	return ulid.Make().String()
}

// mapCursorError translates repository cursor errors.
func mapCursorError(err error) error {
	if errors.Is(err, repository.ErrInvalidCursor) {
		return ErrInvalidCursor
	}
	return err
}
