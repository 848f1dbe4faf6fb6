package rankqueue

import (
	"errors"
	"fmt"
	"time"
)

// Reason explains why a check was enqueued.
type Reason string

const (
	ReasonScheduled Reason = "scheduled"
	ReasonManual    Reason = "manual"
	ReasonCreated   Reason = "created"
)

const maxIDLength = 64

// ErrInvalidJob is returned for jobs that can never be processed.
var ErrInvalidJob = errors.New("invalid rank job")

// Job is the stream payload for a single keyword check.
type Job struct {
	KeywordID  string `json:"kid"`
	OwnerID    string `json:"oid"`
	Reason     Reason `json:"r"`
	EnqueuedAt int64  `json:"t"` // Unix milliseconds
}

// NewJob builds a job stamped with the current time.
func NewJob(keywordID, ownerID string, reason Reason) Job {
	return Job{
		KeywordID:  keywordID,
		OwnerID:    ownerID,
		Reason:     reason,
		EnqueuedAt: time.Now().UnixMilli(),
	}
}

// Validate checks that the job carries everything a worker needs.
func (j Job) Validate() error {
	switch {
	case j.KeywordID == "":
		return fmt.Errorf("%w: keyword id is required", ErrInvalidJob)
	case len(j.KeywordID) > maxIDLength:
		return fmt.Errorf("%w: keyword id too long", ErrInvalidJob)
	case j.OwnerID == "":
		return fmt.Errorf("%w: owner id is required", ErrInvalidJob)
	case len(j.OwnerID) > maxIDLength:
		return fmt.Errorf("%w: owner id too long", ErrInvalidJob)
	case j.EnqueuedAt <= 0:
		return fmt.Errorf("%w: enqueued_at must be set", ErrInvalidJob)
	}

	switch j.Reason {
	case ReasonScheduled, ReasonManual, ReasonCreated:
		return nil
	default:
		return fmt.Errorf("%w: unknown reason %q", ErrInvalidJob, j.Reason)
	}
}

// Age returns how long the job has waited since it was enqueued.
func (j Job) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(j.EnqueuedAt))
}
