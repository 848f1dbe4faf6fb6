package model

import "time"

// CheckStatus is the outcome of a single rank check.
type CheckStatus string

const (
	CheckStatusFound    CheckStatus = "found"
	CheckStatusNotFound CheckStatus = "not_found"
	CheckStatusFailed   CheckStatus = "failed"
)

// CheckSource records where the SERP data for a check came from.
type CheckSource string

const (
	CheckSourceHTML  CheckSource = "html"
	CheckSourceJSON  CheckSource = "json"
	CheckSourceCache CheckSource = "cache"
)

// RankCheck is one historical observation of a keyword's position.
type RankCheck struct {
	ID          string      `json:"id"`
	KeywordID   string      `json:"keyword_id"`
	Position    *int        `json:"position,omitempty"`
	URL         string      `json:"url,omitempty"`
	Title       string      `json:"title,omitempty"`
	ResultCount int         `json:"result_count"`
	Status      CheckStatus `json:"status"`
	Source      CheckSource `json:"source,omitempty"`
	Error       string      `json:"error,omitempty"`
	CheckedAt   time.Time   `json:"checked_at"`
}

// Found reports whether the domain appeared in the results.
func (c *RankCheck) Found() bool {
	return c.Status == CheckStatusFound && c.Position != nil
}
