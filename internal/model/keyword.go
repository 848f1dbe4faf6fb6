package model

import "time"

// Device is the search device a keyword is checked for.
type Device string

const (
	DeviceDesktop Device = "desktop"
	DeviceMobile  Device = "mobile"
)

// IsValid checks if the device is supported.
func (d Device) IsValid() bool {
	return d == DeviceDesktop || d == DeviceMobile
}

// Trend describes the direction of the latest rank movement.
type Trend string

const (
	TrendUp      Trend = "up"
	TrendDown    Trend = "down"
	TrendSame    Trend = "same"
	TrendNew     Trend = "new"
	TrendLost    Trend = "lost"
	TrendUnknown Trend = "unknown"
)

// Keyword is a search phrase tracked for a domain in a given locale.
// Positions are 1-based; nil means the domain was not found in the results.
type Keyword struct {
	ID               string     `json:"id"`
	OwnerID          string     `json:"owner_id"`
	DomainID         string     `json:"domain_id"`
	Phrase           string     `json:"phrase"`
	Country          string     `json:"country"`
	Language         string     `json:"language"`
	Device           Device     `json:"device"`
	LastPosition     *int       `json:"last_position,omitempty"`
	PreviousPosition *int       `json:"previous_position,omitempty"`
	BestPosition     *int       `json:"best_position,omitempty"`
	LastURL          string     `json:"last_url,omitempty"`
	LastCheckedAt    *time.Time `json:"last_checked_at,omitempty"`
	NextCheckAt      time.Time  `json:"next_check_at"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	DeletedAt        *time.Time `json:"-"`
}

// Trend compares the latest position with the previous one.
func (k *Keyword) Trend() Trend {
	if k.LastCheckedAt == nil {
		return TrendUnknown
	}
	switch {
	case k.LastPosition == nil && k.PreviousPosition == nil:
		return TrendSame
	case k.LastPosition == nil:
		return TrendLost
	case k.PreviousPosition == nil:
		return TrendNew
	case *k.LastPosition < *k.PreviousPosition:
		return TrendUp
	case *k.LastPosition > *k.PreviousPosition:
		return TrendDown
	default:
		return TrendSame
	}
}

// Change returns the number of places gained (positive) or lost (negative).
// Returns 0 when either side of the comparison is unknown.
func (k *Keyword) Change() int {
	if k.LastPosition == nil || k.PreviousPosition == nil {
		return 0
	}
	return *k.PreviousPosition - *k.LastPosition
}

// IsDue reports whether the keyword should be checked at the given time.
func (k *Keyword) IsDue(now time.Time) bool {
	return k.DeletedAt == nil && !k.NextCheckAt.After(now)
}
