package model

import "time"

// Domain is a customer-owned website whose rankings are tracked.
// Hostname is stored normalized (lower-case, no leading "www.").
type Domain struct {
	ID           string     `json:"id"`
	OwnerID      string     `json:"owner_id"`
	Hostname     string     `json:"hostname"`
	DisplayName  string     `json:"display_name,omitempty"`
	KeywordCount int        `json:"keyword_count"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"-"`
}

// IsDeleted returns true if the domain has been soft-deleted.
func (d *Domain) IsDeleted() bool {
	return d.DeletedAt != nil
}

// Label returns the display name, falling back to the hostname.
func (d *Domain) Label() string {
	if d.DisplayName != "" {
		return d.DisplayName
	}
	return d.Hostname
}
