// Package model defines the tenant-scoped entities of rankwatch: accounts,
// API keys, domains, keywords, rank history, plans, notifications and
// webhooks.
package model

import (
	"strings"
	"time"
)

// User is a tenant account. Every domain, keyword, subscription and API key
// belongs to exactly one user.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// NormalizeEmail is the form emails are stored and looked up in.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
