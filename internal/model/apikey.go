package model

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// API key scopes. Admin implies every other scope.
const (
	ScopeRead    = "read"
	ScopeWrite   = "write"
	ScopeWebhook = "webhook"
	ScopeAdmin   = "admin"
)

var ValidScopes = []string{ScopeRead, ScopeWrite, ScopeWebhook, ScopeAdmin}

// ErrUnknownScope is wrapped by CleanScopes.
var ErrUnknownScope = errors.New("unknown scope")

// CleanScopes lower-cases, trims and deduplicates scopes, keeping their
// order. Blank entries are dropped.
func CleanScopes(scopes []string) ([]string, error) {
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || slices.Contains(out, s) {
			continue
		}
		if !slices.Contains(ValidScopes, s) {
			return nil, fmt.Errorf("%w %q", ErrUnknownScope, s)
		}
		out = append(out, s)
	}
	return out, nil
}

// Rate limit tiers. Each plan names one; keys carry the tier of their
// owner's plan.
const (
	TierFree      = "free"
	TierStarter   = "starter"
	TierPro       = "pro"
	TierUnlimited = "unlimited"
)

var ValidTiers = []string{TierFree, TierStarter, TierPro, TierUnlimited}

// RateLimitConfig is a token bucket refilled per minute. Zero means no
// limit.
type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

var TierConfigs = map[string]RateLimitConfig{
	TierFree:      {RequestsPerMinute: 60, Burst: 10},
	TierStarter:   {RequestsPerMinute: 300, Burst: 30},
	TierPro:       {RequestsPerMinute: 600, Burst: 50},
	TierUnlimited: {},
}

func IsValidTier(tier string) bool {
	_, ok := TierConfigs[tier]
	return ok
}

// tierConfig treats unknown tiers as free.
func tierConfig(tier string) RateLimitConfig {
	if c, ok := TierConfigs[tier]; ok {
		return c
	}
	return TierConfigs[TierFree]
}

// APIKey is a stored key. Only the argon2id hash of the secret part is
// kept; KeyPrefix is the public lookup part.
type APIKey struct {
	ID            string
	UserID        string
	KeyHash       string
	KeyPrefix     string
	Scopes        []string
	RateLimitTier string
	Name          string
	RevokedAt     *time.Time
	LastUsedAt    *time.Time
	CreatedAt     time.Time
}

func (k *APIKey) IsRevoked() bool {
	return k.RevokedAt != nil
}

func (k *APIKey) HasScope(scope string) bool {
	return hasScope(k.Scopes, scope)
}

func (k *APIKey) GetRateLimitConfig() RateLimitConfig {
	return tierConfig(k.RateLimitTier)
}

func hasScope(granted []string, scope string) bool {
	return slices.Contains(granted, ScopeAdmin) || slices.Contains(granted, scope)
}

// Principal is the authenticated caller of an API request: the key that was
// presented and the account that owns it. It is cached in Redis as JSON.
type Principal struct {
	KeyID         string   `json:"key_id"`
	KeyPrefix     string   `json:"key_prefix"`
	UserID        string   `json:"user_id"`
	Scopes        []string `json:"scopes"`
	RateLimitTier string   `json:"rate_limit_tier"`
}

// PrincipalFor builds the principal for an authenticated key.
func PrincipalFor(k *APIKey) *Principal {
	return &Principal{
		KeyID:         k.ID,
		KeyPrefix:     k.KeyPrefix,
		UserID:        k.UserID,
		Scopes:        k.Scopes,
		RateLimitTier: k.RateLimitTier,
	}
}

func (p *Principal) HasScope(scope string) bool {
	return hasScope(p.Scopes, scope)
}

// RateLimit returns the request budget of the principal's tier.
func (p *Principal) RateLimit() RateLimitConfig {
	return tierConfig(p.RateLimitTier)
}
