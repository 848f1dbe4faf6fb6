package dto

import (
	"time"

	"github.com/rankwatch/rankwatch/internal/model"
)

// CreateAPIKeyRequest is the body of POST /api-keys. Scopes defaults to
// read.
type CreateAPIKeyRequest struct {
	Name   string   `json:"name,omitempty"`
	Scopes []string `json:"scopes,omitempty"`
}

// APIKeyResponse describes a key without any secret material.
type APIKeyResponse struct {
	ID            string     `json:"id"`
	Name          string     `json:"name,omitempty"`
	KeyPrefix     string     `json:"key_prefix"`
	Scopes        []string   `json:"scopes"`
	RateLimitTier string     `json:"rate_limit_tier"`
	CreatedAt     time.Time  `json:"created_at"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
	Revoked       bool       `json:"revoked"`
}

// APIKeyCreatedResponse carries the plaintext key, which is never shown
// again. RotatedFrom names the key it replaced.
type APIKeyCreatedResponse struct {
	APIKeyResponse
	Key         string `json:"key"`
	RotatedFrom string `json:"rotated_from,omitempty"`
}

func ToAPIKeyResponse(k *model.APIKey) APIKeyResponse {
	return APIKeyResponse{
		ID:            k.ID,
		Name:          k.Name,
		KeyPrefix:     k.KeyPrefix,
		Scopes:        k.Scopes,
		RateLimitTier: k.RateLimitTier,
		CreatedAt:     k.CreatedAt,
		LastUsedAt:    k.LastUsedAt,
		Revoked:       k.IsRevoked(),
	}
}
