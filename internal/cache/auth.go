package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rankwatch/rankwatch/internal/model"
)

const (
	principalPrefix      = "auth:principal:"
	principalOwnerPrefix = "auth:owner:"
	principalTTL         = 5 * time.Minute
)

// GetPrincipal returns the cached principal for a key fingerprint, or nil
// on a miss. Undecodable entries count as misses.
func (c *Cache) GetPrincipal(ctx context.Context, fingerprint string) (*model.Principal, error) {
	data, err := c.client.Get(ctx, principalPrefix+fingerprint).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get principal: %w", err)
	}

	var p model.Principal
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, nil //nolint:nilerr
	}
	return &p, nil
}

// SetPrincipal caches p and indexes the entry under its owner so a plan
// change or key revocation can drop every entry of that account.
func (c *Cache) SetPrincipal(ctx context.Context, fingerprint string, p *model.Principal) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal principal: %w", err)
	}

	owner := principalOwnerPrefix + p.UserID
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, principalPrefix+fingerprint, data, principalTTL)
	pipe.SAdd(ctx, owner, fingerprint)
	pipe.Expire(ctx, owner, principalTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache principal: %w", err)
	}
	return nil
}

// InvalidatePrincipals drops every cached principal of userID.
func (c *Cache) InvalidatePrincipals(ctx context.Context, userID string) error {
	owner := principalOwnerPrefix + userID

	fingerprints, err := c.client.SMembers(ctx, owner).Result()
	if err != nil {
		return fmt.Errorf("list cached principals: %w", err)
	}

	keys := make([]string, 0, len(fingerprints)+1)
	for _, fp := range fingerprints {
		keys = append(keys, principalPrefix+fp)
	}
	keys = append(keys, owner)

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidate principals: %w", err)
	}
	return nil
}
