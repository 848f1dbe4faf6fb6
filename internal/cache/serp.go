package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rankwatch/rankwatch/internal/serp"
)

// Cache key prefixes.
const (
	serpKeyPrefix        = "serp:"
	keywordLockKeyPrefix = "lock:keyword:"
)

// Common cache errors.
var (
	ErrCacheMiss = errors.New("cache miss")
	ErrLockHeld  = errors.New("lock held by another worker")
	ErrLockLost  = errors.New("lock expired or taken over")
)

// SERPKey identifies one search result page.
type SERPKey struct {
	Phrase   string
	Country  string
	Language string
	Device   string
	Depth    int
}

func (k SERPKey) redisKey() string {
	parts := []string{
		strings.ToLower(strings.Join(strings.Fields(k.Phrase), " ")),
		strings.ToUpper(k.Country),
		strings.ToLower(k.Language),
		strings.ToLower(k.Device),
		strconv.Itoa(k.Depth),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return serpKeyPrefix + hex.EncodeToString(sum[:])
}

// CachedSERP is an extracted result page shared between keywords that run
// the same query.
type CachedSERP struct {
	Results   []serp.Result `json:"results"`
	Source    serp.Source   `json:"source"`
	FetchedAt time.Time     `json:"fetched_at"`
}

// GetSERP returns a cached result page or ErrCacheMiss.
func (c *Cache) GetSERP(ctx context.Context, key SERPKey) (*CachedSERP, error) {
	data, err := c.client.Get(ctx, key.redisKey()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var cached CachedSERP
	if err := json.Unmarshal(data, &cached); err != nil {
		// Corrupted cache entry - treat as miss
		return nil, ErrCacheMiss
	}
	return &cached, nil
}

// SetSERP stores a result page for ttl.
func (c *Cache) SetSERP(ctx context.Context, key SERPKey, page *CachedSERP, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("marshal serp: %w", err)
	}
	if err := c.client.Set(ctx, key.redisKey(), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache serp: %w", err)
	}
	return nil
}

// releaseLockScript deletes the lock only if it still holds our token.
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// AcquireKeywordLock takes an exclusive, expiring lock for checking a
// keyword. Returns ErrLockHeld if another worker holds it.
func (c *Cache) AcquireKeywordLock(ctx context.Context, keywordID, token string, ttl time.Duration) error {
	ok, err := c.client.SetNX(ctx, keywordLockKeyPrefix+keywordID, token, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to acquire keyword lock: %w", err)
	}
	if !ok {
		return ErrLockHeld
	}
	return nil
}

// ReleaseKeywordLock releases a lock taken with the same token.
func (c *Cache) ReleaseKeywordLock(ctx context.Context, keywordID, token string) error {
	n, err := releaseLockScript.Run(ctx, c.client, []string{keywordLockKeyPrefix + keywordID}, token).Int()
	if err != nil {
		return fmt.Errorf("failed to release keyword lock: %w", err)
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}
