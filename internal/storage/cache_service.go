package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/portfolio-client/internal/models"
	"github.com/redis/go-redis/v9"
)

// CacheService stores JSON values in Redis. The development gateway uses it
// as its server-side accounts cache.
type CacheService struct {
	redis *RedisCache
	ttl   time.Duration
}

// NewCacheService creates a new cache service
func NewCacheService(redis *RedisCache, ttl time.Duration) *CacheService {
	return &CacheService{
		redis: redis,
		ttl:   ttl,
	}
}

// CacheKeyType represents different types of cache keys
type CacheKeyType string

const (
	// CacheKeyAccounts is for a user's accounts payload
	CacheKeyAccounts CacheKeyType = "accounts"
)

// GenerateCacheKey generates a cache key for a given type and parameters
// Format: <type>:<param1>:<param2>:...
func (c *CacheService) GenerateCacheKey(keyType CacheKeyType, params ...string) string {
	normalizedParams := make([]string, len(params))
	for i, param := range params {
		normalizedParams[i] = strings.ToLower(param)
	}

	parts := append([]string{string(keyType)}, normalizedParams...)
	return strings.Join(parts, ":")
}

// GenerateAccountsKey generates the key of a user's accounts payload
// Format: accounts:<user>
func (c *CacheService) GenerateAccountsKey(user string) string {
	return c.GenerateCacheKey(CacheKeyAccounts, user)
}

// GenerateAccountsPattern matches the accounts payload of every user
func (c *CacheService) GenerateAccountsPattern() string {
	return string(CacheKeyAccounts) + ":*"
}

// Set stores a value in cache with the configured TTL
func (c *CacheService) Set(ctx context.Context, key string, value interface{}) error {
	return c.SetWithTTL(ctx, key, value, c.ttl)
}

// SetWithTTL stores a value in cache with a custom TTL
func (c *CacheService) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	return c.redis.Set(ctx, key, data, ttl)
}

// Get retrieves a value from cache and deserializes it
func (c *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.redis.Get(ctx, key)
	if err != nil {
		// Key not found is not an error, just a cache miss
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get from cache: %w", err)
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}

	return true, nil
}

// Invalidate removes one or more keys from cache
func (c *CacheService) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.redis.Del(ctx, keys...)
}

// InvalidatePattern removes all keys matching a pattern
func (c *CacheService) InvalidatePattern(ctx context.Context, pattern string) error {
	keys, err := c.redis.Keys(ctx, pattern)
	if err != nil {
		return fmt.Errorf("failed to find keys matching pattern: %w", err)
	}

	if len(keys) == 0 {
		return nil
	}

	return c.redis.Del(ctx, keys...)
}

// Exists checks if a key exists in cache
func (c *CacheService) Exists(ctx context.Context, key string) (bool, error) {
	return c.redis.Exists(ctx, key)
}

// Ping checks the underlying Redis connection
func (c *CacheService) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx)
}

// GetTTL returns the configured TTL for this cache service
func (c *CacheService) GetTTL() time.Duration {
	return c.ttl
}

// CachedAccounts is the server-side cache entry for one user
type CachedAccounts struct {
	User     string                   `json:"user"`
	Response *models.AccountsResponse `json:"response"`
	CachedAt time.Time                `json:"cachedAt"`
}

// Describe reports the state of key in the shape clients expect from the
// cache info endpoint
func (c *CacheService) Describe(ctx context.Context, key string, now time.Time) (*models.CacheInfo, error) {
	info := &models.CacheInfo{Key: key}

	var entry CachedAccounts
	found, err := c.Get(ctx, key, &entry)
	if err != nil {
		return nil, err
	}
	ttlSeconds := int64(c.ttl / time.Second)
	info.TTL = &ttlSeconds
	if !found {
		msg := "no cache entry"
		info.Message = &msg
		return info, nil
	}

	timestamp := entry.CachedAt.UTC().Format(models.APITimeLayout)
	age := now.Sub(entry.CachedAt)
	ageSeconds := int64(age / time.Second)
	ageHuman := models.HumanDuration(age)
	info.Timestamp = &timestamp
	info.Age = &ageSeconds
	info.AgeHuman = &ageHuman

	remaining, err := c.redis.TTL(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache ttl: %w", err)
	}
	expired := remaining <= 0 && remaining != -1
	if remaining == -1 {
		remaining = c.ttl - age
		expired = remaining <= 0
	}
	if remaining < 0 {
		remaining = 0
	}
	expiresIn := int64(remaining / time.Second)
	expiresInHuman := models.HumanDuration(remaining)
	info.IsExpired = &expired
	info.ExpiresIn = &expiresIn
	info.ExpiresInHuman = &expiresInHuman

	if size, err := c.redis.StrLen(ctx, key); err == nil {
		info.Size = &size
	}
	return info, nil
}
