package storage

import (
	"context"
	"errors"
	"time"

	"github.com/portfolio-client/internal/auth"
	apperrors "github.com/portfolio-client/internal/errors"
	"github.com/redis/go-redis/v9"
)

// RedisCredentialStore keeps the session token in Redis so that several
// processes on a workstation share one login. The key expires with the token.
type RedisCredentialStore struct {
	redis *RedisCache
	key   string
	now   func() time.Time
}

// NewRedisCredentialStore creates a store writing to key
func NewRedisCredentialStore(redis *RedisCache, key string, now func() time.Time) *RedisCredentialStore {
	if now == nil {
		now = time.Now
	}
	return &RedisCredentialStore{redis: redis, key: key, now: now}
}

// Save stores token with a TTL ending at its exp claim. Tokens without a
// readable exp are stored without expiry and left to the token guard.
func (s *RedisCredentialStore) Save(ctx context.Context, token string) error {
	var ttl time.Duration
	if exp, err := auth.ExpiresAt(token); err == nil {
		if remaining := exp.Sub(s.now()); remaining > 0 {
			ttl = remaining
		}
	}

	if err := s.redis.Set(ctx, s.key, token, ttl); err != nil {
		return apperrors.NewStorageError("save credentials", err)
	}
	return nil
}

// Retrieve returns the stored token; a missing key is not an error
func (s *RedisCredentialStore) Retrieve(ctx context.Context) (string, bool, error) {
	token, err := s.redis.Get(ctx, s.key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, apperrors.NewStorageError("retrieve credentials", err)
	}
	if token == "" {
		return "", false, nil
	}
	return token, true, nil
}

// Delete removes the stored token
func (s *RedisCredentialStore) Delete(ctx context.Context) error {
	if err := s.redis.Del(ctx, s.key); err != nil {
		return apperrors.NewStorageError("delete credentials", err)
	}
	return nil
}
