package erasure

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps pending delete markers in Redis with native TTL expiry.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a RedisStore on an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// SetWithExpiry stores value under key with the given TTL, overwriting any
// existing marker.
func (s *RedisStore) SetWithExpiry(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("erasure: redis set %s: %w", key, err)
	}
	return nil
}

// Get returns the stored value, or ErrNotFound once the TTL has elapsed or no
// marker was ever set.
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("erasure: redis get %s: %w", key, err)
	}
	return value, nil
}

// Delete removes the marker. Deleting an absent key is not an error.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("erasure: redis del %s: %w", key, err)
	}
	return nil
}
