package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss indicates the key was absent or expired.
var ErrMiss = errors.New("cache: miss")

// Store is a small JSON cache on top of Redis with a fixed TTL.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore constructs a Store. A nil client disables caching: Get always
// misses and Set is a no-op.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

// Get unmarshals the cached value into target.
func (s *Store) Get(ctx context.Context, key string, target any) error {
	if s == nil || s.client == nil {
		return ErrMiss
	}
	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrMiss
		}
		return err
	}
	return json.Unmarshal(raw, target)
}

// Set stores the value under key for the configured TTL.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	if s == nil || s.client == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, raw, s.ttl).Err()
}

// Invalidate drops the given keys.
func (s *Store) Invalidate(ctx context.Context, keys ...string) error {
	if s == nil || s.client == nil || len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}
