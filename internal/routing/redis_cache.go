package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix namespaces route entries in a shared Redis.
const redisKeyPrefix = "route:"

// RedisCacheStore is a CacheStore backed by Redis string keys with native
// expiry.
type RedisCacheStore struct {
	client *redis.Client
}

// NewRedisCacheStore creates a CacheStore backed by client.
func NewRedisCacheStore(client *redis.Client) *RedisCacheStore {
	return &RedisCacheStore{client: client}
}

// GetCachedRoute implements CacheStore.
func (s *RedisCacheStore) GetCachedRoute(ctx context.Context, key string) (*RouteResult, error) {
	ctx, cancel := context.WithTimeout(ctx, cacheQueryTimeout)
	defer cancel()

	payload, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("routing: redis cache: get: %w", err)
	}

	var route RouteResult
	if err := json.Unmarshal(payload, &route); err != nil {
		return nil, fmt.Errorf("routing: redis cache: decode %q: %w", key, err)
	}
	return &route, nil
}

// SetCachedRoute implements CacheStore.
func (s *RedisCacheStore) SetCachedRoute(ctx context.Context, key string, route *RouteResult, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, cacheQueryTimeout)
	defer cancel()

	payload, err := json.Marshal(route)
	if err != nil {
		return fmt.Errorf("routing: redis cache: encode %q: %w", key, err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("routing: redis cache: set: %w", err)
	}
	return nil
}
