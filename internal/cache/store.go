// Package cache implements domain.CacheStore against Redis.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mclima/stock-intel-service/internal/adapter/observability"
	"github.com/mclima/stock-intel-service/internal/domain"
)

// staleSuffix namespaces the secondary "last known value" key that backs
// GetStale/SetStale, independent of the primary key's TTL.
const staleSuffix = ":stale"

// staleTTL is the physical TTL on the secondary stale key; it is long
// enough to outlive any realistic primary-key TTL so a stale read always
// has a value to serve, but still bounded so abandoned tickers eventually
// fall out of the cache.
const staleTTL = 7 * 24 * time.Hour

// RedisStore implements domain.CacheStore against a redis.Client or
// redis.UniversalClient (including github.com/alicebob/miniredis/v2 in
// tests, dialed through a real *redis.Client).
type RedisStore struct {
	rdb redis.UniversalClient
}

// NewRedisStore wraps an existing redis client.
func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// resourceLabel derives the cache-hit/miss metric label from a key's first
// two colon-delimited segments (e.g. "stock:price:AAPL" -> "stock:price"),
// so per-resource counters don't need a label threaded through every
// caller.
func resourceLabel(key string) string {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) >= 2 {
		return parts[0] + ":" + parts[1]
	}
	return key
}

// Get returns domain.ErrNotFound when key is absent or expired.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			observability.RecordCacheMiss(resourceLabel(key))
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("op=cache.Get: %w", err)
	}
	observability.RecordCacheHit(resourceLabel(key))
	return v, nil
}

// SetEx writes value with an expiry of ttl, and mirrors it into the
// secondary stale key so a later GetStale can serve it past expiry.
func (s *RedisStore) SetEx(ctx context.Context, key string, ttl time.Duration, value []byte) error {
	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("op=cache.SetEx: %w", err)
	}
	if err := s.rdb.Set(ctx, key+staleSuffix, value, staleTTL).Err(); err != nil {
		return fmt.Errorf("op=cache.SetEx.stale: %w", err)
	}
	return nil
}

// Delete removes keys and their mirrored stale copies.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	all := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		all = append(all, k, k+staleSuffix)
	}
	if err := s.rdb.Del(ctx, all...).Err(); err != nil {
		return fmt.Errorf("op=cache.Delete: %w", err)
	}
	return nil
}

// GetStale returns the last known value for key regardless of the primary
// entry's TTL. Returns domain.ErrNotFound if key was never written.
func (s *RedisStore) GetStale(ctx context.Context, key string) ([]byte, error) {
	v, err := s.rdb.Get(ctx, key+staleSuffix).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("op=cache.GetStale: %w", err)
	}
	observability.RecordStaleRead(resourceLabel(key))
	return v, nil
}

// SetStale records a long-lived "last known value" copy independent of the
// primary TTL'd entry.
func (s *RedisStore) SetStale(ctx context.Context, key string, value []byte) error {
	if err := s.rdb.Set(ctx, key+staleSuffix, value, staleTTL).Err(); err != nil {
		return fmt.Errorf("op=cache.SetStale: %w", err)
	}
	return nil
}

// Ping checks Redis connectivity for readiness probes.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("op=cache.Ping: %w", err)
	}
	return nil
}

var _ domain.CacheStore = (*RedisStore)(nil)
