package respcache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const scanBatch = 200

// RedisCache is a Redis-backed Cache shared across instances. Entry expiry is
// delegated to Redis key TTLs.
type RedisCache struct {
	client redis.Cmdable
}

// NewRedisCache creates a Redis-backed cache.
func NewRedisCache(client redis.Cmdable) *RedisCache {
	return &RedisCache{client: client}
}

// HealthCheck verifies Redis connectivity for the readiness endpoint.
func (c *RedisCache) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Get returns the payload for key, treating redis.Nil as a miss.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("respcache: get %q: %w", key, err)
	}
	return payload, true, nil
}

// Set stores payload under key with a Redis TTL.
func (c *RedisCache) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := c.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("respcache: set %q: %w", key, err)
	}
	return nil
}

// ClearByPrefix scans for keys under prefix and deletes them in batches.
// SCAN keeps the sweep incremental instead of blocking Redis the way a KEYS
// call over a large namespace would.
func (c *RedisCache) ClearByPrefix(ctx context.Context, prefix string) (int, error) {
	removed := 0
	err := c.scanPrefix(ctx, prefix, func(keys []string) error {
		n, err := c.client.Del(ctx, keys...).Result()
		if err != nil {
			return fmt.Errorf("respcache: delete batch: %w", err)
		}
		removed += int(n)
		return nil
	})
	return removed, err
}

// Stats scans the namespace, counting keys and summing stored value lengths
// as the memory approximation.
func (c *RedisCache) Stats(ctx context.Context, prefix string) (Stats, error) {
	var stats Stats
	err := c.scanPrefix(ctx, prefix, func(keys []string) error {
		pipe := c.client.Pipeline()
		lengths := make([]*redis.IntCmd, len(keys))
		for i, key := range keys {
			lengths[i] = pipe.StrLen(ctx, key)
		}
		if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
			return fmt.Errorf("respcache: strlen batch: %w", err)
		}
		for _, cmd := range lengths {
			n, err := cmd.Result()
			if err == redis.Nil {
				// Expired between scan and pipeline.
				continue
			}
			if err != nil {
				return fmt.Errorf("respcache: strlen: %w", err)
			}
			stats.EntryCount++
			stats.ApproxBytes += n
		}
		return nil
	})
	return stats, err
}

func (c *RedisCache) scanPrefix(ctx context.Context, prefix string, apply func(keys []string) error) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, prefix+"*", scanBatch).Result()
		if err != nil {
			return fmt.Errorf("respcache: scan %q: %w", prefix, err)
		}
		if len(keys) > 0 {
			if err := apply(keys); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
