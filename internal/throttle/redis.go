package throttle

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrWithTTL increments the counter and assigns the window TTL on the first
// increment in one script invocation. Running it as a script makes the
// read-modify-write indivisible: two concurrent first requests observe counts
// 1 and 2, never 1 and 1.
var incrWithTTL = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("TTL", KEYS[1])
return {count, ttl}
`)

// RedisCounter is a Redis-backed fixed-window Counter.
type RedisCounter struct {
	client redis.Cmdable
}

// NewRedisCounter creates a Redis-backed counter.
func NewRedisCounter(client redis.Cmdable) *RedisCounter {
	return &RedisCounter{client: client}
}

// Increment atomically increments key and returns the post-increment count
// and the remaining window.
func (c *RedisCounter) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	seconds := int64(window.Seconds())
	if seconds < 1 {
		seconds = 1
	}

	res, err := incrWithTTL.Run(ctx, c.client, []string{key}, seconds).Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("throttle: incr %q: %w", key, err)
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("throttle: incr %q: unexpected reply %v", key, res)
	}

	count, ok := res[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("throttle: incr %q: non-integer count %T", key, res[0])
	}
	ttlSecs, ok := res[1].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("throttle: incr %q: non-integer ttl %T", key, res[1])
	}

	remaining := time.Duration(ttlSecs) * time.Second
	if ttlSecs < 0 {
		// TTL of -1 means the key somehow lost its expiry; treat the full
		// window as remaining rather than reporting a permanent counter.
		remaining = window
	}
	return count, remaining, nil
}
