package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"go.uber.org/zap"
)

func testRedisCounter(t *testing.T) (*RedisCounter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCounter(client), mr
}

func TestRedisCounterIncrement(t *testing.T) {
	counter, _ := testRedisCounter(t)
	ctx := context.Background()

	count, remaining, err := counter.Increment(ctx, "rate_limit:c:/e", 60*time.Second)
	if err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
	if remaining <= 0 || remaining > 60*time.Second {
		t.Errorf("remaining = %s", remaining)
	}

	count, _, err = counter.Increment(ctx, "rate_limit:c:/e", 60*time.Second)
	if err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

func TestRedisCounterTTLSetOnlyOnFirstIncrement(t *testing.T) {
	counter, mr := testRedisCounter(t)
	ctx := context.Background()

	if _, _, err := counter.Increment(ctx, "k", 60*time.Second); err != nil {
		t.Fatalf("Increment: %v", err)
	}
	firstTTL := mr.TTL("k")

	// Later increments must not extend the window.
	mr.FastForward(30 * time.Second)
	if _, _, err := counter.Increment(ctx, "k", 60*time.Second); err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if got := mr.TTL("k"); got > firstTTL {
		t.Errorf("ttl extended by second increment: %s > %s", got, firstTTL)
	}
}

func TestRedisCounterWindowExpiry(t *testing.T) {
	counter, mr := testRedisCounter(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, _, err := counter.Increment(ctx, "k", 60*time.Second); err != nil {
			t.Fatalf("Increment: %v", err)
		}
	}

	mr.FastForward(61 * time.Second)

	count, _, err := counter.Increment(ctx, "k", 60*time.Second)
	if err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if count != 1 {
		t.Errorf("count after window expiry = %d, want 1", count)
	}
}

func TestGuardWithRedisCounterScenario(t *testing.T) {
	counter, _ := testRedisCounter(t)
	limits := testLimits()
	guard := NewGuard(counter, limits, zap.NewNop())
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		if v := guard.Allow(ctx, "10.0.0.1:413", "/digitize"); !v.Allowed {
			t.Fatalf("call %d denied", i)
		}
	}
	if v := guard.Allow(ctx, "10.0.0.1:413", "/digitize"); v.Allowed {
		t.Fatal("sixth call allowed")
	}
}
