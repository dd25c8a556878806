package respcache

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCache(client), mr
}

func TestRedisCacheRoundTrip(t *testing.T) {
	cache, _ := testRedisCache(t)
	ctx := context.Background()

	if _, found, err := cache.Get(ctx, "p:missing"); err != nil || found {
		t.Fatalf("Get on empty cache = (%v, %v), want miss", found, err)
	}

	payload := []byte(`{"template":"..."}`)
	if err := cache.Set(ctx, "p:k", payload, time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, found, err := cache.Get(ctx, "p:k")
	if err != nil || !found {
		t.Fatalf("Get = (%v, %v), want hit", found, err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload = %q, want %q", got, payload)
	}
}

func TestRedisCacheTTLExpiry(t *testing.T) {
	cache, mr := testRedisCache(t)
	ctx := context.Background()

	if err := cache.Set(ctx, "p:k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	mr.FastForward(61 * time.Second)
	if _, found, _ := cache.Get(ctx, "p:k"); found {
		t.Fatal("entry survived past its TTL")
	}
}

func TestRedisCacheClearByPrefix(t *testing.T) {
	cache, _ := testRedisCache(t)
	ctx := context.Background()

	// More entries than one SCAN batch to exercise cursor iteration.
	for i := 0; i < scanBatch+50; i++ {
		key := fmt.Sprintf("swiftcheck:llm:%04d", i)
		if err := cache.Set(ctx, key, []byte("v"), time.Hour); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	if err := cache.Set(ctx, "other:k", []byte("v"), time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}

	removed, err := cache.ClearByPrefix(ctx, "swiftcheck:llm:")
	if err != nil {
		t.Fatalf("ClearByPrefix: %v", err)
	}
	if removed != scanBatch+50 {
		t.Errorf("removed = %d, want %d", removed, scanBatch+50)
	}
	if _, found, _ := cache.Get(ctx, "other:k"); !found {
		t.Error("entry outside the namespace was cleared")
	}
}

func TestRedisCacheStats(t *testing.T) {
	cache, _ := testRedisCache(t)
	ctx := context.Background()

	cache.Set(ctx, "p:a", []byte("12345"), time.Hour)
	cache.Set(ctx, "p:b", []byte("123"), time.Hour)
	cache.Set(ctx, "q:c", []byte("1"), time.Hour)

	stats, err := cache.Stats(ctx, "p:")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.EntryCount != 2 {
		t.Errorf("entryCount = %d, want 2", stats.EntryCount)
	}
	if stats.ApproxBytes != 8 {
		t.Errorf("approxBytes = %d, want 8", stats.ApproxBytes)
	}
}
