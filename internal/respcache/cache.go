// Package respcache memoizes expensive generation results under a
// deterministic input hash with TTL expiry. Losing an entry is always safe:
// callers fall back to recomputing.
package respcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// DefaultTTL is how long cached generation payloads live unless the caller
// overrides it.
const DefaultTTL = 24 * time.Hour

// Stats summarizes the cache population under one namespace.
type Stats struct {
	EntryCount  int64 `json:"entry_count"`
	ApproxBytes int64 `json:"approx_bytes"`
}

// Cache is the response memoization contract. Payloads are opaque bytes;
// a Get immediately after a Set returns the payload byte-for-byte until the
// TTL elapses or the namespace is cleared.
type Cache interface {
	// Get returns the payload for key, or found=false on miss or expiry.
	Get(ctx context.Context, key string) (payload []byte, found bool, err error)

	// Set stores payload under key for ttl. A non-positive ttl falls back
	// to DefaultTTL.
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error

	// ClearByPrefix removes every entry under the given namespace and
	// returns the number of entries removed.
	ClearByPrefix(ctx context.Context, prefix string) (int, error)

	// Stats reports entry count and approximate memory for a namespace.
	Stats(ctx context.Context, prefix string) (Stats, error)
}

// Key builds the cache key for a set of generation inputs: a prefix-scoped
// hex SHA-256 over the canonical JSON serialization. encoding/json writes map
// keys in sorted order, so logically equal inputs always hash identically
// regardless of insertion order. The cryptographic hash keeps accidental
// collisions across distinct inputs negligible; a collision would serve the
// wrong cached document as a correct one.
func Key(prefix string, inputs map[string]any) (string, error) {
	canonical, err := json.Marshal(inputs)
	if err != nil {
		return "", fmt.Errorf("respcache: serialize inputs: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return prefix + hex.EncodeToString(sum[:]), nil
}
