// Package throttle enforces fixed-window request limits per (client,
// endpoint) pair. Counters live in a shared cache so limits hold across
// replicas; the increment and initial TTL assignment execute as one atomic
// unit so concurrent first requests cannot under-count.
package throttle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/swiftcheck/qcflow/internal/config"
)

// Counter is the atomic fixed-window counter contract. Increment returns the
// post-increment count for key and the remaining window. Implementations must
// guarantee that the increment and the conditional TTL assignment on first
// increment are a single indivisible operation.
type Counter interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int64, remaining time.Duration, err error)
}

// Verdict is the outcome of a single admission check. FailedOpen marks an
// admission granted because the counter backend was unreachable.
type Verdict struct {
	Allowed    bool
	FailedOpen bool
	Limit      int
	Remaining  int
	Window     time.Duration
	ResetAt    time.Time
}

// RetryAfter returns the number of seconds until the window resets, floored
// at one second so clients never receive a zero retry hint.
func (v Verdict) RetryAfter(now time.Time) int {
	secs := int(v.ResetAt.Sub(now).Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Guard decides whether a (client, endpoint) pair may proceed.
type Guard struct {
	counter Counter
	limits  config.ThrottleConfig
	logger  *zap.Logger
	now     func() time.Time
}

// NewGuard creates a Guard over the given counter and limit table.
func NewGuard(counter Counter, limits config.ThrottleConfig, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{
		counter: counter,
		limits:  limits,
		logger:  logger,
		now:     time.Now,
	}
}

// Allow atomically increments the window counter for (clientKey, endpointKey)
// and returns the admission verdict. A counter backend failure fails open:
// losing a throttle verdict degrades protection, not correctness, so the
// request is admitted and the failure logged.
func (g *Guard) Allow(ctx context.Context, clientKey, endpointKey string) Verdict {
	limit := g.limits.LimitFor(endpointKey)
	key := counterKey(clientKey, endpointKey)

	count, remaining, err := g.counter.Increment(ctx, key, limit.Window)
	if err != nil {
		g.logger.Warn("throttle counter unavailable, admitting request",
			zap.String("endpoint", endpointKey),
			zap.Error(err),
		)
		return Verdict{
			Allowed:    true,
			FailedOpen: true,
			Limit:      limit.MaxRequests,
			Remaining:  limit.MaxRequests - 1,
			Window:     limit.Window,
			ResetAt:    g.now().Add(limit.Window),
		}
	}

	if remaining <= 0 {
		remaining = limit.Window
	}
	resetAt := g.now().Add(remaining)

	if count > int64(limit.MaxRequests) {
		return Verdict{
			Allowed:   false,
			Limit:     limit.MaxRequests,
			Remaining: 0,
			Window:    limit.Window,
			ResetAt:   resetAt,
		}
	}

	return Verdict{
		Allowed:   true,
		Limit:     limit.MaxRequests,
		Remaining: limit.MaxRequests - int(count),
		Window:    limit.Window,
		ResetAt:   resetAt,
	}
}

// counterKey builds the cache key for one (client, endpoint) window.
func counterKey(clientKey, endpointKey string) string {
	return fmt.Sprintf("rate_limit:%s:%s", clientKey, endpointKey)
}
