package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter enforces a per-provider request ceiling shared across every
// worker process, using a fixed-window counter (INCR + EXPIRE on first
// increment) rather than a local in-memory limiter, since the search and
// fetch adapters run behind potentially many concurrent workers against
// the same rate-limited upstream API. Grounded on the teacher's
// internal/server/scheduler.go SetNX-based distributed lock: same
// "one Redis round trip guards a shared external resource" shape, adapted
// from a mutual-exclusion lock to a counting limiter.
type RateLimiter struct {
	rdb    *redis.Client
	window time.Duration
}

// NewRateLimiter builds a RateLimiter. A nil client disables limiting:
// Allow always returns true so gateway adapters work the same whether or
// not Redis is configured.
func NewRateLimiter(rdb *redis.Client, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{rdb: rdb, window: window}
}

// Allow reports whether the caller may make one more request against the
// given key (typically a SearchProvider name) within the configured
// window, given a maximum of limit requests per window.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int) (bool, error) {
	if r == nil || r.rdb == nil || limit <= 0 {
		return true, nil
	}
	redisKey := fmt.Sprintf("gateway:ratelimit:%s", key)
	count, err := r.rdb.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("rate limiter incr: %w", err)
	}
	if count == 1 {
		if err := r.rdb.Expire(ctx, redisKey, r.window).Err(); err != nil {
			return false, fmt.Errorf("rate limiter expire: %w", err)
		}
	}
	return count <= int64(limit), nil
}
