package redis

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mobelieve/mexc-triarb/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

// waitPollInterval is how often Wait retries a denied request.
const waitPollInterval = 50 * time.Millisecond

// RateLimiter implements domain.RateLimiter using a sliding-window approach
// backed by Redis sorted sets and an atomic Lua script. Several bot
// processes sharing one API key share one budget.
type RateLimiter struct {
	rdb           *redis.Client
	slidingWindow *redis.Script
	now           func() time.Time
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{
		rdb:           c.Underlying(),
		slidingWindow: redis.NewScript(slidingWindowLua),
		now:           time.Now,
	}
}

func rateLimitKey(key string) string {
	return "ratelimit:" + key
}

// Allow checks whether a request for the given key is permitted under the
// sliding window rate limit. It returns true if the request is allowed (and
// the request is counted), or false if the limit has been reached.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return true, nil
	}
	ttlMs := window.Milliseconds()
	if ttlMs < 1 {
		ttlMs = 1
	}

	now := rl.now().UnixMicro()
	result, err := rl.slidingWindow.Run(
		ctx,
		rl.rdb,
		[]string{rateLimitKey(key)},
		strconv.FormatInt(now, 10),
		strconv.FormatInt(now-window.Microseconds(), 10),
		limit,
		uuid.New().String(),
		ttlMs,
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit allow %s: %w", key, err)
	}

	if len(result) < 2 {
		return false, fmt.Errorf("redis: rate limit allow %s: unexpected result length %d", key, len(result))
	}

	return result[0] == 1, nil
}

// Wait blocks until a request for the given key is allowed under limit per
// window. It polls at a fixed interval and returns an error if the context
// is cancelled first.
func (rl *RateLimiter) Wait(ctx context.Context, key string, limit int, window time.Duration) error {
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("redis: rate limit wait %s: %w", key, err)
		}

		allowed, err := rl.Allow(ctx, key, limit, window)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		timer := time.NewTimer(waitPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("redis: rate limit wait %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}

// Compile-time interface check.
var _ domain.RateLimiter = (*RateLimiter)(nil)
