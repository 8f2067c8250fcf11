package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Poornadinethyapa/predictionm/internal/domain"
)

// slidingWindowLua keeps one sorted-set member per admitted request, scored
// by its timestamp in microseconds. Returns {allowed, count}.
//
// KEYS[1] window key; ARGV: now, window, limit, member.
const slidingWindowLua = `
local key    = KEYS[1]
local now    = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit  = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count < limit then
    redis.call('ZADD', key, now, ARGV[4])
    redis.call('PEXPIRE', key, math.ceil(window / 1000))
    return {1, count + 1}
end
return {0, count}
`

const waitPollInterval = 50 * time.Millisecond

// RateLimiter implements domain.RateLimiter with a sliding window per key.
// The HTTP layer uses it to limit API calls per client.
type RateLimiter struct {
	rdb    *redis.Client
	script *redis.Script
	now    func() time.Time
}

// NewRateLimiter creates a RateLimiter on c.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{
		rdb:    c.Underlying(),
		script: redis.NewScript(slidingWindowLua),
		now:    time.Now,
	}
}

// Allow counts one request against key and reports whether it fits within
// limit requests per window.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	res, err := rl.script.Run(ctx, rl.rdb, []string{"ratelimit:" + key},
		rl.now().UnixMicro(), window.Microseconds(), limit, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	if len(res) < 2 {
		return false, fmt.Errorf("redis: rate limit %s: unexpected reply %v", key, res)
	}
	return res[0] == 1, nil
}

// Wait blocks until key admits one request per second or ctx ends.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	for {
		ok, err := rl.Allow(ctx, key, 1, time.Second)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		t := time.NewTimer(waitPollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("redis: rate limit wait %s: %w", key, ctx.Err())
		case <-t.C:
		}
	}
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
