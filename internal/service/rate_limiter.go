package service

import (
	"context"
	"fmt"
	"time"

	"github.com/prperemyshlev/identity-service/pkg/database"
	"github.com/redis/go-redis/v9"
)

// RateLimitResult describes the state of one key after counting a request.
type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds.
func (r RateLimitResult) RetryAfterSeconds() int {
	secs := int((r.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 && !r.Allowed {
		return 1
	}
	return secs
}

// RateLimiter counts requests per key in fixed windows that open with the key's first request.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (RateLimitResult, error)
}

func newResult(count, limit int, resetAt, now time.Time) RateLimitResult {
	res := RateLimitResult{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: max(limit-count, 0),
		ResetAt:   resetAt,
	}
	if !res.Allowed {
		res.RetryAfter = resetAt.Sub(now)
	}
	return res
}

var incrWindowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return {count, redis.call('PTTL', KEYS[1])}
`)

// RedisRateLimiter shares counters between instances.
type RedisRateLimiter struct {
	redis  *database.Redis
	limit  int
	window time.Duration
}

func NewRedisRateLimiter(redis *database.Redis, limit int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{redis: redis, limit: limit, window: window}
}

func (r *RedisRateLimiter) Allow(ctx context.Context, key string) (RateLimitResult, error) {
	redisKey := fmt.Sprintf("ratelimit:%s", key)

	values, err := incrWindowScript.Run(ctx, r.redis.Client, []string{redisKey}, r.window.Milliseconds()).Int64Slice()
	if err != nil {
		return RateLimitResult{}, fmt.Errorf("failed to count request: %w", err)
	}
	if len(values) != 2 {
		return RateLimitResult{}, fmt.Errorf("unexpected rate limit reply %v", values)
	}

	ttl := time.Duration(values[1]) * time.Millisecond
	if ttl < 0 {
		ttl = r.window
	}
	now := time.Now()
	return newResult(int(values[0]), r.limit, now.Add(ttl), now), nil
}
