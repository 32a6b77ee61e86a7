// ratelimit.go -- Redis fixed-window rate limiter with lockout.
package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter counts attempts per key in Redis.
// Shares the client with RedisStore.
type RedisRateLimiter struct {
	rdb *redis.Client
}

// NewRedisRateLimiter returns a limiter on top of a shared client.
func NewRedisRateLimiter(rdb *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{rdb}
}

// allowScript atomically checks lockout, counts the attempt and locks out on overflow.
// Returns 1 if allowed, 0 if locked out.
// KEYS[1] = counter key, KEYS[2] = lockout key,
// ARGV[1] = max attempts, ARGV[2] = window ms, ARGV[3] = lockout ms.
var allowScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
    return 0
end
local n = redis.call('INCR', KEYS[1])
if n == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
if n > tonumber(ARGV[1]) then
    redis.call('SET', KEYS[2], 1, 'PX', ARGV[3])
    redis.call('DEL', KEYS[1])
    return 0
end
return 1
`)

// Allow records an attempt for key under policy.
// Returns ErrRateLimitExceeded when locked out; other errors are Redis failures.
// A policy with MaxAttempts <= 0 allows everything.
func (l *RedisRateLimiter) Allow(ctx context.Context, key string, policy RateLimit) error {
	if policy.MaxAttempts <= 0 {
		return nil
	}
	ok, err := allowScript.Run(ctx, l.rdb,
		[]string{"ratelimit:" + key, "ratelimit:lock:" + key},
		policy.MaxAttempts, policy.Window.Milliseconds(), policy.LockoutTTL.Milliseconds(),
	).Int64()
	if err != nil {
		return fmt.Errorf("checking rate limit: %w", err)
	}
	if ok == 0 {
		return ErrRateLimitExceeded
	}
	return nil
}
