package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	rateLimitUserPrefix = "blacksheep:ratelimit:user:"
	rateLimitTTL        = 120 * time.Second
)

// RateLimitResult is the outcome of one limiter check.
type RateLimitResult struct {
	Allowed    bool
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter decides whether a caller may make another request.
type Limiter interface {
	Allow(ctx context.Context, userID uint, perMinute, burst int) (*RateLimitResult, error)
}

// tokenBucketScript refills and consumes in one atomic step.
var tokenBucketScript = redis.NewScript(`
	local key = KEYS[1]
	local rate = tonumber(ARGV[1])
	local burst = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])
	local ttl = tonumber(ARGV[4])

	local data = redis.call('HMGET', key, 'tokens', 'last_update')
	local tokens = tonumber(data[1]) or burst
	local last_update = tonumber(data[2]) or now

	local elapsed = now - last_update
	tokens = math.min(burst, tokens + (elapsed * rate))

	local allowed = 0
	local retry_after = 0
	if tokens >= 1 then
		tokens = tokens - 1
		allowed = 1
	else
		retry_after = math.ceil((1 - tokens) / rate)
	end

	redis.call('HMSET', key, 'tokens', tokens, 'last_update', now)
	redis.call('EXPIRE', key, ttl)

	return {allowed, retry_after, math.floor(tokens)}
`)

// Allow takes one token from the user's bucket. perMinute <= 0 means
// unlimited. On Redis errors the request is allowed and the error returned
// for logging.
func (c *Cache) Allow(ctx context.Context, userID uint, perMinute, burst int) (*RateLimitResult, error) {
	if perMinute <= 0 {
		return unlimited(burst), nil
	}
	if burst <= 0 {
		burst = 1
	}
	rate := float64(perMinute) / 60.0

	result, err := tokenBucketScript.Run(ctx, c.client,
		[]string{fmt.Sprintf("%s%d", rateLimitUserPrefix, userID)},
		rate, burst, time.Now().Unix(), int(rateLimitTTL.Seconds()),
	).Int64Slice()
	if err != nil {
		return unlimited(burst), fmt.Errorf("rate limit script: %w", err)
	}

	return &RateLimitResult{
		Allowed:    result[0] == 1,
		Remaining:  result[2],
		ResetAt:    time.Now().Add(time.Duration(float64(time.Second) / rate)),
		RetryAfter: time.Duration(result[1]) * time.Second,
	}, nil
}

func unlimited(burst int) *RateLimitResult {
	return &RateLimitResult{Allowed: true, Remaining: int64(burst), ResetAt: time.Now().Add(time.Minute)}
}
