// Package ratelimit provides distributed rate limiting over Redis,
// protecting the login and refresh endpoints from credential stuffing.
package ratelimit

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"

	rediscache "github.com/daybook-io/daybook-auth/internal/infrastructure/persistence/redis"
	"github.com/daybook-io/daybook-auth/pkg/constants"
	"github.com/daybook-io/daybook-auth/pkg/logger"
)

// Result is the outcome of a rate limit check.
type Result struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// RedisRateLimiter implements a token bucket per key, refilled continuously.
// The bucket state lives in Redis so all instances share one budget; the
// check-and-consume is a single Lua script and therefore atomic.
type RedisRateLimiter struct {
	client   *goredis.Client
	capacity int64
	rate     float64 // tokens per second
	log      logger.Logger
	now      func() time.Time
}

// NewRedisRateLimiter creates a limiter allowing ratePerMinute sustained
// requests with bursts up to burst.
func NewRedisRateLimiter(conn *rediscache.Connection, ratePerMinute, burst int, log logger.Logger) *RedisRateLimiter {
	return &RedisRateLimiter{
		client:   conn.Client,
		capacity: int64(burst),
		rate:     float64(ratePerMinute) / 60.0,
		log:      log.WithComponent("ratelimit"),
		now:      time.Now,
	}
}

var tokenBucketScript = goredis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local bucket = redis.call('HMGET', key, 'tokens', 'last_refill')
local tokens = tonumber(bucket[1]) or capacity
local last_refill = tonumber(bucket[2]) or now

local elapsed = now - last_refill
if elapsed < 0 then elapsed = 0 end
tokens = math.min(tokens + elapsed * rate / 1000, capacity)

local allowed = 0
if tokens >= 1 then
	tokens = tokens - 1
	allowed = 1
end

redis.call('HMSET', key, 'tokens', tokens, 'last_refill', now)
local refill_ms = math.ceil((capacity - tokens) / rate * 1000)
redis.call('PEXPIRE', key, refill_ms + 60000)

return {allowed, math.floor(tokens), refill_ms}
`)

// Allow consumes one token from the bucket identified by key (typically an
// endpoint plus a client address). On a Redis failure the limiter fails
// open: availability of login beats strict enforcement.
func (l *RedisRateLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	nowMs := l.now().UnixMilli()
	vals, err := tokenBucketScript.Run(ctx, l.client,
		[]string{constants.CacheNSRateLimit + key},
		l.capacity, l.rate, nowMs,
	).Int64Slice()
	if err != nil {
		l.log.Warn(ctx, "Rate limit check failed, allowing request", logger.Error(err))
		return &Result{Allowed: true, Remaining: l.capacity}, nil
	}

	res := &Result{
		Allowed:   vals[0] == 1,
		Remaining: vals[1],
	}
	if !res.Allowed {
		// Enough refill time for one token.
		res.RetryAfter = time.Duration(float64(time.Second) / l.rate)
	}
	return res, nil
}
