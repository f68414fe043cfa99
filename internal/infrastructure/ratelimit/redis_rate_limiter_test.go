package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rediscache "github.com/daybook-io/daybook-auth/internal/infrastructure/persistence/redis"
	"github.com/daybook-io/daybook-auth/pkg/logger"
)

func newTestLimiter(t *testing.T, perMinute, burst int) *RedisRateLimiter {
	t.Helper()
	mr := miniredis.RunT(t)
	conn := &rediscache.Connection{Client: goredis.NewClient(&goredis.Options{Addr: mr.Addr()})}
	return NewRedisRateLimiter(conn, perMinute, burst, logger.NewNop())
}

func TestRateLimiterBurst(t *testing.T) {
	ctx := context.Background()
	limiter := newTestLimiter(t, 60, 3)

	for i := 0; i < 3; i++ {
		res, err := limiter.Allow(ctx, "login:203.0.113.9")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d should be allowed", i)
	}

	res, err := limiter.Allow(ctx, "login:203.0.113.9")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	limiter := newTestLimiter(t, 60, 1)

	res, err := limiter.Allow(ctx, "login:203.0.113.9")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = limiter.Allow(ctx, "login:203.0.113.9")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	// A different client address has its own bucket.
	res, err = limiter.Allow(ctx, "login:198.51.100.7")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestRateLimiterRefills(t *testing.T) {
	ctx := context.Background()
	limiter := newTestLimiter(t, 60, 1)

	base := time.Now()
	limiter.now = func() time.Time { return base }

	res, err := limiter.Allow(ctx, "login:203.0.113.9")
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = limiter.Allow(ctx, "login:203.0.113.9")
	require.NoError(t, err)
	require.False(t, res.Allowed)

	// One token per second at 60/minute: two seconds later we can go again.
	limiter.now = func() time.Time { return base.Add(2 * time.Second) }
	res, err = limiter.Allow(ctx, "login:203.0.113.9")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestRateLimiterFailsOpen(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	conn := &rediscache.Connection{Client: goredis.NewClient(&goredis.Options{Addr: mr.Addr()})}
	limiter := NewRedisRateLimiter(conn, 60, 1, logger.NewNop())

	mr.Close()
	res, err := limiter.Allow(ctx, "login:203.0.113.9")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}
