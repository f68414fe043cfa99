package redis

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/daybook-io/daybook-auth/pkg/errors"
	"github.com/daybook-io/daybook-auth/pkg/logger"
)

// CacheManager is the shared-cache capability consumed by the key manager,
// token service, rotation service, and session service. Each method is a
// single round-trip so a cancelled caller leaves either the pre- or the
// fully-post state.
type CacheManager interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX sets the key only if it does not exist and reports whether the
	// write won. This is the compare-and-set primitive behind refresh
	// consumption and the rotation lock.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	// CompareAndDelete deletes the key only if it still holds the given
	// value. Used to release owned locks without clobbering a successor.
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)

	// SAdd / SMembers / SRem maintain per-subject index sets.
	SAdd(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SRem(ctx context.Context, key string, members ...string) error

	// Expire adjusts a key's TTL in place.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// TTL returns the remaining lifetime of a key.
	TTL(ctx context.Context, key string) (time.Duration, error)
}

type cacheManager struct {
	conn *Connection
	log  logger.Logger
}

// NewCacheManager creates a CacheManager over an established connection.
func NewCacheManager(conn *Connection, log logger.Logger) CacheManager {
	return &cacheManager{conn: conn, log: log.WithComponent("cache")}
}

func (c *cacheManager) Get(ctx context.Context, key string) (string, error) {
	val, err := c.conn.Client.Get(ctx, key).Result()
	if err != nil {
		if err == goredis.Nil {
			return "", errors.ErrNotFound
		}
		return "", err
	}
	return val, nil
}

func (c *cacheManager) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.conn.Client.Set(ctx, key, value, ttl).Err()
}

func (c *cacheManager) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return c.conn.Client.SetNX(ctx, key, value, ttl).Result()
}

func (c *cacheManager) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.conn.Client.Del(ctx, keys...).Err()
}

func (c *cacheManager) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.conn.Client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// compareAndDeleteScript releases a lock only when the caller still owns it.
var compareAndDeleteScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (c *cacheManager) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	n, err := compareAndDeleteScript.Run(ctx, c.conn.Client, []string{key}, value).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *cacheManager) SAdd(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return c.conn.Client.SAdd(ctx, key, args...).Err()
}

func (c *cacheManager) SMembers(ctx context.Context, key string) ([]string, error) {
	return c.conn.Client.SMembers(ctx, key).Result()
}

func (c *cacheManager) SRem(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return c.conn.Client.SRem(ctx, key, args...).Err()
}

func (c *cacheManager) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.conn.Client.Expire(ctx, key, ttl).Err()
}

func (c *cacheManager) TTL(ctx context.Context, key string) (time.Duration, error) {
	return c.conn.Client.TTL(ctx, key).Result()
}
