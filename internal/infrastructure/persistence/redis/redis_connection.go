// Package redis provides the shared cache used by the key manager, token
// revocation sets, refresh fingerprints, and session storage. All keys are
// namespaced per component; no component owns the cache exclusively.
package redis

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/daybook-io/daybook-auth/internal/config"
	"github.com/daybook-io/daybook-auth/pkg/logger"
)

// Connection manages the Redis client lifecycle.
type Connection struct {
	Client *goredis.Client
	log    logger.Logger
}

// NewConnection creates a Redis connection and verifies it with a ping.
func NewConnection(ctx context.Context, cfg *config.RedisConfig, log logger.Logger) (*Connection, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, err
	}

	log.Info(ctx, "Redis connection established", logger.String("addr", cfg.Addr))
	return &Connection{Client: client, log: log}, nil
}

// HealthCheck pings the server.
func (c *Connection) HealthCheck(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}

// Close releases the client.
func (c *Connection) Close() error {
	return c.Client.Close()
}
