// Package postgres manages the PostgreSQL connection pool and the persisted
// session records consulted by the auth orchestrator.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/daybook-io/daybook-auth/internal/config"
	"github.com/daybook-io/daybook-auth/pkg/logger"
)

// DBConnection manages the pgx connection pool lifecycle.
type DBConnection struct {
	pool *pgxpool.Pool
	log  logger.Logger
}

// NewDBConnection creates a connection pool and verifies it with a ping.
func NewDBConnection(ctx context.Context, cfg *config.DatabaseConfig, log logger.Logger) (*DBConnection, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info(ctx, "PostgreSQL connection pool established",
		logger.String("host", cfg.Host),
		logger.String("database", cfg.Database),
	)
	return &DBConnection{pool: pool, log: log}, nil
}

// Pool returns the underlying pool for repository implementations.
func (db *DBConnection) Pool() *pgxpool.Pool { return db.pool }

// HealthCheck pings the database.
func (db *DBConnection) HealthCheck(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.pool.Ping(pingCtx)
}

// Close shuts down the pool, waiting for active connections to finish.
func (db *DBConnection) Close() {
	db.pool.Close()
}
