package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool creates the management database pool and verifies it with a ping.
func NewPool(ctx context.Context, databaseURL string, maxConns, minConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	cfg.MaxConns = maxConns
	cfg.MinConns = minConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// TenantPoolFactory returns a PoolFactory for tenant databases. Tenant pools
// connect lazily: a bad host or credential surfaces on first use, not here.
func TenantPoolFactory(maxConns int32) PoolFactory {
	return func(ctx context.Context, connString string) (*pgxpool.Pool, error) {
		cfg, err := pgxpool.ParseConfig(connString)
		if err != nil {
			return nil, fmt.Errorf("parse tenant database url: %w", err)
		}
		if maxConns > 0 {
			cfg.MaxConns = maxConns
		}
		cfg.MinConns = 0

		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("create tenant pool: %w", err)
		}
		return pool, nil
	}
}
