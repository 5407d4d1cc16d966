package db

import (
	"context"
	"fmt"

	"order-tracker/config"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pool for the storefront database and checks it answers.
func Connect(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	return ConnectDSN(ctx, cfg.DSN(), cfg.MaxConns)
}

func ConnectDSN(ctx context.Context, dsn string, maxConns int) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	if maxConns > 0 {
		// One connection stays parked on LISTEN while tracking.
		pcfg.MaxConns = int32(maxConns) + 1
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("open database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}
