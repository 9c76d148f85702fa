package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/crypto-market-server/internal/config"
)

// Connect creates a connection pool and verifies it with a ping.
func Connect(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(BuildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// Execer runs a statement. *pgxpool.Pool satisfies it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// schema creates the ticker history table. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS ticker_history (
		exchange    TEXT        NOT NULL,
		symbol      TEXT        NOT NULL,
		ts          TIMESTAMPTZ NOT NULL,
		last        NUMERIC,
		bid         NUMERIC,
		ask         NUMERIC,
		high        NUMERIC,
		low         NUMERIC,
		volume      NUMERIC,
		received_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (exchange, symbol, ts)
	)`,
	`CREATE INDEX IF NOT EXISTS ticker_history_ts_idx ON ticker_history (ts DESC)`,
}

// EnsureSchema creates the tables the server writes to if they are missing.
func EnsureSchema(ctx context.Context, db Execer) error {
	for i, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}
