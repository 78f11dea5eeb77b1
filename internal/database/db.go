// Package database owns the Postgres connection for the historian.
// The game server itself never touches it; coordinator state is
// in-memory only.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the global connection pool.
var DB *pgxpool.Pool

// Connect opens the pool and verifies connectivity.
func Connect(ctx context.Context, connStr string) error {
	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return fmt.Errorf("unable to parse pgx config: %w", err)
	}

	DB, err = pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return fmt.Errorf("unable to create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := DB.Ping(pingCtx); err != nil {
		return fmt.Errorf("db ping error: %w", err)
	}
	return nil
}

// EnsureSchema creates the matches table if missing.
func EnsureSchema(ctx context.Context) error {
	q := `
		CREATE TABLE IF NOT EXISTS matches (
			id          BIGSERIAL PRIMARY KEY,
			session_id  TEXT NOT NULL,
			mode        TEXT NOT NULL,
			reason      TEXT NOT NULL,
			winner      TEXT NOT NULL DEFAULT '',
			white_id    TEXT,
			black_id    TEXT,
			final_fen   TEXT NOT NULL,
			started_at  TIMESTAMPTZ NOT NULL,
			ended_at    TIMESTAMPTZ NOT NULL
		)`
	_, err := DB.Exec(ctx, q)
	if err != nil {
		return fmt.Errorf("ensure matches schema: %w", err)
	}
	return nil
}
