package repository

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

var migrationStatements = []string{
	`DO $$ BEGIN CREATE TYPE weekend_status AS ENUM ('scheduled', 'active', 'completed', 'cancelled'); EXCEPTION WHEN duplicate_object THEN NULL; END $$`,
	`DO $$ BEGIN CREATE TYPE session_status AS ENUM ('pending', 'notified', 'started', 'completed'); EXCEPTION WHEN duplicate_object THEN NULL; END $$`,
	`CREATE TABLE IF NOT EXISTS weekends (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		icon TEXT NOT NULL DEFAULT '',
		series TEXT NOT NULL,
		start_date TIMESTAMPTZ NOT NULL,
		status weekend_status NOT NULL DEFAULT 'scheduled',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE(series, name, start_date)
	)`,
	// weekend_id is intentionally not a foreign key; orphans are removed by the notifier.
	`CREATE TABLE IF NOT EXISTS sessions (
		id BIGSERIAL PRIMARY KEY,
		weekend_id BIGINT NOT NULL,
		start_time TIMESTAMPTZ NOT NULL,
		name TEXT NOT NULL,
		duration INTEGER NOT NULL CHECK (duration > 0),
		notify TEXT NOT NULL DEFAULT 'none',
		status session_status NOT NULL DEFAULT 'pending',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_weekend ON sessions (weekend_id)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_open ON sessions (start_time, id) WHERE status <> 'completed'`,
	`CREATE TABLE IF NOT EXISTS messages (
		id UUID PRIMARY KEY,
		dedup_key TEXT NOT NULL UNIQUE,
		message_platform_id TEXT NOT NULL,
		channel_platform_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		series TEXT NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_expires_at ON messages (expires_at)`,
}

func RunMigration(ctx context.Context, pool *pgxpool.Pool) error {
	for _, s := range migrationStatements {
		stmt := strings.TrimSpace(s)
		if stmt == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
