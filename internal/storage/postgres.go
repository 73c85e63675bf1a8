package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS episodes (
	id              BIGSERIAL PRIMARY KEY,
	episode_id      TEXT NOT NULL UNIQUE,
	circuit_id      TEXT NOT NULL,
	opened_at       TIMESTAMPTZ NOT NULL,
	trigger_score   DOUBLE PRECISION NOT NULL,
	voltage         DOUBLE PRECISION NOT NULL,
	current_a       DOUBLE PRECISION NOT NULL,
	power           DOUBLE PRECISION NOT NULL,
	power_factor    DOUBLE PRECISION NOT NULL,
	suggested_cause TEXT NOT NULL,
	resolution      TEXT NOT NULL CHECK(resolution IN ('pending','adapted','theft_confirmed')),
	resolved_at     TIMESTAMPTZ,
	entry_hash      TEXT
);
CREATE INDEX IF NOT EXISTS idx_episodes_circuit_opened ON episodes (circuit_id, opened_at);
`

// NewPostgresDB creates a connection pool and applies the schema.
func NewPostgresDB(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

func migrate(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}
