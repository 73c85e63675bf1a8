// Package storage journals anomaly episodes in PostgreSQL for reporting.
// The journal is a convenience copy; the hash-chained ledger remains the
// authoritative record of confirmed thefts.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/gridlock-ai/sentinel/internal/domain"
)

// Stats counts episodes by resolution.
type Stats struct {
	Total          int `db:"total"`
	Adapted        int `db:"adapted"`
	TheftConfirmed int `db:"theft_confirmed"`
	Pending        int `db:"pending"`
}

// Repository defines the interface for episode journal storage.
type Repository interface {
	// RecordEpisode inserts the episode or moves a pending one to its
	// resolution. A resolved episode is never changed again.
	RecordEpisode(ctx context.Context, circuitID string, c domain.AnomalyContext, entryHash *string) error

	// GetEpisode retrieves an episode by id.
	GetEpisode(ctx context.Context, episodeID string) (*domain.Episode, error)

	// ListEpisodes returns a circuit's episodes opened within a time range, newest first.
	ListEpisodes(ctx context.Context, circuitID string, from, to time.Time) ([]domain.Episode, error)

	// GetThefts returns confirmed thefts for a circuit within a time range.
	GetThefts(ctx context.Context, circuitID string, from, to time.Time) ([]domain.Episode, error)

	// GetCircuitStats returns counts by resolution for a circuit within a time range.
	GetCircuitStats(ctx context.Context, circuitID string, from, to time.Time) (Stats, error)

	// GetCauseBreakdown counts episodes per suggested cause.
	GetCauseBreakdown(ctx context.Context, circuitID string, from, to time.Time) (map[string]int, error)

	// DeleteBefore removes resolved episodes opened before cutoff.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// advisoryLockKey generates a consistent int64 hash for pg_advisory_xact_lock.
func advisoryLockKey(episodeID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(episodeID))
	return int64(h.Sum64())
}

const episodeColumns = `episode_id, circuit_id, opened_at, trigger_score, voltage, current_a, power, power_factor, suggested_cause, resolution, resolved_at, entry_hash`

// RecordEpisode serialises writes for one episode with an advisory lock and
// upserts in a single statement. Open and resolve events are delivered
// concurrently, so either may arrive first.
func (r *PostgresRepository) RecordEpisode(ctx context.Context, circuitID string, c domain.AnomalyContext, entryHash *string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey(c.EpisodeID)); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}

	var resolvedAt sql.NullTime
	if c.ResolvedAt != nil {
		resolvedAt = sql.NullTime{Time: c.ResolvedAt.UTC(), Valid: true}
	}
	var hash sql.NullString
	if entryHash != nil {
		hash = sql.NullString{String: *entryHash, Valid: true}
	}
	cause := string(c.SuggestedCause)
	if cause == "" {
		cause = domain.CauseNotAvailable
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO episodes (`+episodeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (episode_id) DO UPDATE SET
			resolution = EXCLUDED.resolution,
			resolved_at = EXCLUDED.resolved_at,
			entry_hash = COALESCE(EXCLUDED.entry_hash, episodes.entry_hash)
		WHERE episodes.resolution = 'pending'
	`, c.EpisodeID, circuitID, c.OpenedAt.UTC(), c.TriggerScore,
		c.Payload.Voltage, c.Payload.Current, c.Payload.Power, c.Payload.PowerFactor,
		cause, string(c.Resolution), resolvedAt, hash,
	)
	if err != nil {
		return fmt.Errorf("upsert episode: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetEpisode(ctx context.Context, episodeID string) (*domain.Episode, error) {
	var ep domain.Episode
	err := r.db.GetContext(ctx, &ep, `SELECT `+episodeColumns+` FROM episodes WHERE episode_id = $1`, episodeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrEpisodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get episode: %w", err)
	}
	return &ep, nil
}

func (r *PostgresRepository) ListEpisodes(ctx context.Context, circuitID string, from, to time.Time) ([]domain.Episode, error) {
	var eps []domain.Episode
	err := r.db.SelectContext(ctx, &eps, `
		SELECT `+episodeColumns+`
		FROM episodes
		WHERE circuit_id = $1 AND opened_at >= $2 AND opened_at <= $3
		ORDER BY opened_at DESC
	`, circuitID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}
	return eps, nil
}

func (r *PostgresRepository) GetThefts(ctx context.Context, circuitID string, from, to time.Time) ([]domain.Episode, error) {
	var eps []domain.Episode
	err := r.db.SelectContext(ctx, &eps, `
		SELECT `+episodeColumns+`
		FROM episodes
		WHERE circuit_id = $1 AND opened_at >= $2 AND opened_at <= $3 AND resolution = 'theft_confirmed'
		ORDER BY trigger_score DESC
	`, circuitID, from, to)
	if err != nil {
		return nil, fmt.Errorf("get thefts: %w", err)
	}
	return eps, nil
}

func (r *PostgresRepository) GetCircuitStats(ctx context.Context, circuitID string, from, to time.Time) (Stats, error) {
	var s Stats
	err := r.db.GetContext(ctx, &s, `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE resolution = 'adapted') AS adapted,
			COUNT(*) FILTER (WHERE resolution = 'theft_confirmed') AS theft_confirmed,
			COUNT(*) FILTER (WHERE resolution = 'pending') AS pending
		FROM episodes
		WHERE circuit_id = $1 AND opened_at >= $2 AND opened_at <= $3
	`, circuitID, from, to)
	if err != nil {
		return Stats{}, fmt.Errorf("circuit stats: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) GetCauseBreakdown(ctx context.Context, circuitID string, from, to time.Time) (map[string]int, error) {
	rows, err := r.db.QueryxContext(ctx, `
		SELECT suggested_cause, COUNT(*)
		FROM episodes
		WHERE circuit_id = $1 AND opened_at >= $2 AND opened_at <= $3
		GROUP BY suggested_cause
	`, circuitID, from, to)
	if err != nil {
		return nil, fmt.Errorf("cause breakdown: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var cause string
		var n int
		if err := rows.Scan(&cause, &n); err != nil {
			return nil, err
		}
		out[cause] = n
	}
	return out, rows.Err()
}

func (r *PostgresRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM episodes WHERE opened_at < $1 AND resolution <> 'pending'", cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
