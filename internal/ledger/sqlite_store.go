package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/gridlock-ai/sentinel/internal/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS ledger_entries (
    idx            INTEGER PRIMARY KEY,
    timestamp      TEXT NOT NULL,
    previous_hash  TEXT NOT NULL,
    payload        TEXT NOT NULL,
    entry_hash     TEXT NOT NULL
);
`

// SQLiteStore keeps the chain in an embedded database. The index is the
// primary key, so two writers can never persist the same position.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Load returns every entry ordered by index.
func (s *SQLiteStore) Load() ([]domain.LedgerEntry, error) {
	rows, err := s.db.Query(`SELECT idx, timestamp, previous_hash, payload, entry_hash FROM ledger_entries ORDER BY idx`)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var (
			e       domain.LedgerEntry
			ts      string
			payload string
		)
		if err := rows.Scan(&e.Index, &ts, &e.PreviousHash, &payload, &e.EntryHash); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("entry %d timestamp: %w", e.Index, err)
		}
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("entry %d payload: %w", e.Index, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Append inserts entry in its own transaction.
func (s *SQLiteStore) Append(entry domain.LedgerEntry) error {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO ledger_entries (idx, timestamp, previous_hash, payload, entry_hash) VALUES (?, ?, ?, ?, ?)`,
		entry.Index, formatTime(entry.Timestamp), entry.PreviousHash, string(payload), entry.EntryHash)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return tx.Commit()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
