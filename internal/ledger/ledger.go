// Package ledger implements the append-only, hash-linked log of confirmed
// theft incidents.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gridlock-ai/sentinel/internal/domain"
)

// Store persists ledger entries. Load must return entries in append order and
// treat a missing medium as an empty chain.
type Store interface {
	Load() ([]domain.LedgerEntry, error)
	Append(entry domain.LedgerEntry) error
	Close() error
}

// Report is the outcome of a full-chain verification.
type Report struct {
	OK          bool   `json:"ok"`
	Entries     int    `json:"entries"`
	FailedIndex int64  `json:"failed_index"`
	Reason      string `json:"reason,omitempty"`
}

// Ledger is the hash chain. Appends are exclusive; verification and snapshots
// share the lock so they never observe a half-written tail.
type Ledger struct {
	mu       sync.RWMutex
	store    Store
	log      *zap.Logger
	now      func() time.Time
	entries  []domain.LedgerEntry
	lastHash string

	// set when the store could not be read at open; appends are refused
	loadErr error
}

// Open loads the existing chain from store to recover its tail. Hash
// mismatches are left for Verify to report. An unreadable store still opens,
// degraded: Verify reports it and Append fails with ErrCorruptLedger until
// the medium is repaired and the process restarted.
func Open(store Store, log *zap.Logger) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("ledger store must not be nil")
	}
	if log == nil {
		log = zap.NewNop()
	}
	entries, err := store.Load()
	if err != nil {
		log.Error("ledger unreadable, appends disabled", zap.Error(err))
		return &Ledger{
			store:    store,
			log:      log,
			now:      time.Now,
			lastHash: GenesisHash,
			loadErr:  err,
		}, nil
	}
	l := &Ledger{
		store:    store,
		log:      log,
		now:      time.Now,
		entries:  entries,
		lastHash: GenesisHash,
	}
	if n := len(entries); n > 0 {
		l.lastHash = entries[n-1].EntryHash
	}
	log.Info("ledger loaded", zap.Int("entries", len(entries)), zap.String("tail", short(l.lastHash)))
	return l, nil
}

// Append links payload to the current tail, persists the new entry and
// returns it. The in-memory tail only advances after the store accepted it.
func (l *Ledger) Append(payload domain.Incident) (domain.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.loadErr != nil {
		return domain.LedgerEntry{}, fmt.Errorf("%w: %w: %v", domain.ErrPersistence, domain.ErrCorruptLedger, l.loadErr)
	}

	payload.Reading.Timestamp = payload.Reading.Timestamp.UTC()
	entry := domain.LedgerEntry{
		Index:        int64(len(l.entries)),
		Timestamp:    l.now().UTC(),
		PreviousHash: l.lastHash,
		Payload:      payload,
	}
	hash, err := ComputeHash(entry)
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("hash entry: %w", err)
	}
	entry.EntryHash = hash

	if err := l.store.Append(entry); err != nil {
		l.log.Error("ledger append failed", zap.Int64("index", entry.Index), zap.Error(err))
		return domain.LedgerEntry{}, fmt.Errorf("%w: ledger append: %v", domain.ErrPersistence, err)
	}
	l.entries = append(l.entries, entry)
	l.lastHash = hash
	l.log.Info("ledger entry appended",
		zap.Int64("index", entry.Index),
		zap.String("hash", short(hash)),
		zap.String("episode_id", payload.EpisodeID),
	)
	return entry, nil
}

// Verify replays the persisted chain from the genesis hash. It re-reads the
// store so out-of-band edits to the medium are detected.
func (l *Ledger) Verify() Report {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries, err := l.store.Load()
	if err != nil {
		l.log.Warn("ledger unreadable", zap.Error(err))
		return Report{OK: false, FailedIndex: -1, Reason: err.Error()}
	}
	report := VerifyEntries(entries)
	if !report.OK {
		l.log.Warn("ledger verification failed",
			zap.Int64("failed_index", report.FailedIndex),
			zap.String("reason", report.Reason),
		)
	}
	return report
}

// Entries returns a copy of the chain as known to this process.
func (l *Ledger) Entries() []domain.LedgerEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.LedgerEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Degraded reports whether the store was unreadable at open.
func (l *Ledger) Degraded() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loadErr != nil
}

// Len returns the number of entries.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Close closes the underlying store.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Close()
}

// VerifyEntries checks linkage and recomputes every hash, stopping at the
// first failure.
func VerifyEntries(entries []domain.LedgerEntry) Report {
	running := GenesisHash
	for i, e := range entries {
		fail := func(reason string) Report {
			return Report{OK: false, Entries: len(entries), FailedIndex: int64(i), Reason: reason}
		}
		if e.Index != int64(i) {
			return fail(fmt.Sprintf("index mismatch: stored %d", e.Index))
		}
		if e.PreviousHash != running {
			return fail("previous_hash mismatch")
		}
		h, err := ComputeHash(e)
		if err != nil {
			return fail(err.Error())
		}
		if h != e.EntryHash {
			return fail("entry_hash mismatch")
		}
		running = e.EntryHash
	}
	return Report{OK: true, Entries: len(entries), FailedIndex: -1}
}

func short(hash string) string {
	if len(hash) <= 12 {
		return hash
	}
	return hash[:12]
}
