// Package feedback persists human resolutions as labelled training samples
// and, for confirmed thefts, hands the incident to the ledger.
package feedback

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/gridlock-ai/sentinel/internal/domain"
)

// Header is the fixed first row of the feedback log.
var Header = []string{"voltage", "current", "power", "power_factor", "suggested_cause", "label"}

// LedgerAppender is the part of the ledger the recorder needs.
type LedgerAppender interface {
	Append(payload domain.Incident) (domain.LedgerEntry, error)
}

// Resolution is one resolved episode to persist. Incident is required when
// the sample is labelled theft.
type Resolution struct {
	EpisodeID string
	Sample    domain.FeedbackSample
	Incident  *domain.Incident
}

// Recorder appends rows to the feedback log. A resolution is durable only
// once its row and, for thefts, its ledger entry are both written.
type Recorder struct {
	mu     sync.Mutex
	path   string
	ledger LedgerAppender
	log    *zap.Logger

	// episodes whose theft row is on disk but whose ledger append has not
	// succeeded. Held in memory only: a restart before the retry writes the
	// theft row a second time.
	pendingLedger map[string]bool
}

// NewRecorder returns a recorder writing to path.
func NewRecorder(path string, ledger LedgerAppender, log *zap.Logger) (*Recorder, error) {
	if ledger == nil {
		return nil, fmt.Errorf("ledger must not be nil")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create feedback dir: %w", err)
	}
	return &Recorder{
		path:          path,
		ledger:        ledger,
		log:           log,
		pendingLedger: make(map[string]bool),
	}, nil
}

// Path returns the feedback log location.
func (r *Recorder) Path() string {
	return r.path
}

// Record writes the sample row and, when labelled theft, appends the
// incident to the ledger. A retried theft resolution whose row already made
// it to disk only retries the ledger append. A non-theft resolution for such
// an episode drops the pending append and writes its own row.
func (r *Recorder) Record(res Resolution) (*domain.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	theft := res.Sample.Label == domain.LabelTheft
	if theft && res.Incident == nil {
		return nil, fmt.Errorf("theft resolution for episode %s has no incident", res.EpisodeID)
	}

	if !theft && r.pendingLedger[res.EpisodeID] {
		delete(r.pendingLedger, res.EpisodeID)
		r.log.Warn("pending theft superseded",
			zap.String("episode_id", res.EpisodeID),
			zap.Int("label", res.Sample.Label),
		)
	}
	if !(theft && r.pendingLedger[res.EpisodeID]) {
		if err := r.appendRow(res.Sample); err != nil {
			r.log.Error("feedback write failed", zap.String("episode_id", res.EpisodeID), zap.Error(err))
			return nil, fmt.Errorf("%w: feedback row: %v", domain.ErrPersistence, err)
		}
		r.log.Info("feedback recorded",
			zap.String("episode_id", res.EpisodeID),
			zap.Int("label", res.Sample.Label),
			zap.String("cause", res.Sample.SuggestedCause),
		)
	}
	if !theft {
		return nil, nil
	}

	r.pendingLedger[res.EpisodeID] = true
	entry, err := r.ledger.Append(*res.Incident)
	if err != nil {
		return nil, err
	}
	delete(r.pendingLedger, res.EpisodeID)
	return &entry, nil
}

func (r *Recorder) appendRow(s domain.FeedbackSample) error {
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(Header); err != nil {
			return err
		}
	}
	if err := w.Write(row(s)); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Sync()
}

func row(s domain.FeedbackSample) []string {
	return []string{
		formatFloat(s.Voltage),
		formatFloat(s.Current),
		formatFloat(s.Power),
		formatFloat(s.PowerFactor),
		s.SuggestedCause,
		strconv.Itoa(s.Label),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Samples reads the whole log. A missing log has no samples.
func (r *Recorder) Samples() ([]domain.FeedbackSample, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ReadFile(r.path)
}

// ReadFile parses a feedback log, as the retraining job consumes it.
func ReadFile(path string) ([]domain.FeedbackSample, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = len(Header)
	var out []domain.FeedbackSample
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if line == 1 {
			continue
		}
		s, err := parseRow(rec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, s)
	}
	return out, nil
}

func parseRow(rec []string) (domain.FeedbackSample, error) {
	var (
		s    domain.FeedbackSample
		vals [4]float64
	)
	for i := range vals {
		v, err := strconv.ParseFloat(rec[i], 64)
		if err != nil {
			return s, fmt.Errorf("%s: %w", Header[i], err)
		}
		vals[i] = v
	}
	label, err := strconv.Atoi(rec[5])
	if err != nil {
		return s, fmt.Errorf("label: %w", err)
	}
	s.Voltage, s.Current, s.Power, s.PowerFactor = vals[0], vals[1], vals[2], vals[3]
	s.SuggestedCause = rec[4]
	s.Label = label
	return s, nil
}
