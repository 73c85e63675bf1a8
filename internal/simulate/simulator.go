package simulate

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/gridlock-ai/sentinel/internal/domain"
)

// Mode selects which population readings are drawn from.
type Mode string

const (
	ModeNormal Mode = "NORMAL"
	ModeTheft  Mode = "THEFT"
)

// ParseMode accepts a mode name in any case.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToUpper(strings.TrimSpace(s))); m {
	case ModeNormal, ModeTheft:
		return m, nil
	}
	return "", fmt.Errorf("unknown simulator mode %q", s)
}

// Simulator draws readings from a dataset, one population per mode. It
// satisfies telemetry.Source.
type Simulator struct {
	mu   sync.Mutex
	mode Mode
	ds   Dataset
	rng  *rand.Rand
	now  func() time.Time
}

// New returns a simulator in NORMAL mode. The same seed yields the same
// sequence of readings.
func New(ds Dataset, seed uint64) (*Simulator, error) {
	if len(ds.Normal) == 0 || len(ds.Theft) == 0 {
		return nil, fmt.Errorf("simulator needs both normal and theft samples")
	}
	return &Simulator{
		mode: ModeNormal,
		ds:   ds,
		rng:  rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		now:  time.Now,
	}, nil
}

// Mode returns the current mode.
func (s *Simulator) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetMode switches the population subsequent readings come from.
func (s *Simulator) SetMode(m Mode) {
	s.mu.Lock()
	s.mode = m
	s.mu.Unlock()
}

// Toggle flips between NORMAL and THEFT and returns the new mode.
func (s *Simulator) Toggle() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == ModeNormal {
		s.mode = ModeTheft
	} else {
		s.mode = ModeNormal
	}
	return s.mode
}

// Latest samples one reading from the current mode's population.
func (s *Simulator) Latest(_ context.Context) (domain.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pool := s.ds.Normal
	if s.mode == ModeTheft {
		pool = s.ds.Theft
	}
	r := pool[s.rng.IntN(len(pool))]
	r.Timestamp = s.now().UTC()
	return r, nil
}
