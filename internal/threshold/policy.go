// Package threshold holds the anomaly decision threshold and its
// time-bounded override.
package threshold

import (
	"sync"
	"time"

	"github.com/gridlock-ai/sentinel/internal/domain"
)

// DefaultBaseline is the decision threshold when no override is active.
const DefaultBaseline = 0.75

// Policy is safe for concurrent use. Expiry is evaluated lazily on read;
// there is no timer.
type Policy struct {
	mu       sync.Mutex
	baseline float64
	override float64
	expiry   time.Time
	active   bool
}

// New returns a policy whose current value equals baseline.
func New(baseline float64) *Policy {
	return &Policy{baseline: baseline}
}

// Current returns the threshold in force at now.
func (p *Policy) Current(now time.Time) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentLocked(now)
}

func (p *Policy) currentLocked(now time.Time) float64 {
	if p.active && !now.Before(p.expiry) {
		p.active = false
		p.expiry = time.Time{}
	}
	if p.active {
		return p.override
	}
	return p.baseline
}

// Override raises the threshold to value until now+d.
func (p *Policy) Override(value float64, d time.Duration, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.override = value
	p.expiry = now.Add(d)
	p.active = true
}

// Baseline returns the configured baseline.
func (p *Policy) Baseline() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.baseline
}

// SetBaseline changes the baseline. An active override is left in place.
func (p *Policy) SetBaseline(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.baseline = v
}

// State returns a presentable snapshot at now.
func (p *Policy) State(now time.Time) domain.ThresholdState {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := domain.ThresholdState{
		Baseline: p.baseline,
		Current:  p.currentLocked(now),
	}
	if p.active {
		exp := p.expiry
		st.OverrideExpiry = &exp
	}
	return st
}
