// Package telemetry holds the latest sensor reading for a circuit and the
// transports that feed it.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gridlock-ai/sentinel/internal/domain"
)

// DefaultMaxAge is how old the latest reading may be before it no longer
// counts as current data.
const DefaultMaxAge = 10 * time.Second

// Source yields the current reading of a circuit. Implementations return
// domain.ErrDataUnavailable when nothing current is available.
type Source interface {
	Latest(ctx context.Context) (domain.Reading, error)
}

// Buffer keeps the most recently pushed reading. Readings arrive from HTTP
// ingest or MQTT; the poller reads them back through Latest.
type Buffer struct {
	mu         sync.RWMutex
	reading    domain.Reading
	receivedAt time.Time
	has        bool
	maxAge     time.Duration
	now        func() time.Time
}

// NewBuffer returns an empty buffer. A non-positive maxAge disables the
// staleness check.
func NewBuffer(maxAge time.Duration) *Buffer {
	return &Buffer{maxAge: maxAge, now: time.Now}
}

// Put stores r as the latest reading. A zero timestamp is stamped with the
// receive time; a reading older than the stored one is ignored.
func (b *Buffer) Put(r domain.Reading) error {
	if err := Validate(r); err != nil {
		return err
	}
	now := b.now()
	if r.Timestamp.IsZero() {
		r.Timestamp = now
	}
	r.Timestamp = r.Timestamp.UTC()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.has && r.Timestamp.Before(b.reading.Timestamp) {
		return nil
	}
	b.reading = r
	b.receivedAt = now
	b.has = true
	return nil
}

// Latest returns the stored reading unless there is none or it is stale.
func (b *Buffer) Latest(_ context.Context) (domain.Reading, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.has {
		return domain.Reading{}, domain.ErrDataUnavailable
	}
	if b.maxAge > 0 && b.now().Sub(b.receivedAt) > b.maxAge {
		return domain.Reading{}, fmt.Errorf("%w: last reading received %s ago", domain.ErrDataUnavailable, b.now().Sub(b.receivedAt).Truncate(time.Second))
	}
	return b.reading, nil
}

// Validate rejects readings no sensor could produce.
func Validate(r domain.Reading) error {
	switch {
	case r.Voltage < 0:
		return errors.New("voltage must not be negative")
	case r.Current < 0:
		return errors.New("current must not be negative")
	case r.PowerFactor < 0 || r.PowerFactor > 1:
		return errors.New("power_factor must be within [0, 1]")
	}
	return nil
}
