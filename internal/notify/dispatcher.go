// Package notify delivers lifecycle events to external systems without ever
// blocking the controller that produced them.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gridlock-ai/sentinel/internal/lifecycle"
)

// DefaultTimeout bounds each send.
const DefaultTimeout = 3 * time.Second

// Sender delivers an event to one external system.
type Sender interface {
	Name() string
	Send(ctx context.Context, ev lifecycle.Event) error
}

// Recorder receives the outcome of every send. *monitor.Metrics satisfies it.
type Recorder interface {
	RecordNotification(sink string, err error)
}

// Dispatcher fans events out to senders, each send on its own goroutine
// under a timeout. Failures are logged and counted but never retried.
type Dispatcher struct {
	senders []Sender
	timeout time.Duration
	rec     Recorder
	log     *zap.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher returns a dispatcher over senders. A non-positive timeout
// means DefaultTimeout; rec may be nil.
func NewDispatcher(timeout time.Duration, rec Recorder, log *zap.Logger, senders ...Sender) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{senders: senders, timeout: timeout, rec: rec, log: log}
}

// Add registers another sender. Not safe to call once events are flowing.
func (d *Dispatcher) Add(s Sender) {
	d.senders = append(d.senders, s)
}

// Dispatch implements lifecycle.Sink. Events arriving after Wait has
// started are dropped.
func (d *Dispatcher) Dispatch(ev lifecycle.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.log.Warn("notification dropped after shutdown",
			zap.String("event", string(ev.Kind)),
			zap.String("circuit_id", ev.CircuitID),
		)
		return
	}
	for _, s := range d.senders {
		if f, ok := s.(acceptor); ok && !f.Accepts(ev.Kind) {
			continue
		}
		d.wg.Add(1)
		go d.send(s, ev)
	}
}

func (d *Dispatcher) send(s Sender, ev lifecycle.Event) {
	defer d.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	err := s.Send(ctx, ev)
	if d.rec != nil {
		d.rec.RecordNotification(s.Name(), err)
	}
	if err != nil {
		d.log.Warn("notification failed",
			zap.String("sink", s.Name()),
			zap.String("event", string(ev.Kind)),
			zap.String("circuit_id", ev.CircuitID),
			zap.Error(err),
		)
		return
	}
	d.log.Debug("notification sent", zap.String("sink", s.Name()), zap.String("event", string(ev.Kind)))
}

// Wait stops accepting events and blocks until in-flight sends finish or
// ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type acceptor interface {
	Accepts(kind lifecycle.EventKind) bool
}

// filtered only forwards the listed event kinds.
type filtered struct {
	Sender
	kinds map[lifecycle.EventKind]bool
}

// Only wraps s so it receives just the given kinds.
func Only(s Sender, kinds ...lifecycle.EventKind) Sender {
	f := &filtered{Sender: s, kinds: make(map[lifecycle.EventKind]bool, len(kinds))}
	for _, k := range kinds {
		f.kinds[k] = true
	}
	return f
}

func (f *filtered) Accepts(kind lifecycle.EventKind) bool {
	return f.kinds[kind]
}
