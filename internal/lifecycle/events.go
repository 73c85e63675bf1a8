package lifecycle

import (
	"time"

	"github.com/gridlock-ai/sentinel/internal/domain"
)

// EventKind names an outbound lifecycle event.
type EventKind string

const (
	EventAnomalyOpened    EventKind = "anomaly_opened"
	EventAnomalyAdapted   EventKind = "anomaly_adapted"
	EventTheftConfirmed   EventKind = "theft_confirmed"
	EventRetrainRequested EventKind = "retrain_requested"
	EventCircuitReset     EventKind = "circuit_reset"
)

// Event is handed to the Sink after the controller has released its lock.
// Context is set for episode events, Proof only for theft confirmations.
type Event struct {
	Kind      EventKind              `json:"kind"`
	CircuitID string                 `json:"circuit_id"`
	At        time.Time              `json:"at"`
	Context   *domain.AnomalyContext `json:"context,omitempty"`
	Proof     *domain.TheftProof     `json:"proof,omitempty"`
	Reason    string                 `json:"reason,omitempty"`
}

// Sink receives outbound events. Implementations must not block; the
// controller calls Dispatch from the goroutine that submitted the tick or
// decision.
type Sink interface {
	Dispatch(ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev Event)

// Dispatch calls f(ev).
func (f SinkFunc) Dispatch(ev Event) { f(ev) }

// Observer is notified of every evaluated tick and state change, for metrics.
type Observer interface {
	ObserveTick(status domain.Status, score, threshold float64)
	ObserveTransition(from, to domain.State)
}

type nopObserver struct{}

func (nopObserver) ObserveTick(domain.Status, float64, float64)  {}
func (nopObserver) ObserveTransition(domain.State, domain.State) {}
