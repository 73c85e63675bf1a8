package domain

import (
	"time"

	"github.com/google/uuid"
)

// State is a lifecycle state of one monitored circuit.
type State string

const (
	StateNormal          State = "NORMAL"
	StateAnomalyActive   State = "ANOMALY_ACTIVE"
	StateResolvedAdapted State = "RESOLVED_ADAPTED"
	StateResolvedTheft   State = "RESOLVED_THEFT"
)

// Status is what the presentation layer renders. It differs from State in
// that a tick without data is reported as "waiting" and never as normal.
type Status string

const (
	StatusWaiting Status = "waiting"
	StatusNormal  Status = "normal"
	StatusAnomaly Status = "anomaly"
	StatusAdapted Status = "adapted"
	StatusTheft   Status = "theft"
)

// Resolution is the outcome of one anomaly episode.
type Resolution string

const (
	ResolutionPending        Resolution = "pending"
	ResolutionAdapted        Resolution = "adapted"
	ResolutionTheftConfirmed Resolution = "theft_confirmed"
)

// DecisionKind is a human decision on an active anomaly.
type DecisionKind string

const (
	DecisionAdapt        DecisionKind = "adapt"
	DecisionConfirmTheft DecisionKind = "confirm_theft"
)

// Valid reports whether k is a known decision.
func (k DecisionKind) Valid() bool {
	return k == DecisionAdapt || k == DecisionConfirmTheft
}

// Cause is the operator-facing explanation suggested for an anomaly.
type Cause string

const (
	CauseShortCircuit   Cause = "short-circuit / major fault"
	CauseHighCurrent    Cause = "sustained high current / possible theft or overload"
	CauseLowPowerFactor Cause = "low power factor / motor or appliance fault"
	CauseVoltageSag     Cause = "voltage sag / grid fault"
	CauseUnclassified   Cause = "unusual pattern, unclassified"
)

// CauseNotAvailable is rendered wherever a cause was never suggested.
const CauseNotAvailable = "N/A"

// Reading is one sensor sample. It is produced once per tick and never
// modified afterwards.
type Reading struct {
	Timestamp   time.Time `json:"timestamp"`
	Voltage     float64   `json:"voltage"`
	Current     float64   `json:"current"`
	Power       float64   `json:"power"`
	PowerFactor float64   `json:"power_factor"`
}

// Features returns the scorer input vector in its fixed order.
func (r Reading) Features() []float64 {
	return []float64{r.Voltage, r.Current, r.Power, r.PowerFactor}
}

// ScoreResult pairs a reading with the scorer's probability of anomaly.
type ScoreResult struct {
	Reading        Reading `json:"reading"`
	AnomalyScore   float64 `json:"anomaly_score"`
	SuggestedCause *Cause  `json:"suggested_cause,omitempty"`
}

// ThresholdState is a presentable view of the decision threshold.
type ThresholdState struct {
	Baseline       float64    `json:"baseline"`
	Current        float64    `json:"current"`
	OverrideExpiry *time.Time `json:"override_expiry,omitempty"`
}

// AnomalyContext is the record of one anomaly episode. Only the controller
// mutates it and only Resolution ever changes after creation.
type AnomalyContext struct {
	EpisodeID      string     `json:"episode_id"`
	OpenedAt       time.Time  `json:"opened_at"`
	TriggerScore   float64    `json:"trigger_score"`
	Payload        Reading    `json:"payload"`
	SuggestedCause Cause      `json:"suggested_cause"`
	Resolution     Resolution `json:"resolution"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

// NewEpisodeID returns a fresh identifier for an anomaly episode.
func NewEpisodeID() string {
	return uuid.NewString()
}

// Incident is the payload of a ledger entry: a confirmed theft.
type Incident struct {
	EpisodeID      string  `json:"episode_id"`
	Reading        Reading `json:"reading"`
	AnomalyScore   float64 `json:"anomaly_score"`
	SuggestedCause *Cause  `json:"suggested_cause,omitempty"`
}

// CauseLabel renders the suggested cause, falling back to N/A.
func (i Incident) CauseLabel() string {
	if i.SuggestedCause == nil {
		return CauseNotAvailable
	}
	return string(*i.SuggestedCause)
}

// LedgerEntry is one hash-linked record. EntryHash covers every other field.
type LedgerEntry struct {
	Index        int64     `json:"index"`
	Timestamp    time.Time `json:"timestamp"`
	PreviousHash string    `json:"previous_hash"`
	Payload      Incident  `json:"payload"`
	EntryHash    string    `json:"entry_hash"`
}

// TheftProof is what an external notifier publishes after a confirmed theft.
type TheftProof struct {
	EpisodeID string    `json:"episode_id"`
	EntryHash string    `json:"entry_hash"`
	Timestamp time.Time `json:"timestamp"`
	Reading   Reading   `json:"reading"`
	Cause     string    `json:"suggested_cause"`
}

// FeedbackSample is one human-labelled training row.
type FeedbackSample struct {
	Voltage        float64 `json:"voltage"`
	Current        float64 `json:"current"`
	Power          float64 `json:"power"`
	PowerFactor    float64 `json:"power_factor"`
	SuggestedCause string  `json:"suggested_cause"`
	Label          int     `json:"label"`
}

// Feedback labels.
const (
	LabelNormal = 0
	LabelTheft  = 1
)

// NewFeedbackSample builds the training row for a resolved episode.
func NewFeedbackSample(r Reading, cause Cause, label int) FeedbackSample {
	c := string(cause)
	if c == "" {
		c = CauseNotAvailable
	}
	return FeedbackSample{
		Voltage:        r.Voltage,
		Current:        r.Current,
		Power:          r.Power,
		PowerFactor:    r.PowerFactor,
		SuggestedCause: c,
		Label:          label,
	}
}

// Decision is a user decision submitted from the presentation layer.
// EpisodeID is optional; when set it must name the active episode.
type Decision struct {
	Kind      DecisionKind `json:"decision"`
	EpisodeID string       `json:"episode_id,omitempty"`
}

// TimeRange specifies the window of a report.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Episode is a journaled anomaly episode as stored for reporting.
type Episode struct {
	EpisodeID      string     `json:"episode_id" db:"episode_id"`
	CircuitID      string     `json:"circuit_id" db:"circuit_id"`
	OpenedAt       time.Time  `json:"opened_at" db:"opened_at"`
	TriggerScore   float64    `json:"trigger_score" db:"trigger_score"`
	Voltage        float64    `json:"voltage" db:"voltage"`
	Current        float64    `json:"current" db:"current_a"`
	Power          float64    `json:"power" db:"power"`
	PowerFactor    float64    `json:"power_factor" db:"power_factor"`
	SuggestedCause string     `json:"suggested_cause" db:"suggested_cause"`
	Resolution     Resolution `json:"resolution" db:"resolution"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
	EntryHash      *string    `json:"entry_hash,omitempty" db:"entry_hash"`
}

// IncidentReport summarises journaled episodes for a circuit.
type IncidentReport struct {
	CircuitID      string         `json:"circuit_id"`
	TotalEpisodes  int            `json:"total_episodes"`
	Adapted        int            `json:"adapted"`
	TheftConfirmed int            `json:"theft_confirmed"`
	Pending        int            `json:"pending"`
	TheftRate      float64        `json:"theft_rate"`
	CauseBreakdown map[string]int `json:"cause_breakdown"`
	Thefts         []Episode      `json:"thefts"`
	TimeRange      TimeRange      `json:"time_range"`
}
