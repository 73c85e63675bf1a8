// Package lifecycle drives one circuit through the anomaly state machine:
// scored ticks open episodes, human decisions resolve them, and resolutions
// are persisted before the state advances.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gridlock-ai/sentinel/internal/domain"
	"github.com/gridlock-ai/sentinel/internal/feedback"
	"github.com/gridlock-ai/sentinel/internal/threshold"
)

// Defaults for an adapt decision.
const (
	DefaultAdaptValue  = 0.99
	DefaultAdaptWindow = 30 * time.Second
)

// Config tunes a Controller. Zero values fall back to the defaults.
type Config struct {
	CircuitID     string
	AdaptValue    float64
	AdaptWindow   time.Duration
	HistoryLength int
	Causes        CauseRules
}

func (c Config) withDefaults() Config {
	if c.AdaptValue == 0 {
		c.AdaptValue = DefaultAdaptValue
	}
	if c.AdaptWindow == 0 {
		c.AdaptWindow = DefaultAdaptWindow
	}
	if c.HistoryLength == 0 {
		c.HistoryLength = DefaultHistoryLength
	}
	if c.Causes == (CauseRules{}) {
		c.Causes = DefaultCauseRules
	}
	return c
}

// Recorder persists a resolution. *feedback.Recorder satisfies it.
type Recorder interface {
	Record(res feedback.Resolution) (*domain.LedgerEntry, error)
}

// Snapshot is a consistent view of the controller for presentation.
type Snapshot struct {
	CircuitID string                 `json:"circuit_id"`
	State     domain.State           `json:"state"`
	Status    domain.Status          `json:"status"`
	Threshold domain.ThresholdState  `json:"threshold"`
	LastScore *domain.ScoreResult    `json:"last_score,omitempty"`
	Context   *domain.AnomalyContext `json:"context,omitempty"`
	LastProof *domain.TheftProof     `json:"last_proof,omitempty"`
	UpdatedAt time.Time              `json:"updated_at"`
	History   []Point                `json:"history"`
}

// Controller owns the lifecycle of a single circuit. All methods are safe
// for concurrent use; one mutex serialises ticks, decisions and resets.
type Controller struct {
	mu       sync.Mutex
	cfg      Config
	policy   *threshold.Policy
	recorder Recorder
	sink     Sink
	observer Observer
	log      *zap.Logger

	state     domain.State
	status    domain.Status
	active    *domain.AnomalyContext
	last      *domain.ScoreResult
	lastProof *domain.TheftProof
	updatedAt time.Time
	history   *history

	// last resolved episode, so a late decision for it is reported as
	// already resolved rather than as having nothing to act on
	resolvedID string
}

// Option customises a Controller.
type Option func(*Controller)

// WithSink routes outbound events to s.
func WithSink(s Sink) Option {
	return func(c *Controller) { c.sink = s }
}

// WithObserver reports ticks and transitions to o.
func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// New returns a controller in NORMAL with status waiting until the first
// scored tick arrives.
func New(cfg Config, policy *threshold.Policy, recorder Recorder, opts ...Option) *Controller {
	cfg = cfg.withDefaults()
	c := &Controller{
		cfg:      cfg,
		policy:   policy,
		recorder: recorder,
		sink:     SinkFunc(func(Event) {}),
		observer: nopObserver{},
		log:      zap.NewNop(),
		state:    domain.StateNormal,
		status:   domain.StatusWaiting,
		history:  newHistory(cfg.HistoryLength),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(zap.String("circuit_id", cfg.CircuitID))
	return c
}

// CircuitID returns the circuit this controller monitors.
func (c *Controller) CircuitID() string {
	return c.cfg.CircuitID
}

// SubmitScoreTick evaluates one scored reading. A nil result means no data
// was available this tick: the state is untouched and status is waiting.
func (c *Controller) SubmitScoreTick(result *domain.ScoreResult, now time.Time) Snapshot {
	c.mu.Lock()
	var events []Event
	c.updatedAt = now

	if result == nil {
		c.status = domain.StatusWaiting
		c.observer.ObserveTick(domain.StatusWaiting, 0, 0)
		snap := c.snapshotLocked(now)
		c.mu.Unlock()
		return snap
	}

	r := *result
	thr := c.policy.Current(now)
	anomalous := r.AnomalyScore > thr

	switch c.state {
	case domain.StateNormal:
		if anomalous {
			events = append(events, c.openLocked(&r, now))
		}
	case domain.StateResolvedAdapted:
		if anomalous {
			events = append(events, c.openLocked(&r, now))
		} else {
			c.transitionLocked(domain.StateNormal)
			c.active = nil
		}
	case domain.StateAnomalyActive, domain.StateResolvedTheft:
		// awaiting a human; the first observation of the episode stands
	}

	c.last = &r
	c.status = statusFor(c.state)
	c.history.add(Point{
		Timestamp:    r.Reading.Timestamp,
		Voltage:      r.Reading.Voltage,
		Current:      r.Reading.Current,
		Power:        r.Reading.Power,
		AnomalyScore: r.AnomalyScore,
		Threshold:    thr,
	})
	c.observer.ObserveTick(c.status, r.AnomalyScore, thr)
	snap := c.snapshotLocked(now)
	c.mu.Unlock()

	c.dispatch(events)
	return snap
}

func (c *Controller) openLocked(r *domain.ScoreResult, now time.Time) Event {
	cause := c.cfg.Causes.Suggest(r.Reading)
	r.SuggestedCause = &cause
	c.active = &domain.AnomalyContext{
		EpisodeID:      domain.NewEpisodeID(),
		OpenedAt:       now,
		TriggerScore:   r.AnomalyScore,
		Payload:        r.Reading,
		SuggestedCause: cause,
		Resolution:     domain.ResolutionPending,
	}
	c.transitionLocked(domain.StateAnomalyActive)
	c.log.Warn("anomaly opened",
		zap.String("episode_id", c.active.EpisodeID),
		zap.Float64("score", r.AnomalyScore),
		zap.String("cause", string(cause)),
	)
	ctx := *c.active
	return Event{Kind: EventAnomalyOpened, CircuitID: c.cfg.CircuitID, At: now, Context: &ctx}
}

// SubmitDecision resolves the active episode. The resolution is persisted
// first; on failure the episode stays active, no override is applied and
// the same decision may be retried.
func (c *Controller) SubmitDecision(ctx context.Context, d domain.Decision, now time.Time) (Snapshot, error) {
	if !d.Kind.Valid() {
		return Snapshot{}, domain.ErrInvalidDecision
	}
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	c.mu.Lock()
	if err := c.checkDecisionLocked(d); err != nil {
		snap := c.snapshotLocked(now)
		c.mu.Unlock()
		return snap, err
	}

	var events []Event
	var err error
	switch d.Kind {
	case domain.DecisionAdapt:
		events, err = c.adaptLocked(now)
	case domain.DecisionConfirmTheft:
		events, err = c.confirmTheftLocked(now)
	}
	snap := c.snapshotLocked(now)
	c.mu.Unlock()
	if err != nil {
		return snap, err
	}

	c.dispatch(events)
	return snap, nil
}

func (c *Controller) checkDecisionLocked(d domain.Decision) error {
	if d.EpisodeID != "" && d.EpisodeID == c.resolvedID {
		return domain.ErrAlreadyResolved
	}
	if c.state != domain.StateAnomalyActive {
		if d.EpisodeID == "" && c.active != nil && c.active.Resolution != domain.ResolutionPending {
			return domain.ErrAlreadyResolved
		}
		if d.EpisodeID != "" && c.active != nil {
			return domain.ErrStaleDecision
		}
		return domain.ErrNoActiveAnomaly
	}
	if d.EpisodeID != "" && d.EpisodeID != c.active.EpisodeID {
		return domain.ErrStaleDecision
	}
	return nil
}

func (c *Controller) adaptLocked(now time.Time) ([]Event, error) {
	ep := c.active
	_, err := c.recorder.Record(feedback.Resolution{
		EpisodeID: ep.EpisodeID,
		Sample:    domain.NewFeedbackSample(ep.Payload, ep.SuggestedCause, domain.LabelNormal),
	})
	if err != nil {
		c.log.Error("adapt not persisted", zap.String("episode_id", ep.EpisodeID), zap.Error(err))
		return nil, err
	}

	c.policy.Override(c.cfg.AdaptValue, c.cfg.AdaptWindow, now)
	c.resolveLocked(domain.ResolutionAdapted, now)
	c.transitionLocked(domain.StateResolvedAdapted)
	c.status = statusFor(c.state)
	c.log.Info("anomaly adapted",
		zap.String("episode_id", ep.EpisodeID),
		zap.Float64("threshold", c.cfg.AdaptValue),
		zap.Duration("window", c.cfg.AdaptWindow),
	)

	snap := *c.active
	return []Event{
		{Kind: EventAnomalyAdapted, CircuitID: c.cfg.CircuitID, At: now, Context: &snap},
		{Kind: EventRetrainRequested, CircuitID: c.cfg.CircuitID, At: now, Reason: "episode adapted"},
	}, nil
}

func (c *Controller) confirmTheftLocked(now time.Time) ([]Event, error) {
	ep := c.active
	cause := ep.SuggestedCause
	incident := domain.Incident{
		EpisodeID:      ep.EpisodeID,
		Reading:        ep.Payload,
		AnomalyScore:   ep.TriggerScore,
		SuggestedCause: &cause,
	}
	entry, err := c.recorder.Record(feedback.Resolution{
		EpisodeID: ep.EpisodeID,
		Sample:    domain.NewFeedbackSample(ep.Payload, cause, domain.LabelTheft),
		Incident:  &incident,
	})
	if err != nil {
		c.log.Error("theft not persisted", zap.String("episode_id", ep.EpisodeID), zap.Error(err))
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: no ledger entry for episode %s", domain.ErrPersistence, ep.EpisodeID)
	}

	c.resolveLocked(domain.ResolutionTheftConfirmed, now)
	c.transitionLocked(domain.StateResolvedTheft)
	c.status = statusFor(c.state)
	proof := domain.TheftProof{
		EpisodeID: ep.EpisodeID,
		EntryHash: entry.EntryHash,
		Timestamp: entry.Timestamp,
		Reading:   ep.Payload,
		Cause:     incident.CauseLabel(),
	}
	c.lastProof = &proof
	c.log.Warn("theft confirmed",
		zap.String("episode_id", ep.EpisodeID),
		zap.Int64("ledger_index", entry.Index),
		zap.String("entry_hash", entry.EntryHash),
	)

	snap := *c.active
	p := proof
	return []Event{
		{Kind: EventTheftConfirmed, CircuitID: c.cfg.CircuitID, At: now, Context: &snap, Proof: &p},
		{Kind: EventRetrainRequested, CircuitID: c.cfg.CircuitID, At: now, Reason: "theft confirmed"},
	}, nil
}

func (c *Controller) resolveLocked(res domain.Resolution, now time.Time) {
	at := now
	c.active.Resolution = res
	c.active.ResolvedAt = &at
	c.resolvedID = c.active.EpisodeID
}

// Reset releases a circuit halted on a confirmed theft back to NORMAL.
func (c *Controller) Reset(now time.Time) (Snapshot, error) {
	c.mu.Lock()
	if c.state != domain.StateResolvedTheft {
		snap := c.snapshotLocked(now)
		c.mu.Unlock()
		return snap, domain.ErrNotResolvedTheft
	}
	ep := c.active
	c.active = nil
	c.transitionLocked(domain.StateNormal)
	c.status = statusFor(c.state)
	c.updatedAt = now
	c.log.Info("circuit reset", zap.String("episode_id", ep.EpisodeID))
	snap := c.snapshotLocked(now)
	c.mu.Unlock()

	c.dispatch([]Event{{Kind: EventCircuitReset, CircuitID: c.cfg.CircuitID, At: now, Context: ep}})
	return snap, nil
}

// Snapshot returns the current view, with the threshold evaluated at now.
func (c *Controller) Snapshot(now time.Time) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked(now)
}

// RequestRetrain emits a retrain request outside of a resolution, for
// example when the anomalous-tick rate drifts.
func (c *Controller) RequestRetrain(reason string, now time.Time) {
	c.dispatch([]Event{{Kind: EventRetrainRequested, CircuitID: c.cfg.CircuitID, At: now, Reason: reason}})
}

func (c *Controller) snapshotLocked(now time.Time) Snapshot {
	s := Snapshot{
		CircuitID: c.cfg.CircuitID,
		State:     c.state,
		Status:    c.status,
		Threshold: c.policy.State(now),
		UpdatedAt: c.updatedAt,
		History:   c.history.snapshot(),
	}
	if c.last != nil {
		last := *c.last
		s.LastScore = &last
	}
	if c.active != nil {
		ctx := *c.active
		s.Context = &ctx
	}
	if c.lastProof != nil {
		p := *c.lastProof
		s.LastProof = &p
	}
	return s
}

func (c *Controller) transitionLocked(to domain.State) {
	if c.state == to {
		return
	}
	c.observer.ObserveTransition(c.state, to)
	c.log.Debug("state transition", zap.String("from", string(c.state)), zap.String("to", string(to)))
	c.state = to
}

func (c *Controller) dispatch(events []Event) {
	for _, ev := range events {
		c.sink.Dispatch(ev)
	}
}

func statusFor(s domain.State) domain.Status {
	switch s {
	case domain.StateAnomalyActive:
		return domain.StatusAnomaly
	case domain.StateResolvedAdapted:
		return domain.StatusAdapted
	case domain.StateResolvedTheft:
		return domain.StatusTheft
	default:
		return domain.StatusNormal
	}
}
