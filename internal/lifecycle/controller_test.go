package lifecycle

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridlock-ai/sentinel/internal/domain"
	"github.com/gridlock-ai/sentinel/internal/feedback"
	"github.com/gridlock-ai/sentinel/internal/threshold"
)

type fakeRecorder struct {
	mu      sync.Mutex
	rows    []feedback.Resolution
	ledger  []domain.Incident
	failErr error
}

func (f *fakeRecorder) Record(res feedback.Resolution) (*domain.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return nil, f.failErr
	}
	f.rows = append(f.rows, res)
	if res.Sample.Label != domain.LabelTheft {
		return nil, nil
	}
	f.ledger = append(f.ledger, *res.Incident)
	return &domain.LedgerEntry{
		Index:     int64(len(f.ledger) - 1),
		Timestamp: time.Now().UTC(),
		Payload:   *res.Incident,
		EntryHash: "feedbeef",
	}, nil
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Dispatch(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventKind, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Kind)
	}
	return out
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*Controller, *fakeRecorder, *eventLog, *threshold.Policy) {
	t.Helper()
	rec := &fakeRecorder{}
	events := &eventLog{}
	policy := threshold.New(threshold.DefaultBaseline)
	c := New(Config{CircuitID: "circuit-1"}, policy, rec, WithSink(events))
	return c, rec, events, policy
}

func tick(score float64, at time.Time) *domain.ScoreResult {
	return &domain.ScoreResult{
		Reading:      domain.Reading{Timestamp: at, Voltage: 230, Current: 20, Power: 4600, PowerFactor: 0.9},
		AnomalyScore: score,
	}
}

func openAnomaly(t *testing.T, c *Controller) string {
	t.Helper()
	snap := c.SubmitScoreTick(tick(0.9, t0), t0)
	require.Equal(t, domain.StateAnomalyActive, snap.State)
	require.NotNil(t, snap.Context)
	return snap.Context.EpisodeID
}

func TestNew_StartsWaiting(t *testing.T) {
	c, _, _, _ := setup(t)
	snap := c.Snapshot(t0)
	assert.Equal(t, domain.StateNormal, snap.State)
	assert.Equal(t, domain.StatusWaiting, snap.Status)
	assert.Equal(t, "circuit-1", snap.CircuitID)
	assert.Empty(t, snap.History)
}

func TestSubmitScoreTick_FirstBreachIsAuthoritative(t *testing.T) {
	c, _, events, _ := setup(t)

	var opened int
	for i, score := range []float64{0.2, 0.3, 0.9, 0.95} {
		now := t0.Add(time.Duration(i) * 2 * time.Second)
		before := c.Snapshot(now).State
		snap := c.SubmitScoreTick(tick(score, now), now)
		if before != domain.StateAnomalyActive && snap.State == domain.StateAnomalyActive {
			opened++
			assert.Equal(t, 2, i, "anomaly must open on the third tick")
		}
	}

	assert.Equal(t, 1, opened)
	snap := c.Snapshot(t0.Add(10 * time.Second))
	require.NotNil(t, snap.Context)
	assert.Equal(t, 0.9, snap.Context.TriggerScore)
	assert.Equal(t, domain.CauseHighCurrent, snap.Context.SuggestedCause)
	assert.Equal(t, domain.ResolutionPending, snap.Context.Resolution)
	assert.Equal(t, 0.95, snap.LastScore.AnomalyScore)
	assert.Equal(t, []EventKind{EventAnomalyOpened}, events.kinds())
	assert.Len(t, snap.History, 4)
}

func TestSubmitScoreTick_ScoreEqualToThresholdIsNormal(t *testing.T) {
	c, _, _, _ := setup(t)
	snap := c.SubmitScoreTick(tick(0.75, t0), t0)
	assert.Equal(t, domain.StateNormal, snap.State)
	assert.Equal(t, domain.StatusNormal, snap.Status)
}

func TestSubmitScoreTick_NoDataIsWaiting(t *testing.T) {
	c, _, _, _ := setup(t)
	c.SubmitScoreTick(tick(0.1, t0), t0)

	snap := c.SubmitScoreTick(nil, t0.Add(2*time.Second))
	assert.Equal(t, domain.StatusWaiting, snap.Status)
	assert.Equal(t, domain.StateNormal, snap.State)

	openAnomaly(t, c)
	snap = c.SubmitScoreTick(nil, t0.Add(4*time.Second))
	assert.Equal(t, domain.StatusWaiting, snap.Status)
	assert.Equal(t, domain.StateAnomalyActive, snap.State, "no data never transitions")
}

func TestSubmitDecision_Adapt(t *testing.T) {
	c, rec, events, policy := setup(t)
	id := openAnomaly(t, c)

	snap, err := c.SubmitDecision(context.Background(), domain.Decision{Kind: domain.DecisionAdapt, EpisodeID: id}, t0)
	require.NoError(t, err)
	assert.Equal(t, domain.StateResolvedAdapted, snap.State)
	assert.Equal(t, domain.StatusAdapted, snap.Status)
	assert.Equal(t, domain.ResolutionAdapted, snap.Context.Resolution)
	assert.InDelta(t, 0.99, policy.Current(t0.Add(10*time.Second)), 1e-9)

	require.Len(t, rec.rows, 1)
	assert.Equal(t, domain.LabelNormal, rec.rows[0].Sample.Label)
	assert.Empty(t, rec.ledger)
	assert.Equal(t, []EventKind{EventAnomalyOpened, EventAnomalyAdapted, EventRetrainRequested}, events.kinds())
}

func TestAdapted_NormalTickReturnsToNormal(t *testing.T) {
	c, _, _, _ := setup(t)
	openAnomaly(t, c)
	_, err := c.SubmitDecision(context.Background(), domain.Decision{Kind: domain.DecisionAdapt}, t0)
	require.NoError(t, err)

	// 0.95 is under the adapted threshold of 0.99
	snap := c.SubmitScoreTick(tick(0.95, t0.Add(2*time.Second)), t0.Add(2*time.Second))
	assert.Equal(t, domain.StateNormal, snap.State)
	assert.Nil(t, snap.Context)
}

func TestAdapted_BreachOpensNewEpisode(t *testing.T) {
	c, _, _, _ := setup(t)
	first := openAnomaly(t, c)
	_, err := c.SubmitDecision(context.Background(), domain.Decision{Kind: domain.DecisionAdapt}, t0)
	require.NoError(t, err)

	now := t0.Add(2 * time.Second)
	snap := c.SubmitScoreTick(tick(0.995, now), now)
	require.Equal(t, domain.StateAnomalyActive, snap.State)
	assert.NotEqual(t, first, snap.Context.EpisodeID)
	assert.Equal(t, 0.995, snap.Context.TriggerScore)
}

func TestAdapted_OverrideExpiresBackToBaseline(t *testing.T) {
	c, _, _, _ := setup(t)
	openAnomaly(t, c)
	_, err := c.SubmitDecision(context.Background(), domain.Decision{Kind: domain.DecisionAdapt}, t0)
	require.NoError(t, err)

	now := t0.Add(31 * time.Second)
	snap := c.SubmitScoreTick(tick(0.8, now), now)
	assert.Equal(t, domain.StateAnomalyActive, snap.State, "0.8 breaches the restored baseline")
	assert.Equal(t, 0.75, snap.Threshold.Current)
}

func TestSubmitDecision_ConfirmTheftIsTerminal(t *testing.T) {
	c, rec, events, _ := setup(t)
	id := openAnomaly(t, c)

	snap, err := c.SubmitDecision(context.Background(), domain.Decision{Kind: domain.DecisionConfirmTheft, EpisodeID: id}, t0)
	require.NoError(t, err)
	assert.Equal(t, domain.StateResolvedTheft, snap.State)
	require.NotNil(t, snap.LastProof)
	assert.Equal(t, "feedbeef", snap.LastProof.EntryHash)
	assert.Equal(t, id, snap.LastProof.EpisodeID)
	assert.Equal(t, string(domain.CauseHighCurrent), snap.LastProof.Cause)

	require.Len(t, rec.ledger, 1)
	require.Len(t, rec.rows, 1)
	assert.Equal(t, domain.LabelTheft, rec.rows[0].Sample.Label)
	assert.Equal(t, 0.9, rec.ledger[0].AnomalyScore)

	for i := 1; i <= 5; i++ {
		now := t0.Add(time.Duration(i) * 2 * time.Second)
		snap = c.SubmitScoreTick(tick(0.1, now), now)
		assert.Equal(t, domain.StateResolvedTheft, snap.State)
		assert.Equal(t, domain.StatusTheft, snap.Status)
	}
	assert.Equal(t, []EventKind{EventAnomalyOpened, EventTheftConfirmed, EventRetrainRequested}, events.kinds())
}

func TestSubmitDecision_RapidTheftConfirmationsAppendOnce(t *testing.T) {
	c, rec, _, _ := setup(t)
	openAnomaly(t, c)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.SubmitDecision(context.Background(), domain.Decision{Kind: domain.DecisionConfirmTheft}, t0)
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrAlreadyResolved)
	}
	assert.Equal(t, 1, ok)
	assert.Len(t, rec.ledger, 1)
	assert.Len(t, rec.rows, 1)
}

func TestSubmitDecision_PersistenceFailureKeepsEpisodeActive(t *testing.T) {
	c, rec, events, policy := setup(t)
	openAnomaly(t, c)
	rec.failErr = errors.New("disk full")

	snap, err := c.SubmitDecision(context.Background(), domain.Decision{Kind: domain.DecisionAdapt}, t0)
	require.Error(t, err)
	assert.Equal(t, domain.StateAnomalyActive, snap.State)
	assert.Equal(t, 0.75, policy.Current(t0.Add(time.Second)), "no override on failure")

	_, err = c.SubmitDecision(context.Background(), domain.Decision{Kind: domain.DecisionConfirmTheft}, t0)
	require.Error(t, err)
	assert.Equal(t, domain.StateAnomalyActive, c.Snapshot(t0).State)

	rec.failErr = nil
	snap, err = c.SubmitDecision(context.Background(), domain.Decision{Kind: domain.DecisionConfirmTheft}, t0)
	require.NoError(t, err)
	assert.Equal(t, domain.StateResolvedTheft, snap.State)
	assert.Equal(t, []EventKind{EventAnomalyOpened, EventTheftConfirmed, EventRetrainRequested}, events.kinds())
}

type switchLedger struct {
	failErr error
	entries int
}

func (l *switchLedger) Append(p domain.Incident) (domain.LedgerEntry, error) {
	if l.failErr != nil {
		return domain.LedgerEntry{}, l.failErr
	}
	l.entries++
	return domain.LedgerEntry{Index: int64(l.entries - 1), Payload: p, EntryHash: "feedbeef"}, nil
}

func TestSubmitDecision_AdaptAfterFailedTheftRecordsNormalLabel(t *testing.T) {
	chain := &switchLedger{failErr: errors.New("disk full")}
	rec, err := feedback.NewRecorder(filepath.Join(t.TempDir(), "feedback_log.csv"), chain, nil)
	require.NoError(t, err)
	c := New(Config{CircuitID: "circuit-1"}, threshold.New(threshold.DefaultBaseline), rec)
	openAnomaly(t, c)

	_, err = c.SubmitDecision(context.Background(), domain.Decision{Kind: domain.DecisionConfirmTheft}, t0)
	require.Error(t, err)
	require.Equal(t, domain.StateAnomalyActive, c.Snapshot(t0).State)

	chain.failErr = nil
	snap, err := c.SubmitDecision(context.Background(), domain.Decision{Kind: domain.DecisionAdapt}, t0)
	require.NoError(t, err)
	assert.Equal(t, domain.StateResolvedAdapted, snap.State)

	samples, err := rec.Samples()
	require.NoError(t, err)
	normal := 0
	for _, s := range samples {
		if s.Label == domain.LabelNormal {
			normal++
		}
	}
	assert.Equal(t, 1, normal)
	assert.Zero(t, chain.entries)
}

func TestSubmitDecision_Rejections(t *testing.T) {
	t.Run("invalid kind", func(t *testing.T) {
		c, _, _, _ := setup(t)
		_, err := c.SubmitDecision(context.Background(), domain.Decision{Kind: "shrug"}, t0)
		assert.ErrorIs(t, err, domain.ErrInvalidDecision)
	})

	t.Run("nothing active", func(t *testing.T) {
		c, _, _, _ := setup(t)
		_, err := c.SubmitDecision(context.Background(), domain.Decision{Kind: domain.DecisionAdapt}, t0)
		assert.ErrorIs(t, err, domain.ErrNoActiveAnomaly)
	})

	t.Run("stale episode", func(t *testing.T) {
		c, rec, _, _ := setup(t)
		openAnomaly(t, c)
		_, err := c.SubmitDecision(context.Background(), domain.Decision{Kind: domain.DecisionAdapt, EpisodeID: "other"}, t0)
		assert.ErrorIs(t, err, domain.ErrStaleDecision)
		assert.Empty(t, rec.rows)
	})

	t.Run("already resolved", func(t *testing.T) {
		c, _, _, _ := setup(t)
		id := openAnomaly(t, c)
		_, err := c.SubmitDecision(context.Background(), domain.Decision{Kind: domain.DecisionAdapt, EpisodeID: id}, t0)
		require.NoError(t, err)
		_, err = c.SubmitDecision(context.Background(), domain.Decision{Kind: domain.DecisionConfirmTheft, EpisodeID: id}, t0)
		assert.ErrorIs(t, err, domain.ErrAlreadyResolved)
	})

	t.Run("cancelled context", func(t *testing.T) {
		c, _, _, _ := setup(t)
		openAnomaly(t, c)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := c.SubmitDecision(ctx, domain.Decision{Kind: domain.DecisionAdapt}, t0)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, domain.StateAnomalyActive, c.Snapshot(t0).State)
	})
}

func TestReset(t *testing.T) {
	c, _, events, _ := setup(t)
	_, err := c.Reset(t0)
	assert.ErrorIs(t, err, domain.ErrNotResolvedTheft)

	openAnomaly(t, c)
	_, err = c.SubmitDecision(context.Background(), domain.Decision{Kind: domain.DecisionConfirmTheft}, t0)
	require.NoError(t, err)

	snap, err := c.Reset(t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, domain.StateNormal, snap.State)
	assert.Nil(t, snap.Context)
	assert.NotNil(t, snap.LastProof, "proof stays visible after reset")
	assert.Contains(t, events.kinds(), EventCircuitReset)

	now := t0.Add(2 * time.Minute)
	snap = c.SubmitScoreTick(tick(0.9, now), now)
	assert.Equal(t, domain.StateAnomalyActive, snap.State)
}

func TestRequestRetrain(t *testing.T) {
	c, _, events, _ := setup(t)
	c.RequestRetrain("drift", t0)
	require.Len(t, events.events, 1)
	assert.Equal(t, EventRetrainRequested, events.events[0].Kind)
	assert.Equal(t, "drift", events.events[0].Reason)
	assert.Equal(t, "circuit-1", events.events[0].CircuitID)
}

type countingObserver struct {
	ticks       map[domain.Status]int
	transitions int
}

func (o *countingObserver) ObserveTick(s domain.Status, _, _ float64) { o.ticks[s]++ }
func (o *countingObserver) ObserveTransition(_, _ domain.State)       { o.transitions++ }

func TestObserver(t *testing.T) {
	obs := &countingObserver{ticks: map[domain.Status]int{}}
	c := New(Config{}, threshold.New(0.75), &fakeRecorder{}, WithObserver(obs))
	c.SubmitScoreTick(nil, t0)
	c.SubmitScoreTick(tick(0.1, t0), t0)
	c.SubmitScoreTick(tick(0.9, t0.Add(time.Second)), t0.Add(time.Second))

	assert.Equal(t, 1, obs.ticks[domain.StatusWaiting])
	assert.Equal(t, 1, obs.ticks[domain.StatusNormal])
	assert.Equal(t, 1, obs.ticks[domain.StatusAnomaly])
	assert.Equal(t, 1, obs.transitions)
}

func TestHistory_BoundedAndOrdered(t *testing.T) {
	c := New(Config{HistoryLength: 5}, threshold.New(0.75), &fakeRecorder{})
	for i := 0; i < 12; i++ {
		now := t0.Add(time.Duration(i) * time.Second)
		c.SubmitScoreTick(tick(0.1, now), now)
	}
	// a repeated reading is charted once
	c.SubmitScoreTick(tick(0.1, t0.Add(11*time.Second)), t0.Add(12*time.Second))

	h := c.Snapshot(t0).History
	require.Len(t, h, 5)
	for i, p := range h {
		assert.Equal(t, t0.Add(time.Duration(7+i)*time.Second), p.Timestamp)
	}
}
