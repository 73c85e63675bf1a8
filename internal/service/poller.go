package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/gridlock-ai/sentinel/internal/domain"
	"github.com/gridlock-ai/sentinel/internal/lifecycle"
	"github.com/gridlock-ai/sentinel/internal/scorer"
	"github.com/gridlock-ai/sentinel/internal/telemetry"
)

// Defaults for the polling loop.
const (
	DefaultPollInterval  = 3 * time.Second
	DefaultScorerTimeout = 3 * time.Second
)

// Drift reports a rising edge of model drift.
type Drift interface {
	Crossed() bool
}

// PollerConfig tunes a Poller.
type PollerConfig struct {
	Interval      time.Duration
	ScorerTimeout time.Duration
}

// Poller pulls one reading per tick, scores it, and hands the result to the
// lifecycle controller. Any failure along the way becomes a no-data tick.
type Poller struct {
	cfg        PollerConfig
	source     telemetry.Source
	scorer     scorer.Scorer
	controller *lifecycle.Controller
	drift      Drift
	log        *zap.Logger

	onSnapshot func(lifecycle.Snapshot)
}

// NewPoller creates a Poller. drift may be nil.
func NewPoller(cfg PollerConfig, src telemetry.Source, sc scorer.Scorer, ctrl *lifecycle.Controller, drift Drift, log *zap.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.ScorerTimeout <= 0 {
		cfg.ScorerTimeout = DefaultScorerTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{cfg: cfg, source: src, scorer: sc, controller: ctrl, drift: drift, log: log}
}

// OnSnapshot registers fn to receive the snapshot produced by every tick.
// It must be called before Run.
func (p *Poller) OnSnapshot(fn func(lifecycle.Snapshot)) {
	p.onSnapshot = fn
}

// Run ticks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.log.Info("poller started", zap.Duration("interval", p.cfg.Interval))
	for {
		p.Tick(ctx, time.Now())
		select {
		case <-ctx.Done():
			p.log.Info("poller stopped")
			return
		case <-ticker.C:
		}
	}
}

// Tick performs one read-score-submit cycle.
func (p *Poller) Tick(ctx context.Context, now time.Time) lifecycle.Snapshot {
	result := p.fetch(ctx)
	snap := p.controller.SubmitScoreTick(result, now)

	if result != nil && p.drift != nil && p.drift.Crossed() {
		p.log.Warn("anomalous tick rate above drift threshold")
		p.controller.RequestRetrain("anomaly rate drift", now)
	}
	if p.onSnapshot != nil {
		p.onSnapshot(snap)
	}
	return snap
}

func (p *Poller) fetch(ctx context.Context) *domain.ScoreResult {
	reading, err := p.source.Latest(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrDataUnavailable) {
			p.log.Warn("telemetry read failed", zap.Error(err))
		}
		return nil
	}

	sctx, cancel := context.WithTimeout(ctx, p.cfg.ScorerTimeout)
	defer cancel()
	score, err := p.scorer.Score(sctx, reading)
	if err != nil {
		p.log.Warn("scoring failed", zap.Error(err))
		return nil
	}
	return &domain.ScoreResult{Reading: reading, AnomalyScore: score}
}
