package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Pruner deletes resolved journal rows older than a cutoff.
type Pruner interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RunRetention prunes the journal once an hour until ctx is cancelled. A
// non-positive retention keeps everything.
func RunRetention(ctx context.Context, p Pruner, retention time.Duration, log *zap.Logger) {
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		PruneOnce(ctx, p, retention, time.Now(), log)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PruneOnce deletes rows opened before now-retention.
func PruneOnce(ctx context.Context, p Pruner, retention time.Duration, now time.Time, log *zap.Logger) int64 {
	n, err := p.DeleteBefore(ctx, now.Add(-retention))
	if err != nil {
		log.Warn("journal pruning failed", zap.Error(err))
		return 0
	}
	if n > 0 {
		log.Info("journal pruned", zap.Int64("deleted", n))
	}
	return n
}
