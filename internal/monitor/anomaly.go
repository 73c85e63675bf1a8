package monitor

import "sync"

// DriftDetector checks whether the windowed anomalous-tick rate exceeds a
// threshold, which suggests the model no longer fits the circuit.
type DriftDetector struct {
	metrics   *Metrics
	threshold float64 // percentage
	minTicks  int

	mu       sync.Mutex
	drifting bool
}

// DefaultMinTicks is the window size below which the rate is not trusted.
const DefaultMinTicks = 20

// NewDriftDetector creates a detector with the given threshold.
func NewDriftDetector(metrics *Metrics, threshold float64) *DriftDetector {
	return &DriftDetector{metrics: metrics, threshold: threshold, minTicks: DefaultMinTicks}
}

// IsDrifting returns true if the current sliding-window rate exceeds the threshold.
func (d *DriftDetector) IsDrifting() bool {
	snap := d.metrics.Snapshot()
	return snap.WindowTicks >= d.minTicks && snap.WindowRate > d.threshold
}

// Crossed reports true exactly once each time the rate rises above the
// threshold; it re-arms when the rate falls back.
func (d *DriftDetector) Crossed() bool {
	drifting := d.IsDrifting()
	d.mu.Lock()
	defer d.mu.Unlock()
	crossed := drifting && !d.drifting
	d.drifting = drifting
	return crossed
}

// Report returns the current drift state.
func (d *DriftDetector) Report() map[string]interface{} {
	snap := d.metrics.Snapshot()
	return map[string]interface{}{
		"drift_detected":   snap.WindowTicks >= d.minTicks && snap.WindowRate > d.threshold,
		"current_rate":     snap.WindowRate,
		"threshold":        d.threshold,
		"window_ticks":     snap.WindowTicks,
		"window_anomalous": snap.WindowAnomalous,
	}
}
