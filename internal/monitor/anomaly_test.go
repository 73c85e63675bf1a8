package monitor

import (
	"testing"

	"github.com/gridlock-ai/sentinel/internal/domain"
)

func fill(m *Metrics, normal, anomalous int) {
	for i := 0; i < normal; i++ {
		m.ObserveTick(domain.StatusNormal, 0.1, 0.75)
	}
	for i := 0; i < anomalous; i++ {
		m.ObserveTick(domain.StatusAnomaly, 0.9, 0.75)
	}
}

func TestDriftDetector_NotDrifting(t *testing.T) {
	m := NewMetrics()
	fill(m, 20, 2) // 2/22 ≈ 9%

	d := NewDriftDetector(m, 20.0)
	if d.IsDrifting() {
		t.Error("9% rate should not be drifting at 20% threshold")
	}
}

func TestDriftDetector_IsDrifting(t *testing.T) {
	m := NewMetrics()
	fill(m, 10, 15)

	d := NewDriftDetector(m, 20.0)
	if !d.IsDrifting() {
		t.Error("60% rate should be drifting at 20% threshold")
	}
}

func TestDriftDetector_NeedsEnoughTicks(t *testing.T) {
	m := NewMetrics()
	fill(m, 0, 5)

	d := NewDriftDetector(m, 20.0)
	if d.IsDrifting() {
		t.Error("5 ticks is too few to call drift")
	}
}

func TestDriftDetector_CrossedOnce(t *testing.T) {
	m := NewMetrics()
	d := NewDriftDetector(m, 20.0)

	fill(m, 20, 0)
	if d.Crossed() {
		t.Error("no crossing expected at 0%")
	}
	fill(m, 0, 10)
	if !d.Crossed() {
		t.Error("expected crossing once rate exceeds threshold")
	}
	fill(m, 0, 5)
	if d.Crossed() {
		t.Error("crossing must be reported once per excursion")
	}
}

func TestDriftDetector_Report(t *testing.T) {
	m := NewMetrics()
	fill(m, 1, 1)

	d := NewDriftDetector(m, 20.0)
	report := d.Report()

	if report["threshold"] != 20.0 {
		t.Errorf("expected threshold 20, got %v", report["threshold"])
	}
	if _, ok := report["drift_detected"]; !ok {
		t.Error("report missing drift_detected field")
	}
	if _, ok := report["current_rate"]; !ok {
		t.Error("report missing current_rate field")
	}
	if report["window_ticks"] != 2 {
		t.Errorf("expected 2 window ticks, got %v", report["window_ticks"])
	}
}

func TestDriftDetector_EmptyMetrics(t *testing.T) {
	d := NewDriftDetector(NewMetrics(), 20.0)
	if d.IsDrifting() {
		t.Error("empty metrics should not be drifting")
	}
}
