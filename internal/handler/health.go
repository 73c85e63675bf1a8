package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gridlock-ai/sentinel/internal/monitor"
)

// Pinger checks journal connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check and metrics endpoints.
type HealthHandler struct {
	db      Pinger
	ledger  LedgerReader
	metrics *monitor.Metrics
	drift   *monitor.DriftDetector
}

// NewHealthHandler creates a new HealthHandler. db and drift may be nil.
func NewHealthHandler(db Pinger, l LedgerReader, metrics *monitor.Metrics, drift *monitor.DriftDetector) *HealthHandler {
	return &HealthHandler{db: db, ledger: l, metrics: metrics, drift: drift}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{"status": "healthy", "database": "disabled", "ledger": "intact"}
	status := http.StatusOK

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		body["database"] = "connected"
		if err := h.db.Ping(ctx); err != nil {
			body["database"] = "disconnected"
			body["status"] = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}
	if report := h.ledger.Verify(); !report.OK {
		body["ledger"] = "corrupt"
		body["status"] = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, body)
}

// Metrics handles GET /v1/metrics
func (h *HealthHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"counters": h.metrics.Snapshot()}
	if h.drift != nil {
		resp["drift"] = h.drift.Report()
	}
	writeJSON(w, http.StatusOK, resp)
}
