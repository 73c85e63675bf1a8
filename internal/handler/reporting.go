package handler

import (
	"net/http"
	"time"

	"github.com/gridlock-ai/sentinel/internal/service"
)

// ReportingHandler handles incident report endpoints.
type ReportingHandler struct {
	svc       *service.ReportingService
	circuitID string
}

// NewReportingHandler creates a new ReportingHandler. circuitID is used when
// the request does not name one.
func NewReportingHandler(svc *service.ReportingService, circuitID string) *ReportingHandler {
	return &ReportingHandler{svc: svc, circuitID: circuitID}
}

// GetIncidents handles GET /v1/incidents?circuit_id=&from=&to=
func (h *ReportingHandler) GetIncidents(w http.ResponseWriter, r *http.Request) {
	circuitID := r.URL.Query().Get("circuit_id")
	if circuitID == "" {
		circuitID = h.circuitID
	}

	// Parse time range from query params, default to last 24h
	now := time.Now()
	from := now.Add(-24 * time.Hour)
	to := now

	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "from must be RFC3339"})
			return
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "to must be RFC3339"})
			return
		}
		to = t
	}
	if to.Before(from) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "from must not be after to"})
		return
	}

	report, err := h.svc.GetIncidentReport(r.Context(), circuitID, from, to)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}
