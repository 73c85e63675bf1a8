package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gridlock-ai/sentinel/internal/domain"
	"github.com/gridlock-ai/sentinel/internal/lifecycle"
)

// CircuitHandler exposes the lifecycle controller: dashboard state, human
// decisions and the post-theft reset.
type CircuitHandler struct {
	ctrl *lifecycle.Controller
	hub  *Hub
	now  func() time.Time
}

// NewCircuitHandler creates a new CircuitHandler. hub may be nil.
func NewCircuitHandler(ctrl *lifecycle.Controller, hub *Hub) *CircuitHandler {
	return &CircuitHandler{ctrl: ctrl, hub: hub, now: time.Now}
}

// State handles GET /v1/state
func (h *CircuitHandler) State(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Snapshot(h.now()))
}

// Decide handles POST /v1/decisions
func (h *CircuitHandler) Decide(w http.ResponseWriter, r *http.Request) {
	var d domain.Decision
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	snap, err := h.ctrl.SubmitDecision(r.Context(), d, h.now())
	if err != nil {
		writeError(w, err)
		return
	}
	h.publish(snap)
	writeJSON(w, http.StatusOK, snap)
}

// Reset handles POST /v1/reset
func (h *CircuitHandler) Reset(w http.ResponseWriter, r *http.Request) {
	snap, err := h.ctrl.Reset(h.now())
	if err != nil {
		writeError(w, err)
		return
	}
	h.publish(snap)
	writeJSON(w, http.StatusOK, snap)
}

func (h *CircuitHandler) publish(snap lifecycle.Snapshot) {
	if h.hub != nil {
		h.hub.Publish(snap)
	}
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidDecision):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrEpisodeNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNoActiveAnomaly),
		errors.Is(err, domain.ErrAlreadyResolved),
		errors.Is(err, domain.ErrStaleDecision),
		errors.Is(err, domain.ErrNotResolvedTheft):
		return http.StatusConflict
	case errors.Is(err, domain.ErrJournalDisabled),
		errors.Is(err, domain.ErrDataUnavailable),
		errors.Is(err, domain.ErrCorruptLedger):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errorStatus(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
