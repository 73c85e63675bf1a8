package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gridlock-ai/sentinel/internal/domain"
	"github.com/gridlock-ai/sentinel/internal/simulate"
	"github.com/gridlock-ai/sentinel/internal/telemetry"
)

// IngestHandler accepts readings pushed by field devices.
type IngestHandler struct {
	buf *telemetry.Buffer
}

// NewIngestHandler creates a new IngestHandler.
func NewIngestHandler(buf *telemetry.Buffer) *IngestHandler {
	return &IngestHandler{buf: buf}
}

// PostReading handles POST /v1/readings
func (h *IngestHandler) PostReading(w http.ResponseWriter, r *http.Request) {
	var reading domain.Reading
	if err := json.NewDecoder(r.Body).Decode(&reading); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if err := h.buf.Put(reading); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// SimulatorHandler switches the synthetic reading generator between modes.
type SimulatorHandler struct {
	sim *simulate.Simulator
}

// NewSimulatorHandler creates a new SimulatorHandler.
func NewSimulatorHandler(sim *simulate.Simulator) *SimulatorHandler {
	return &SimulatorHandler{sim: sim}
}

type modeRequest struct {
	Mode string `json:"mode"`
}

// GetMode handles GET /v1/simulator/mode
func (h *SimulatorHandler) GetMode(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]simulate.Mode{"mode": h.sim.Mode()})
}

// SetMode handles POST /v1/simulator/mode. An empty body toggles the mode.
func (h *SimulatorHandler) SetMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
	}
	if req.Mode == "" {
		writeJSON(w, http.StatusOK, map[string]simulate.Mode{"mode": h.sim.Toggle()})
		return
	}
	mode, err := simulate.ParseMode(req.Mode)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	h.sim.SetMode(mode)
	writeJSON(w, http.StatusOK, map[string]simulate.Mode{"mode": mode})
}
