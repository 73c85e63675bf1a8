package handler

import (
	"net/http"
	"strconv"

	"github.com/gridlock-ai/sentinel/internal/domain"
	"github.com/gridlock-ai/sentinel/internal/ledger"
)

// LedgerReader is the read side of the hash chain.
type LedgerReader interface {
	Entries() []domain.LedgerEntry
	Verify() ledger.Report
}

// LedgerHandler serves the theft ledger for browsing and audit.
type LedgerHandler struct {
	ledger LedgerReader
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(l LedgerReader) *LedgerHandler {
	return &LedgerHandler{ledger: l}
}

type ledgerPage struct {
	Total   int                  `json:"total"`
	Entries []domain.LedgerEntry `json:"entries"`
}

// List handles GET /v1/ledger?offset=&limit=
func (h *LedgerHandler) List(w http.ResponseWriter, r *http.Request) {
	entries := h.ledger.Entries()

	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "offset must be a non-negative integer"})
		return
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil || limit <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
		return
	}

	page := []domain.LedgerEntry{}
	if offset < len(entries) {
		end := min(offset+limit, len(entries))
		page = entries[offset:end]
	}
	writeJSON(w, http.StatusOK, ledgerPage{Total: len(entries), Entries: page})
}

// Verify handles GET /v1/ledger/verify. A broken chain is reported with 409
// so monitoring can alert on the status code alone.
func (h *LedgerHandler) Verify(w http.ResponseWriter, r *http.Request) {
	report := h.ledger.Verify()
	status := http.StatusOK
	if !report.OK {
		status = http.StatusConflict
	}
	writeJSON(w, status, report)
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}
