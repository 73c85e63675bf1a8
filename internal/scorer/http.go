package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gridlock-ai/sentinel/internal/domain"
)

type predictRequest struct {
	Voltage     float64 `json:"voltage"`
	Current     float64 `json:"current"`
	Power       float64 `json:"power"`
	PowerFactor float64 `json:"power_factor"`
}

type predictResponse struct {
	AnomalyScore *float64 `json:"anomaly_score"`
}

// HTTP calls a model server exposing POST /predict.
type HTTP struct {
	url    string
	client *http.Client
}

// NewHTTP returns a client for the model server at baseURL.
func NewHTTP(baseURL string, timeout time.Duration) *HTTP {
	return &HTTP{
		url:    strings.TrimRight(baseURL, "/") + "/predict",
		client: &http.Client{Timeout: timeout},
	}
}

// Score posts the reading and returns the anomaly_score of the reply.
func (h *HTTP) Score(ctx context.Context, r domain.Reading) (float64, error) {
	body, err := json.Marshal(predictRequest{
		Voltage:     r.Voltage,
		Current:     r.Current,
		Power:       r.Power,
		PowerFactor: r.PowerFactor,
	})
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("predict: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("predict: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("predict: decode: %w", err)
	}
	if out.AnomalyScore == nil {
		return 0, fmt.Errorf("predict: reply has no anomaly_score")
	}
	return checkScore(*out.AnomalyScore)
}
