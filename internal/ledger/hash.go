package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/gridlock-ai/sentinel/internal/domain"
)

// GenesisHash stands in for the previous hash of the first entry. Its width
// equals a hex-encoded SHA-256 digest.
var GenesisHash = strings.Repeat("0", sha256.Size*2)

// hashedEntry is the canonical form of an entry: every field except the hash
// itself, with timestamps normalised to UTC.
type hashedEntry struct {
	Index        int64          `json:"index"`
	Timestamp    string         `json:"timestamp"`
	PreviousHash string         `json:"previous_hash"`
	Payload      hashedIncident `json:"payload"`
}

type hashedIncident struct {
	EpisodeID      string        `json:"episode_id"`
	Reading        hashedReading `json:"reading"`
	AnomalyScore   float64       `json:"anomaly_score"`
	SuggestedCause *string       `json:"suggested_cause"`
}

type hashedReading struct {
	Timestamp   string  `json:"timestamp"`
	Voltage     float64 `json:"voltage"`
	Current     float64 `json:"current"`
	Power       float64 `json:"power"`
	PowerFactor float64 `json:"power_factor"`
}

// CanonicalBytes returns the serialisation the entry hash is computed over.
func CanonicalBytes(e domain.LedgerEntry) ([]byte, error) {
	var cause *string
	if e.Payload.SuggestedCause != nil {
		c := string(*e.Payload.SuggestedCause)
		cause = &c
	}
	tmp := hashedEntry{
		Index:        e.Index,
		Timestamp:    formatTime(e.Timestamp),
		PreviousHash: e.PreviousHash,
		Payload: hashedIncident{
			EpisodeID: e.Payload.EpisodeID,
			Reading: hashedReading{
				Timestamp:   formatTime(e.Payload.Reading.Timestamp),
				Voltage:     e.Payload.Reading.Voltage,
				Current:     e.Payload.Reading.Current,
				Power:       e.Payload.Reading.Power,
				PowerFactor: e.Payload.Reading.PowerFactor,
			},
			AnomalyScore:   e.Payload.AnomalyScore,
			SuggestedCause: cause,
		},
	}
	return json.Marshal(tmp)
}

// ComputeHash recomputes the entry hash from the entry's own fields.
func ComputeHash(e domain.LedgerEntry) (string, error) {
	b, err := CanonicalBytes(e)
	if err != nil {
		return "", err
	}
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:]), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
