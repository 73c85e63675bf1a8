// Package scorer asks a trained model for the probability that a reading is
// anomalous.
package scorer

import (
	"context"
	"fmt"
	"math"

	"github.com/gridlock-ai/sentinel/internal/domain"
)

// Scorer returns an anomaly probability in [0, 1] for a reading.
type Scorer interface {
	Score(ctx context.Context, r domain.Reading) (float64, error)
}

// Func adapts a function to Scorer.
type Func func(ctx context.Context, r domain.Reading) (float64, error)

// Score calls f.
func (f Func) Score(ctx context.Context, r domain.Reading) (float64, error) {
	return f(ctx, r)
}

// checkScore rejects probabilities outside [0, 1].
func checkScore(s float64) (float64, error) {
	if math.IsNaN(s) || s < 0 || s > 1 {
		return 0, fmt.Errorf("anomaly score %v outside [0, 1]", s)
	}
	return s, nil
}
