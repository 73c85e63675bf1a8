package lifecycle

import "github.com/gridlock-ai/sentinel/internal/domain"

// CauseRules holds the limits of the cause-suggestion table.
type CauseRules struct {
	HighCurrent    float64 // amperes
	VoltageSag     float64 // volts
	LowPowerFactor float64
}

// DefaultCauseRules are the limits used by the reference deployment.
var DefaultCauseRules = CauseRules{
	HighCurrent:    15.0,
	VoltageSag:     210.0,
	LowPowerFactor: 0.70,
}

// Suggest applies the rule table in priority order; the first match wins.
func (c CauseRules) Suggest(r domain.Reading) domain.Cause {
	highCurrent := r.Current > c.HighCurrent
	sag := r.Voltage < c.VoltageSag
	switch {
	case highCurrent && sag:
		return domain.CauseShortCircuit
	case highCurrent:
		return domain.CauseHighCurrent
	case r.PowerFactor < c.LowPowerFactor:
		return domain.CauseLowPowerFactor
	case sag:
		return domain.CauseVoltageSag
	default:
		return domain.CauseUnclassified
	}
}
