package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gridlock-ai/sentinel/internal/domain"
)

func TestSuggestCause(t *testing.T) {
	tests := []struct {
		name string
		in   domain.Reading
		want domain.Cause
	}{
		{"short circuit", domain.Reading{Current: 20, Voltage: 205, PowerFactor: 0.9}, domain.CauseShortCircuit},
		{"high current", domain.Reading{Current: 20, Voltage: 230, PowerFactor: 0.9}, domain.CauseHighCurrent},
		{"low power factor", domain.Reading{Current: 5, Voltage: 230, PowerFactor: 0.5}, domain.CauseLowPowerFactor},
		{"voltage sag", domain.Reading{Current: 5, Voltage: 200, PowerFactor: 0.95}, domain.CauseVoltageSag},
		{"unclassified", domain.Reading{Current: 5, Voltage: 230, PowerFactor: 0.95}, domain.CauseUnclassified},
		{"limits are exclusive", domain.Reading{Current: 15, Voltage: 210, PowerFactor: 0.70}, domain.CauseUnclassified},
		{"high current wins over low power factor", domain.Reading{Current: 16, Voltage: 230, PowerFactor: 0.3}, domain.CauseHighCurrent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultCauseRules.Suggest(tt.in))
		})
	}
}
