package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDecisionKind_Valid(t *testing.T) {
	assert.True(t, DecisionAdapt.Valid())
	assert.True(t, DecisionConfirmTheft.Valid())
	assert.False(t, DecisionKind("ignore").Valid())
	assert.False(t, DecisionKind("").Valid())
}

func TestReading_FeaturesOrder(t *testing.T) {
	r := Reading{Voltage: 230, Current: 5, Power: 1150, PowerFactor: 0.95}
	assert.Equal(t, []float64{230, 5, 1150, 0.95}, r.Features())
}

func TestNewFeedbackSample_EmptyCauseIsNA(t *testing.T) {
	s := NewFeedbackSample(Reading{Voltage: 231}, "", LabelNormal)
	assert.Equal(t, CauseNotAvailable, s.SuggestedCause)
	assert.Equal(t, 231.0, s.Voltage)
	assert.Equal(t, LabelNormal, s.Label)
}

func TestNewFeedbackSample_CarriesCause(t *testing.T) {
	s := NewFeedbackSample(Reading{Timestamp: time.Now(), Current: 20}, CauseHighCurrent, LabelTheft)
	assert.Equal(t, string(CauseHighCurrent), s.SuggestedCause)
	assert.Equal(t, LabelTheft, s.Label)
}

func TestIncident_CauseLabel(t *testing.T) {
	assert.Equal(t, CauseNotAvailable, Incident{}.CauseLabel())

	c := CauseVoltageSag
	assert.Equal(t, string(CauseVoltageSag), Incident{SuggestedCause: &c}.CauseLabel())
}

func TestNewEpisodeID_Unique(t *testing.T) {
	a, b := NewEpisodeID(), NewEpisodeID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 36)
}
