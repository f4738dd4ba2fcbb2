package safety

import (
	"testing"

	"github.com/healthlattice/healthengine/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateFiresUrgentRestingHR(t *testing.T) {
	triggered := Evaluate(map[string]float64{"resting_hr": 120}, nil)
	require.Len(t, triggered, 1)
	assert.Equal(t, "resting_hr_high", triggered[0].Rule.Key)
	assert.Equal(t, SeverityUrgent, triggered[0].Rule.Severity)
}

func TestEvaluateSortsUrgentFirst(t *testing.T) {
	triggered := Evaluate(map[string]float64{
		"hrv_rmssd":  10,  // medium
		"resting_hr": 120, // urgent
	}, nil)
	require.Len(t, triggered, 2)
	assert.Equal(t, SeverityUrgent, triggered[0].Rule.Severity)
	assert.Equal(t, SeverityMedium, triggered[1].Rule.Severity)
}

func TestEvaluateSymptomTagTriggersRule(t *testing.T) {
	triggered := Evaluate(nil, []string{"suicidal_ideation"})
	require.Len(t, triggered, 1)
	assert.Equal(t, "severe_mood_crisis", triggered[0].Rule.Key)
	assert.Equal(t, ActionSeekCareNow, triggered[0].Rule.Action)
}

func TestEvaluateNoTriggerWhenWithinRange(t *testing.T) {
	triggered := Evaluate(map[string]float64{"resting_hr": 62, "sleep_duration": 420}, nil)
	assert.Empty(t, triggered)
}

func TestEvaluateMissingMetricDoesNotTrigger(t *testing.T) {
	triggered := Evaluate(map[string]float64{}, nil)
	assert.Empty(t, triggered)
}

func TestEvaluateInterventionUnknownIsExperimentalGradeD(t *testing.T) {
	decision := EvaluateIntervention("unobtainium", nil)
	assert.Equal(t, store.BoundaryExperiment, decision.Boundary)
	assert.Equal(t, "D", decision.EvidenceGrade)
	assert.True(t, Allowed(decision))
}

func TestEvaluateInterventionContraindicationBlocks(t *testing.T) {
	decision := EvaluateIntervention("intermittent_fasting", map[string]bool{"pregnancy": true})
	assert.Equal(t, store.RiskHigh, decision.RiskLevel)
	assert.False(t, Allowed(decision))
}

func TestEvaluateInterventionInteractionDowngradesNotBlocked(t *testing.T) {
	decision := EvaluateIntervention("caffeine_timing_change", map[string]bool{"anxiety_disorder": true})
	assert.Equal(t, store.RiskModerate, decision.RiskLevel)
	assert.True(t, Allowed(decision))
}

func TestEvaluateInterventionCleanFlagsStaysLowRisk(t *testing.T) {
	decision := EvaluateIntervention("melatonin", map[string]bool{})
	assert.Equal(t, store.RiskLow, decision.RiskLevel)
	assert.Equal(t, store.BoundaryLifestyle, decision.Boundary)
	assert.Empty(t, decision.Issues)
}
