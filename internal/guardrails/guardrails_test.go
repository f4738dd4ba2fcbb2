package guardrails

import (
	"testing"

	"github.com/healthlattice/healthengine/internal/store"
	"github.com/stretchr/testify/assert"
)

func TestFilterInsightsDropsLowConfidence(t *testing.T) {
	in := []CandidateInsight{{MetricKey: "sleep_duration", Confidence: 0.3, Coverage: 0.8, EffectSize: 0.5}}
	out := FilterInsights(in)
	assert.Empty(t, out)
}

func TestFilterInsightsKeepsQualifying(t *testing.T) {
	in := []CandidateInsight{{MetricKey: "sleep_duration", Confidence: 0.7, Coverage: 0.7, EffectSize: 0.3}}
	out := FilterInsights(in)
	assert.Len(t, out, 1)
}

func TestFilterInsightsDropsHighRisk(t *testing.T) {
	in := []CandidateInsight{{MetricKey: "sleep_duration", Confidence: 0.9, Coverage: 0.9, EffectSize: 0.5, Risk: store.RiskHigh}}
	out := FilterInsights(in)
	assert.Empty(t, out)
}

func TestApplyEscalationRulesDowngradesSingleSignal(t *testing.T) {
	in := []CandidateInsight{{MetricKey: "steps", Confidence: 0.7}}
	out := ApplyEscalationRules(in)
	assert.Len(t, out, 1)
	assert.True(t, out[0].Downgraded)
}

func TestApplyEscalationRulesKeepsMultiSignal(t *testing.T) {
	in := []CandidateInsight{
		{MetricKey: "steps", Confidence: 0.7},
		{MetricKey: "steps", Confidence: 0.6},
	}
	out := ApplyEscalationRules(in)
	assert.Len(t, out, 2)
	for _, r := range out {
		assert.False(t, r.Downgraded)
	}
}

func TestApplyGuardrailsPenalizesSmallSampleSize(t *testing.T) {
	c := AttributionCandidate{EffectSize: 0.4, Confidence: 0.8, Stability: 0.8, VarianceExplained: 0.3, SampleSize: 10}
	res := ApplyGuardrails(c, 1)
	assert.Less(t, res.AdjustedConfidence, c.Confidence)
	assert.Equal(t, LabelPreliminary, res.Label)
}

func TestApplyGuardrailsPassesStrongCandidate(t *testing.T) {
	p := 0.001
	c := AttributionCandidate{EffectSize: 0.6, Confidence: 0.9, Stability: 0.9, VarianceExplained: 0.4, SampleSize: 40, PValue: &p}
	res := ApplyGuardrails(c, 1)
	assert.True(t, res.Passed)
	assert.Empty(t, res.Reasons)
}

func TestApplyGuardrailsFlagsConfounded(t *testing.T) {
	c := AttributionCandidate{EffectSize: 0.7, Confidence: 0.9, Stability: 0.9, VarianceExplained: 0.02, SampleSize: 40}
	res := ApplyGuardrails(c, 1)
	assert.Equal(t, LabelConfounded, res.Label)
	assert.False(t, res.Passed)
}

func TestApplyGuardrailsBatchAppliesFDRAcrossMultipleComparisons(t *testing.T) {
	strongP, weakP := 0.001, 0.04
	candidates := []AttributionCandidate{
		{EffectSize: 0.6, Confidence: 0.9, Stability: 0.9, VarianceExplained: 0.4, SampleSize: 40, PValue: &strongP},
		{EffectSize: 0.55, Confidence: 0.85, Stability: 0.8, VarianceExplained: 0.35, SampleSize: 35, PValue: &weakP},
	}
	results := ApplyGuardrailsBatch(candidates)
	assert.Len(t, results, 2)
}
