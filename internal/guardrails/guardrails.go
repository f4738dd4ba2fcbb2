// Package guardrails implements the Guardrails component (C10): the
// per-metric policy filter applied to individual insights, the
// multi-comparison/stability guardrails applied to attribution
// candidates, and the escalation rule requiring independent signals.
//
// Grounded on
// original_source/backend/app/engine/guardrails/policy.py,
// .../insight_filter.py, .../escalation.py (per-metric filter + escalation)
// and
// original_source/backend/app/engine/attribution/guardrails.py
// (apply_attribution_guardrails' violation penalties and labels,
// filter_attributions_by_guardrails' FDR/Bonferroni dispatch).
package guardrails

import (
	"sort"

	"github.com/healthlattice/healthengine/internal/store"
	"github.com/healthlattice/healthengine/pkg/timeseries"
)

// Policy is a per-metric insight gate (§4.7).
type Policy struct {
	MinConfidence float64
	MinCoverage   float64
	MinEffectSize float64
}

// DefaultPolicy applies to any metric without an override.
var DefaultPolicy = Policy{MinConfidence: 0.6, MinCoverage: 0.5, MinEffectSize: 0.2}

var metricPolicies = map[string]Policy{
	"sleep_duration": {MinConfidence: 0.6, MinCoverage: 0.6, MinEffectSize: 0.2},
	"resting_hr":     {MinConfidence: 0.7, MinCoverage: 0.5, MinEffectSize: 0.25},
}

// PolicyFor returns the guardrail policy for metricKey, falling back to
// DefaultPolicy.
func PolicyFor(metricKey string) Policy {
	if p, ok := metricPolicies[metricKey]; ok {
		return p
	}
	return DefaultPolicy
}

// CandidateInsight is the subset of an insight's fields the per-metric
// filter needs, decoupled from store.Insight.
type CandidateInsight struct {
	MetricKey  string
	Confidence float64
	Coverage   float64
	EffectSize float64
	Risk       store.RiskLevel
}

// FilterInsights drops insights failing their metric's minimum
// confidence, coverage, or effect size, or carrying high safety risk
// (§4.7 per-metric policy).
func FilterInsights(candidates []CandidateInsight) []CandidateInsight {
	var passed []CandidateInsight
	for _, c := range candidates {
		if c.MetricKey == "" {
			continue
		}
		policy := PolicyFor(c.MetricKey)
		if c.Confidence < policy.MinConfidence {
			continue
		}
		if c.Coverage < policy.MinCoverage {
			continue
		}
		if absf(c.EffectSize) < policy.MinEffectSize {
			continue
		}
		if c.Risk == store.RiskHigh {
			continue
		}
		passed = append(passed, c)
	}
	return passed
}

// EscalationResult is one insight after escalation rules, with Downgraded
// set when it was the only signal for its metric.
type EscalationResult struct {
	Insight    CandidateInsight
	Downgraded bool
}

// ApplyEscalationRules groups candidates by metric and requires ≥2
// independent signals per metric before treating them at full strength;
// a metric with a single signal is returned downgraded rather than
// dropped (§4.7 escalation).
func ApplyEscalationRules(candidates []CandidateInsight) []EscalationResult {
	grouped := make(map[string][]CandidateInsight)
	var order []string
	for _, c := range candidates {
		if c.MetricKey == "" {
			continue
		}
		if _, seen := grouped[c.MetricKey]; !seen {
			order = append(order, c.MetricKey)
		}
		grouped[c.MetricKey] = append(grouped[c.MetricKey], c)
	}

	var out []EscalationResult
	for _, metric := range order {
		items := grouped[metric]
		if len(items) >= 2 {
			for _, it := range items {
				out = append(out, EscalationResult{Insight: it})
			}
		} else {
			out = append(out, EscalationResult{Insight: items[0], Downgraded: true})
		}
	}
	return out
}

// AttributionLabel names why an attribution candidate's confidence was
// penalized.
type AttributionLabel string

const (
	LabelPreliminary     AttributionLabel = "preliminary"
	LabelUnstable        AttributionLabel = "unstable"
	LabelWeakAssociation AttributionLabel = "weak_association"
	LabelNotSignificant  AttributionLabel = "not_significant"
	LabelConfounded      AttributionLabel = "confounded"
)

// AttributionCandidate is one (driver, outcome) relationship pending
// attribution guardrails.
type AttributionCandidate struct {
	EffectSize        float64
	Confidence        float64
	Stability         float64
	VarianceExplained float64
	SampleSize        int
	PValue            *float64
}

// AttributionResult is the guardrail outcome for one candidate.
type AttributionResult struct {
	Passed             bool
	AdjustedConfidence float64
	Label              AttributionLabel
	Reasons            []string
}

const (
	minAttributionSampleSize = 14
	minAttributionStability  = 0.5
	minVarianceExplained     = 0.10
	fdrAlpha                 = 0.05
	finalConfidenceFloor     = 0.3
)

// ApplyGuardrails applies the minimum-requirements and confidence-penalty
// checks to one attribution candidate (§4.7). nComparisons is the number
// of candidates being evaluated together in this attribution pass, used
// for the single-candidate Bonferroni/FDR check; ApplyGuardrailsBatch
// handles the full multi-comparison FDR pass across candidates.
func ApplyGuardrails(c AttributionCandidate, nComparisons int) AttributionResult {
	adjusted := c.Confidence
	var reasons []string
	var label AttributionLabel

	if c.SampleSize < minAttributionSampleSize {
		reasons = append(reasons, "insufficient_sample_size")
		adjusted *= 0.5
		label = LabelPreliminary
	}
	if c.Stability < minAttributionStability {
		reasons = append(reasons, "low_stability")
		adjusted *= 0.7
		if label == "" {
			label = LabelUnstable
		}
	}
	if c.VarianceExplained < minVarianceExplained {
		reasons = append(reasons, "low_variance_explained")
		adjusted *= 0.8
		if label == "" {
			label = LabelWeakAssociation
		}
	}

	if nComparisons > 1 {
		p := resolveP(c)
		bonferroniAlpha := fdrAlpha / float64(nComparisons)
		if p > bonferroniAlpha {
			reasons = append(reasons, "fails_bonferroni")
			adjusted *= 0.5
			if label == "" {
				label = LabelNotSignificant
			}
		}
	} else if nComparisons == 1 {
		p := resolveP(c)
		if p > fdrAlpha {
			reasons = append(reasons, "p_value_not_significant")
			adjusted *= 0.6
			if label == "" {
				label = LabelNotSignificant
			}
		}
	}

	if absf(c.EffectSize) > 0.5 && c.VarianceExplained < 0.05 {
		reasons = append(reasons, "high_effect_low_variance_possibly_confounded")
		adjusted *= 0.4
		label = LabelConfounded
	}

	if adjusted > c.Confidence {
		adjusted = c.Confidence
	}
	passed := len(reasons) == 0 && adjusted >= finalConfidenceFloor

	return AttributionResult{Passed: passed, AdjustedConfidence: adjusted, Label: label, Reasons: reasons}
}

func resolveP(c AttributionCandidate) float64 {
	if c.PValue != nil {
		return *c.PValue
	}
	return timeseries.PValueFromRSquared(c.VarianceExplained, c.SampleSize)
}

// ApplyGuardrailsBatch applies ApplyGuardrails to every candidate, then
// (when more than one candidate passed individually) additionally
// requires each surviving candidate's p-value to clear Benjamini-Hochberg
// FDR correction across the whole batch (§4.7 multi-comparison).
func ApplyGuardrailsBatch(candidates []AttributionCandidate) []AttributionResult {
	n := len(candidates)
	results := make([]AttributionResult, n)
	for i, c := range candidates {
		results[i] = ApplyGuardrails(c, n)
	}

	passedIdx := []int{}
	for i, r := range results {
		if r.Passed {
			passedIdx = append(passedIdx, i)
		}
	}
	if n > 1 && len(passedIdx) > 1 {
		type ranked struct {
			origIdx int
			p       float64
		}
		rankedP := make([]ranked, len(passedIdx))
		for i, idx := range passedIdx {
			rankedP[i] = ranked{origIdx: idx, p: resolveP(candidates[idx])}
		}
		sort.Slice(rankedP, func(i, j int) bool { return rankedP[i].p < rankedP[j].p })

		sortedP := make([]float64, len(rankedP))
		for i, r := range rankedP {
			sortedP[i] = r.p
		}
		fdrPassed := timeseries.BenjaminiHochberg(sortedP, fdrAlpha)

		for i, r := range rankedP {
			if !fdrPassed[i] {
				results[r.origIdx].Passed = false
				results[r.origIdx].Reasons = append(results[r.origIdx].Reasons, "fails_fdr_correction")
			}
		}
	}
	return results
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
