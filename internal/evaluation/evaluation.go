// Package evaluation implements the Evaluation Service (C14):
// quasi-experimental baseline-vs-intervention window comparison for a
// user-initiated experiment, producing a governed verdict that requires
// adherence evidence before ever calling an intervention "helpful."
//
// Grounded on
// original_source/backend/app/engine/evaluation_service.py's
// evaluate_experiment (window definitions, coverage-gated
// insufficient_data, Cohen's d + percent-change + confidence-interval
// computation, the confidence formula weighting effect size by coverage
// and adherence, and the meaningful/direction-matches/adherence verdict
// ladder — including its "SECURITY FIX" requirement that a helpful
// verdict cannot be reached without logged adherence evidence).
package evaluation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/healthlattice/healthengine/internal/metricreg"
	"github.com/healthlattice/healthengine/internal/store"
	"github.com/healthlattice/healthengine/pkg/timeseries"
)

const (
	DefaultBaselineWindowDays     = 14
	DefaultInterventionWindowDays = 14
	DefaultMinCoverage            = 0.60
	DefaultMinPoints              = 7

	meaningfulEffectSize = 0.35
	strongEffectSize     = 0.60
	minConfidenceHelpful = 0.5
	lowAdherenceRate     = 0.7
)

type Service struct {
	registry    *metricreg.Registry
	points      store.DataPointRepository
	experiments store.ExperimentRepository
	evaluations store.EvaluationRepository
	audit       store.AuditRepository
	now         func() time.Time
}

func NewService(
	registry *metricreg.Registry,
	points store.DataPointRepository,
	experiments store.ExperimentRepository,
	evaluations store.EvaluationRepository,
	audit store.AuditRepository,
	now func() time.Time,
) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{registry: registry, points: points, experiments: experiments, evaluations: evaluations, audit: audit, now: now}
}

type windowStats struct {
	n        int
	coverage float64
	values   []float64
	mean     float64
	stdDev   float64
}

// Evaluate runs the baseline/intervention comparison for experimentID and
// persists the result with its audit trail (§4.11).
func (s *Service) Evaluate(ctx context.Context, experimentID string) (store.EvaluationResult, error) {
	exp, err := s.experiments.GetExperiment(ctx, experimentID)
	if err != nil {
		return store.EvaluationResult{}, fmt.Errorf("evaluation: load experiment: %w", err)
	}

	baselineDays := exp.BaselineWindowDays
	if baselineDays <= 0 {
		baselineDays = DefaultBaselineWindowDays
	}
	interventionDays := exp.InterventionWindowDays
	if interventionDays <= 0 {
		interventionDays = DefaultInterventionWindowDays
	}

	start := truncateDay(exp.StartedAt)
	windowEnd := truncateDay(s.now())
	if exp.EndedAt != nil {
		if ended := truncateDay(*exp.EndedAt); ended.Before(windowEnd) {
			windowEnd = ended
		}
	}
	plannedEnd := start.AddDate(0, 0, interventionDays)
	interventionEnd := windowEnd
	if plannedEnd.Before(interventionEnd) {
		interventionEnd = plannedEnd
	}
	baselineStart := start.AddDate(0, 0, -baselineDays)

	preValues, err := s.dailyValues(ctx, exp.User, exp.PrimaryMetric, baselineStart, start)
	if err != nil {
		return store.EvaluationResult{}, err
	}
	postValues, err := s.dailyValues(ctx, exp.User, exp.PrimaryMetric, start, interventionEnd)
	if err != nil {
		return store.EvaluationResult{}, err
	}

	pre := computeWindowStats(preValues, baselineDays)
	post := computeWindowStats(postValues, interventionDays)

	adherenceRate, err := s.adherenceRate(ctx, exp.ID, start, interventionEnd)
	if err != nil {
		return store.EvaluationResult{}, err
	}

	delta := post.mean - pre.mean
	pctChange := 0.0
	if abs(pre.mean) > 1e-9 {
		pctChange = (delta / pre.mean) * 100.0
	}
	effectSize := timeseries.CohensD(pre.values, post.values)

	var reasons []string
	verdict := store.VerdictUnclear

	if pre.coverage < DefaultMinCoverage || post.coverage < DefaultMinCoverage {
		verdict = store.VerdictInsufficientData
		reasons = append(reasons, "coverage_below_threshold")
	}
	if pre.n < DefaultMinPoints || post.n < DefaultMinPoints {
		verdict = store.VerdictInsufficientData
		reasons = append(reasons, "not_enough_points")
	}

	confidence := 0.0
	if pre.n >= DefaultMinPoints && post.n >= DefaultMinPoints {
		effectConfidence := timeseries.Clamp(abs(effectSize)/0.80, 0, 1)
		coveragePenalty := minFloat(pre.coverage, post.coverage)
		adherenceConfidence := 0.0
		if adherenceRate > 0 {
			adherenceConfidence = 1.0
		}
		confidence = effectConfidence * coveragePenalty * adherenceConfidence
	}

	if verdict != store.VerdictInsufficientData {
		expectedDir := expectedDirection(exp, s.registry)
		actualDir := signOf(delta)
		directionMatches := expectedDir == "" || actualDir == expectedDir
		meaningful := abs(effectSize) >= meaningfulEffectSize
		hasAdherence := adherenceRate > 0

		switch {
		case meaningful && directionMatches:
			switch {
			case !hasAdherence:
				verdict = store.VerdictUnclear
				reasons = append(reasons, "effect_size_meaningful_but_no_adherence_evidence", "cannot_confirm_intervention_was_followed")
			case confidence < minConfidenceHelpful:
				verdict = store.VerdictUnclear
				reasons = append(reasons, "effect_size_meaningful_but_low_confidence")
			default:
				verdict = store.VerdictHelpful
				reasons = append(reasons, "effect_size_meaningful")
				if expectedDir != "" {
					reasons = append(reasons, "direction_matches_expected")
				}
				if abs(effectSize) >= strongEffectSize {
					reasons = append(reasons, "strong_effect")
				}
			}
		case meaningful && !directionMatches:
			verdict = store.VerdictNotHelpful
			reasons = append(reasons, "effect_size_meaningful_but_wrong_direction")
		default:
			verdict = store.VerdictUnclear
			reasons = append(reasons, "effect_too_small_or_noisy")
		}

		switch {
		case adherenceRate == 0:
			reasons = append(reasons, "no_adherence_events_logged", "adherence_unknown_cannot_confirm_effectiveness")
		case adherenceRate < lowAdherenceRate:
			reasons = append(reasons, "low_adherence_rate", "low_adherence_reduces_confidence_in_results")
		}
	}

	result := store.EvaluationResult{
		ID:         uuid.NewString(),
		User:       exp.User,
		Experiment: exp.ID,
		MetricKey:  exp.PrimaryMetric,
		Baseline: store.WindowStats{
			Mean: pre.mean, StdDev: pre.stdDev, N: pre.n, Coverage: pre.coverage,
			CILow: pre.mean - ci95(pre.stdDev, pre.n), CIHigh: pre.mean + ci95(pre.stdDev, pre.n),
		},
		Intervention: store.WindowStats{
			Mean: post.mean, StdDev: post.stdDev, N: post.n, Coverage: post.coverage,
			CILow: post.mean - ci95(post.stdDev, post.n), CIHigh: post.mean + ci95(post.stdDev, post.n),
		},
		Delta:           delta,
		PercentChange:   pctChange,
		EffectSizeD:     effectSize,
		AdherenceRate:   adherenceRate,
		ConfidenceScore: confidence,
		Verdict:         verdict,
		Details: store.EvaluationDetails{
			BaselineWindowStart:     baselineStart,
			BaselineWindowEnd:       start,
			InterventionWindowStart: start,
			InterventionWindowEnd:   interventionEnd,
			Reasons:                 reasons,
		},
		CreatedAt: s.now(),
	}
	result.Summary = summarize(exp.PrimaryMetric, verdict, confidence, effectSize, pctChange, adherenceRate, reasons)

	if err := s.evaluations.PutEvaluation(ctx, result); err != nil {
		return store.EvaluationResult{}, err
	}
	if err := s.recordAudit(ctx, result); err != nil {
		return store.EvaluationResult{}, err
	}
	return result, nil
}

func (s *Service) dailyValues(ctx context.Context, user, metricKey string, from, to time.Time) (map[string]float64, error) {
	points, err := s.points.Range(ctx, user, metricKey, from, to)
	if err != nil {
		return nil, err
	}
	byDay := map[string][]float64{}
	for _, p := range points {
		key := truncateDay(p.Timestamp).Format("2006-01-02")
		byDay[key] = append(byDay[key], p.Value)
	}
	out := make(map[string]float64, len(byDay))
	for k, vs := range byDay {
		out[k] = timeseries.Mean(vs)
	}
	return out, nil
}

// summarize builds the human-readable evaluation summary, grounded on
// evaluate_experiment's summary_parts construction: a prominent
// confidence label, a verdict-specific sentence, then an adherence
// line that always warns when no adherence events were logged at all,
// since a meaningful-looking effect with unconfirmed adherence is the
// exact case this governance exists to flag.
func summarize(metricKey string, verdict store.Verdict, confidence, effectSize, pctChange, adherenceRate float64, reasons []string) string {
	parts := []string{fmt.Sprintf("Metric: %s", metricKey)}

	switch {
	case confidence < 0.5:
		parts = append(parts, fmt.Sprintf("[LOW CONFIDENCE: %.0f%%]", confidence*100))
	case confidence < 0.7:
		parts = append(parts, fmt.Sprintf("[MODERATE CONFIDENCE: %.0f%%]", confidence*100))
	default:
		parts = append(parts, fmt.Sprintf("[HIGH CONFIDENCE: %.0f%%]", confidence*100))
	}

	switch verdict {
	case store.VerdictHelpful:
		parts = append(parts, fmt.Sprintf("Intervention showed %.1f%% change in expected direction (effect size: %.2f)", abs(pctChange), effectSize))
	case store.VerdictNotHelpful:
		parts = append(parts, fmt.Sprintf("Intervention showed %.1f%% change in wrong direction (effect size: %.2f)", abs(pctChange), effectSize))
	case store.VerdictUnclear:
		if hasReason(reasons, "effect_size_meaningful_but_no_adherence_evidence") {
			parts = append(parts, fmt.Sprintf("Effect size meaningful (%.2f) but cannot confirm intervention was followed", effectSize))
		} else {
			parts = append(parts, fmt.Sprintf("Effect size too small or noisy (effect size: %.2f)", effectSize))
		}
	default:
		parts = append(parts, "Insufficient data for evaluation")
	}

	switch {
	case adherenceRate > 0 && adherenceRate < lowAdherenceRate:
		parts = append(parts, fmt.Sprintf("Adherence: %.0f%%", adherenceRate*100), "[WARNING: Low adherence may affect results]")
	case adherenceRate > 0:
		parts = append(parts, fmt.Sprintf("Adherence: %.0f%%", adherenceRate*100))
	default:
		parts = append(parts, "[WARNING: No adherence events logged - cannot confirm intervention was followed]")
	}

	out := parts[0]
	for _, p := range parts[1:] {
		out += ". " + p
	}
	return out
}

func hasReason(reasons []string, want string) bool {
	for _, r := range reasons {
		if r == want {
			return true
		}
	}
	return false
}

func computeWindowStats(daily map[string]float64, expectedDays int) windowStats {
	values := make([]float64, 0, len(daily))
	days := make([]string, 0, len(daily))
	for d := range daily {
		days = append(days, d)
	}
	sort.Strings(days)
	for _, d := range days {
		values = append(values, daily[d])
	}
	coverage := 0.0
	if expectedDays > 0 {
		coverage = timeseries.Clamp(float64(len(values))/float64(expectedDays), 0, 1)
	}
	return windowStats{
		n: len(values), coverage: coverage, values: values,
		mean: timeseries.Mean(values), stdDev: timeseries.PopStdDev(values),
	}
}

func (s *Service) adherenceRate(ctx context.Context, experimentID string, start, end time.Time) (float64, error) {
	events, err := s.experiments.AdherenceSince(ctx, experimentID, start)
	if err != nil {
		return 0, err
	}
	var taken, total int
	for _, e := range events {
		if e.Timestamp.After(end) {
			continue
		}
		total++
		if e.Taken {
			taken++
		}
	}
	if total == 0 {
		return 0, nil
	}
	return timeseries.Clamp(float64(taken)/float64(total), 0, 1), nil
}

func (s *Service) recordAudit(ctx context.Context, result store.EvaluationResult) error {
	if err := s.audit.PutEvent(ctx, store.AuditEvent{
		ID: uuid.NewString(), User: result.User, EntityType: "evaluation", EntityID: result.ID,
		Action: "evaluated", Detail: map[string]string{"verdict": string(result.Verdict), "experiment": result.Experiment},
		CreatedAt: result.CreatedAt,
	}); err != nil {
		return err
	}
	edges := []store.ExplanationEdge{
		{FromEntityType: "evaluation", FromEntityID: result.ID, ToKind: "experiment", ToRef: result.Experiment, CreatedAt: result.CreatedAt},
		{FromEntityType: "evaluation", FromEntityID: result.ID, ToKind: "metric", ToRef: result.MetricKey, CreatedAt: result.CreatedAt},
	}
	return s.audit.PutEdges(ctx, edges)
}

// expectedDirection prefers the experiment's explicit hypothesis, falling
// back to the outcome metric's registry direction (higher_better implies
// the intervention is expected to raise it; lower_better implies it is
// expected to lower it). optimal_range metrics have no default hypothesis.
func expectedDirection(exp store.Experiment, registry *metricreg.Registry) string {
	if exp.ExpectedDirection == "positive" || exp.ExpectedDirection == "negative" {
		return exp.ExpectedDirection
	}
	spec, ok := registry.Get(exp.PrimaryMetric)
	if !ok {
		return ""
	}
	switch spec.Direction {
	case metricreg.DirectionHigherBetter:
		return "positive"
	case metricreg.DirectionLowerBetter:
		return "negative"
	default:
		return ""
	}
}

func signOf(delta float64) string {
	switch {
	case delta > 0:
		return "positive"
	case delta < 0:
		return "negative"
	default:
		return "flat"
	}
}

func ci95(stdDev float64, n int) float64 {
	if n < 2 || stdDev <= 0 {
		return 0
	}
	return timeseries.ConfidenceInterval95(stdDev, n)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
