// Package looprunner implements the Loop Runner (C11): the per-user
// per-invocation orchestration that runs the Safety Gate, then the
// detector/guardrail/suppression pipeline over every registered metric,
// persisting insights and their explainability trail.
//
// Grounded on
// original_source/backend/app/engine/loop_runner.py (run_loop's exact
// step ordering: safety gate first with early return, per-metric
// baseline-presence skip, per-metric insufficient_data emission ahead of
// detection, and the trailing filter_insights/apply_escalation_rules
// pass over everything created this run).
package looprunner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/healthlattice/healthengine/internal/claimpolicy"
	"github.com/healthlattice/healthengine/internal/consent"
	"github.com/healthlattice/healthengine/internal/degradation"
	"github.com/healthlattice/healthengine/internal/detectors"
	"github.com/healthlattice/healthengine/internal/guardrails"
	"github.com/healthlattice/healthengine/internal/logging"
	"github.com/healthlattice/healthengine/internal/metricreg"
	"github.com/healthlattice/healthengine/internal/safety"
	"github.com/healthlattice/healthengine/internal/store"
	"github.com/healthlattice/healthengine/internal/suppression"
	"github.com/healthlattice/healthengine/internal/telemetry"
	"github.com/healthlattice/healthengine/pkg/timeseries"
)

// Window days for each detector, carried directly from the source
// system's MVP window constants (§4.5, §4.8). ConflictingSignalsWindowDays
// is check_conflicting_signals' own default, distinct from the detector
// windows above.
const (
	ChangeWindowDays             = 7
	TrendWindowDays              = 14
	InstabilityWindowDays        = 14
	SafetyWindowDays             = 3
	ConflictingSignalsWindowDays = 7
)

// Service orchestrates one loop run for one user.
type Service struct {
	gate          *consent.Gate
	registry      *metricreg.Registry
	points        store.DataPointRepository
	baselines     store.BaselineRepository
	insights      store.InsightRepository
	interventions store.InterventionRepository
	audit         store.AuditRepository
	suppressor    *suppression.Suppressor
	log           *logging.Logger
	now           func() time.Time
}

// NewService constructs a loop-runner Service. now defaults to time.Now
// and log to a quiet logger when nil; callers wire a real
// *logging.Logger from cmd/healthengine.
func NewService(
	gate *consent.Gate,
	registry *metricreg.Registry,
	points store.DataPointRepository,
	baselines store.BaselineRepository,
	insights store.InsightRepository,
	interventions store.InterventionRepository,
	audit store.AuditRepository,
	suppressor *suppression.Suppressor,
	log *logging.Logger,
	now func() time.Time,
) *Service {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = logging.New(logging.Config{Quiet: true})
	}
	return &Service{
		gate: gate, registry: registry, points: points, baselines: baselines,
		insights: insights, interventions: interventions, audit: audit,
		suppressor: suppressor, log: log, now: now,
	}
}

// RunResult summarizes one loop invocation.
type RunResult struct {
	Created        []store.Insight
	SafetyOverride bool
}

// Run executes one full loop for user: consent check, safety gate,
// per-metric detection, then guardrail filtering/escalation and
// suppression over everything created this run (§4.8).
func (s *Service) Run(ctx context.Context, user string) (RunResult, error) {
	ctx, span := telemetry.StartLoopSpan(ctx, user)
	start := time.Now()
	outcome := "completed"
	defer func() {
		telemetry.RecordLoopRun(outcome, time.Since(start).Seconds())
		telemetry.EndSpan(span, nil)
	}()

	if err := s.gate.Require(ctx, user, consent.ScopeDataAnalysis); err != nil {
		outcome = "consent_denied"
		return RunResult{}, err
	}

	now := s.now()

	latestMetrics, err := s.latestThreeDayAverages(ctx, user, now)
	if err != nil {
		outcome = "error"
		return RunResult{}, err
	}

	// MVP: symptom tags are not yet wired from a check-in/symptom table.
	var symptomTags []string
	if triggered := safety.Evaluate(latestMetrics, symptomTags); len(triggered) > 0 {
		insight := s.buildSafetyInsight(user, triggered, now)
		created := []store.Insight{insight}
		created = append(created, s.invalidateProtocols(ctx, user, triggered, now)...)
		for _, in := range created {
			if err := s.persistInsight(ctx, in); err != nil {
				outcome = "error"
				return RunResult{}, err
			}
		}
		outcome = "safety_override"
		return RunResult{Created: created, SafetyOverride: true}, nil
	}

	var created []store.Insight
	for _, metricKey := range s.registry.Keys() {
		baseline, found, err := s.baselines.GetBaseline(ctx, user, metricKey)
		if err != nil {
			s.log.Warn("baseline_retrieval_failed", "user", user, "metric_key", metricKey, "error", err.Error())
			continue
		}
		if !found {
			// Baseline not computed yet: expected for new metrics/users,
			// not an error (§4.8 step 3).
			continue
		}

		if sig, err := s.checkConflictingSignals(ctx, user, metricKey, now); err != nil {
			outcome = "error"
			return RunResult{}, err
		} else if sig != nil {
			created = append(created, s.conflictingSignalsInsight(user, *sig, now))
		}

		policy := PolicyFor(metricKey)
		ins, err := s.runMetricDetectors(ctx, user, metricKey, policy, baseline, now)
		if err != nil {
			outcome = "error"
			return RunResult{}, err
		}
		created = append(created, ins...)
	}

	final, err := s.applyGuardrailsAndSuppression(ctx, user, created)
	if err != nil {
		outcome = "error"
		return RunResult{}, err
	}
	for i := range final {
		if err := s.persistInsight(ctx, final[i]); err != nil {
			outcome = "error"
			return RunResult{}, err
		}
	}

	return RunResult{Created: final}, nil
}

func (s *Service) latestThreeDayAverages(ctx context.Context, user string, now time.Time) (map[string]float64, error) {
	out := make(map[string]float64)
	since := now.AddDate(0, 0, -SafetyWindowDays)
	for _, metricKey := range s.registry.Keys() {
		rows, err := s.points.Range(ctx, user, metricKey, since, now)
		if err != nil {
			s.log.Warn("safety_window_fetch_failed", "user", user, "metric_key", metricKey, "error", err.Error())
			continue
		}
		if len(rows) == 0 {
			continue
		}
		var sum float64
		for _, r := range rows {
			sum += r.Value
		}
		out[metricKey] = sum / float64(len(rows))
	}
	return out, nil
}

// runMetricDetectors runs the insufficient_data check and the three
// detectors for one metric, returning every insight it produces (not yet
// persisted).
func (s *Service) runMetricDetectors(ctx context.Context, user, metricKey string, policy MetricPolicy, baseline store.Baseline, now time.Time) ([]store.Insight, error) {
	var out []store.Insight

	if policy.AllowedInsights[store.InsightChange] {
		values, err := s.fetchWindow(ctx, user, metricKey, ChangeWindowDays, now)
		if err != nil {
			return nil, err
		}
		if len(values) < detectors.MinChangeSamples {
			out = append(out, s.insufficientDataInsight(user, metricKey, len(values), detectors.MinChangeSamples, now))
		} else if res, ok := detectors.DetectChange(values, baseline.Mean, baseline.StdDev, policy.ChangeZThreshold); ok {
			out = append(out, s.changeInsight(user, metricKey, res, now))
		}
	}

	if policy.AllowedInsights[store.InsightTrend] {
		values, err := s.fetchWindow(ctx, user, metricKey, TrendWindowDays, now)
		if err != nil {
			return nil, err
		}
		if len(values) >= detectors.MinTrendInstabilitySamples {
			if res, ok := detectors.DetectTrend(values, policy.TrendSlopeThreshold); ok {
				out = append(out, s.trendInsight(user, metricKey, res, now))
			}
		}
	}

	if policy.AllowedInsights[store.InsightInstability] {
		values, err := s.fetchWindow(ctx, user, metricKey, InstabilityWindowDays, now)
		if err != nil {
			return nil, err
		}
		if len(values) >= detectors.MinTrendInstabilitySamples {
			if res, ok := detectors.DetectInstability(values, baseline.StdDev, policy.InstabilityRatioThreshold); ok {
				out = append(out, s.instabilityInsight(user, metricKey, res, now))
			}
		}
	}

	return out, nil
}

func (s *Service) fetchWindow(ctx context.Context, user, metricKey string, windowDays int, now time.Time) ([]detectors.ValuePoint, error) {
	since := now.AddDate(0, 0, -windowDays)
	rows, err := s.points.Range(ctx, user, metricKey, since, now)
	if err != nil {
		return nil, err
	}
	out := make([]detectors.ValuePoint, len(rows))
	for i, r := range rows {
		out[i] = detectors.ValuePoint{Value: r.Value, Timestamp: r.Timestamp}
	}
	return out, nil
}

func (s *Service) insufficientDataInsight(user, metricKey string, n, required int, now time.Time) store.Insight {
	return store.Insight{
		ID:          uuid.NewString(),
		User:        user,
		Type:        store.InsightInsufficientData,
		MetricKey:   metricKey,
		Title:       fmt.Sprintf("Insufficient data for %s", metricKey),
		Description: fmt.Sprintf("Not enough data points (%d < %d) to detect changes in %s. Please collect more data.", n, required, metricKey),
		Confidence:  1.0,
		ClaimLevel:  1,
		Evidence:    map[string]float64{"data_points": float64(n), "required_points": float64(required)},
		GeneratedAt: now,
	}
}

func (s *Service) changeInsight(user, metricKey string, res detectors.ChangeResult, now time.Time) store.Insight {
	confidence := changeConfidence(res.ZScore)
	level := timeseries.ClaimLevel(confidence)
	grade := claimpolicy.GradeForLevel(level)
	return store.Insight{
		ID:          uuid.NewString(),
		User:        user,
		Type:        store.InsightChange,
		MetricKey:   metricKey,
		Title:       fmt.Sprintf("Change detected in %s", metricKey),
		Description: s.validatedDescription(grade, metricKey, res.ZScore, level),
		Confidence:  confidence,
		ClaimLevel:  level,
		Evidence: map[string]float64{
			"z_score": res.ZScore, "recent_mean": res.RecentMean, "n_points": float64(res.N),
			"coverage": timeseries.Clamp(float64(res.N)/float64(ChangeWindowDays), 0, 1),
		},
		GeneratedAt: now,
	}
}

func (s *Service) trendInsight(user, metricKey string, res detectors.TrendResult, now time.Time) store.Insight {
	confidence := trendConfidence(res.Slope, res.N)
	level := timeseries.ClaimLevel(confidence)
	grade := claimpolicy.GradeForLevel(level)
	return store.Insight{
		ID:          uuid.NewString(),
		User:        user,
		Type:        store.InsightTrend,
		MetricKey:   metricKey,
		Title:       fmt.Sprintf("Trend detected in %s", metricKey),
		Description: s.validatedDescription(grade, metricKey, res.Slope, level),
		Confidence:  confidence,
		ClaimLevel:  level,
		Evidence: map[string]float64{
			"slope": res.Slope, "n_points": float64(res.N),
			"coverage": timeseries.Clamp(float64(res.N)/float64(TrendWindowDays), 0, 1),
		},
		GeneratedAt: now,
	}
}

func (s *Service) instabilityInsight(user, metricKey string, res detectors.InstabilityResult, now time.Time) store.Insight {
	confidence := instabilityConfidence(res.StdRatio)
	level := timeseries.ClaimLevel(confidence)
	grade := claimpolicy.GradeForLevel(level)
	return store.Insight{
		ID:          uuid.NewString(),
		User:        user,
		Type:        store.InsightInstability,
		MetricKey:   metricKey,
		Title:       fmt.Sprintf("Instability detected in %s", metricKey),
		Description: s.validatedDescription(grade, metricKey, res.StdRatio, level),
		Confidence:  confidence,
		ClaimLevel:  level,
		Evidence: map[string]float64{
			"std_ratio": res.StdRatio, "n_points": float64(res.N),
			"coverage": timeseries.Clamp(float64(res.N)/float64(InstabilityWindowDays), 0, 1),
		},
		GeneratedAt: now,
	}
}

// validatedDescription builds a description with claimpolicy.Suggest and
// checks it with claimpolicy.Validate; on a violation it downgrades one
// claim level once and returns that phrase without validating it again,
// rather than looping (§4.13's fail-closed downgrade pattern, applied
// here at insight-creation time too since insight text is user-facing
// language subject to the same policy).
func (s *Service) validatedDescription(grade claimpolicy.Grade, metricKey string, magnitude float64, level int) string {
	direction := claimpolicy.DirectionNeutral
	if magnitude > 0 {
		direction = claimpolicy.DirectionPositive
	} else if magnitude < 0 {
		direction = claimpolicy.DirectionNegative
	}
	text := claimpolicy.Suggest(grade, metricKey, direction)
	if ok, _ := claimpolicy.Validate(text, grade); ok {
		return text
	}
	downgraded := claimpolicy.GradeForLevel(level - 1)
	return claimpolicy.Suggest(downgraded, metricKey, direction)
}

// checkConflictingSignals compares this metric's wearable-source and
// subjective-source means over ConflictingSignalsWindowDays, mirroring
// check_conflicting_signals (§4.17). Does not block detection; the
// caller still runs the usual detectors for this metric regardless.
func (s *Service) checkConflictingSignals(ctx context.Context, user, metricKey string, now time.Time) (*degradation.Signal, error) {
	since := now.AddDate(0, 0, -ConflictingSignalsWindowDays)
	rows, err := s.points.Range(ctx, user, metricKey, since, now)
	if err != nil {
		return nil, err
	}
	var wearableSum, subjectiveSum float64
	var wearableN, subjectiveN int
	for _, r := range rows {
		switch r.Source {
		case "wearable":
			wearableSum += r.Value
			wearableN++
		case "subjective":
			subjectiveSum += r.Value
			subjectiveN++
		}
	}
	if wearableN == 0 || subjectiveN == 0 {
		return nil, nil
	}
	return degradation.ConflictingSignals(metricKey, wearableSum/float64(wearableN), subjectiveSum/float64(subjectiveN)), nil
}

func (s *Service) conflictingSignalsInsight(user string, sig degradation.Signal, now time.Time) store.Insight {
	return store.Insight{
		ID:          uuid.NewString(),
		User:        user,
		Type:        store.InsightConflictingSignals,
		MetricKey:   sig.MetricKey,
		Title:       fmt.Sprintf("Conflicting signals for %s", sig.MetricKey),
		Description: sig.Reason,
		Confidence:  1.0,
		ClaimLevel:  1,
		Evidence:    sig.Metadata,
		GeneratedAt: now,
	}
}

// invalidateProtocols re-evaluates every active intervention's recorded
// risk level against this run's observed safety risk, mirroring
// invalidate_protocol_on_safety_change (§4.17). Interventions whose risk
// increased are persisted with their bumped risk and a protocol_invalidated
// issue so Allowed(...) and any future safety check reflects it; one
// insight per invalidated intervention is returned so narrative synthesis
// acknowledges it (narrative.go treats InsightProtocolInvalidated as a
// surfaced risk).
func (s *Service) invalidateProtocols(ctx context.Context, user string, triggered []safety.Triggered, now time.Time) []store.Insight {
	if s.interventions == nil {
		return nil
	}
	observed := safety.OverallRiskLevel(triggered)
	ivs, err := s.interventions.ListInterventionsByUser(ctx, user)
	if err != nil {
		s.log.Warn("protocol_reevaluation_failed", "user", user, "error", err.Error())
		return nil
	}
	var out []store.Insight
	for _, iv := range ivs {
		sig := safety.ReEvaluateProtocol(iv.Safety.RiskLevel, observed)
		if sig == nil {
			continue
		}
		iv.Safety.RiskLevel = observed
		iv.Safety.Issues = append(iv.Safety.Issues, store.SafetyIssue{Key: "protocol_invalidated", Message: sig.Reason})
		if err := s.interventions.PutIntervention(ctx, iv); err != nil {
			s.log.Warn("protocol_invalidation_persist_failed", "user", user, "intervention", iv.ID, "error", err.Error())
			continue
		}
		out = append(out, store.Insight{
			ID:          uuid.NewString(),
			User:        user,
			Type:        store.InsightProtocolInvalidated,
			Title:       fmt.Sprintf("Protocol invalidated: %s", iv.Name),
			Description: sig.Reason,
			Confidence:  1.0,
			ClaimLevel:  1,
			Evidence:    sig.Metadata,
			GeneratedAt: now,
		})
	}
	return out
}

func (s *Service) buildSafetyInsight(user string, triggered []safety.Triggered, now time.Time) store.Insight {
	evidence := make(map[string]float64, len(triggered))
	var description string
	for i, t := range triggered {
		if i == 0 {
			description = t.Rule.Message
		}
		evidence[t.Rule.Key] = t.Value
	}
	return store.Insight{
		ID:          uuid.NewString(),
		User:        user,
		Type:        store.InsightSafety,
		Title:       "Safety check triggered",
		Description: description,
		Confidence:  1.0,
		ClaimLevel:  1,
		Evidence:    evidence,
		GeneratedAt: now,
	}
}

// applyGuardrailsAndSuppression runs the per-metric policy filter,
// escalation rule, and suppression pass over everything created this
// run, in that order (§4.8 step 5).
func (s *Service) applyGuardrailsAndSuppression(ctx context.Context, user string, created []store.Insight) ([]store.Insight, error) {
	if len(created) == 0 {
		return nil, nil
	}

	var surviving []store.Insight
	for _, in := range created {
		if isStructuralInsight(in.Type) {
			surviving = append(surviving, in)
			continue
		}
		// Run each insight through the per-metric filter individually so
		// the pass/fail result maps back to this exact insight, not to
		// every insight sharing its metric key.
		candidate := guardrails.CandidateInsight{
			MetricKey:  in.MetricKey,
			Confidence: in.Confidence,
			Coverage:   evidenceOrZero(in.Evidence, "coverage"),
			EffectSize: effectSizeOf(in),
		}
		if passed := guardrails.FilterInsights([]guardrails.CandidateInsight{candidate}); len(passed) == 0 {
			in.Suppressed = true
			in.SuppressionReason = "guardrail_filtered"
		}
		surviving = append(surviving, in)
	}

	escalationCandidates := make([]guardrails.CandidateInsight, 0, len(surviving))
	indexByMetric := make(map[string][]int)
	for i, in := range surviving {
		if in.Suppressed || isStructuralInsight(in.Type) {
			continue
		}
		escalationCandidates = append(escalationCandidates, guardrails.CandidateInsight{MetricKey: in.MetricKey, Confidence: in.Confidence})
		indexByMetric[in.MetricKey] = append(indexByMetric[in.MetricKey], i)
	}
	escalated := guardrails.ApplyEscalationRules(escalationCandidates)
	downgradedMetrics := make(map[string]bool)
	for _, e := range escalated {
		if e.Downgraded {
			downgradedMetrics[e.Insight.MetricKey] = true
		}
	}
	for metricKey, idxs := range indexByMetric {
		if downgradedMetrics[metricKey] {
			for _, idx := range idxs {
				surviving[idx].WeakSignal = true
			}
		}
	}

	return s.suppressor.Apply(ctx, user, surviving)
}

// isStructuralInsight reports whether an insight describes the loop's
// own operating state rather than a detector finding about the metric,
// and so is exempt from the confidence/coverage guardrail filter and
// escalation pass (§4.8 step 5, §4.17).
func isStructuralInsight(t store.InsightType) bool {
	switch t {
	case store.InsightInsufficientData, store.InsightSafety, store.InsightConflictingSignals, store.InsightProtocolInvalidated:
		return true
	default:
		return false
	}
}

func evidenceOrZero(evidence map[string]float64, key string) float64 {
	if evidence == nil {
		return 0
	}
	return evidence[key]
}

func effectSizeOf(in store.Insight) float64 {
	if v, ok := in.Evidence["effect_size"]; ok {
		return v
	}
	if v, ok := in.Evidence["z_score"]; ok {
		return v
	}
	if v, ok := in.Evidence["slope"]; ok {
		return v
	}
	return 0
}

func (s *Service) persistInsight(ctx context.Context, in store.Insight) error {
	if err := s.insights.PutInsight(ctx, in); err != nil {
		return err
	}
	return s.audit.PutEvent(ctx, store.AuditEvent{
		ID:         uuid.NewString(),
		User:       in.User,
		EntityType: "insight",
		EntityID:   in.ID,
		Action:     "created",
		Detail:     map[string]string{"insight_type": string(in.Type), "metric_key": in.MetricKey},
		CreatedAt:  in.GeneratedAt,
	})
}

func changeConfidence(zScore float64) float64 {
	az := zScore
	if az < 0 {
		az = -az
	}
	return timeseries.Clamp(az/4.0, 0, 1)
}

func trendConfidence(slope float64, n int) float64 {
	as := slope
	if as < 0 {
		as = -as
	}
	base := as / (as + 1.0)
	coverageBoost := float64(n) / float64(n+7)
	return timeseries.Clamp(base*0.6+coverageBoost*0.4, 0, 1)
}

func instabilityConfidence(ratio float64) float64 {
	return timeseries.Clamp((ratio-1.0)/2.0, 0, 1)
}
