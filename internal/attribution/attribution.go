// Package attribution implements the Attribution Engine (C13): per-user
// cross-signal regression identifying which behaviors or interventions
// actually explain changes in outcome metrics, with lag search, effect
// size, stability, and guardrail-adjusted confidence.
//
// Grounded on
// original_source/backend/app/engine/attribution/cross_signal_engine.py
// (compute_personal_drivers' overall shape, _build_feature_matrix and
// _build_outcome_series' loading/aggregation order, _compute_attribution's
// per-lag alignment and interpolation, and _simple_regression/
// _compute_effect_size/_compute_stability's exact formulas), wired to the
// already-built internal/guardrails (C10) component for the confidence
// penalty ladder and pkg/timeseries for the regression/Cohen's d/p-value
// primitives instead of reimplementing them.
package attribution

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/healthlattice/healthengine/internal/degradation"
	"github.com/healthlattice/healthengine/internal/guardrails"
	"github.com/healthlattice/healthengine/internal/logging"
	"github.com/healthlattice/healthengine/internal/metricreg"
	"github.com/healthlattice/healthengine/internal/store"
	"github.com/healthlattice/healthengine/pkg/timeseries"
)

// swingWindowDays is suppress_intervention_for_swings' own default
// window, distinct from DefaultWindowDays.
const swingWindowDays = 3

// DefaultWindowDays is the attribution lookback when none is given (§4.10).
const DefaultWindowDays = 28

// HighConfidenceThreshold is the confidence floor a driver must clear to
// surface in an inbox summary notification, carried from
// job_generate_driver_findings' 0.7 cutoff (§4.21).
const HighConfidenceThreshold = 0.7

const dayLayout = "2006-01-02"

// HighConfidenceFindings filters drivers to those clearing
// HighConfidenceThreshold, the set a scheduler run surfaces as a
// notification after recomputing a user's drivers (§4.21).
func HighConfidenceFindings(drivers []store.PersonalDriver) []store.PersonalDriver {
	var out []store.PersonalDriver
	for _, d := range drivers {
		if d.Confidence >= HighConfidenceThreshold {
			out = append(out, d)
		}
	}
	return out
}

// Service computes personal drivers for a user.
type Service struct {
	registry      *metricreg.Registry
	points        store.DataPointRepository
	checkins      store.CheckInRepository
	experiments   store.ExperimentRepository
	interventions store.InterventionRepository
	drivers       store.DriverRepository
	baselines     store.BaselineRepository
	log           *logging.Logger
	now           func() time.Time
}

func NewService(
	registry *metricreg.Registry,
	points store.DataPointRepository,
	checkins store.CheckInRepository,
	experiments store.ExperimentRepository,
	interventions store.InterventionRepository,
	drivers store.DriverRepository,
	baselines store.BaselineRepository,
	log *logging.Logger,
	now func() time.Time,
) *Service {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = logging.Default()
	}
	return &Service{
		registry: registry, points: points, checkins: checkins,
		experiments: experiments, interventions: interventions, drivers: drivers,
		baselines: baselines, log: log, now: now,
	}
}

// outcomePoint is one daily-aggregated outcome observation.
type outcomePoint struct {
	date  time.Time
	value float64
}

// Compute rebuilds the full personal-driver set for user over the last
// windowDays (defaulting to DefaultWindowDays), replacing whatever set
// was previously persisted (§4.10 step 5).
func (s *Service) Compute(ctx context.Context, user string, windowDays int) ([]store.PersonalDriver, error) {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	end := truncateDay(s.now())
	start := end.AddDate(0, 0, -windowDays)

	if sig, err := s.checkPausedLearning(ctx, user, start, end); err != nil {
		return nil, err
	} else if sig != nil {
		s.log.Info("paused_learning", "user", user, "reason", sig.Reason)
		return s.drivers.ListDriversByUser(ctx, user, "")
	}

	featureMatrix, interventionKeys, err := s.buildFeatureMatrix(ctx, user, start, end)
	if err != nil {
		return nil, err
	}
	outcomeSeries, err := s.buildOutcomeSeries(ctx, user, start, end)
	if err != nil {
		return nil, err
	}

	var found []store.PersonalDriver
	for _, outcomeMetric := range sortedKeys(outcomeSeries) {
		metricSpec, ok := s.registry.Get(outcomeMetric)
		if !ok {
			continue
		}
		if sig, err := s.checkInterventionSuppressed(ctx, user, outcomeMetric, outcomeSeries[outcomeMetric]); err != nil {
			return nil, err
		} else if sig != nil {
			s.log.Info("intervention_suppressed", "user", user, "metric_key", outcomeMetric, "reason", sig.Reason)
			continue
		}
		specs := GetDriversForOutcome(outcomeMetric, interventionKeys)
		for _, spec := range specs {
			for lag := 0; lag <= spec.MaxLagDays; lag++ {
				driver := s.computeAttribution(user, spec, outcomeMetric, metricSpec.Direction, lag, featureMatrix, outcomeSeries[outcomeMetric], start, end, len(specs))
				if driver != nil {
					found = append(found, *driver)
				}
			}
		}
	}

	if err := s.drivers.ReplaceDriversForUser(ctx, user, found); err != nil {
		return nil, err
	}
	return found, nil
}

// checkPausedLearning averages every registered metric's per-point
// quality score over [start,end] and reports a paused_learning signal
// when it falls below degradation.PausedLearningQualityFloor, mirroring
// check_data_quality_drop (§4.17). Metrics with no points contribute
// nothing to the average rather than being treated as zero quality.
func (s *Service) checkPausedLearning(ctx context.Context, user string, start, end time.Time) (*degradation.Signal, error) {
	var sum float64
	var n int
	for _, metricKey := range s.registry.Keys() {
		rows, err := s.points.Range(ctx, user, metricKey, start, end.AddDate(0, 0, 1))
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			sum += r.QualityScore
			n++
		}
	}
	if n == 0 {
		return nil, nil
	}
	return degradation.PausedLearning(sum/float64(n), n), nil
}

// checkInterventionSuppressed compares outcomeMetric's recent
// (swingWindowDays) standard deviation against its baseline standard
// deviation, mirroring suppress_intervention_for_swings (§4.17).
func (s *Service) checkInterventionSuppressed(ctx context.Context, user, outcomeMetric string, series []outcomePoint) (*degradation.Signal, error) {
	if s.baselines == nil {
		return nil, nil
	}
	baseline, found, err := s.baselines.GetBaseline(ctx, user, outcomeMetric)
	if err != nil {
		return nil, err
	}
	if !found || baseline.StdDev <= 0 {
		return nil, nil
	}
	recent := series
	if len(recent) > swingWindowDays {
		recent = recent[len(recent)-swingWindowDays:]
	}
	if len(recent) < 3 {
		return nil, nil
	}
	values := make([]float64, len(recent))
	for i, p := range recent {
		values[i] = p.value
	}
	return degradation.InterventionSuppressed(outcomeMetric, timeseries.PopStdDev(values), baseline.StdDev), nil
}

// buildFeatureMatrix assembles the daily behavior/intervention feature
// matrix over [start,end] inclusive, mirroring the source's load order:
// check-ins first, then adherence events (by intervention key), then
// active-experiment presence, which overwrites whatever adherence wrote
// for days inside its window (the source does this unconditionally; kept
// verbatim rather than "fixed" since it reflects "the intervention was
// in effect that day" taking precedence over a single missed dose).
func (s *Service) buildFeatureMatrix(ctx context.Context, user string, start, end time.Time) (map[string]map[string]float64, []string, error) {
	features := make(map[string]map[string]float64)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		features[d.Format(dayLayout)] = map[string]float64{}
	}

	checkins, err := s.checkins.ListCheckIns(ctx, user, start, end.AddDate(0, 0, 1))
	if err != nil {
		return nil, nil, err
	}
	for _, c := range checkins {
		key := c.Date.Format(dayLayout)
		if _, ok := features[key]; !ok {
			continue
		}
		for k, v := range c.Behaviors {
			features[key][k] = v
		}
	}

	active, err := s.experiments.ListActiveByUser(ctx, user)
	if err != nil {
		return nil, nil, err
	}

	interventionKeySet := map[string]bool{}
	for _, exp := range active {
		iv, err := s.interventions.GetIntervention(ctx, exp.Intervention)
		if err != nil {
			continue
		}
		interventionKeySet[iv.Key] = true

		events, err := s.experiments.AdherenceSince(ctx, exp.ID, start)
		if err != nil {
			return nil, nil, err
		}
		for _, ev := range events {
			if ev.Timestamp.After(end.AddDate(0, 0, 1)) {
				continue
			}
			key := truncateDay(ev.Timestamp).Format(dayLayout)
			if _, ok := features[key]; !ok {
				continue
			}
			if ev.Taken {
				features[key][iv.Key] = 1.0
			} else {
				features[key][iv.Key] = 0.0
			}
		}

		expStart := start
		if exp.StartedAt.After(expStart) {
			expStart = truncateDay(exp.StartedAt)
		}
		expEnd := end
		if exp.EndedAt != nil && exp.EndedAt.Before(expEnd) {
			expEnd = truncateDay(*exp.EndedAt)
		}
		for d := expStart; !d.After(expEnd); d = d.AddDate(0, 0, 1) {
			key := d.Format(dayLayout)
			if _, ok := features[key]; ok {
				features[key][iv.Key] = 1.0
			}
		}
	}

	keys := make([]string, 0, len(interventionKeySet))
	for k := range interventionKeySet {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return features, keys, nil
}

// buildOutcomeSeries daily-aggregates (mean) every HealthDataPoint for
// every registered metric over [start,end].
func (s *Service) buildOutcomeSeries(ctx context.Context, user string, start, end time.Time) (map[string][]outcomePoint, error) {
	series := make(map[string][]outcomePoint)
	for _, metricKey := range s.registry.Keys() {
		points, err := s.points.Range(ctx, user, metricKey, start, end.AddDate(0, 0, 1))
		if err != nil {
			return nil, err
		}
		if len(points) == 0 {
			continue
		}
		byDay := map[string][]float64{}
		for _, p := range points {
			key := truncateDay(p.Timestamp).Format(dayLayout)
			byDay[key] = append(byDay[key], p.Value)
		}
		days := make([]string, 0, len(byDay))
		for d := range byDay {
			days = append(days, d)
		}
		sort.Strings(days)
		for _, d := range days {
			t, _ := time.Parse(dayLayout, d)
			series[metricKey] = append(series[metricKey], outcomePoint{date: t, value: timeseries.Mean(byDay[d])})
		}
	}
	return series, nil
}

// computeAttribution tests one (driver, outcome, lag) combination and
// returns a PersonalDriver when it survives guardrails, or nil when it
// has insufficient data, no driver variation, or fails guardrails (§4.10
// steps 3-4).
func (s *Service) computeAttribution(
	user string,
	spec DriverSpec,
	outcomeMetric string,
	outcomeDirection metricreg.Direction,
	lagDays int,
	featureMatrix map[string]map[string]float64,
	outcomeSeries []outcomePoint,
	start, end time.Time,
	driversForOutcome int,
) *store.PersonalDriver {
	var driverValues, outcomeValues []float64
	windowStart, windowEnd := start, end

	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		outcomeVal, ok := interpolateOutcome(outcomeSeries, d)
		if !ok {
			continue
		}
		driverDate := d.AddDate(0, 0, -lagDays)
		driverVal := featureMatrix[driverDate.Format(dayLayout)][spec.DriverKey]

		driverValues = append(driverValues, driverVal)
		outcomeValues = append(outcomeValues, outcomeVal)
	}

	if len(driverValues) < spec.MinDataDays {
		return nil
	}
	if !hasVariation(driverValues) {
		return nil
	}

	_, beta, rSquared := timeseries.LinearFit(driverValues, outcomeValues)
	if math.IsNaN(beta) {
		return nil
	}

	effectSize := cohensDExposed(driverValues, outcomeValues)
	direction := classifyDirection(effectSize)
	varianceExplained := timeseries.Clamp(rSquared, 0, 1)
	stability := computeStability(driverValues, outcomeValues)

	coverage := exposedCoverage(driverValues)
	effectMagnitude := timeseries.Clamp(math.Abs(effectSize)/2.0, 0, 1)
	baseConfidence := timeseries.Clamp(coverage*0.3+effectMagnitude*0.4+stability*0.3, 0, 1)

	n := len(driverValues)
	nComparisons := driversForOutcome * (spec.MaxLagDays + 1)
	pValue := timeseries.PValueFromRSquared(rSquared, n)
	result := guardrails.ApplyGuardrails(guardrails.AttributionCandidate{
		EffectSize:        effectSize,
		Confidence:        baseConfidence,
		Stability:         stability,
		VarianceExplained: varianceExplained,
		SampleSize:        n,
		PValue:            &pValue,
	}, nComparisons)

	if !result.Passed {
		return nil
	}

	driverDirection := reinterpretDirection(direction, outcomeDirection)
	return &store.PersonalDriver{
		User:              user,
		DriverKey:         spec.DriverKey,
		DriverType:        string(spec.DriverType),
		OutcomeMetric:     outcomeMetric,
		LagDays:           lagDays,
		EffectSize:        effectSize,
		Direction:         driverDirection,
		VarianceExplained: varianceExplained,
		Confidence:        result.AdjustedConfidence,
		Stability:         stability,
		SampleSize:        n,
		WindowStart:       windowStart,
		WindowEnd:         windowEnd,
		Label:             string(result.Label),
	}
}

// classifyDirection maps a raw Cohen's d sign to neutral/raisesMetric/
// lowersMetric, purely describing the driver's effect on the metric's
// numeric value (not yet whether that is good or bad for the user).
func classifyDirection(effectSize float64) store.DriverDirection {
	if math.Abs(effectSize) < 0.1 {
		return store.DriverNeutral
	}
	if effectSize > 0 {
		return store.DriverPositive
	}
	return store.DriverNegative
}

// reinterpretDirection reframes a raw raises/lowers-the-metric direction
// as positive/negative for the user, per outcome.Direction (§4.10: "Direction
// mapping accounts for higher_better vs lower_better per MetricSpec").
// A driver that raises a lower_better metric (e.g. resting heart rate) is
// reported negative even though it raised the number; optimal_range
// metrics have no single "better" direction, so the raw raises/lowers
// classification is kept as-is for those.
func reinterpretDirection(raw store.DriverDirection, outcomeDirection metricreg.Direction) store.DriverDirection {
	if raw == store.DriverNeutral {
		return store.DriverNeutral
	}
	if outcomeDirection != metricreg.DirectionLowerBetter {
		return raw
	}
	if raw == store.DriverPositive {
		return store.DriverNegative
	}
	return store.DriverPositive
}

func interpolateOutcome(series []outcomePoint, target time.Time) (float64, bool) {
	for _, p := range series {
		if p.date.Equal(target) {
			return p.value, true
		}
	}
	var before, after *outcomePoint
	for i := range series {
		p := series[i]
		if p.date.Before(target) {
			if before == nil || p.date.After(before.date) {
				before = &series[i]
			}
		} else if p.date.After(target) {
			if after == nil || p.date.Before(after.date) {
				after = &series[i]
			}
		}
	}
	switch {
	case before != nil && after != nil:
		totalDays := after.date.Sub(before.date).Hours() / 24
		if totalDays <= 0 {
			return before.value, true
		}
		weight := target.Sub(before.date).Hours() / 24 / totalDays
		return before.value*(1-weight) + after.value*weight, true
	case before != nil:
		return before.value, true
	case after != nil:
		return after.value, true
	default:
		return 0, false
	}
}

func hasVariation(values []float64) bool {
	seen := map[float64]bool{}
	for _, v := range values {
		seen[v] = true
		if len(seen) >= 2 {
			return true
		}
	}
	return false
}

// cohensDExposed splits outcomeValues by driverValues>0 (exposed) vs ==0
// (unexposed) and returns the pooled-std effect size of exposure on the
// outcome (§4.10 step 3).
func cohensDExposed(driverValues, outcomeValues []float64) float64 {
	var exposed, unexposed []float64
	for i, dv := range driverValues {
		if dv > 0 {
			exposed = append(exposed, outcomeValues[i])
		} else if dv == 0 {
			unexposed = append(unexposed, outcomeValues[i])
		}
	}
	if len(exposed) == 0 || len(unexposed) == 0 {
		return 0
	}
	return timeseries.CohensD(unexposed, exposed)
}

func exposedCoverage(driverValues []float64) float64 {
	if len(driverValues) == 0 {
		return 0
	}
	n := 0
	for _, v := range driverValues {
		if v > 0 {
			n++
		}
	}
	return float64(n) / float64(len(driverValues))
}

const stabilityWindowSize = 7

// computeStability measures the consistency of the effect size across
// rolling stabilityWindowSize-day sub-windows: low coefficient of
// variation across windows means a stable effect (§4.10 step 3).
func computeStability(driverValues, outcomeValues []float64) float64 {
	if len(driverValues) < stabilityWindowSize*2 {
		return 0.5
	}
	var effects []float64
	for i := 0; i+stabilityWindowSize <= len(driverValues); i++ {
		dWindow := driverValues[i : i+stabilityWindowSize]
		oWindow := outcomeValues[i : i+stabilityWindowSize]
		if !hasVariation(dWindow) {
			continue
		}
		effect := cohensDExposed(dWindow, oWindow)
		if !math.IsNaN(effect) {
			effects = append(effects, effect)
		}
	}
	if len(effects) < 2 {
		return 0.5
	}
	mean := timeseries.Mean(effects)
	if mean == 0 {
		return 0.5
	}
	std := timeseries.PopStdDev(effects)
	cv := math.Abs(std / mean)
	return timeseries.Clamp(1.0-cv, 0, 1)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func sortedKeys(m map[string][]outcomePoint) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
