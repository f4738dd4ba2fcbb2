// Package degradation models the explicit, non-error failure states the
// analytical loop can surface instead of misbehaving silently (§4.17).
//
// Grounded on
// original_source/backend/app/engine/failure_modes/degradation.py
// (the DegradationState enum and its check_* functions' exact
// thresholds: 20% relative divergence for conflicting signals, 0.6
// average quality for paused learning, 2x baseline stddev for
// suppressed interventions, and the ordinal risk-level comparison for
// protocol invalidation). insufficient_data, baselines_frozen, and
// evaluation_unreliable are represented directly by their owning
// packages (store.InsightInsufficientData, baseline.IsFrozen,
// evaluation's adherence gate) rather than through this package, since
// each already had a natural home before this package existed.
package degradation

import "fmt"

// State names one of the degradation conditions a component can
// observe and attach to its output rather than fail on.
type State string

const (
	StateConflictingSignals     State = "conflicting_signals"
	StatePausedLearning         State = "paused_learning"
	StateInterventionSuppressed State = "intervention_suppressed"
	StateProtocolInvalidated    State = "protocol_invalidated"
)

// Thresholds carried directly from degradation.py's function defaults.
const (
	ConflictingSignalsRelativeDiff = 0.2
	PausedLearningQualityFloor     = 0.6
	InterventionSuppressSwingRatio = 2.0
)

// Signal is one observed degradation condition: a reason and metadata
// for logging/narrative use, and whether it should block the operation
// it was raised from (ShouldBlock false means "warn and continue",
// matching should_warn=True/should_block=False on most of
// degradation.py's DegradationResult values).
type Signal struct {
	State       State
	MetricKey   string
	Reason      string
	Metadata    map[string]float64
	ShouldBlock bool
}

// ConflictingSignals reports a signal when a metric's wearable-source
// mean and subjective-source mean over the same window diverge by more
// than ConflictingSignalsRelativeDiff, mirroring
// check_conflicting_signals. Returns nil when the sources agree closely
// enough, or when wearableMean is zero (the relative-diff denominator).
func ConflictingSignals(metricKey string, wearableMean, subjectiveMean float64) *Signal {
	if wearableMean == 0 {
		return nil
	}
	diff := wearableMean - subjectiveMean
	if diff < 0 {
		diff = -diff
	}
	relativeDiff := diff / wearableMean
	if relativeDiff <= ConflictingSignalsRelativeDiff {
		return nil
	}
	return &Signal{
		State:     StateConflictingSignals,
		MetricKey: metricKey,
		Reason: fmt.Sprintf("Conflicting signals for %s: wearable=%.2f, subjective=%.2f",
			metricKey, wearableMean, subjectiveMean),
		Metadata: map[string]float64{
			"wearable_mean": wearableMean, "subjective_mean": subjectiveMean, "relative_diff": relativeDiff,
		},
	}
}

// PausedLearning reports a signal when the average per-point quality
// score over a window falls below PausedLearningQualityFloor, mirroring
// check_data_quality_drop. n is the sample count the average was
// computed over; n==0 means no quality scores were available and no
// signal is raised (the caller has nothing to judge).
func PausedLearning(avgQuality float64, n int) *Signal {
	if n == 0 || avgQuality >= PausedLearningQualityFloor {
		return nil
	}
	return &Signal{
		State:  StatePausedLearning,
		Reason: fmt.Sprintf("Data quality dropped: %.2f < %.2f", avgQuality, PausedLearningQualityFloor),
		Metadata: map[string]float64{
			"avg_quality": avgQuality, "threshold": PausedLearningQualityFloor, "n_points": float64(n),
		},
	}
}

// InterventionSuppressed reports a signal when a metric's recent
// standard deviation exceeds InterventionSuppressSwingRatio times its
// baseline standard deviation, mirroring suppress_intervention_for_swings.
// baselineStd<=0 means no baseline variability to compare against, so no
// signal is raised.
func InterventionSuppressed(metricKey string, recentStd, baselineStd float64) *Signal {
	if baselineStd <= 0 {
		return nil
	}
	swingCeiling := baselineStd * InterventionSuppressSwingRatio
	if recentStd <= swingCeiling {
		return nil
	}
	return &Signal{
		State:     StateInterventionSuppressed,
		MetricKey: metricKey,
		Reason: fmt.Sprintf("Intervention suppressed due to rapid swings in %s: std=%.2f > %.2f",
			metricKey, recentStd, swingCeiling),
		Metadata:    map[string]float64{"recent_std": recentStd, "baseline_std": baselineStd},
		ShouldBlock: true,
	}
}
