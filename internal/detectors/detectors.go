// Package detectors implements the three deterministic signal detectors
// (C8): change, trend, and instability, each a pure function over
// (values, baseline, threshold) returning a detection payload or nothing.
//
// Grounded on the detect_change/detect_trend/detect_instability call
// sites in
// original_source/backend/app/engine/loop_runner.py (window days,
// minimum sample sizes, and the evidence fields each detector's insight
// payload carries) — the detector implementations themselves were not
// present in the retrieved source tree, so the exact thresholds and
// payload shape are grounded on spec.md §4.5 and this call-site evidence.
package detectors

import (
	"sort"
	"time"

	"github.com/healthlattice/healthengine/pkg/timeseries"
)

// MinChangeSamples and MinTrendInstabilitySamples are the minimum point
// counts each detector requires before it will fire; below threshold the
// caller emits an insufficient_data insight instead (§4.5).
const (
	MinChangeSamples           = 5
	MinTrendInstabilitySamples = 7
)

// ValuePoint is one dated observation a detector consumes.
type ValuePoint struct {
	Value     float64
	Timestamp time.Time
}

// ChangeResult is detect_change's payload when it fires.
type ChangeResult struct {
	ZScore      float64
	RecentMean  float64
	N           int
	WindowStart time.Time
	WindowEnd   time.Time
}

// DetectChange fires when the recent mean deviates from the baseline by
// at least zThreshold standard deviations. Returns false if N <
// MinChangeSamples or baseline stddev is zero (no signal to compare
// against).
func DetectChange(values []ValuePoint, baselineMean, baselineStdDev, zThreshold float64) (ChangeResult, bool) {
	if len(values) < MinChangeSamples || baselineStdDev == 0 {
		return ChangeResult{}, false
	}
	nums := extractValues(values)
	recentMean := timeseries.Mean(nums)
	z := timeseries.ZScore(recentMean, baselineMean, baselineStdDev)
	if abs(z) < zThreshold {
		return ChangeResult{}, false
	}
	start, end := windowBounds(values)
	return ChangeResult{ZScore: z, RecentMean: recentMean, N: len(values), WindowStart: start, WindowEnd: end}, true
}

// TrendResult is detect_trend's payload when it fires.
type TrendResult struct {
	Slope       float64
	N           int
	WindowStart time.Time
	WindowEnd   time.Time
}

// DetectTrend fires when the OLS slope over consecutive daily values
// exceeds slopeThreshold in magnitude.
func DetectTrend(values []ValuePoint, slopeThreshold float64) (TrendResult, bool) {
	if len(values) < MinTrendInstabilitySamples {
		return TrendResult{}, false
	}
	nums := extractValues(values)
	slope := timeseries.OLSSlope(nums)
	if abs(slope) < slopeThreshold {
		return TrendResult{}, false
	}
	start, end := windowBounds(values)
	return TrendResult{Slope: slope, N: len(values), WindowStart: start, WindowEnd: end}, true
}

// InstabilityResult is detect_instability's payload when it fires.
type InstabilityResult struct {
	StdRatio    float64
	N           int
	WindowStart time.Time
	WindowEnd   time.Time
}

// DetectInstability fires when the recent sample stddev divided by the
// baseline stddev meets or exceeds ratioThreshold.
func DetectInstability(values []ValuePoint, baselineStdDev, ratioThreshold float64) (InstabilityResult, bool) {
	if len(values) < MinTrendInstabilitySamples || baselineStdDev == 0 {
		return InstabilityResult{}, false
	}
	nums := extractValues(values)
	recentStdDev := timeseries.SampleStdDev(nums)
	ratio := recentStdDev / baselineStdDev
	if ratio < ratioThreshold {
		return InstabilityResult{}, false
	}
	start, end := windowBounds(values)
	return InstabilityResult{StdRatio: ratio, N: len(values), WindowStart: start, WindowEnd: end}, true
}

func extractValues(values []ValuePoint) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v.Value
	}
	return out
}

func windowBounds(values []ValuePoint) (time.Time, time.Time) {
	sorted := make([]ValuePoint, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })
	return sorted[0].Timestamp, sorted[len(sorted)-1].Timestamp
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
