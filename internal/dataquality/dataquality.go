// Package dataquality implements the per-batch quality scoring engine
// (C4): five 0-1 dimensions rolled into one overall score, plus the hard
// quality gates applied per-point at ingestion time.
//
// Grounded on
// original_source/backend/app/engine/quality/data_quality_service.py.
package dataquality

import (
	"sort"
	"time"

	"github.com/healthlattice/healthengine/internal/metricreg"
)

// Point is the subset of an ingested observation the scorer needs,
// decoupled from store.HealthDataPoint so this package has no repository
// dependency.
type Point struct {
	MetricKey string
	Value     float64
	Unit      string
	Timestamp time.Time
	Source    string
}

// Score is the quality score breakdown for one ingested batch (§4.2).
type Score struct {
	Overall      float64
	Completeness float64
	Consistency  float64
	Timeliness   float64
	Stability    float64
	Duplication  float64
}

// MinInsightQuality is the overall-score threshold below which ingestion
// marks a batch's points Flagged (§4.2). Flagged points are still stored,
// and the loop runner does not exclude them from detection.
const MinInsightQuality = 0.6

// ScoreCompleteness is the fraction of expected fields present across
// points: metric key, value, unit, timestamp, source.
func ScoreCompleteness(points []Point) float64 {
	if len(points) == 0 {
		return 0
	}
	totalFields := len(points) * 5
	present := 0
	for _, p := range points {
		if p.MetricKey != "" {
			present++
		}
		present++ // Value is always present (float64 has no null sentinel)
		if p.Unit != "" {
			present++
		}
		if !p.Timestamp.IsZero() {
			present++
		}
		if p.Source != "" {
			present++
		}
	}
	return float64(present) / float64(totalFields)
}

// ScoreConsistency is the fraction of points whose unit and value fall
// within the registered metric spec's unit and range.
func ScoreConsistency(points []Point, registry *metricreg.Registry) float64 {
	if len(points) == 0 {
		return 0
	}
	consistent := 0
	for _, p := range points {
		spec, ok := registry.Get(p.MetricKey)
		if !ok {
			continue
		}
		if p.Unit != spec.Unit {
			continue
		}
		if !spec.ValidRange.Contains(p.Value) {
			continue
		}
		consistent++
	}
	return float64(consistent) / float64(len(points))
}

// ScoreTimeliness is the fraction of points ingested within 7 days of
// their event timestamp.
func ScoreTimeliness(points []Point, ingestionTime time.Time) float64 {
	if len(points) == 0 {
		return 0
	}
	timely := 0
	for _, p := range points {
		ageDays := ingestionTime.Sub(p.Timestamp).Hours() / 24
		if ageDays <= 7 {
			timely++
		}
	}
	return float64(timely) / float64(len(points))
}

// ScoreStability is the fraction of consecutive relative changes that do
// not exceed 50%. Fewer than two points (or no nonzero-denominator pair)
// is treated as perfectly stable: there isn't enough signal to flag.
func ScoreStability(points []Point) float64 {
	if len(points) < 2 {
		return 1.0
	}
	sorted := make([]Point, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	var changes []float64
	for i := 1; i < len(sorted); i++ {
		prev := sorted[i-1].Value
		if prev == 0 {
			continue
		}
		changes = append(changes, abs((sorted[i].Value-prev)/prev))
	}
	if len(changes) == 0 {
		return 1.0
	}
	stable := 0
	for _, c := range changes {
		if c <= 0.5 {
			stable++
		}
	}
	return float64(stable) / float64(len(changes))
}

// ScoreDuplication is the fraction of points whose (metricKey, timestamp)
// pair is unique within the batch.
func ScoreDuplication(points []Point) float64 {
	if len(points) == 0 {
		return 1.0
	}
	seen := make(map[string]bool, len(points))
	duplicates := 0
	for _, p := range points {
		key := p.MetricKey + "|" + p.Timestamp.Format(time.RFC3339)
		if seen[key] {
			duplicates++
		} else {
			seen[key] = true
		}
	}
	unique := len(points) - duplicates
	return float64(unique) / float64(len(points))
}

// Compute rolls the five dimensions into one Score using the weights
// completeness 0.30, consistency 0.30, timeliness 0.15, stability 0.15,
// duplication 0.10 (§4.2).
func Compute(points []Point, registry *metricreg.Registry, ingestionTime time.Time) Score {
	completeness := ScoreCompleteness(points)
	consistency := ScoreConsistency(points, registry)
	timeliness := ScoreTimeliness(points, ingestionTime)
	stability := ScoreStability(points)
	duplication := ScoreDuplication(points)

	overall := completeness*0.30 + consistency*0.30 + timeliness*0.15 + stability*0.15 + duplication*0.10

	return Score{
		Overall:      round2(overall),
		Completeness: round2(completeness),
		Consistency:  round2(consistency),
		Timeliness:   round2(timeliness),
		Stability:    round2(stability),
		Duplication:  round2(duplication),
	}
}

// RejectionReason names why ShouldReject refused a single point.
type RejectionReason string

const (
	RejectMissingSpec    RejectionReason = "missing_metric_spec"
	RejectUnitMismatch   RejectionReason = "unit_mismatch"
	RejectBelowMin       RejectionReason = "value_below_min"
	RejectAboveMax       RejectionReason = "value_above_max"
	RejectDuplicateStamp RejectionReason = "duplicate_timestamp"
)

// ShouldReject applies the hard quality gates to one point (§4.2):
// missing spec, unit mismatch, out-of-range value, or a timestamp
// (rounded to the minute) that duplicates one already ingested.
func ShouldReject(p Point, registry *metricreg.Registry, existingTimestamps []time.Time) (bool, RejectionReason) {
	spec, ok := registry.Get(p.MetricKey)
	if !ok {
		return true, RejectMissingSpec
	}
	if p.Unit != spec.Unit {
		return true, RejectUnitMismatch
	}
	if p.Value < spec.ValidRange.Lo {
		return true, RejectBelowMin
	}
	if p.Value > spec.ValidRange.Hi {
		return true, RejectAboveMax
	}
	rounded := p.Timestamp.Truncate(time.Minute)
	for _, ts := range existingTimestamps {
		if ts.Truncate(time.Minute).Equal(rounded) {
			return true, RejectDuplicateStamp
		}
	}
	return false, ""
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
