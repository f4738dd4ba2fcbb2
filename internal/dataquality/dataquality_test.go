package dataquality

import (
	"testing"
	"time"

	"github.com/healthlattice/healthengine/internal/metricreg"
	"github.com/stretchr/testify/assert"
)

func TestScoreCompletenessAllFieldsPresent(t *testing.T) {
	now := time.Now()
	pts := []Point{{MetricKey: "steps", Value: 100, Unit: "count", Timestamp: now, Source: "oura"}}
	assert.Equal(t, 1.0, ScoreCompleteness(pts))
}

func TestScoreCompletenessMissingFields(t *testing.T) {
	pts := []Point{{Value: 100}} // missing MetricKey, Unit, Timestamp, Source
	assert.InDelta(t, 0.2, ScoreCompleteness(pts), 0.001)
}

func TestScoreConsistencyUnitMismatchExcluded(t *testing.T) {
	reg := metricreg.Default()
	pts := []Point{
		{MetricKey: "steps", Value: 5000, Unit: "count"},
		{MetricKey: "steps", Value: 5000, Unit: "wrong_unit"},
	}
	assert.Equal(t, 0.5, ScoreConsistency(pts, reg))
}

func TestScoreTimelinessPenalizesOldData(t *testing.T) {
	now := time.Now()
	pts := []Point{
		{Timestamp: now.AddDate(0, 0, -1)},
		{Timestamp: now.AddDate(0, 0, -30)},
	}
	assert.Equal(t, 0.5, ScoreTimeliness(pts, now))
}

func TestScoreStabilityFlagsLargeSwing(t *testing.T) {
	base := time.Now()
	pts := []Point{
		{Value: 100, Timestamp: base},
		{Value: 105, Timestamp: base.Add(time.Hour)},
		{Value: 1000, Timestamp: base.Add(2 * time.Hour)},
	}
	s := ScoreStability(pts)
	assert.Less(t, s, 1.0)
}

func TestScoreStabilityUnderTwoPointsIsStable(t *testing.T) {
	assert.Equal(t, 1.0, ScoreStability([]Point{{Value: 1}}))
}

func TestScoreDuplicationPenalizesRepeatedTimestamp(t *testing.T) {
	ts := time.Now()
	pts := []Point{
		{MetricKey: "steps", Timestamp: ts},
		{MetricKey: "steps", Timestamp: ts},
	}
	assert.Equal(t, 0.5, ScoreDuplication(pts))
}

func TestComputeWeightsRollUpToOverall(t *testing.T) {
	reg := metricreg.Default()
	now := time.Now()
	pts := []Point{
		{MetricKey: "steps", Value: 5000, Unit: "count", Timestamp: now, Source: "oura"},
		{MetricKey: "steps", Value: 6000, Unit: "count", Timestamp: now.Add(time.Hour), Source: "oura"},
	}
	score := Compute(pts, reg, now.Add(2*time.Hour))
	assert.Greater(t, score.Overall, 0.9)
	assert.LessOrEqual(t, score.Overall, 1.0)
}

func TestShouldRejectMissingSpec(t *testing.T) {
	reg := metricreg.Default()
	reject, reason := ShouldReject(Point{MetricKey: "unknown_metric", Unit: "x", Value: 1}, reg, nil)
	assert.True(t, reject)
	assert.Equal(t, RejectMissingSpec, reason)
}

func TestShouldRejectUnitMismatch(t *testing.T) {
	reg := metricreg.Default()
	reject, reason := ShouldReject(Point{MetricKey: "steps", Unit: "miles", Value: 5}, reg, nil)
	assert.True(t, reject)
	assert.Equal(t, RejectUnitMismatch, reason)
}

func TestShouldRejectOutOfRange(t *testing.T) {
	reg := metricreg.Default()
	reject, reason := ShouldReject(Point{MetricKey: "steps", Unit: "count", Value: -5}, reg, nil)
	assert.True(t, reject)
	assert.Equal(t, RejectBelowMin, reason)
}

func TestShouldRejectDuplicateTimestamp(t *testing.T) {
	reg := metricreg.Default()
	ts := time.Now()
	existing := []time.Time{ts}
	reject, reason := ShouldReject(Point{MetricKey: "steps", Unit: "count", Value: 100, Timestamp: ts}, reg, existing)
	assert.True(t, reject)
	assert.Equal(t, RejectDuplicateStamp, reason)
}

func TestShouldRejectAcceptsValidPoint(t *testing.T) {
	reg := metricreg.Default()
	reject, _ := ShouldReject(Point{MetricKey: "steps", Unit: "count", Value: 5000, Timestamp: time.Now()}, reg, nil)
	assert.False(t, reject)
}
