package detectors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func mkPoints(vals []float64, start time.Time) []ValuePoint {
	out := make([]ValuePoint, len(vals))
	for i, v := range vals {
		out[i] = ValuePoint{Value: v, Timestamp: start.AddDate(0, 0, i)}
	}
	return out
}

func TestDetectChangeFiresOnLargeDeviation(t *testing.T) {
	now := time.Now()
	vals := mkPoints([]float64{300, 310, 305, 320, 295}, now.AddDate(0, 0, -5))
	res, fired := DetectChange(vals, 420, 10, 2.0)
	assert.True(t, fired)
	assert.Less(t, res.ZScore, -2.0)
}

func TestDetectChangeBelowMinSamplesDoesNotFire(t *testing.T) {
	vals := mkPoints([]float64{300, 310}, time.Now())
	_, fired := DetectChange(vals, 420, 10, 2.0)
	assert.False(t, fired)
}

func TestDetectChangeZeroBaselineStdDevDoesNotFire(t *testing.T) {
	vals := mkPoints([]float64{300, 310, 305, 320, 295}, time.Now())
	_, fired := DetectChange(vals, 420, 0, 2.0)
	assert.False(t, fired)
}

func TestDetectTrendFiresOnSteadyDecline(t *testing.T) {
	now := time.Now()
	vals := mkPoints([]float64{440, 430, 420, 410, 400, 390, 380}, now.AddDate(0, 0, -7))
	res, fired := DetectTrend(vals, 1.0)
	assert.True(t, fired)
	assert.Less(t, res.Slope, 0.0)
}

func TestDetectTrendFlatSeriesDoesNotFire(t *testing.T) {
	vals := mkPoints([]float64{420, 420, 420, 420, 420, 420, 420}, time.Now())
	_, fired := DetectTrend(vals, 1.0)
	assert.False(t, fired)
}

func TestDetectInstabilityFiresOnWideSpread(t *testing.T) {
	vals := mkPoints([]float64{300, 500, 250, 550, 280, 520, 260}, time.Now())
	res, fired := DetectInstability(vals, 10, 2.0)
	assert.True(t, fired)
	assert.Greater(t, res.StdRatio, 2.0)
}

func TestDetectInstabilityBelowMinSamplesDoesNotFire(t *testing.T) {
	vals := mkPoints([]float64{300, 310, 305}, time.Now())
	_, fired := DetectInstability(vals, 10, 2.0)
	assert.False(t, fired)
}
