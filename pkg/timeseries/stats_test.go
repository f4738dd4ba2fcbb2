package timeseries

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeanAndPopStdDev(t *testing.T) {
	values := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	assert.InDelta(t, 5.0, Mean(values), 1e-9)
	assert.InDelta(t, 2.0, PopStdDev(values), 1e-9)
}

func TestZScoreZeroVariance(t *testing.T) {
	assert.Equal(t, 0.0, ZScore(10, 5, 0))
}

func TestZScoreAtThresholdFires(t *testing.T) {
	z := ZScore(110, 100, 5)
	require.InDelta(t, 2.0, z, 1e-9)
}

func TestOLSSlopeLinear(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	assert.InDelta(t, 1.0, OLSSlope(values), 1e-9)
}

func TestOLSSlopeFlat(t *testing.T) {
	values := []float64{5, 5, 5, 5}
	assert.InDelta(t, 0.0, OLSSlope(values), 1e-9)
}

func TestLinearFitAndRSquared(t *testing.T) {
	xs := []float64{0, 1, 2, 3, 4}
	ys := []float64{1, 3, 5, 7, 9}
	alpha, beta, r2 := LinearFit(xs, ys)
	assert.InDelta(t, 1.0, alpha, 1e-6)
	assert.InDelta(t, 2.0, beta, 1e-6)
	assert.InDelta(t, 1.0, r2, 1e-6)
}

func TestCohensDBoundary(t *testing.T) {
	a := []float64{100, 100, 100, 100, 100}
	b := []float64{100, 100, 100, 100, 100}
	assert.Equal(t, 0.0, CohensD(a, b))
}

func TestClaimLevelBoundaries(t *testing.T) {
	assert.Equal(t, 1, ClaimLevel(0.0))
	assert.Equal(t, 1, ClaimLevel(0.19))
	assert.Equal(t, 2, ClaimLevel(0.2))
	assert.Equal(t, 5, ClaimLevel(0.8))
	assert.Equal(t, 5, ClaimLevel(1.0))
}

func TestPValueFromRSquaredDegenerate(t *testing.T) {
	assert.Equal(t, 1.0, PValueFromRSquared(0, 50))
	assert.Equal(t, 1.0, PValueFromRSquared(1, 50))
	assert.Equal(t, 1.0, PValueFromRSquared(0.5, 2))
}

func TestBenjaminiHochberg(t *testing.T) {
	pValues := []float64{0.001, 0.2, 0.03, 0.5}
	results := BenjaminiHochberg(pValues, 0.05)
	require.Len(t, results, 4)
	assert.True(t, results[0])
}

func TestTCritical95FallsBackToZForLargeDF(t *testing.T) {
	assert.Equal(t, ZCritical95, TCritical95(30))
	assert.Equal(t, ZCritical95, TCritical95(100))
}

func TestConfidenceInterval95(t *testing.T) {
	ci := ConfidenceInterval95(10, 30)
	assert.InDelta(t, 2.045*10/5.477225575, ci, 1e-3) // df = 29 uses the t table
}
