package baseline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/healthlattice/healthengine/internal/errs"
	"github.com/healthlattice/healthengine/internal/metricreg"
	"github.com/healthlattice/healthengine/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedPoints(t *testing.T, repo store.DataPointRepository, user, metric string, values []float64, start time.Time) {
	t.Helper()
	pts := make([]store.HealthDataPoint, len(values))
	for i, v := range values {
		pts[i] = store.HealthDataPoint{User: user, MetricKey: metric, Value: v, Unit: "count", Timestamp: start.Add(time.Duration(i) * time.Hour)}
	}
	require.NoError(t, repo.Insert(context.Background(), pts))
}

func TestRecomputeUnknownMetric(t *testing.T) {
	s := store.NewMemoryStore()
	repos := s.Repositories()
	svc := NewService(metricreg.Default(), repos.DataPoints, repos.Baselines, nil)

	_, err := svc.Recompute(context.Background(), "u1", "not_a_metric", 0)
	var bu *errs.BaselineUnavailable
	require.True(t, errors.As(err, &bu))
	assert.Equal(t, errs.BaselineMetricNotFound, bu.ErrorType)
}

func TestRecomputeInsufficientData(t *testing.T) {
	s := store.NewMemoryStore()
	repos := s.Repositories()
	now := time.Now()
	seedPoints(t, repos.DataPoints, "u1", "steps", []float64{1, 2, 3, 4}, now.Add(-4*time.Hour))

	svc := NewService(metricreg.Default(), repos.DataPoints, repos.Baselines, func() time.Time { return now })
	_, err := svc.Recompute(context.Background(), "u1", "steps", 30)
	var bu *errs.BaselineUnavailable
	require.True(t, errors.As(err, &bu))
	assert.Equal(t, errs.BaselineInsufficientData, bu.ErrorType)
	assert.True(t, bu.Recoverable)
}

func TestRecomputeSucceedsWithFivePoints(t *testing.T) {
	s := store.NewMemoryStore()
	repos := s.Repositories()
	now := time.Now()
	seedPoints(t, repos.DataPoints, "u1", "steps", []float64{1, 2, 3, 4, 5}, now.Add(-5*time.Hour))

	svc := NewService(metricreg.Default(), repos.DataPoints, repos.Baselines, func() time.Time { return now })
	b, err := svc.Recompute(context.Background(), "u1", "steps", 30)
	require.NoError(t, err)
	assert.Equal(t, 3.0, b.Mean)
	assert.Equal(t, 5, b.SampleCount)

	got, err := svc.Get(context.Background(), "u1", "steps")
	require.NoError(t, err)
	assert.Equal(t, b.Mean, got.Mean)
}

func TestGetWithoutComputedBaselineIsInsufficientData(t *testing.T) {
	s := store.NewMemoryStore()
	repos := s.Repositories()
	svc := NewService(metricreg.Default(), repos.DataPoints, repos.Baselines, nil)

	_, err := svc.Get(context.Background(), "u1", "steps")
	var bu *errs.BaselineUnavailable
	require.True(t, errors.As(err, &bu))
	assert.Equal(t, errs.BaselineInsufficientData, bu.ErrorType)
}

func TestRecomputeAllPartitionsComputedSkippedFailed(t *testing.T) {
	s := store.NewMemoryStore()
	repos := s.Repositories()
	now := time.Now()
	seedPoints(t, repos.DataPoints, "u1", "steps", []float64{1, 2, 3, 4, 5}, now.Add(-5*time.Hour))

	svc := NewService(metricreg.Default(), repos.DataPoints, repos.Baselines, func() time.Time { return now })
	res := svc.RecomputeAll(context.Background(), "u1", 30)
	assert.Contains(t, res.Computed, "steps")
	assert.Contains(t, res.Skipped, "resting_hr")
	assert.Empty(t, res.Failed)
}

func TestIsFrozenAfterDisconnectThreshold(t *testing.T) {
	now := time.Now()
	assert.False(t, IsFrozen(now.Add(-time.Hour), now))
	assert.True(t, IsFrozen(now.Add(-49*time.Hour), now))
}
