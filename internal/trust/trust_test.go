package trust

import (
	"context"
	"testing"
	"time"

	"github.com/healthlattice/healthengine/internal/metricreg"
	"github.com/healthlattice/healthengine/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestService(s *store.MemoryStore, now time.Time) *Service {
	return NewService(metricreg.Default(), s, s, s, s, s, fixedNow(now))
}

func TestComputeWithNoDataYieldsLowTrust(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)

	svc := newTestService(s, now)
	score, err := svc.Compute(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, score.Components.DataCoverage)
	assert.Equal(t, 0.0, score.Components.Adherence)
	assert.Equal(t, neutralEvaluationSuccess, score.Components.EvaluationSuccess)
	assert.Equal(t, neutralStability, score.Components.Stability)
	assert.Equal(t, LevelLow, score.Level)
}

func TestComputeFullDataCoverageCapsAt100(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)

	var points []store.HealthDataPoint
	for _, key := range metricreg.Default().Keys() {
		for d := 1; d <= 30; d++ {
			points = append(points, store.HealthDataPoint{
				User: "u1", MetricKey: key, Value: 1, Timestamp: now.AddDate(0, 0, -d),
			})
		}
	}
	require.NoError(t, s.Insert(ctx, points))

	svc := newTestService(s, now)
	score, err := svc.Compute(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, score.Components.DataCoverage)
}

func TestComputeAdherenceRateFromTakenEvents(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.PutExperiment(ctx, store.Experiment{ID: "exp1", User: "u1", Status: store.ExperimentCompleted}))
	for i := 0; i < 4; i++ {
		require.NoError(t, s.PutAdherence(ctx, store.AdherenceEvent{
			Experiment: "exp1", Timestamp: now.AddDate(0, 0, -i), Taken: i < 3,
		}))
	}

	svc := newTestService(s, now)
	score, err := svc.Compute(ctx, "u1")
	require.NoError(t, err)
	assert.InDelta(t, 75.0, score.Components.Adherence, 0.001)
}

func TestComputeEvaluationSuccessCountsHelpfulVerdicts(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.PutEvaluation(ctx, store.EvaluationResult{ID: "ev1", User: "u1", Experiment: "exp1", Verdict: store.VerdictHelpful, CreatedAt: now}))
	require.NoError(t, s.PutEvaluation(ctx, store.EvaluationResult{ID: "ev2", User: "u1", Experiment: "exp2", Verdict: store.VerdictNotHelpful, CreatedAt: now}))

	svc := newTestService(s, now)
	score, err := svc.Compute(ctx, "u1")
	require.NoError(t, err)
	assert.InDelta(t, 50.0, score.Components.EvaluationSuccess, 0.001)
}

func TestComputeStabilityFromConfirmedCausalMemories(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.PutCausalMemory(ctx, store.CausalMemory{
		User: "u1", DriverKey: "magnesium_glycinate", MetricKey: "hrv_rmssd",
		Status: store.CausalConfirmed, Confidence: 0.8, EvidenceCount: 3,
	}))
	require.NoError(t, s.PutCausalMemory(ctx, store.CausalMemory{
		User: "u1", DriverKey: "alcohol", MetricKey: "sleep_efficiency",
		Status: store.CausalTentative, Confidence: 0.9, EvidenceCount: 1,
	}))

	svc := newTestService(s, now)
	score, err := svc.Compute(ctx, "u1")
	require.NoError(t, err)
	// Only the confirmed memory counts: avg confidence 0.8 * 50 = 40,
	// evidence component min(50, (1/1)*50) = 50 -> 90.
	assert.InDelta(t, 90.0, score.Components.Stability, 0.001)
}

func TestComputeOverallIsWeightedSumAndPersists(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)

	svc := newTestService(s, now)
	score, err := svc.Compute(ctx, "u1")
	require.NoError(t, err)
	expected := 0.0*weightDataCoverage + 0.0*weightAdherence +
		neutralEvaluationSuccess*weightEvaluationSuccess + neutralStability*weightStability
	assert.InDelta(t, expected, score.Overall, 0.001)

	stored, found, err := s.GetTrust(ctx, "u1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, score.Overall, stored.Overall)
}
