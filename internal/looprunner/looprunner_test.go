package looprunner

import (
	"context"
	"testing"
	"time"

	"github.com/healthlattice/healthengine/internal/consent"
	"github.com/healthlattice/healthengine/internal/errs"
	"github.com/healthlattice/healthengine/internal/logging"
	"github.com/healthlattice/healthengine/internal/metricreg"
	"github.com/healthlattice/healthengine/internal/store"
	"github.com/healthlattice/healthengine/internal/suppression"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestService(t *testing.T, s *store.MemoryStore, now time.Time) *Service {
	t.Helper()
	gate := consent.NewGate(s)
	registry := metricreg.Default()
	sup := suppression.NewSuppressor(s, fixedNow(now))
	log := logging.New(logging.Config{Quiet: true})
	return NewService(gate, registry, s, s, s, s, s, sup, log, fixedNow(now))
}

func grantAnalysis(t *testing.T, ctx context.Context, s *store.MemoryStore, user string) {
	t.Helper()
	require.NoError(t, s.Put(ctx, store.Consent{User: user, DataAnalysis: true}))
}

func seedDailyPoints(t *testing.T, ctx context.Context, s *store.MemoryStore, user, metricKey string, now time.Time, values []float64) {
	t.Helper()
	pts := make([]store.HealthDataPoint, len(values))
	for i, v := range values {
		pts[i] = store.HealthDataPoint{
			User: user, MetricKey: metricKey, Value: v,
			Timestamp: now.AddDate(0, 0, -(len(values) - i)),
		}
	}
	require.NoError(t, s.Insert(ctx, pts))
}

func TestRunAbortsWithoutConsent(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, s, now)

	_, err := svc.Run(ctx, "u1")
	require.Error(t, err)
	var cge *errs.ConsentGateError
	require.ErrorAs(t, err, &cge)
	assert.Equal(t, errs.ConsentReasonNone, cge.Reason)
}

func TestRunEmitsSafetyOverrideAndSkipsDetectors(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	grantAnalysis(t, ctx, s, "u1")
	seedDailyPoints(t, ctx, s, "u1", "resting_hr", now, []float64{120, 122, 121})

	svc := newTestService(t, s, now)
	res, err := svc.Run(ctx, "u1")
	require.NoError(t, err)
	require.True(t, res.SafetyOverride)
	require.Len(t, res.Created, 1)
	assert.Equal(t, store.InsightSafety, res.Created[0].Type)
}

func TestRunSkipsMetricWithoutBaseline(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	grantAnalysis(t, ctx, s, "u1")

	svc := newTestService(t, s, now)
	res, err := svc.Run(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, res.Created)
}

func TestRunEmitsInsufficientDataInsight(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	grantAnalysis(t, ctx, s, "u1")
	require.NoError(t, s.PutBaseline(ctx, store.Baseline{User: "u1", MetricKey: "steps", Mean: 8000, StdDev: 1000, SampleCount: 10, WindowDays: 30, ComputedAt: now}))
	seedDailyPoints(t, ctx, s, "u1", "steps", now, []float64{8000, 8200})

	svc := newTestService(t, s, now)
	res, err := svc.Run(ctx, "u1")
	require.NoError(t, err)
	require.NotEmpty(t, res.Created)
	found := false
	for _, in := range res.Created {
		if in.MetricKey == "steps" && in.Type == store.InsightInsufficientData {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRunDetectsStrongChangeAndSurvivesGuardrails(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	grantAnalysis(t, ctx, s, "u1")
	require.NoError(t, s.PutBaseline(ctx, store.Baseline{User: "u1", MetricKey: "hrv_rmssd", Mean: 60, StdDev: 5, SampleCount: 30, WindowDays: 30, ComputedAt: now}))
	// Strong, sustained 7-point drop from baseline mean (60) well past a
	// z-threshold of 2.0, so it fires and carries enough confidence to
	// pass the default guardrail policy (min_confidence 0.6).
	seedDailyPoints(t, ctx, s, "u1", "hrv_rmssd", now, []float64{30, 30, 30, 30, 30, 30, 30})

	svc := newTestService(t, s, now)
	res, err := svc.Run(ctx, "u1")
	require.NoError(t, err)

	var change *store.Insight
	for i := range res.Created {
		if res.Created[i].MetricKey == "hrv_rmssd" && res.Created[i].Type == store.InsightChange {
			change = &res.Created[i]
		}
	}
	require.NotNil(t, change)
	assert.False(t, change.Suppressed)
	assert.Greater(t, change.Confidence, 0.6)
}
