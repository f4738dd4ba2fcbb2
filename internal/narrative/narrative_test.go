package narrative

import (
	"context"
	"strings"
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
	return NewService(metricreg.Default(), s, s, s, s, s, s, s, s, fixedNow(now))
}

func TestSynthesizeIncludesHighConfidenceDriverAsKeyPoint(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	start := now.AddDate(0, 0, -7)

	require.NoError(t, s.PutDriver(ctx, store.PersonalDriver{
		User: "u1", DriverKey: "alcohol", OutcomeMetric: "hrv_rmssd",
		Direction: store.DriverNegative, Confidence: 0.9, SampleSize: 20,
	}))

	svc := newTestService(s, now)
	n, err := svc.Synthesize(ctx, "u1", store.PeriodWeekly, start, now)
	require.NoError(t, err)
	require.Contains(t, n.Drivers, "alcohol")
	require.NotEmpty(t, n.KeyPoints)
	assert.NotEmpty(t, n.Title)
	assert.NotEmpty(t, n.Summary)
}

func TestSynthesizeExcludesInsufficientDataInsights(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	start := now.AddDate(0, 0, -7)

	require.NoError(t, s.PutInsight(ctx, store.Insight{
		ID: "i1", User: "u1", Type: store.InsightInsufficientData, MetricKey: "steps",
		Title: "Not enough data", GeneratedAt: start.AddDate(0, 0, 1),
	}))

	svc := newTestService(s, now)
	n, err := svc.Synthesize(ctx, "u1", store.PeriodWeekly, start, now)
	require.NoError(t, err)
	assert.Equal(t, 0, n.Metadata.Counts["insights"])
}

func TestSynthesizeSurfacesSafetyRiskWithKeywordInSummary(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	start := now.AddDate(0, 0, -7)

	require.NoError(t, s.PutInsight(ctx, store.Insight{
		ID: "i1", User: "u1", Type: store.InsightSafety, MetricKey: "resting_hr",
		Title: "Safety check triggered", Description: "Resting heart rate persistently elevated.",
		Confidence: 1.0, ClaimLevel: 1, GeneratedAt: start.AddDate(0, 0, 1),
	}))

	svc := newTestService(s, now)
	n, err := svc.Synthesize(ctx, "u1", store.PeriodWeekly, start, now)
	require.NoError(t, err)
	require.NotEmpty(t, n.Risks)
	combined := strings.ToLower(n.Summary)
	for _, kp := range n.KeyPoints {
		combined += " " + strings.ToLower(kp.Text)
	}
	assert.Contains(t, combined, "risk")
}

func TestSynthesizeLowCheckInCoverageAddsAction(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	start := now.AddDate(0, 0, -7)

	svc := newTestService(s, now)
	n, err := svc.Synthesize(ctx, "u1", store.PeriodWeekly, start, now)
	require.NoError(t, err)

	var sawCheckInAction bool
	for _, a := range n.Actions {
		if a.Action == "Complete daily check-ins" {
			sawCheckInAction = true
		}
	}
	assert.True(t, sawCheckInAction)
}

func TestSynthesizeIsIdempotentUpsertByPeriod(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	start := now.AddDate(0, 0, -7)

	svc := newTestService(s, now)
	_, err := svc.Synthesize(ctx, "u1", store.PeriodWeekly, start, now)
	require.NoError(t, err)
	_, err = svc.Synthesize(ctx, "u1", store.PeriodWeekly, start, now)
	require.NoError(t, err)

	list, err := s.ListNarrativesByUser(ctx, "u1", store.PeriodWeekly, start.AddDate(0, 0, -1))
	require.NoError(t, err)
	assert.Len(t, list, 1, "expected upsert-by-(user,period_type,start,end) rather than a duplicate row")
}
