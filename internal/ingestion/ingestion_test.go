package ingestion

import (
	"context"
	"testing"
	"time"

	"github.com/healthlattice/healthengine/internal/consent"
	"github.com/healthlattice/healthengine/internal/dataquality"
	"github.com/healthlattice/healthengine/internal/metricreg"
	"github.com/healthlattice/healthengine/internal/providernorm"
	"github.com/healthlattice/healthengine/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, now time.Time) (*Service, store.Repositories) {
	t.Helper()
	s := store.NewMemoryStore()
	repos := s.Repositories()
	gate := consent.NewGate(repos.Consent)
	svc := NewService(gate, metricreg.Default(), repos.DataPoints, repos.Provenance, func() time.Time { return now })
	return svc, repos
}

func grantProvider(t *testing.T, repos store.Repositories, user, vendor string) {
	t.Helper()
	require.NoError(t, repos.Consent.Put(context.Background(), store.Consent{
		User:              user,
		ProviderIngestion: map[string]bool{vendor: true},
	}))
}

func TestIngestRejectsWithoutProviderConsent(t *testing.T) {
	svc, _ := newTestService(t, time.Now())
	_, err := svc.Ingest(context.Background(), "u1", "whoop", []providernorm.NormalizedPoint{
		{MetricKey: "steps", Value: 5000, Unit: "count", Timestamp: time.Now(), Source: "whoop"},
	})
	assert.Error(t, err)
}

func TestIngestAcceptsValidBatch(t *testing.T) {
	now := time.Now()
	svc, repos := newTestService(t, now)
	grantProvider(t, repos, "u1", "whoop")

	raw := []providernorm.NormalizedPoint{
		{MetricKey: "steps", Value: 5000, Unit: "count", Timestamp: now.Add(-time.Hour), Source: "whoop"},
		{MetricKey: "resting_hr", Value: 58, Unit: "bpm", Timestamp: now.Add(-2 * time.Hour), Source: "whoop"},
	}
	res, err := svc.Ingest(context.Background(), "u1", "whoop", raw)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 0, res.Rejected)
	assert.Greater(t, res.Quality.Overall, 0.0)

	points, err := repos.DataPoints.Range(context.Background(), "u1", "steps", now.Add(-24*time.Hour), now)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 5000.0, points[0].Value)
}

func TestIngestConvertsUnitsBeforeValidation(t *testing.T) {
	now := time.Now()
	svc, repos := newTestService(t, now)
	grantProvider(t, repos, "u1", "demo")

	raw := []providernorm.NormalizedPoint{
		{MetricKey: "sleep_duration", Value: 7.5, Unit: "hours", Timestamp: now, Source: "demo"},
	}
	res, err := svc.Ingest(context.Background(), "u1", "demo", raw)
	require.NoError(t, err)
	require.Equal(t, 1, res.Inserted)

	points, err := repos.DataPoints.Range(context.Background(), "u1", "sleep_duration", now.Add(-time.Minute), now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 450.0, points[0].Value)
	assert.Equal(t, "minutes", points[0].Unit)
}

func TestIngestRejectsUnknownMetric(t *testing.T) {
	now := time.Now()
	svc, repos := newTestService(t, now)
	grantProvider(t, repos, "u1", "demo")

	raw := []providernorm.NormalizedPoint{
		{MetricKey: "made_up_metric", Value: 1, Unit: "x", Timestamp: now, Source: "demo"},
	}
	res, err := svc.Ingest(context.Background(), "u1", "demo", raw)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Inserted)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, dataquality.RejectMissingSpec, res.Errors[0].Reason)
}

func TestIngestRejectsDuplicateTimestampAgainstExistingData(t *testing.T) {
	now := time.Now()
	svc, repos := newTestService(t, now)
	grantProvider(t, repos, "u1", "demo")

	first := []providernorm.NormalizedPoint{
		{MetricKey: "steps", Value: 1000, Unit: "count", Timestamp: now, Source: "demo"},
	}
	_, err := svc.Ingest(context.Background(), "u1", "demo", first)
	require.NoError(t, err)

	second := []providernorm.NormalizedPoint{
		{MetricKey: "steps", Value: 2000, Unit: "count", Timestamp: now, Source: "demo"},
	}
	res, err := svc.Ingest(context.Background(), "u1", "demo", second)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Inserted)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, dataquality.RejectDuplicateStamp, res.Errors[0].Reason)
}
