package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestBadger(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := OpenBadgerStore(InMemoryBadgerConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBadgerRequiresPathWhenNotInMemory(t *testing.T) {
	_, err := OpenBadgerStore(BadgerConfig{})
	assert.Error(t, err)
}

func TestBadgerConsentRoundTrip(t *testing.T) {
	s := openTestBadger(t)
	ctx := context.Background()

	_, found, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Put(ctx, Consent{User: "u1", DataAnalysis: true}))
	got, found, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, got.DataAnalysis)
}

func TestBadgerProvenanceRoundTrip(t *testing.T) {
	s := openTestBadger(t)
	repo := s.Repositories().Provenance
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, DataProvenance{IngestionRunID: "run1", SourceRecordID: "rec1", SourceType: "manual"}))
	got, err := repo.Get(ctx, "run1|rec1")
	require.NoError(t, err)
	assert.Equal(t, "manual", got.SourceType)
}

func TestBadgerInsightListAndCount(t *testing.T) {
	s := openTestBadger(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.PutInsight(ctx, Insight{ID: "i1", User: "u1", Type: InsightChange, GeneratedAt: now}))
	require.NoError(t, s.PutInsight(ctx, Insight{ID: "i2", User: "u1", Type: InsightTrend, GeneratedAt: now.Add(time.Hour)}))

	list, err := s.ListByUser(ctx, "u1", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, list, 2)

	n, err := s.CountSince(ctx, "u1", now.Add(-time.Hour), InsightChange)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBadgerJobRunIdempotency(t *testing.T) {
	s := openTestBadger(t)
	ctx := context.Background()

	_, ok, err := s.GetByIdempotencyKey(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.PutJobRun(ctx, JobRun{ID: "r1", IdempotencyKey: "k1", Status: JobCompleted}))
	r, ok, err := s.GetByIdempotencyKey(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, JobCompleted, r.Status)
}

func TestBadgerCausalMemoryByUser(t *testing.T) {
	s := openTestBadger(t)
	ctx := context.Background()

	require.NoError(t, s.PutCausalMemory(ctx, CausalMemory{User: "u1", DriverKey: "creatine", MetricKey: "hrv_rmssd", Status: CausalTentative}))
	require.NoError(t, s.PutCausalMemory(ctx, CausalMemory{User: "u2", DriverKey: "creatine", MetricKey: "hrv_rmssd", Status: CausalTentative}))

	list, err := s.ListCausalMemoryByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
