package audit

import (
	"context"
	"testing"

	"github.com/healthlattice/healthengine/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	calls int
	err   error
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, channel, payload string) error {
	d.calls++
	return d.err
}

func TestEnqueueDedupesByKey(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	ob := NewOutbox(s, nil)

	first, err := ob.Enqueue(ctx, "u1", "push", "hello", "daily_narrative:u1:2026-07-30")
	require.NoError(t, err)
	second, err := ob.Enqueue(ctx, "u1", "push", "hello again", "daily_narrative:u1:2026-07-30")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)

	pending, err := s.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestDrainDispatchesPendingAndMarksFailedForUnknownChannel(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	push := &fakeDispatcher{}
	ob := NewOutbox(s, map[string]Dispatcher{"push": push})

	_, err := ob.Enqueue(ctx, "u1", "push", "payload-a", "")
	require.NoError(t, err)
	_, err = ob.Enqueue(ctx, "u1", "sms", "payload-b", "")
	require.NoError(t, err)

	result, err := ob.Drain(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Dispatched)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, push.calls)

	pending, err := s.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 0, "both rows should be resolved (one dispatched, one marked failed)")
}

func TestDrainContinuesAfterDispatcherError(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	failing := &fakeDispatcher{err: assertErr{}}
	ob := NewOutbox(s, map[string]Dispatcher{"push": failing})

	_, err := ob.Enqueue(ctx, "u1", "push", "payload-a", "")
	require.NoError(t, err)
	_, err = ob.Enqueue(ctx, "u1", "push", "payload-b", "")
	require.NoError(t, err)

	result, err := ob.Drain(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Dispatched)
	assert.Equal(t, 2, result.Failed)
	assert.Equal(t, 2, failing.calls, "a failing row must not block the rest of the drain")
}

type assertErr struct{}

func (assertErr) Error() string { return "dispatch failed" }

func TestExplainReturnsRecordedEdges(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	require.NoError(t, s.PutEdges(ctx, []store.ExplanationEdge{
		{FromEntityType: "insight", FromEntityID: "i1", ToKind: "metric", ToRef: "hrv_rmssd"},
		{FromEntityType: "insight", FromEntityID: "i1", ToKind: "detector", ToRef: "trend"},
	}))

	svc := NewService(s, nil)
	edges, err := svc.Explain(ctx, "insight", "i1")
	require.NoError(t, err)
	assert.Len(t, edges, 2)
}
