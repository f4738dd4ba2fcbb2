package consent

import (
	"context"
	"testing"
	"time"

	"github.com/healthlattice/healthengine/internal/errs"
	"github.com/healthlattice/healthengine/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateRequireNoConsentRecord(t *testing.T) {
	s := store.NewMemoryStore()
	g := NewGate(s.Repositories().Consent)

	err := g.Require(context.Background(), "u1", ScopeDataAnalysis)
	var cge *errs.ConsentGateError
	require.ErrorAs(t, err, &cge)
	assert.Equal(t, errs.ConsentReasonNone, cge.Reason)
	assert.Equal(t, "no_consent", cge.Code())
}

func TestGateRequireRevoked(t *testing.T) {
	s := store.NewMemoryStore()
	repos := s.Repositories()
	ctx := context.Background()

	revokedAt := time.Now()
	require.NoError(t, repos.Consent.Put(ctx, store.Consent{
		User: "u2", DataAnalysis: true, RevokedAt: &revokedAt,
	}))

	g := NewGate(repos.Consent)
	err := g.Require(ctx, "u2", ScopeDataAnalysis)
	var cge *errs.ConsentGateError
	require.ErrorAs(t, err, &cge)
	assert.Equal(t, errs.ConsentReasonRevoked, cge.Reason)
	assert.Equal(t, "consent_revoked", cge.Code())
}

func TestGateRequireScopeDenied(t *testing.T) {
	s := store.NewMemoryStore()
	repos := s.Repositories()
	ctx := context.Background()

	require.NoError(t, repos.Consent.Put(ctx, store.Consent{User: "u3", DataAnalysis: true}))

	g := NewGate(repos.Consent)
	err := g.Require(ctx, "u3", ScopeExperiments)
	var cge *errs.ConsentGateError
	require.ErrorAs(t, err, &cge)
	assert.Equal(t, errs.ConsentReasonScopeDenied, cge.Reason)
	assert.Equal(t, "scope_experimental_recommendations_denied", cge.Code())
}

func TestGateRequireGrantedScopePasses(t *testing.T) {
	s := store.NewMemoryStore()
	repos := s.Repositories()
	ctx := context.Background()

	require.NoError(t, repos.Consent.Put(ctx, store.Consent{
		User: "u4", DataAnalysis: true, ExperimentalRecommendations: true,
	}))

	g := NewGate(repos.Consent)
	assert.NoError(t, g.Require(ctx, "u4", ScopeDataAnalysis))
	assert.NoError(t, g.Require(ctx, "u4", ScopeExperiments))
}

func TestGateRequireProviderDecoupledFromAnalysis(t *testing.T) {
	s := store.NewMemoryStore()
	repos := s.Repositories()
	ctx := context.Background()

	// Analysis consent not granted, but provider ingestion is: sync-only
	// users are allowed.
	require.NoError(t, repos.Consent.Put(ctx, store.Consent{
		User:              "u5",
		DataAnalysis:      false,
		ProviderIngestion: map[string]bool{"whoop": true},
	}))

	g := NewGate(repos.Consent)
	assert.NoError(t, g.RequireProvider(ctx, "u5", "whoop"))
	assert.Error(t, g.RequireProvider(ctx, "u5", "fitbit"))
	assert.Error(t, g.Require(ctx, "u5", ScopeDataAnalysis))
}
