package looprunner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/healthlattice/healthengine/internal/apiserver"
	"github.com/healthlattice/healthengine/internal/audit"
	"github.com/healthlattice/healthengine/internal/baseline"
	"github.com/healthlattice/healthengine/internal/consent"
	"github.com/healthlattice/healthengine/internal/evaluation"
	"github.com/healthlattice/healthengine/internal/ingestion"
	"github.com/healthlattice/healthengine/internal/logging"
	"github.com/healthlattice/healthengine/internal/metricreg"
	"github.com/healthlattice/healthengine/internal/providernorm"
	"github.com/healthlattice/healthengine/internal/scheduler"
	"github.com/healthlattice/healthengine/internal/store"
	"github.com/healthlattice/healthengine/internal/suppression"
	"github.com/healthlattice/healthengine/internal/trust"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ingestDailyRange ingests one point per day over [start,end) for
// metricKey, values spaced evenly between lo and hi.
func ingestDailyRange(t *testing.T, ctx context.Context, ing *ingestion.Service, user, vendor, metricKey string, start time.Time, days int, lo, hi float64) {
	t.Helper()
	points := make([]providernorm.NormalizedPoint, days)
	for i := 0; i < days; i++ {
		frac := 0.0
		if days > 1 {
			frac = float64(i) / float64(days-1)
		}
		points[i] = providernorm.NormalizedPoint{
			MetricKey: metricKey,
			Value:     lo + frac*(hi-lo),
			Unit:      "",
			Timestamp: start.AddDate(0, 0, i),
			Source:    vendor,
		}
	}
	_, err := ing.Ingest(ctx, user, vendor, points)
	require.NoError(t, err)
}

// Scenario 1: golden path. 30 days of baseline-range data followed by 7
// days of clearly deviated data produces at least one change insight per
// deviated metric, each carrying a valid claim_level/domain_key.
func TestE2EGoldenPath(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	registry := metricreg.Default()

	require.NoError(t, s.Put(ctx, store.Consent{
		User: "user-1", DataAnalysis: true, ExperimentalRecommendations: true, StopAnytime: true,
	}))

	gate := consent.NewGate(s)
	ing := ingestion.NewService(gate, registry, s, s, fixedNow(now))
	base := baseline.NewService(registry, s, s, fixedNow(now))

	baselineStart := now.AddDate(0, 0, -37)
	deviationStart := now.AddDate(0, 0, -7)

	ingestDailyRange(t, ctx, ing, "user-1", "demo", "sleep_duration", baselineStart, 30, 400, 440)
	ingestDailyRange(t, ctx, ing, "user-1", "demo", "hrv_rmssd", baselineStart, 30, 39, 51)
	ingestDailyRange(t, ctx, ing, "user-1", "demo", "resting_hr", baselineStart, 30, 60, 64)

	ingestDailyRange(t, ctx, ing, "user-1", "demo", "sleep_duration", deviationStart, 7, 300, 330)
	ingestDailyRange(t, ctx, ing, "user-1", "demo", "hrv_rmssd", deviationStart, 7, 30, 36)
	ingestDailyRange(t, ctx, ing, "user-1", "demo", "resting_hr", deviationStart, 7, 72, 76)

	for _, m := range []string{"sleep_duration", "hrv_rmssd", "resting_hr"} {
		_, err := base.Recompute(ctx, "user-1", m, 30)
		require.NoError(t, err)
	}

	sup := suppression.NewSuppressor(s, fixedNow(now))
	log := logging.New(logging.Config{Quiet: true})
	svc := NewService(gate, registry, s, s, s, s, s, sup, log, fixedNow(now))

	result, err := svc.Run(ctx, "user-1")
	require.NoError(t, err)
	require.False(t, result.SafetyOverride)

	wantDomains := map[string]string{
		"sleep_duration": "sleep",
		"hrv_rmssd":      "stress_nervous_system",
		"resting_hr":     "cardiometabolic",
	}
	seenChangePerMetric := map[string]bool{}
	for _, in := range result.Created {
		if in.Type != store.InsightChange {
			continue
		}
		wantDomain, ok := wantDomains[in.MetricKey]
		require.True(t, ok, "unexpected metric %q in change insight", in.MetricKey)
		assert.Equal(t, wantDomain, in.DomainKey)
		assert.GreaterOrEqual(t, in.ClaimLevel, 1)
		assert.LessOrEqual(t, in.ClaimLevel, 5)
		seenChangePerMetric[in.MetricKey] = true
	}
	for metricKey := range wantDomains {
		assert.True(t, seenChangePerMetric[metricKey], "expected a change insight for %q", metricKey)
	}
}

// Scenario 2: consent revoked. Any call to the run endpoint returns 403
// with X-Consent-Error-Reason: consent_revoked.
func TestE2EConsentRevoked(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	s := store.NewMemoryStore()
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	revokedAt := now.AddDate(0, 0, -1)

	require.NoError(t, s.Put(ctx, store.Consent{
		User: "user-2", DataAnalysis: true, RevokedAt: &revokedAt,
	}))

	registry := metricreg.Default()
	gate := consent.NewGate(s)
	log := logging.New(logging.Config{Quiet: true})
	sup := suppression.NewSuppressor(s, fixedNow(now))
	loopRunner := NewService(gate, registry, s, s, s, s, s, sup, log, fixedNow(now))

	h := &apiserver.Handlers{
		Repos: s.Repositories(), Gate: gate, LoopRunner: loopRunner,
		Ingestion:  ingestion.NewService(gate, registry, s, s, fixedNow(now)),
		Evaluation: evaluation.NewService(registry, s, s, s, s, fixedNow(now)),
		Trust:      trust.NewService(registry, s, s, s, s, s, fixedNow(now)),
		Audit:      audit.NewService(s, log),
		Providers:  map[string]providernorm.Adapter{"demo": providernorm.NewDemoAdapter()},
		Log:        log,
	}

	router := gin.New()
	v1 := router.Group("/v1")
	apiserver.RegisterRoutes(v1, h)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/users/user-2/run", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "consent_revoked", w.Header().Get("X-Consent-Error-Reason"))
}

// Scenario 3: insufficient data. Only 3 days of sleep_duration produces
// at most one insufficient_data insight for that metric, confidence 1.0,
// and no change insights, without crashing.
func TestE2EInsufficientData(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	registry := metricreg.Default()

	require.NoError(t, s.Put(ctx, store.Consent{User: "user-3", DataAnalysis: true}))

	gate := consent.NewGate(s)
	ing := ingestion.NewService(gate, registry, s, s, fixedNow(now))
	ingestDailyRange(t, ctx, ing, "user-3", "demo", "sleep_duration", now.AddDate(0, 0, -3), 3, 400, 410)

	sup := suppression.NewSuppressor(s, fixedNow(now))
	log := logging.New(logging.Config{Quiet: true})
	svc := NewService(gate, registry, s, s, s, s, s, sup, log, fixedNow(now))

	result, err := svc.Run(ctx, "user-3")
	require.NoError(t, err)

	insufficientCount := 0
	for _, in := range result.Created {
		assert.NotEqual(t, store.InsightChange, in.Type)
		if in.Type == store.InsightInsufficientData && in.MetricKey == "sleep_duration" {
			insufficientCount++
			assert.Equal(t, 1.0, in.Confidence)
		}
	}
	assert.LessOrEqual(t, insufficientCount, 1)
}

// Scenario 4: safety override. A 115bpm resting_hr average produces
// exactly one urgent safety insight with action seek_care_now, and no
// other detector insight in that run.
func TestE2ESafetyOverride(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	registry := metricreg.Default()

	require.NoError(t, s.Put(ctx, store.Consent{User: "user-4", DataAnalysis: true}))

	gate := consent.NewGate(s)
	ing := ingestion.NewService(gate, registry, s, s, fixedNow(now))
	ingestDailyRange(t, ctx, ing, "user-4", "demo", "resting_hr", now.AddDate(0, 0, -3), 3, 115, 115)

	sup := suppression.NewSuppressor(s, fixedNow(now))
	log := logging.New(logging.Config{Quiet: true})
	svc := NewService(gate, registry, s, s, s, s, s, sup, log, fixedNow(now))

	result, err := svc.Run(ctx, "user-4")
	require.NoError(t, err)
	require.True(t, result.SafetyOverride)
	require.Len(t, result.Created, 1)
	assert.Equal(t, store.InsightSafety, result.Created[0].Type)
}

// Scenario 5: evaluation without adherence. A meaningful effect size
// with zero logged adherence events yields verdict unclear, the
// no_adherence_events_logged reason, and the literal adherence warning
// in the summary.
func TestE2EEvaluationWithoutAdherence(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	registry := metricreg.Default()

	start := now.AddDate(0, 0, -14)
	exp := store.Experiment{
		ID: "exp-5", User: "user-5", Intervention: "magnesium", PrimaryMetric: "sleep_duration",
		StartedAt: start, Status: store.ExperimentActive,
		BaselineWindowDays: 14, InterventionWindowDays: 14,
	}
	require.NoError(t, s.PutExperiment(ctx, exp))

	var baselinePoints, interventionPoints []store.HealthDataPoint
	for i := 0; i < 14; i++ {
		// Alternating ±80 around each mean keeps both windows' variance
		// nonzero, so the 40-minute shift is a meaningful |d| of about 0.5.
		spread := 80.0
		if i%2 == 1 {
			spread = -80.0
		}
		baselinePoints = append(baselinePoints, store.HealthDataPoint{
			User: "user-5", MetricKey: "sleep_duration", Value: 400 + spread,
			Timestamp: start.AddDate(0, 0, -14+i),
		})
		interventionPoints = append(interventionPoints, store.HealthDataPoint{
			User: "user-5", MetricKey: "sleep_duration", Value: 440 + spread,
			Timestamp: start.AddDate(0, 0, i),
		})
	}
	require.NoError(t, s.Insert(ctx, baselinePoints))
	require.NoError(t, s.Insert(ctx, interventionPoints))

	evalSvc := evaluation.NewService(registry, s, s, s, s, fixedNow(now))
	result, err := evalSvc.Evaluate(ctx, "exp-5")
	require.NoError(t, err)

	assert.Equal(t, store.VerdictUnclear, result.Verdict)
	assert.Contains(t, result.Details.Reasons, "no_adherence_events_logged")
	assert.Contains(t, result.Summary, "[WARNING: No adherence events logged")
}

// Scenario 6: idempotent job. Running the insight loop job twice within
// the same idempotency window executes once and skips the second time,
// carrying the first run's ID forward.
func TestE2EIdempotentJob(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	registry := metricreg.Default()

	require.NoError(t, s.Put(ctx, store.Consent{User: "user-1", DataAnalysis: true}))

	gate := consent.NewGate(s)
	sup := suppression.NewSuppressor(s, fixedNow(now))
	log := logging.New(logging.Config{Quiet: true})
	loopRunner := NewService(gate, registry, s, s, s, s, s, sup, log, fixedNow(now))

	sch := scheduler.New(s, log, fixedNow(now))
	deps := &scheduler.Deps{Repos: s.Repositories(), LoopRunner: loopRunner, Log: log, Now: fixedNow(now)}
	scheduler.RegisterDefaults(sch, deps, scheduler.DefaultIntervals())

	first, err := sch.RunNow(ctx, "run_insights")
	require.NoError(t, err)
	assert.Equal(t, store.JobCompleted, first.Status)

	second, err := sch.RunNow(ctx, "run_insights")
	require.NoError(t, err)
	assert.Equal(t, store.JobSkipped, second.Status)
}
