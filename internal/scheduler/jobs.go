// Deps bundles every service and repository handle a job closure needs,
// wired once at startup in cmd/healthengine and passed to RegisterDefaults.
// Jobs iterate users sequentially within their own loop per spec.md §5 —
// no per-job errgroup fan-out — while distinct jobs each run on their
// own ticker goroutine, giving the "multiple jobs run in parallel on
// independent workers" concurrency model without any shared mutable
// per-user state.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/healthlattice/healthengine/internal/attribution"
	"github.com/healthlattice/healthengine/internal/audit"
	"github.com/healthlattice/healthengine/internal/baseline"
	"github.com/healthlattice/healthengine/internal/causalmemory"
	"github.com/healthlattice/healthengine/internal/evaluation"
	"github.com/healthlattice/healthengine/internal/logging"
	"github.com/healthlattice/healthengine/internal/looprunner"
	"github.com/healthlattice/healthengine/internal/narrative"
	"github.com/healthlattice/healthengine/internal/providernorm"
	"github.com/healthlattice/healthengine/internal/store"
	"github.com/healthlattice/healthengine/internal/trust"
)

// BaselineWindowDays and AttributionWindowDays carry the MVP window
// constants the scheduled jobs run over, matching the corresponding
// on-demand defaults (§4.6, §4.10).
const (
	BaselineWindowDays    = 90
	AttributionWindowDays = attribution.DefaultWindowDays
)

// Deps is every dependency a job closure can reach. Fields left nil
// (e.g. unused provider adapters) simply mean that job has nothing to
// do for that concern.
type Deps struct {
	Repos        store.Repositories
	LoopRunner   *looprunner.Service
	Baselines    *baseline.Service
	Evaluations  *evaluation.Service
	CausalMemory *causalmemory.Service
	Attribution  *attribution.Service
	Narrative    *narrative.Service
	Trust        *trust.Service
	Outbox       *audit.Outbox
	Providers    []providernorm.Adapter
	Log          *logging.Logger
	Now          func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

func (d *Deps) logf(msg string, args ...any) {
	if d.Log != nil {
		d.Log.Info(msg, args...)
	}
}

// users returns every user with a consent record on file — the
// roster every "for all users" job iterates (§4.19).
func (d *Deps) users(ctx context.Context) ([]string, error) {
	return d.Repos.Consent.ListUsers(ctx)
}

// runInsightsJob runs the loop for every user, grounded on
// job_run_insights_for_all_users' per-user try/continue loop.
func runInsightsJob(d *Deps) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		users, err := d.users(ctx)
		if err != nil {
			return "", err
		}
		var ran, failed int
		for _, user := range users {
			if _, err := d.LoopRunner.Run(ctx, user); err != nil {
				failed++
				d.logf("run_insights: user failed", "user", user, "error", err)
				continue
			}
			ran++
		}
		return fmt.Sprintf("ran=%d failed=%d", ran, failed), nil
	}
}

// recomputeBaselinesJob recomputes every registered metric's baseline
// for every user, grounded on
// job_recompute_baselines_for_all_users.
func recomputeBaselinesJob(d *Deps) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		users, err := d.users(ctx)
		if err != nil {
			return "", err
		}
		var ran, failed, frozen int
		for _, user := range users {
			result := d.Baselines.RecomputeAll(ctx, user, BaselineWindowDays)
			if len(result.Frozen) > 0 {
				frozen += len(result.Frozen)
				d.logf("recompute_baselines: user has frozen baselines", "user", user, "frozen", len(result.Frozen))
			}
			if len(result.Failed) > 0 {
				failed++
				d.logf("recompute_baselines: user had failures", "user", user, "failed", len(result.Failed))
				continue
			}
			ran++
		}
		return fmt.Sprintf("ran=%d failed=%d frozen=%d", ran, failed, frozen), nil
	}
}

// evaluateDueExperimentsJob evaluates every active experiment whose
// baseline+intervention window has elapsed, grounded on
// job_evaluate_due_experiments' due-date scan.
func evaluateDueExperimentsJob(d *Deps) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		users, err := d.users(ctx)
		if err != nil {
			return "", err
		}
		now := d.now()
		var evaluated, failed int
		for _, user := range users {
			active, err := d.Repos.Experiments.ListActiveByUser(ctx, user)
			if err != nil {
				failed++
				continue
			}
			for _, exp := range active {
				due := exp.StartedAt.AddDate(0, 0, exp.BaselineWindowDays+exp.InterventionWindowDays)
				if now.Before(due) {
					continue
				}
				result, err := d.Evaluations.Evaluate(ctx, exp.ID)
				if err != nil {
					failed++
					d.logf("evaluate_due_experiments: evaluation failed", "experiment", exp.ID, "error", err)
					continue
				}
				if _, err := d.CausalMemory.UpdateFromEvaluation(ctx, result); err != nil {
					failed++
					d.logf("evaluate_due_experiments: causal memory update failed", "experiment", exp.ID, "error", err)
					continue
				}
				evaluated++
			}
		}
		return fmt.Sprintf("evaluated=%d failed=%d", evaluated, failed), nil
	}
}

// syncProvidersJob counts, for every user and registered adapter, whether
// a provider token is stored (synced) or not (skipped), grounded on
// job_sync_whoop_for_all_users. It does not fetch or ingest provider data
// and does not check ingestion consent. Unlike the Python
// source's dedicated provider-token table scan, this system has no bulk
// "list all tokens" query (§6); it pays a per-user, per-adapter token
// lookup instead of adding one, since the adapter roster is small and
// fixed at startup.
func syncProvidersJob(d *Deps) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		users, err := d.users(ctx)
		if err != nil {
			return "", err
		}
		var synced, skipped int
		for _, user := range users {
			for _, adapter := range d.Providers {
				_, found, err := d.Repos.ProviderTokens.GetToken(ctx, user, adapter.Name())
				if err != nil || !found {
					skipped++
					continue
				}
				synced++
			}
		}
		return fmt.Sprintf("synced=%d skipped=%d", synced, skipped), nil
	}
}

// recomputePersonalDriversJob rebuilds every user's driver set and
// enqueues a notification for any driver clearing the high-confidence
// threshold, grounded on job_recompute_personal_drivers and
// job_generate_driver_findings (§4.21).
func recomputePersonalDriversJob(d *Deps) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		users, err := d.users(ctx)
		if err != nil {
			return "", err
		}
		now := d.now()
		var ran, failed, notified int
		for _, user := range users {
			drivers, err := d.Attribution.Compute(ctx, user, AttributionWindowDays)
			if err != nil {
				failed++
				d.logf("recompute_personal_drivers: user failed", "user", user, "error", err)
				continue
			}
			ran++
			findings := attribution.HighConfidenceFindings(drivers)
			if len(findings) == 0 || d.Outbox == nil {
				continue
			}
			dedupeKey := fmt.Sprintf("driver_findings:%s:%s", user, now.Format("2006-01-02"))
			payload := fmt.Sprintf("%d new high-confidence driver finding(s)", len(findings))
			if _, err := d.Outbox.Enqueue(ctx, user, "push", payload, dedupeKey); err != nil {
				failed++
				continue
			}
			notified++
		}
		return fmt.Sprintf("ran=%d failed=%d notified=%d", ran, failed, notified), nil
	}
}

// generateDailyNarrativeJob synthesizes the previous day's narrative for
// every user, grounded on job_generate_daily_narratives.
func generateDailyNarrativeJob(d *Deps) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		users, err := d.users(ctx)
		if err != nil {
			return "", err
		}
		now := d.now()
		end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		start := end.AddDate(0, 0, -1)
		var ran, failed int
		for _, user := range users {
			if _, err := d.Narrative.Synthesize(ctx, user, store.PeriodDaily, start, end); err != nil {
				failed++
				d.logf("generate_daily_narrative: user failed", "user", user, "error", err)
				continue
			}
			ran++
		}
		return fmt.Sprintf("ran=%d failed=%d", ran, failed), nil
	}
}

// weeklyTrustRollupJob recomputes every user's trust score, a
// supplemented job covering spec.md's trust engine (§4.14) with no
// direct job_*.py analogue — trust_engine.py is invoked on demand in
// the source, so the weekly cadence here is this system's own
// scheduling decision, recorded in DESIGN.md.
func weeklyTrustRollupJob(d *Deps) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		users, err := d.users(ctx)
		if err != nil {
			return "", err
		}
		var ran, failed int
		for _, user := range users {
			if _, err := d.Trust.Compute(ctx, user); err != nil {
				failed++
				d.logf("weekly_trust_rollup: user failed", "user", user, "error", err)
				continue
			}
			ran++
		}
		return fmt.Sprintf("ran=%d failed=%d", ran, failed), nil
	}
}

// dispatchNotificationsJob drains the outbox, grounded on
// job_dispatch_notifications.
func dispatchNotificationsJob(d *Deps) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		if d.Outbox == nil {
			return "no outbox configured", nil
		}
		result, err := d.Outbox.Drain(ctx, 100)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("dispatched=%d failed=%d", result.Dispatched, result.Failed), nil
	}
}

// Default job IDs, exactly the eight named in spec.md §4.16.
const (
	JobRunInsights              = "run_insights"
	JobRecomputeBaselines       = "recompute_baselines"
	JobEvaluateDueExperiments   = "evaluate_due_experiments"
	JobSyncProviders            = "sync_providers"
	JobRecomputePersonalDrivers = "recompute_personal_drivers"
	JobGenerateDailyNarrative   = "generate_daily_narrative"
	JobWeeklyTrustRollup        = "weekly_trust_rollup"
	JobDispatchNotifications    = "dispatch_notifications"
)

// Intervals is the ticker period for each default job; callers may
// override any entry before calling RegisterDefaults.
type Intervals struct {
	RunInsights              time.Duration
	RecomputeBaselines       time.Duration
	EvaluateDueExperiments   time.Duration
	SyncProviders            time.Duration
	RecomputePersonalDrivers time.Duration
	GenerateDailyNarrative   time.Duration
	WeeklyTrustRollup        time.Duration
	DispatchNotifications    time.Duration
}

// DefaultIntervals mirrors the source system's rough cadences: insight
// generation and notification dispatch run often, narrative/baseline/
// driver recomputation run daily, and trust rolls up weekly.
func DefaultIntervals() Intervals {
	return Intervals{
		RunInsights:              1 * time.Hour,
		RecomputeBaselines:       24 * time.Hour,
		EvaluateDueExperiments:   1 * time.Hour,
		SyncProviders:            1 * time.Hour,
		RecomputePersonalDrivers: 24 * time.Hour,
		GenerateDailyNarrative:   24 * time.Hour,
		WeeklyTrustRollup:        7 * 24 * time.Hour,
		DispatchNotifications:    5 * time.Minute,
	}
}

// RegisterDefaults wires all eight jobs into s using d for their
// dependencies and iv for their cadence, each job's idempotency window
// equal to its own interval.
func RegisterDefaults(s *Scheduler, d *Deps, iv Intervals) {
	s.Register(JobRunInsights, iv.RunInsights, iv.RunInsights, runInsightsJob(d))
	s.Register(JobRecomputeBaselines, iv.RecomputeBaselines, iv.RecomputeBaselines, recomputeBaselinesJob(d))
	s.Register(JobEvaluateDueExperiments, iv.EvaluateDueExperiments, iv.EvaluateDueExperiments, evaluateDueExperimentsJob(d))
	s.Register(JobSyncProviders, iv.SyncProviders, iv.SyncProviders, syncProvidersJob(d))
	s.Register(JobRecomputePersonalDrivers, iv.RecomputePersonalDrivers, iv.RecomputePersonalDrivers, recomputePersonalDriversJob(d))
	s.Register(JobGenerateDailyNarrative, iv.GenerateDailyNarrative, iv.GenerateDailyNarrative, generateDailyNarrativeJob(d))
	s.Register(JobWeeklyTrustRollup, iv.WeeklyTrustRollup, iv.WeeklyTrustRollup, weeklyTrustRollupJob(d))
	s.Register(JobDispatchNotifications, iv.DispatchNotifications, iv.DispatchNotifications, dispatchNotificationsJob(d))
}
