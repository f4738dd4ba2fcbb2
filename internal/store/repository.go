package store

import (
	"context"
	"time"
)

// ConsentRepository reads and writes per-user consent state (§4.15).
type ConsentRepository interface {
	Get(ctx context.Context, user string) (Consent, bool, error)
	Put(ctx context.Context, c Consent) error
	// ListUsers returns every user with a consent record on file — the
	// system's user roster, since every user must record consent before
	// any other operation touches their data (§4.15). Used by scheduler
	// jobs that iterate "all users" (§4.18/§4.19).
	ListUsers(ctx context.Context) ([]string, error)
}

// DataPointRepository is the time-series store for HealthDataPoint (§4.3,
// §4.5). Range is half-open [from, to).
type DataPointRepository interface {
	Insert(ctx context.Context, points []HealthDataPoint) error
	Range(ctx context.Context, user, metricKey string, from, to time.Time) ([]HealthDataPoint, error)
	LatestTimestamp(ctx context.Context, user, metricKey string) (time.Time, bool, error)
}

// ProvenanceRepository records per-batch ingestion provenance (§4.3).
type ProvenanceRepository interface {
	Put(ctx context.Context, p DataProvenance) error
	Get(ctx context.Context, provenanceID string) (DataProvenance, error)
}

// BaselineRepository stores the rolling per-(user,metric) baseline (§4.5).
type BaselineRepository interface {
	GetBaseline(ctx context.Context, user, metricKey string) (Baseline, bool, error)
	PutBaseline(ctx context.Context, b Baseline) error
}

// InsightRepository persists insight records (§4.7, §4.8, §4.10).
type InsightRepository interface {
	PutInsight(ctx context.Context, in Insight) error
	ListByUser(ctx context.Context, user string, since time.Time) ([]Insight, error)
	CountSince(ctx context.Context, user string, since time.Time, types ...InsightType) (int, error)
}

// InterventionRepository persists interventions (§4.6, §6).
type InterventionRepository interface {
	PutIntervention(ctx context.Context, iv Intervention) error
	GetIntervention(ctx context.Context, id string) (Intervention, error)
	ListInterventionsByUser(ctx context.Context, user string) ([]Intervention, error)
}

// ExperimentRepository persists experiments and their adherence log
// (§4.9, §4.11).
type ExperimentRepository interface {
	PutExperiment(ctx context.Context, e Experiment) error
	GetExperiment(ctx context.Context, id string) (Experiment, error)
	ListActiveByUser(ctx context.Context, user string) ([]Experiment, error)
	// ListAllByUser returns every experiment for user regardless of
	// status, needed by trust rollup's 30-day adherence scan (§4.14),
	// which must see lapsed and completed experiments too.
	ListAllByUser(ctx context.Context, user string) ([]Experiment, error)
	PutAdherence(ctx context.Context, a AdherenceEvent) error
	AdherenceSince(ctx context.Context, experimentID string, since time.Time) ([]AdherenceEvent, error)
}

// EvaluationRepository persists evaluation results (§4.11).
type EvaluationRepository interface {
	PutEvaluation(ctx context.Context, e EvaluationResult) error
	ListByExperiment(ctx context.Context, experimentID string) ([]EvaluationResult, error)
	// ListByUser returns a user's evaluations created at or after since,
	// needed by narrative synthesis's in-range collection (§4.13).
	ListByUser(ctx context.Context, user string, since time.Time) ([]EvaluationResult, error)
}

// DriverRepository persists attribution findings (§4.10, §4.12).
type DriverRepository interface {
	PutDriver(ctx context.Context, d PersonalDriver) error
	ListDriversByUser(ctx context.Context, user, outcomeMetric string) ([]PersonalDriver, error)
	// ReplaceDriversForUser atomically discards every prior driver for
	// user and stores drivers in its place (§4.10 step 5: "replacing
	// prior set for the user").
	ReplaceDriversForUser(ctx context.Context, user string, drivers []PersonalDriver) error
}

// CheckInRepository persists daily self-reported behavior logs, the
// behavioral half of the attribution engine's feature matrix (§4.10).
type CheckInRepository interface {
	PutCheckIn(ctx context.Context, c DailyCheckIn) error
	ListCheckIns(ctx context.Context, user string, from, to time.Time) ([]DailyCheckIn, error)
}

// CausalMemoryRepository persists cross-run causal memory entries
// (§4.14).
type CausalMemoryRepository interface {
	GetCausalMemory(ctx context.Context, user, driverKey, metricKey string) (CausalMemory, bool, error)
	PutCausalMemory(ctx context.Context, c CausalMemory) error
	ListCausalMemoryByUser(ctx context.Context, user string) ([]CausalMemory, error)
}

// NarrativeRepository persists synthesized narratives (§4.13).
type NarrativeRepository interface {
	PutNarrative(ctx context.Context, n Narrative) error
	ListNarrativesByUser(ctx context.Context, user string, periodType NarrativePeriod, since time.Time) ([]Narrative, error)
}

// TrustRepository persists the weekly trust score rollup (§4.16).
type TrustRepository interface {
	GetTrust(ctx context.Context, user string) (TrustScore, bool, error)
	PutTrust(ctx context.Context, t TrustScore) error
}

// JobRunRepository persists scheduler job run records, keyed for
// idempotency by IdempotencyKey (§4.18).
type JobRunRepository interface {
	GetByIdempotencyKey(ctx context.Context, key string) (JobRun, bool, error)
	PutJobRun(ctx context.Context, r JobRun) error
}

// AuditRepository persists audit events and explanation edges (§4.19).
type AuditRepository interface {
	PutEvent(ctx context.Context, e AuditEvent) error
	PutEdges(ctx context.Context, edges []ExplanationEdge) error
	ListByEntity(ctx context.Context, entityType, entityID string) ([]ExplanationEdge, error)
}

// ProviderTokenRepository persists encrypted provider OAuth tokens (§6).
type ProviderTokenRepository interface {
	GetToken(ctx context.Context, user, provider string) (ProviderToken, bool, error)
	PutToken(ctx context.Context, t ProviderToken) error
	DeleteToken(ctx context.Context, user, provider string) error
}

// NotificationOutboxRepository persists queued notifications (supplemented
// feature, SPEC_FULL.md §4.20).
type NotificationOutboxRepository interface {
	Enqueue(ctx context.Context, item NotificationOutboxItem) error
	ListPending(ctx context.Context, limit int) ([]NotificationOutboxItem, error)
	MarkDispatched(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, reason string) error
	// GetByDedupeKey supports idempotent enqueue: a caller checks this
	// before inserting so a repeat notification (e.g. the same daily
	// narrative ready event) is not queued twice (§4.20).
	GetByDedupeKey(ctx context.Context, dedupeKey string) (NotificationOutboxItem, bool, error)
}

// Repositories bundles every repository handle. cmd/healthengine builds
// one per backend and passes its fields to the component constructors as
// individual arguments; scheduler.Deps carries the whole bundle.
type Repositories struct {
	Consent         ConsentRepository
	DataPoints      DataPointRepository
	Provenance      ProvenanceRepository
	Baselines       BaselineRepository
	Insights        InsightRepository
	Interventions   InterventionRepository
	Experiments     ExperimentRepository
	Evaluations     EvaluationRepository
	Drivers         DriverRepository
	CausalMemory    CausalMemoryRepository
	Narratives      NarrativeRepository
	Trust           TrustRepository
	JobRuns         JobRunRepository
	Audit           AuditRepository
	ProviderTokens  ProviderTokenRepository
	NotificationBox NotificationOutboxRepository
	CheckIns        CheckInRepository
}
