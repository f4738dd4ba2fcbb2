// Package store defines the persisted entity types (§3) and the
// repository interfaces every stateful component depends on, plus
// concrete implementations: an in-memory map-backed store (tests, demo),
// a badger/v4-backed embedded store, and an influxdb-backed time series
// store for HealthDataPoints. Repositories are handles: no hidden caches,
// transaction-scoped where noted.
package store

import "time"

// Consent is the latest per-user consent record (§3).
type Consent struct {
	User                        string
	DataAnalysis                bool
	ExperimentalRecommendations bool
	StopAnytime                 bool
	ProviderIngestion           map[string]bool // vendor -> granted
	RevokedAt                   *time.Time
	Version                     string
}

// DataProvenance records the origin of one ingested batch (§3).
type DataProvenance struct {
	User             string
	SourceType       string
	SourceName       string
	SourceRecordID   string
	IngestionRunID   string
	ReceivedAt       time.Time
	QualityScore     float64
	ValidationErrors []string
}

// HealthDataPoint is one immutable biometric observation (§3).
type HealthDataPoint struct {
	User         string
	MetricKey    string
	Value        float64
	Unit         string
	Timestamp    time.Time
	Source       string
	ProvenanceID string
	QualityScore float64
	Flagged      bool
}

// Baseline is the per-(user,metric) rolling statistical summary (§3).
type Baseline struct {
	User        string
	MetricKey   string
	Mean        float64
	StdDev      float64
	SampleCount int
	WindowDays  int
	ComputedAt  time.Time
}

// InsightType enumerates the kinds of insight the loop runner produces.
type InsightType string

const (
	InsightChange              InsightType = "change"
	InsightTrend               InsightType = "trend"
	InsightInstability         InsightType = "instability"
	InsightSafety              InsightType = "safety"
	InsightInsufficientData    InsightType = "insufficient_data"
	InsightAttribution         InsightType = "attribution"
	InsightConflictingSignals  InsightType = "conflicting_signals"
	InsightProtocolInvalidated InsightType = "protocol_invalidated"
)

// Insight is a single surfaced (or suppressed) finding (§3).
type Insight struct {
	ID                string
	User              string
	Type              InsightType
	MetricKey         string
	DomainKey         string
	Title             string
	Description       string
	Confidence        float64
	ClaimLevel        int
	Evidence          map[string]float64
	GeneratedAt       time.Time
	Suppressed        bool
	SuppressionReason string
	PolicySanitized   bool
	WeakSignal        bool
}

// RiskLevel is an intervention's safety risk classification.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskModerate RiskLevel = "moderate"
	RiskHigh     RiskLevel = "high"
)

// InterventionBoundary classifies how an intervention is treated.
type InterventionBoundary string

const (
	BoundaryInformational InterventionBoundary = "informational"
	BoundaryLifestyle     InterventionBoundary = "lifestyle"
	BoundaryExperiment    InterventionBoundary = "experiment"
)

// SafetyIssue is one concern attached to an intervention's safety
// decision.
type SafetyIssue struct {
	Key     string
	Message string
}

// InterventionSafety is the safety decision computed at intervention
// creation time.
type InterventionSafety struct {
	RiskLevel     RiskLevel
	EvidenceGrade string
	Boundary      InterventionBoundary
	Issues        []SafetyIssue
}

// Intervention is a user-initiated protocol or treatment (§3).
type Intervention struct {
	ID       string
	User     string
	Key      string
	Name     string
	Dosage   string
	Schedule string
	Safety   InterventionSafety
}

// ExperimentStatus enumerates an experiment's lifecycle state.
type ExperimentStatus string

const (
	ExperimentActive    ExperimentStatus = "active"
	ExperimentStopped   ExperimentStatus = "stopped"
	ExperimentCompleted ExperimentStatus = "completed"
)

// Experiment is a quasi-experimental evaluation of one intervention (§3).
type Experiment struct {
	ID                     string
	User                   string
	Intervention           string
	PrimaryMetric          string
	ExpectedDirection      string // "positive" | "negative" | ""
	StartedAt              time.Time
	EndedAt                *time.Time
	Status                 ExperimentStatus
	BaselineWindowDays     int
	InterventionWindowDays int
}

// AdherenceEvent records whether a scheduled intervention dose was taken.
type AdherenceEvent struct {
	User       string
	Experiment string
	Timestamp  time.Time
	Taken      bool
	Dose       string
}

// WindowStats summarizes one evaluation window.
type WindowStats struct {
	Mean     float64
	StdDev   float64
	N        int
	Coverage float64
	CILow    float64
	CIHigh   float64
}

// Verdict is an evaluation's outcome classification.
type Verdict string

const (
	VerdictHelpful          Verdict = "helpful"
	VerdictNotHelpful       Verdict = "not_helpful"
	VerdictUnclear          Verdict = "unclear"
	VerdictInsufficientData Verdict = "insufficient_data"
)

// EvaluationDetails carries the window definitions and human-readable
// reasons behind a verdict.
type EvaluationDetails struct {
	BaselineWindowStart     time.Time
	BaselineWindowEnd       time.Time
	InterventionWindowStart time.Time
	InterventionWindowEnd   time.Time
	Reasons                 []string
}

// EvaluationResult is a baseline/intervention window comparison (§3).
type EvaluationResult struct {
	ID              string
	User            string
	Experiment      string
	MetricKey       string
	Baseline        WindowStats
	Intervention    WindowStats
	Delta           float64
	PercentChange   float64
	EffectSizeD     float64
	AdherenceRate   float64
	ConfidenceScore float64
	Verdict         Verdict
	Details         EvaluationDetails
	Summary         string
	CreatedAt       time.Time
}

// DriverDirection is the direction of a driver's association with an
// outcome metric.
type DriverDirection string

const (
	DriverPositive DriverDirection = "positive"
	DriverNegative DriverDirection = "negative"
	DriverNeutral  DriverDirection = "neutral"
	DriverMixed    DriverDirection = "mixed"
)

// PersonalDriver is one attribution engine finding (§3).
type PersonalDriver struct {
	ID                string
	User              string
	DriverKey         string
	DriverType        string // "behavior" | "intervention"
	OutcomeMetric     string
	LagDays           int
	EffectSize        float64
	Direction         DriverDirection
	VarianceExplained float64
	Confidence        float64
	Stability         float64
	SampleSize        int
	WindowStart       time.Time
	WindowEnd         time.Time
	Label             string
	InteractionBoost  *float64
}

// CausalMemoryStatus is the promotion state of a causal memory entry.
type CausalMemoryStatus string

const (
	CausalTentative  CausalMemoryStatus = "tentative"
	CausalConfirmed  CausalMemoryStatus = "confirmed"
	CausalDeprecated CausalMemoryStatus = "deprecated"
)

// CausalMemory accumulates evidence for one (user, driver, metric) triple
// across evaluation runs (§3).
type CausalMemory struct {
	User                  string
	DriverKey             string
	MetricKey             string
	Direction             DriverDirection
	AvgEffectSize         float64
	Confidence            float64
	EvidenceCount         int
	Status                CausalMemoryStatus
	FirstSeenAt           time.Time
	LastConfirmedAt       time.Time
	SupportingEvaluations []string
}

// NarrativePeriod is the period granularity a narrative covers.
type NarrativePeriod string

const (
	PeriodDaily  NarrativePeriod = "daily"
	PeriodWeekly NarrativePeriod = "weekly"
)

// KeyPoint is one narrative bullet, tagged to a metric and domain.
type KeyPoint struct {
	Text      string
	MetricKey string
	DomainKey string
}

// NarrativeAction is a suggested next step surfaced in a narrative.
type NarrativeAction struct {
	Action     string
	Rationale  string
	MetricKey  string
	ClaimLevel int
}

// NarrativeRisk is a risk callout surfaced in a narrative.
type NarrativeRisk struct {
	Text     string
	Severity string
}

// NarrativeMetadata carries non-control-flow descriptive metadata.
type NarrativeMetadata struct {
	DomainStatuses map[string]string
	Coverage       float64
	Counts         map[string]int
}

// Narrative is a governed, period-scoped summary (§3).
type Narrative struct {
	ID          string
	User        string
	PeriodType  NarrativePeriod
	PeriodStart time.Time
	PeriodEnd   time.Time
	Title       string
	Summary     string
	KeyPoints   []KeyPoint
	Drivers     []string
	Actions     []NarrativeAction
	Risks       []NarrativeRisk
	Metadata    NarrativeMetadata
}

// TrustComponents are the four weighted sub-scores of a TrustScore.
type TrustComponents struct {
	DataCoverage      float64
	Adherence         float64
	EvaluationSuccess float64
	Stability         float64
}

// TrustScore is the weekly rollup of engagement/evaluation health (§3).
type TrustScore struct {
	User          string
	Overall       float64
	Level         string // "high" | "medium" | "low"
	Components    TrustComponents
	LastUpdatedAt time.Time
}

// JobStatus is a scheduled job run's lifecycle state.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobSkipped   JobStatus = "skipped"
)

// JobRun is one scheduler execution record (§3).
type JobRun struct {
	ID             string
	JobID          string
	IdempotencyKey string
	Status         JobStatus
	StartedAt      *time.Time
	CompletedAt    *time.Time
	Duration       time.Duration
	ResultSummary  string
	Error          string
}

// AuditEvent links a produced entity to the inputs that produced it (§3).
type AuditEvent struct {
	ID         string
	User       string
	EntityType string // "insight" | "evaluation" | "narrative"
	EntityID   string
	Action     string
	Detail     map[string]string
	CreatedAt  time.Time
}

// ExplanationEdge links a produced entity to one piece of source data,
// detector, threshold, or safety check that contributed to it.
type ExplanationEdge struct {
	FromEntityType string
	FromEntityID   string
	ToKind         string // "metric" | "detector" | "threshold" | "safety_check" | "data_point"
	ToRef          string
	CreatedAt      time.Time
}

// ProviderToken is an encrypted OAuth token for a vendor provider (§6).
type ProviderToken struct {
	User                  string
	Provider              string
	AccessTokenEncrypted  []byte
	RefreshTokenEncrypted []byte
	TokenType             string
	Scope                 string
	ExpiresAt             *time.Time
}

// DailyCheckIn is a user's self-reported daily behavior log, the primary
// feature source for the attribution engine's behavioral drivers (§4.10).
type DailyCheckIn struct {
	User      string
	Date      time.Time // truncated to the day
	Behaviors map[string]float64
}

// NotificationOutboxItem is a queued notification awaiting dispatch
// (supplemented feature, SPEC_FULL.md §4.20).
type NotificationOutboxItem struct {
	ID         string
	User       string
	Channel    string
	Payload    string
	DedupeKey  string
	Dispatched bool
	Attempts   int
	LastError  string
	CreatedAt  time.Time
}
