package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process, mutex-guarded implementation of every
// repository interface, used for tests and the ingest-demo CLI command.
// It is not durable: restart loses all state. Production deployments use
// the badger-backed Store (badger.go) for entity data and the influx
// store (influx.go) for HealthDataPoint time series.
type MemoryStore struct {
	mu sync.RWMutex

	consent       map[string]Consent
	points        map[string][]HealthDataPoint // key: user|metricKey
	provenance    map[string]DataProvenance
	baselines     map[string]Baseline // key: user|metricKey
	insights      map[string][]Insight
	interventions map[string]Intervention
	experiments   map[string]Experiment
	adherence     map[string][]AdherenceEvent // key: experimentID
	evaluations   map[string][]EvaluationResult
	drivers       map[string][]PersonalDriver
	causalMemory  map[string]CausalMemory // key: user|driverKey|metricKey
	narratives    map[string][]Narrative
	trust         map[string]TrustScore
	jobRuns       map[string]JobRun // key: idempotencyKey
	auditEvents   []AuditEvent
	edges         []ExplanationEdge
	providerTok   map[string]ProviderToken // key: user|provider
	outbox        map[string]NotificationOutboxItem
	checkins      map[string][]DailyCheckIn // key: user
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		consent:       make(map[string]Consent),
		points:        make(map[string][]HealthDataPoint),
		provenance:    make(map[string]DataProvenance),
		baselines:     make(map[string]Baseline),
		insights:      make(map[string][]Insight),
		interventions: make(map[string]Intervention),
		experiments:   make(map[string]Experiment),
		adherence:     make(map[string][]AdherenceEvent),
		evaluations:   make(map[string][]EvaluationResult),
		drivers:       make(map[string][]PersonalDriver),
		causalMemory:  make(map[string]CausalMemory),
		narratives:    make(map[string][]Narrative),
		trust:         make(map[string]TrustScore),
		jobRuns:       make(map[string]JobRun),
		providerTok:   make(map[string]ProviderToken),
		outbox:        make(map[string]NotificationOutboxItem),
		checkins:      make(map[string][]DailyCheckIn),
	}
}

func userMetricKey(user, metricKey string) string { return user + "|" + metricKey }

// Repositories returns a Repositories bundle whose every field is backed
// by this MemoryStore.
func (s *MemoryStore) Repositories() Repositories {
	return Repositories{
		Consent:         s,
		DataPoints:      s,
		Provenance:      Provenance{s},
		Baselines:       s,
		Insights:        s,
		Interventions:   s,
		Experiments:     s,
		Evaluations:     s,
		Drivers:         s,
		CausalMemory:    s,
		Narratives:      s,
		Trust:           s,
		JobRuns:         s,
		Audit:           s,
		ProviderTokens:  s,
		NotificationBox: s,
		CheckIns:        s,
	}
}

// --- ConsentRepository ---

func (s *MemoryStore) Get(ctx context.Context, user string) (Consent, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.consent[user]
	if !ok {
		return Consent{}, false, nil
	}
	return c, true, nil
}

func (s *MemoryStore) Put(ctx context.Context, c Consent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consent[c.User] = c
	return nil
}

func (s *MemoryStore) ListUsers(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.consent))
	for user := range s.consent {
		out = append(out, user)
	}
	sort.Strings(out)
	return out, nil
}

// --- DataPointRepository ---

func (s *MemoryStore) Insert(ctx context.Context, pts []HealthDataPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range pts {
		key := userMetricKey(p.User, p.MetricKey)
		s.points[key] = append(s.points[key], p)
		sort.Slice(s.points[key], func(i, j int) bool {
			return s.points[key][i].Timestamp.Before(s.points[key][j].Timestamp)
		})
	}
	return nil
}

func (s *MemoryStore) Range(ctx context.Context, user, metricKey string, from, to time.Time) ([]HealthDataPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []HealthDataPoint
	for _, p := range s.points[userMetricKey(user, metricKey)] {
		if !p.Timestamp.Before(from) && p.Timestamp.Before(to) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *MemoryStore) LatestTimestamp(ctx context.Context, user, metricKey string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pts := s.points[userMetricKey(user, metricKey)]
	if len(pts) == 0 {
		return time.Time{}, false, nil
	}
	return pts[len(pts)-1].Timestamp, true, nil
}

// --- ProvenanceRepository ---
// (Put/Get reuse the same method set as Consent's; disambiguated below
// with provenance-specific names since Go requires unique method names
// per type — so ProvenanceRepository is implemented on a thin wrapper.)

// Provenance is a view of MemoryStore implementing ProvenanceRepository.
type Provenance struct{ s *MemoryStore }

// AsProvenanceRepository exposes the MemoryStore's provenance storage.
func (s *MemoryStore) AsProvenanceRepository() ProvenanceRepository { return Provenance{s} }

func (p Provenance) Put(ctx context.Context, rec DataProvenance) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	p.s.provenance[rec.IngestionRunID+"|"+rec.SourceRecordID] = rec
	return nil
}

func (p Provenance) Get(ctx context.Context, provenanceID string) (DataProvenance, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()
	rec, ok := p.s.provenance[provenanceID]
	if !ok {
		return DataProvenance{}, fmt.Errorf("provenance not found: %s", provenanceID)
	}
	return rec, nil
}

// --- BaselineRepository ---

func (s *MemoryStore) GetBaseline(ctx context.Context, user, metricKey string) (Baseline, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.baselines[userMetricKey(user, metricKey)]
	return b, ok, nil
}

func (s *MemoryStore) PutBaseline(ctx context.Context, b Baseline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baselines[userMetricKey(b.User, b.MetricKey)] = b
	return nil
}

// --- InsightRepository ---

func (s *MemoryStore) PutInsight(ctx context.Context, in Insight) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	s.insights[in.User] = append(s.insights[in.User], in)
	return nil
}

func (s *MemoryStore) ListByUser(ctx context.Context, user string, since time.Time) ([]Insight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Insight
	for _, in := range s.insights[user] {
		if !in.GeneratedAt.Before(since) {
			out = append(out, in)
		}
	}
	return out, nil
}

func (s *MemoryStore) CountSince(ctx context.Context, user string, since time.Time, types ...InsightType) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wanted := make(map[InsightType]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}
	n := 0
	for _, in := range s.insights[user] {
		if in.GeneratedAt.Before(since) {
			continue
		}
		if len(wanted) == 0 || wanted[in.Type] {
			n++
		}
	}
	return n, nil
}

// --- InterventionRepository ---

func (s *MemoryStore) PutIntervention(ctx context.Context, iv Intervention) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if iv.ID == "" {
		iv.ID = uuid.NewString()
	}
	s.interventions[iv.ID] = iv
	return nil
}

func (s *MemoryStore) GetIntervention(ctx context.Context, id string) (Intervention, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	iv, ok := s.interventions[id]
	if !ok {
		return Intervention{}, fmt.Errorf("intervention not found: %s", id)
	}
	return iv, nil
}

func (s *MemoryStore) ListInterventionsByUser(ctx context.Context, user string) ([]Intervention, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Intervention
	for _, iv := range s.interventions {
		if iv.User == user {
			out = append(out, iv)
		}
	}
	return out, nil
}

// --- ExperimentRepository ---

func (s *MemoryStore) PutExperiment(ctx context.Context, e Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	s.experiments[e.ID] = e
	return nil
}

func (s *MemoryStore) GetExperiment(ctx context.Context, id string) (Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.experiments[id]
	if !ok {
		return Experiment{}, fmt.Errorf("experiment not found: %s", id)
	}
	return e, nil
}

func (s *MemoryStore) ListActiveByUser(ctx context.Context, user string) ([]Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Experiment
	for _, e := range s.experiments {
		if e.User == user && e.Status == ExperimentActive {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListAllByUser(ctx context.Context, user string) ([]Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Experiment
	for _, e := range s.experiments {
		if e.User == user {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) PutAdherence(ctx context.Context, a AdherenceEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adherence[a.Experiment] = append(s.adherence[a.Experiment], a)
	return nil
}

func (s *MemoryStore) AdherenceSince(ctx context.Context, experimentID string, since time.Time) ([]AdherenceEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []AdherenceEvent
	for _, a := range s.adherence[experimentID] {
		if !a.Timestamp.Before(since) {
			out = append(out, a)
		}
	}
	return out, nil
}

// --- EvaluationRepository ---

func (s *MemoryStore) PutEvaluation(ctx context.Context, e EvaluationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	s.evaluations[e.Experiment] = append(s.evaluations[e.Experiment], e)
	return nil
}

func (s *MemoryStore) ListByExperiment(ctx context.Context, experimentID string) ([]EvaluationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]EvaluationResult(nil), s.evaluations[experimentID]...), nil
}

func (s *MemoryStore) ListByUser(ctx context.Context, user string, since time.Time) ([]EvaluationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []EvaluationResult
	for _, evals := range s.evaluations {
		for _, e := range evals {
			if e.User == user && !e.CreatedAt.Before(since) {
				out = append(out, e)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- DriverRepository ---

func (s *MemoryStore) PutDriver(ctx context.Context, d PersonalDriver) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	s.drivers[d.User] = append(s.drivers[d.User], d)
	return nil
}

func (s *MemoryStore) ListDriversByUser(ctx context.Context, user, outcomeMetric string) ([]PersonalDriver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []PersonalDriver
	for _, d := range s.drivers[user] {
		if outcomeMetric == "" || d.OutcomeMetric == outcomeMetric {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *MemoryStore) ReplaceDriversForUser(ctx context.Context, user string, drivers []PersonalDriver) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	replaced := make([]PersonalDriver, len(drivers))
	copy(replaced, drivers)
	for i := range replaced {
		if replaced[i].ID == "" {
			replaced[i].ID = uuid.NewString()
		}
		replaced[i].User = user
	}
	s.drivers[user] = replaced
	return nil
}

// --- CheckInRepository ---

func (s *MemoryStore) PutCheckIn(ctx context.Context, c DailyCheckIn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	day := c.Date.Truncate(24 * time.Hour)
	existing := s.checkins[c.User]
	for i, e := range existing {
		if e.Date.Equal(day) {
			existing[i].Behaviors = c.Behaviors
			return nil
		}
	}
	c.Date = day
	s.checkins[c.User] = append(existing, c)
	return nil
}

func (s *MemoryStore) ListCheckIns(ctx context.Context, user string, from, to time.Time) ([]DailyCheckIn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []DailyCheckIn
	for _, c := range s.checkins[user] {
		if !c.Date.Before(from) && c.Date.Before(to) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// --- CausalMemoryRepository ---

func (s *MemoryStore) GetCausalMemory(ctx context.Context, user, driverKey, metricKey string) (CausalMemory, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.causalMemory[user+"|"+driverKey+"|"+metricKey]
	return c, ok, nil
}

func (s *MemoryStore) PutCausalMemory(ctx context.Context, c CausalMemory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.causalMemory[c.User+"|"+c.DriverKey+"|"+c.MetricKey] = c
	return nil
}

func (s *MemoryStore) ListCausalMemoryByUser(ctx context.Context, user string) ([]CausalMemory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []CausalMemory
	for _, c := range s.causalMemory {
		if c.User == user {
			out = append(out, c)
		}
	}
	return out, nil
}

// --- NarrativeRepository ---

// PutNarrative upserts by (user, period_type, start, end): a narrative
// re-synthesized for a period it already covers replaces the existing
// row rather than accumulating duplicates (§4.13 step 7).
func (s *MemoryStore) PutNarrative(ctx context.Context, n Narrative) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	existing := s.narratives[n.User]
	for i, e := range existing {
		if e.PeriodType == n.PeriodType && e.PeriodStart.Equal(n.PeriodStart) && e.PeriodEnd.Equal(n.PeriodEnd) {
			n.ID = e.ID
			existing[i] = n
			return nil
		}
	}
	s.narratives[n.User] = append(existing, n)
	return nil
}

func (s *MemoryStore) ListNarrativesByUser(ctx context.Context, user string, periodType NarrativePeriod, since time.Time) ([]Narrative, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Narrative
	for _, n := range s.narratives[user] {
		if n.PeriodType == periodType && !n.PeriodStart.Before(since) {
			out = append(out, n)
		}
	}
	return out, nil
}

// --- TrustRepository ---

func (s *MemoryStore) GetTrust(ctx context.Context, user string) (TrustScore, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trust[user]
	return t, ok, nil
}

func (s *MemoryStore) PutTrust(ctx context.Context, t TrustScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trust[t.User] = t
	return nil
}

// --- JobRunRepository ---

func (s *MemoryStore) GetByIdempotencyKey(ctx context.Context, key string) (JobRun, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.jobRuns[key]
	return r, ok, nil
}

func (s *MemoryStore) PutJobRun(ctx context.Context, r JobRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	s.jobRuns[r.IdempotencyKey] = r
	return nil
}

// --- AuditRepository ---

func (s *MemoryStore) PutEvent(ctx context.Context, e AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	s.auditEvents = append(s.auditEvents, e)
	return nil
}

func (s *MemoryStore) PutEdges(ctx context.Context, edges []ExplanationEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edges = append(s.edges, edges...)
	return nil
}

func (s *MemoryStore) ListByEntity(ctx context.Context, entityType, entityID string) ([]ExplanationEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ExplanationEdge
	for _, e := range s.edges {
		if e.FromEntityType == entityType && e.FromEntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

// --- ProviderTokenRepository ---

func (s *MemoryStore) GetToken(ctx context.Context, user, provider string) (ProviderToken, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.providerTok[user+"|"+provider]
	return t, ok, nil
}

func (s *MemoryStore) PutToken(ctx context.Context, t ProviderToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providerTok[t.User+"|"+t.Provider] = t
	return nil
}

func (s *MemoryStore) DeleteToken(ctx context.Context, user, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.providerTok, user+"|"+provider)
	return nil
}

// --- NotificationOutboxRepository ---

func (s *MemoryStore) Enqueue(ctx context.Context, item NotificationOutboxItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	s.outbox[item.ID] = item
	return nil
}

func (s *MemoryStore) ListPending(ctx context.Context, limit int) ([]NotificationOutboxItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []NotificationOutboxItem
	for _, it := range s.outbox {
		if !it.Dispatched {
			out = append(out, it)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkDispatched(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.outbox[id]
	if !ok {
		return fmt.Errorf("outbox item not found: %s", id)
	}
	it.Dispatched = true
	s.outbox[id] = it
	return nil
}

func (s *MemoryStore) MarkFailed(ctx context.Context, id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.outbox[id]
	if !ok {
		return fmt.Errorf("outbox item not found: %s", id)
	}
	it.Attempts++
	it.LastError = reason
	s.outbox[id] = it
	return nil
}

func (s *MemoryStore) GetByDedupeKey(ctx context.Context, dedupeKey string) (NotificationOutboxItem, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, it := range s.outbox {
		if it.DedupeKey != "" && it.DedupeKey == dedupeKey {
			return it, true, nil
		}
	}
	return NotificationOutboxItem{}, false, nil
}
