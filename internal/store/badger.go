package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerConfig configures the embedded KV store backing BadgerStore.
type BadgerConfig struct {
	// InMemory runs badger with no on-disk footprint, for tests and the
	// ingest-demo CLI command.
	InMemory bool
	// Path is the on-disk directory. Required unless InMemory is true.
	Path string
	// SyncWrites forces fsync on every commit; production default true.
	SyncWrites bool
}

// DefaultBadgerConfig returns production defaults: durable, fsync'd writes.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{Path: path, SyncWrites: true}
}

// InMemoryBadgerConfig returns a config for ephemeral, in-process use.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true, SyncWrites: false}
}

// BadgerStore is the durable, embedded-KV-backed implementation of every
// entity repository except DataPointRepository (HealthDataPoint time
// series live in the influx-backed TimeseriesStore, see influx.go, or in
// a MemoryStore, as cmd/healthengine selects from config).
// Values are JSON-encoded; keys are "<prefix>:<...>" composite strings so
// a single badger.DB can serve every entity type with prefix iteration.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (or creates) the embedded store at cfg.Path, or
// an in-memory instance when cfg.InMemory is set.
func OpenBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	opts := badger.DefaultOptions(cfg.Path)
	opts = opts.WithInMemory(cfg.InMemory).WithSyncWrites(cfg.SyncWrites).WithLogger(nil)
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("badgerstore: path is required unless InMemory is set")
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: open: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Close releases the underlying badger.DB handle.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// RunValueGC runs one round of badger's value-log garbage collection.
// No scheduler job calls it; the scheduler registers no housekeeping job.
func (s *BadgerStore) RunValueGC(discardRatio float64) error {
	err := s.db.RunValueLogGC(discardRatio)
	if err == badger.ErrNoRewrite {
		return nil
	}
	return err
}

func putJSON(txn *badger.Txn, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("badgerstore: marshal %s: %w", key, err)
	}
	return txn.Set([]byte(key), b)
}

func getJSON(txn *badger.Txn, key string, v any) (bool, error) {
	item, err := txn.Get([]byte(key))
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("badgerstore: get %s: %w", key, err)
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
	if err != nil {
		return false, fmt.Errorf("badgerstore: unmarshal %s: %w", key, err)
	}
	return true, nil
}

func scanPrefix(db *badger.DB, prefix string, each func(key string, val []byte) error) error {
	return db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			key := string(item.Key())
			if err := item.Value(func(val []byte) error {
				return each(key, val)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// Repositories returns a Repositories bundle backed by this BadgerStore
// for every field except DataPoints, which callers should source from a
// TimeseriesStore instead.
func (s *BadgerStore) Repositories() Repositories {
	return Repositories{
		Consent:         s,
		Provenance:      badgerProvenance{s},
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

func (s *BadgerStore) Get(ctx context.Context, user string) (Consent, bool, error) {
	var c Consent
	found := false
	key := "consent:" + user
	err := s.db.View(func(txn *badger.Txn) error {
		ok, err := getJSON(txn, key, &c)
		if err != nil {
			return err
		}
		found = ok
		return nil
	})
	return c, found, err
}

func (s *BadgerStore) Put(ctx context.Context, c Consent) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return putJSON(txn, "consent:"+c.User, c)
	})
}

func (s *BadgerStore) ListUsers(ctx context.Context) ([]string, error) {
	var out []string
	err := scanPrefix(s.db, "consent:", func(key string, val []byte) error {
		out = append(out, strings.TrimPrefix(key, "consent:"))
		return nil
	})
	sort.Strings(out)
	return out, err
}

// --- ProvenanceRepository ---
// Implemented on a thin view type, since Get/Put are already taken by
// ConsentRepository's methods on *BadgerStore.

type badgerProvenance struct{ s *BadgerStore }

func (p badgerProvenance) Put(ctx context.Context, rec DataProvenance) error {
	key := "provenance:" + rec.IngestionRunID + "|" + rec.SourceRecordID
	return p.s.db.Update(func(txn *badger.Txn) error { return putJSON(txn, key, rec) })
}

func (p badgerProvenance) Get(ctx context.Context, provenanceID string) (DataProvenance, error) {
	var rec DataProvenance
	err := p.s.db.View(func(txn *badger.Txn) error {
		ok, err := getJSON(txn, "provenance:"+provenanceID, &rec)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("provenance not found: %s", provenanceID)
		}
		return nil
	})
	return rec, err
}

// --- BaselineRepository ---

func (s *BadgerStore) GetBaseline(ctx context.Context, user, metricKey string) (Baseline, bool, error) {
	var b Baseline
	var ok bool
	err := s.db.View(func(txn *badger.Txn) error {
		var ierr error
		ok, ierr = getJSON(txn, "baseline:"+userMetricKey(user, metricKey), &b)
		return ierr
	})
	return b, ok, err
}

func (s *BadgerStore) PutBaseline(ctx context.Context, b Baseline) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return putJSON(txn, "baseline:"+userMetricKey(b.User, b.MetricKey), b)
	})
}

// --- InsightRepository ---

func (s *BadgerStore) PutInsight(ctx context.Context, in Insight) error {
	key := fmt.Sprintf("insight:%s:%020d:%s", in.User, in.GeneratedAt.UnixNano(), in.ID)
	return s.db.Update(func(txn *badger.Txn) error { return putJSON(txn, key, in) })
}

func (s *BadgerStore) ListByUser(ctx context.Context, user string, since time.Time) ([]Insight, error) {
	var out []Insight
	err := scanPrefix(s.db, "insight:"+user+":", func(key string, val []byte) error {
		var in Insight
		if err := json.Unmarshal(val, &in); err != nil {
			return err
		}
		if !in.GeneratedAt.Before(since) {
			out = append(out, in)
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) CountSince(ctx context.Context, user string, since time.Time, types ...InsightType) (int, error) {
	wanted := make(map[InsightType]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}
	n := 0
	err := scanPrefix(s.db, "insight:"+user+":", func(key string, val []byte) error {
		var in Insight
		if err := json.Unmarshal(val, &in); err != nil {
			return err
		}
		if in.GeneratedAt.Before(since) {
			return nil
		}
		if len(wanted) == 0 || wanted[in.Type] {
			n++
		}
		return nil
	})
	return n, err
}

// --- InterventionRepository ---

func (s *BadgerStore) PutIntervention(ctx context.Context, iv Intervention) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return putJSON(txn, "intervention:"+iv.ID, iv)
	})
}

func (s *BadgerStore) GetIntervention(ctx context.Context, id string) (Intervention, error) {
	var iv Intervention
	err := s.db.View(func(txn *badger.Txn) error {
		ok, err := getJSON(txn, "intervention:"+id, &iv)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("intervention not found: %s", id)
		}
		return nil
	})
	return iv, err
}

func (s *BadgerStore) ListInterventionsByUser(ctx context.Context, user string) ([]Intervention, error) {
	var out []Intervention
	err := scanPrefix(s.db, "intervention:", func(key string, val []byte) error {
		var iv Intervention
		if err := json.Unmarshal(val, &iv); err != nil {
			return err
		}
		if iv.User == user {
			out = append(out, iv)
		}
		return nil
	})
	return out, err
}

// --- ExperimentRepository ---

func (s *BadgerStore) PutExperiment(ctx context.Context, e Experiment) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return putJSON(txn, "experiment:"+e.ID, e)
	})
}

func (s *BadgerStore) GetExperiment(ctx context.Context, id string) (Experiment, error) {
	var e Experiment
	err := s.db.View(func(txn *badger.Txn) error {
		ok, err := getJSON(txn, "experiment:"+id, &e)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("experiment not found: %s", id)
		}
		return nil
	})
	return e, err
}

func (s *BadgerStore) ListActiveByUser(ctx context.Context, user string) ([]Experiment, error) {
	var out []Experiment
	err := scanPrefix(s.db, "experiment:", func(key string, val []byte) error {
		var e Experiment
		if err := json.Unmarshal(val, &e); err != nil {
			return err
		}
		if e.User == user && e.Status == ExperimentActive {
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) ListAllByUser(ctx context.Context, user string) ([]Experiment, error) {
	var out []Experiment
	err := scanPrefix(s.db, "experiment:", func(key string, val []byte) error {
		var e Experiment
		if err := json.Unmarshal(val, &e); err != nil {
			return err
		}
		if e.User == user {
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) PutAdherence(ctx context.Context, a AdherenceEvent) error {
	key := fmt.Sprintf("adherence:%s:%020d", a.Experiment, a.Timestamp.UnixNano())
	return s.db.Update(func(txn *badger.Txn) error { return putJSON(txn, key, a) })
}

func (s *BadgerStore) AdherenceSince(ctx context.Context, experimentID string, since time.Time) ([]AdherenceEvent, error) {
	var out []AdherenceEvent
	err := scanPrefix(s.db, "adherence:"+experimentID+":", func(key string, val []byte) error {
		var a AdherenceEvent
		if err := json.Unmarshal(val, &a); err != nil {
			return err
		}
		if !a.Timestamp.Before(since) {
			out = append(out, a)
		}
		return nil
	})
	return out, err
}

// --- EvaluationRepository ---

func (s *BadgerStore) PutEvaluation(ctx context.Context, e EvaluationResult) error {
	key := fmt.Sprintf("evaluation:%s:%020d:%s", e.Experiment, e.CreatedAt.UnixNano(), e.ID)
	return s.db.Update(func(txn *badger.Txn) error { return putJSON(txn, key, e) })
}

func (s *BadgerStore) ListByExperiment(ctx context.Context, experimentID string) ([]EvaluationResult, error) {
	var out []EvaluationResult
	err := scanPrefix(s.db, "evaluation:"+experimentID+":", func(key string, val []byte) error {
		var e EvaluationResult
		if err := json.Unmarshal(val, &e); err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	return out, err
}

// ListByUser scans every evaluation (keyed by experiment, not user) and
// filters, since evaluations have no per-user key prefix to seek on.
func (s *BadgerStore) ListByUser(ctx context.Context, user string, since time.Time) ([]EvaluationResult, error) {
	var out []EvaluationResult
	err := scanPrefix(s.db, "evaluation:", func(key string, val []byte) error {
		var e EvaluationResult
		if err := json.Unmarshal(val, &e); err != nil {
			return err
		}
		if e.User == user && !e.CreatedAt.Before(since) {
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

// --- DriverRepository ---

func (s *BadgerStore) PutDriver(ctx context.Context, d PersonalDriver) error {
	key := fmt.Sprintf("driver:%s:%s:%s", d.User, d.OutcomeMetric, d.ID)
	return s.db.Update(func(txn *badger.Txn) error { return putJSON(txn, key, d) })
}

func (s *BadgerStore) ListDriversByUser(ctx context.Context, user, outcomeMetric string) ([]PersonalDriver, error) {
	prefix := "driver:" + user + ":"
	if outcomeMetric != "" {
		prefix += outcomeMetric + ":"
	}
	var out []PersonalDriver
	err := scanPrefix(s.db, prefix, func(key string, val []byte) error {
		var d PersonalDriver
		if err := json.Unmarshal(val, &d); err != nil {
			return err
		}
		out = append(out, d)
		return nil
	})
	return out, err
}

func (s *BadgerStore) ReplaceDriversForUser(ctx context.Context, user string, drivers []PersonalDriver) error {
	return s.db.Update(func(txn *badger.Txn) error {
		prefix := []byte("driver:" + user + ":")
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		var stale [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			k := it.Item().KeyCopy(nil)
			stale = append(stale, k)
		}
		it.Close()
		for _, k := range stale {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		for _, d := range drivers {
			d.User = user
			key := fmt.Sprintf("driver:%s:%s:%s", d.User, d.OutcomeMetric, d.ID)
			if err := putJSON(txn, key, d); err != nil {
				return err
			}
		}
		return nil
	})
}

// --- CheckInRepository ---

func (s *BadgerStore) PutCheckIn(ctx context.Context, c DailyCheckIn) error {
	day := c.Date.Truncate(24 * time.Hour)
	c.Date = day
	key := fmt.Sprintf("checkin:%s:%s", c.User, day.Format("2006-01-02"))
	return s.db.Update(func(txn *badger.Txn) error { return putJSON(txn, key, c) })
}

func (s *BadgerStore) ListCheckIns(ctx context.Context, user string, from, to time.Time) ([]DailyCheckIn, error) {
	var out []DailyCheckIn
	err := scanPrefix(s.db, "checkin:"+user+":", func(key string, val []byte) error {
		var c DailyCheckIn
		if err := json.Unmarshal(val, &c); err != nil {
			return err
		}
		if !c.Date.Before(from) && c.Date.Before(to) {
			out = append(out, c)
		}
		return nil
	})
	return out, err
}

// --- CausalMemoryRepository ---

func (s *BadgerStore) GetCausalMemory(ctx context.Context, user, driverKey, metricKey string) (CausalMemory, bool, error) {
	var c CausalMemory
	var ok bool
	err := s.db.View(func(txn *badger.Txn) error {
		var ierr error
		ok, ierr = getJSON(txn, "causal:"+user+"|"+driverKey+"|"+metricKey, &c)
		return ierr
	})
	return c, ok, err
}

func (s *BadgerStore) PutCausalMemory(ctx context.Context, c CausalMemory) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return putJSON(txn, "causal:"+c.User+"|"+c.DriverKey+"|"+c.MetricKey, c)
	})
}

func (s *BadgerStore) ListCausalMemoryByUser(ctx context.Context, user string) ([]CausalMemory, error) {
	var out []CausalMemory
	err := scanPrefix(s.db, "causal:"+user+"|", func(key string, val []byte) error {
		var c CausalMemory
		if err := json.Unmarshal(val, &c); err != nil {
			return err
		}
		out = append(out, c)
		return nil
	})
	return out, err
}

// --- NarrativeRepository ---

// PutNarrative upserts by (user, period_type, start, end): the key omits
// the narrative ID so a re-synthesized narrative for the same period
// overwrites the prior row instead of accumulating duplicates (§4.13
// step 7).
func (s *BadgerStore) PutNarrative(ctx context.Context, n Narrative) error {
	key := fmt.Sprintf("narrative:%s:%s:%020d:%020d", n.User, n.PeriodType, n.PeriodStart.UnixNano(), n.PeriodEnd.UnixNano())
	return s.db.Update(func(txn *badger.Txn) error { return putJSON(txn, key, n) })
}

func (s *BadgerStore) ListNarrativesByUser(ctx context.Context, user string, periodType NarrativePeriod, since time.Time) ([]Narrative, error) {
	var out []Narrative
	err := scanPrefix(s.db, fmt.Sprintf("narrative:%s:%s:", user, periodType), func(key string, val []byte) error {
		var n Narrative
		if err := json.Unmarshal(val, &n); err != nil {
			return err
		}
		if !n.PeriodStart.Before(since) {
			out = append(out, n)
		}
		return nil
	})
	return out, err
}

// --- TrustRepository ---

func (s *BadgerStore) GetTrust(ctx context.Context, user string) (TrustScore, bool, error) {
	var t TrustScore
	var ok bool
	err := s.db.View(func(txn *badger.Txn) error {
		var ierr error
		ok, ierr = getJSON(txn, "trust:"+user, &t)
		return ierr
	})
	return t, ok, err
}

func (s *BadgerStore) PutTrust(ctx context.Context, t TrustScore) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return putJSON(txn, "trust:"+t.User, t)
	})
}

// --- JobRunRepository ---

func (s *BadgerStore) GetByIdempotencyKey(ctx context.Context, key string) (JobRun, bool, error) {
	var r JobRun
	var ok bool
	err := s.db.View(func(txn *badger.Txn) error {
		var ierr error
		ok, ierr = getJSON(txn, "jobrun:"+key, &r)
		return ierr
	})
	return r, ok, err
}

func (s *BadgerStore) PutJobRun(ctx context.Context, r JobRun) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return putJSON(txn, "jobrun:"+r.IdempotencyKey, r)
	})
}

// --- AuditRepository ---

func (s *BadgerStore) PutEvent(ctx context.Context, e AuditEvent) error {
	key := fmt.Sprintf("audit_event:%s:%020d:%s", e.EntityID, e.CreatedAt.UnixNano(), e.ID)
	return s.db.Update(func(txn *badger.Txn) error { return putJSON(txn, key, e) })
}

func (s *BadgerStore) PutEdges(ctx context.Context, edges []ExplanationEdge) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, e := range edges {
			key := fmt.Sprintf("audit_edge:%s:%s:%020d", e.FromEntityType, e.FromEntityID, e.CreatedAt.UnixNano())
			if err := putJSON(txn, key, e); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) ListByEntity(ctx context.Context, entityType, entityID string) ([]ExplanationEdge, error) {
	var out []ExplanationEdge
	err := scanPrefix(s.db, "audit_edge:"+entityType+":"+entityID+":", func(key string, val []byte) error {
		var e ExplanationEdge
		if err := json.Unmarshal(val, &e); err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	return out, err
}

// --- ProviderTokenRepository ---

func (s *BadgerStore) GetToken(ctx context.Context, user, provider string) (ProviderToken, bool, error) {
	var t ProviderToken
	var ok bool
	err := s.db.View(func(txn *badger.Txn) error {
		var ierr error
		ok, ierr = getJSON(txn, "token:"+user+"|"+provider, &t)
		return ierr
	})
	return t, ok, err
}

func (s *BadgerStore) PutToken(ctx context.Context, t ProviderToken) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return putJSON(txn, "token:"+t.User+"|"+t.Provider, t)
	})
}

func (s *BadgerStore) DeleteToken(ctx context.Context, user, provider string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte("token:" + user + "|" + provider))
	})
}

// --- NotificationOutboxRepository ---

func (s *BadgerStore) Enqueue(ctx context.Context, item NotificationOutboxItem) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return putJSON(txn, "outbox:"+item.ID, item)
	})
}

func (s *BadgerStore) ListPending(ctx context.Context, limit int) ([]NotificationOutboxItem, error) {
	var out []NotificationOutboxItem
	err := scanPrefix(s.db, "outbox:", func(key string, val []byte) error {
		var it NotificationOutboxItem
		if err := json.Unmarshal(val, &it); err != nil {
			return err
		}
		if !it.Dispatched {
			out = append(out, it)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *BadgerStore) MarkDispatched(ctx context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var it NotificationOutboxItem
		ok, err := getJSON(txn, "outbox:"+id, &it)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("outbox item not found: %s", id)
		}
		it.Dispatched = true
		return putJSON(txn, "outbox:"+id, it)
	})
}

func (s *BadgerStore) MarkFailed(ctx context.Context, id string, reason string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var it NotificationOutboxItem
		ok, err := getJSON(txn, "outbox:"+id, &it)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("outbox item not found: %s", id)
		}
		it.Attempts++
		it.LastError = reason
		return putJSON(txn, "outbox:"+id, it)
	})
}

func (s *BadgerStore) GetByDedupeKey(ctx context.Context, dedupeKey string) (NotificationOutboxItem, bool, error) {
	var found NotificationOutboxItem
	ok := false
	err := scanPrefix(s.db, "outbox:", func(key string, val []byte) error {
		if ok {
			return nil
		}
		var it NotificationOutboxItem
		if err := json.Unmarshal(val, &it); err != nil {
			return err
		}
		if it.DedupeKey != "" && it.DedupeKey == dedupeKey {
			found = it
			ok = true
		}
		return nil
	})
	return found, ok, err
}
