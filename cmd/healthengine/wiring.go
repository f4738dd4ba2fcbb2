package main

import (
	"fmt"
	"os"
	"time"

	"github.com/healthlattice/healthengine/internal/apiserver"
	"github.com/healthlattice/healthengine/internal/attribution"
	"github.com/healthlattice/healthengine/internal/audit"
	"github.com/healthlattice/healthengine/internal/baseline"
	"github.com/healthlattice/healthengine/internal/causalmemory"
	"github.com/healthlattice/healthengine/internal/config"
	"github.com/healthlattice/healthengine/internal/consent"
	"github.com/healthlattice/healthengine/internal/evaluation"
	"github.com/healthlattice/healthengine/internal/ingestion"
	"github.com/healthlattice/healthengine/internal/logging"
	"github.com/healthlattice/healthengine/internal/looprunner"
	"github.com/healthlattice/healthengine/internal/metricreg"
	"github.com/healthlattice/healthengine/internal/narrative"
	"github.com/healthlattice/healthengine/internal/providernorm"
	"github.com/healthlattice/healthengine/internal/scheduler"
	"github.com/healthlattice/healthengine/internal/store"
	"github.com/healthlattice/healthengine/internal/suppression"
	"github.com/healthlattice/healthengine/internal/trust"
)

// Engine bundles every component wired from one store backend, the
// shared dependency-injection struct every subcommand builds once from
// flags/config and then drives (run-loop calls LoopRunner directly, serve
// mounts Handlers, scheduler registers scheduler.Deps).
type Engine struct {
	Config       config.Config
	Log          *logging.Logger
	Repos        store.Repositories
	Registry     *metricreg.Registry
	Gate         *consent.Gate
	Providers    map[string]providernorm.Adapter
	Ingestion    *ingestion.Service
	Baselines    *baseline.Service
	LoopRunner   *looprunner.Service
	Evaluation   *evaluation.Service
	Attribution  *attribution.Service
	CausalMemory *causalmemory.Service
	Narrative    *narrative.Service
	Trust        *trust.Service
	Audit        *audit.Service
	Outbox       *audit.Outbox
	Scheduler    *scheduler.Scheduler

	closers []func() error
}

// Close releases every resource opened while building e (badger/influx
// handles, log files), in the reverse order they were opened.
func (e *Engine) Close() error {
	var firstErr error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// backendOptions are the store-backend choices resolved from flags/env
// before buildEngine runs.
type backendOptions struct {
	backend  string // "memory" | "badger"
	dataDir  string // badger path, used when backend == "badger"
	inMemory bool   // badger in-memory mode, for ingest-demo/tests

	influxURL    string
	influxToken  string
	influxOrg    string
	influxBucket string
}

// buildEngine loads config, opens the selected store backend, and wires
// every service constructor in dependency order (matching the
// ingestion -> baselines -> loop runner -> evaluation/attribution ->
// causal memory -> narrative -> trust -> audit build order the services
// were developed in).
func buildEngine(configPath string, opts backendOptions) (*Engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logging.New(logging.Config{Service: "healthengine"})

	e := &Engine{Config: cfg, Log: log, Registry: metricreg.Default()}
	e.closers = append(e.closers, log.Close)

	if err := e.openStore(opts); err != nil {
		return nil, err
	}

	e.Gate = consent.NewGate(e.Repos.Consent)
	e.Providers = map[string]providernorm.Adapter{"demo": providernorm.NewDemoAdapter()}

	now := time.Now
	e.Ingestion = ingestion.NewService(e.Gate, e.Registry, e.Repos.DataPoints, e.Repos.Provenance, now)
	e.Baselines = baseline.NewService(e.Registry, e.Repos.DataPoints, e.Repos.Baselines, now)
	e.LoopRunner = looprunner.NewService(
		e.Gate, e.Registry, e.Repos.DataPoints, e.Repos.Baselines, e.Repos.Insights, e.Repos.Interventions, e.Repos.Audit,
		suppression.NewSuppressor(e.Repos.Insights, now), log, now,
	)
	e.Evaluation = evaluation.NewService(e.Registry, e.Repos.DataPoints, e.Repos.Experiments, e.Repos.Evaluations, e.Repos.Audit, now)
	e.Attribution = attribution.NewService(e.Registry, e.Repos.DataPoints, e.Repos.CheckIns, e.Repos.Experiments, e.Repos.Interventions, e.Repos.Drivers, e.Repos.Baselines, log, now)
	e.CausalMemory = causalmemory.NewService(e.Repos.Experiments, e.Repos.Interventions, e.Repos.CausalMemory, e.Repos.Audit, now)
	e.Narrative = narrative.NewService(e.Registry, e.Repos.Insights, e.Repos.Evaluations, e.Repos.Drivers, e.Repos.CheckIns, e.Repos.DataPoints, e.Repos.Baselines, e.Repos.Narratives, e.Repos.Audit, now)
	e.Trust = trust.NewService(e.Registry, e.Repos.DataPoints, e.Repos.Experiments, e.Repos.Evaluations, e.Repos.CausalMemory, e.Repos.Trust, now)
	e.Audit = audit.NewService(e.Repos.Audit, log)
	e.Outbox = audit.NewOutbox(e.Repos.NotificationBox, map[string]audit.Dispatcher{
		"push": audit.NewConsoleDispatcher(log),
	})

	e.Scheduler = scheduler.New(e.Repos.JobRuns, log, now)
	scheduler.RegisterDefaults(e.Scheduler, &scheduler.Deps{
		Repos: e.Repos, LoopRunner: e.LoopRunner, Baselines: e.Baselines, Evaluations: e.Evaluation,
		CausalMemory: e.CausalMemory, Attribution: e.Attribution, Narrative: e.Narrative, Trust: e.Trust,
		Outbox: e.Outbox, Providers: providerSlice(e.Providers), Log: log, Now: now,
	}, scheduler.DefaultIntervals())

	return e, nil
}

func providerSlice(m map[string]providernorm.Adapter) []providernorm.Adapter {
	out := make([]providernorm.Adapter, 0, len(m))
	for _, a := range m {
		out = append(out, a)
	}
	return out
}

// openStore opens the selected backend and assigns e.Repos, registering
// any handle that needs closing.
func (e *Engine) openStore(opts backendOptions) error {
	switch opts.backend {
	case "", "memory":
		mem := store.NewMemoryStore()
		e.Repos = mem.Repositories()
		return nil
	case "badger":
		return e.openBadgerStore(opts)
	default:
		return fmt.Errorf("unknown backend %q (want memory or badger)", opts.backend)
	}
}

func (e *Engine) openBadgerStore(opts backendOptions) error {
	cfg := store.DefaultBadgerConfig(opts.dataDir)
	if opts.inMemory {
		cfg = store.InMemoryBadgerConfig()
	} else if opts.dataDir == "" {
		return fmt.Errorf("--data-dir is required for the badger backend")
	}
	bs, err := store.OpenBadgerStore(cfg)
	if err != nil {
		return fmt.Errorf("open badger store: %w", err)
	}
	e.closers = append(e.closers, bs.Close)
	e.Repos = bs.Repositories()

	// internal/config.Config.TimeseriesBackend ("memory" | "influx")
	// already names this choice; badger has no efficient range-query
	// story for a time series (§6's "relational tables ... JSON
	// columns" is approximated by badger's KV layout everywhere except
	// the time series), so the badger store backend pairs with either
	// an in-memory DataPointRepository or a TimeseriesStore depending
	// on that config field, never badger itself.
	if e.Config.TimeseriesBackend != "influx" {
		e.Repos.DataPoints = store.NewMemoryStore().Repositories().DataPoints
		return nil
	}
	if opts.influxURL == "" {
		opts.influxURL = os.Getenv("INFLUX_URL")
		opts.influxToken = os.Getenv("INFLUX_TOKEN")
		opts.influxOrg = os.Getenv("INFLUX_ORG")
		opts.influxBucket = os.Getenv("INFLUX_BUCKET")
	}
	ts, err := store.NewTimeseriesStore(store.InfluxConfig{
		URL: opts.influxURL, Token: opts.influxToken, Org: opts.influxOrg, Bucket: opts.influxBucket,
	})
	if err != nil {
		return fmt.Errorf("open timeseries store: %w", err)
	}
	e.closers = append(e.closers, func() error { ts.Close(); return nil })
	e.Repos.DataPoints = ts
	return nil
}

// handlers builds the apiserver.Handlers wrapping e's services.
func (e *Engine) handlers() *apiserver.Handlers {
	return &apiserver.Handlers{
		Repos:      e.Repos,
		Gate:       e.Gate,
		LoopRunner: e.LoopRunner,
		Ingestion:  e.Ingestion,
		Evaluation: e.Evaluation,
		Trust:      e.Trust,
		Audit:      e.Audit,
		Providers:  e.Providers,
		Log:        e.Log,
	}
}
