// Package providernorm is the Provider Normalizer (C5): the contract
// every wearable/lab vendor integration implements, plus unit
// normalization into the canonical metric registry's units, and a demo
// adapter that generates deterministic synthetic data for local use.
//
// Grounded on
// original_source/backend/app/integrations/providers/demo.py (demo
// adapter behavior) and
// original_source/backend/app/integrations/base.py-style provider
// contract (HealthDataProvider.fetch_data).
package providernorm

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// NormalizedPoint is one vendor observation after unit/key normalization,
// still shy of becoming a store.HealthDataPoint (ingestion assigns user,
// provenance, and quality score).
type NormalizedPoint struct {
	MetricKey string
	Value     float64
	Unit      string
	Timestamp time.Time
	Source    string
}

// Adapter is the contract every provider integration implements: turn a
// vendor's raw batch payload into normalized points. Adapters own their
// own wire format parsing; Normalize is the single seam ingestion depends
// on.
type Adapter interface {
	Name() string
	Normalize(rawBatch []byte) ([]NormalizedPoint, error)
}

// UnitConversion is a single (fromUnit -> canonicalUnit) linear
// conversion: canonical = raw*Scale + Offset.
type UnitConversion struct {
	Scale  float64
	Offset float64
	Unit   string
}

// conversions maps (metricKey, vendorUnit) -> conversion into the
// registry's canonical unit, covering the vendor unit variants the demo
// adapter and real providers are known to emit.
var conversions = map[string]map[string]UnitConversion{
	"sleep_duration": {
		"hours":   {Scale: 60, Unit: "minutes"},
		"minutes": {Scale: 1, Unit: "minutes"},
	},
	"sleep_efficiency": {
		"ratio":   {Scale: 100, Unit: "percent"},
		"percent": {Scale: 1, Unit: "percent"},
	},
}

// Normalize applies the registered unit conversion for (metricKey, unit),
// returning the value and unit unchanged if no conversion is registered
// (the value is already assumed canonical).
func Normalize(metricKey string, value float64, unit string) (float64, string) {
	byUnit, ok := conversions[metricKey]
	if !ok {
		return value, unit
	}
	conv, ok := byUnit[unit]
	if !ok {
		return value, unit
	}
	return value*conv.Scale + conv.Offset, conv.Unit
}

// DemoScenario names a synthetic data generation profile.
type DemoScenario string

const (
	ScenarioHealthyBaseline DemoScenario = "healthy_baseline"
	ScenarioDecliningSleep  DemoScenario = "declining_sleep"
	ScenarioRecoveringHRV   DemoScenario = "recovering_hrv"
)

// DemoRequest is the JSON shape DemoAdapter.Normalize expects in
// rawBatch: a user-less request describing how many days of synthetic
// data to generate and from what baseline.
type DemoRequest struct {
	Scenario DemoScenario `json:"scenario"`
	Seed     int64        `json:"seed"`
	Days     int          `json:"days"`
	Start    time.Time    `json:"start"`
}

// DemoAdapter generates deterministic synthetic health data for local
// development and the ingest-demo CLI command. cmd/healthengine registers
// it under the name "demo" in every EnvMode; registration is not gated by
// config.EnvMode.
type DemoAdapter struct{}

// NewDemoAdapter constructs a DemoAdapter.
func NewDemoAdapter() *DemoAdapter { return &DemoAdapter{} }

// Name identifies this adapter to the ingestion pipeline and audit trail.
func (a *DemoAdapter) Name() string { return "demo" }

// Normalize decodes a DemoRequest and generates one day-cadence point per
// supported metric per day, using a seeded RNG so repeated calls with the
// same seed produce identical data (useful for deterministic tests and
// demos).
func (a *DemoAdapter) Normalize(rawBatch []byte) ([]NormalizedPoint, error) {
	var req DemoRequest
	if err := json.Unmarshal(rawBatch, &req); err != nil {
		return nil, fmt.Errorf("providernorm: demo adapter: invalid request: %w", err)
	}
	if req.Days <= 0 {
		req.Days = 30
	}
	if req.Start.IsZero() {
		req.Start = time.Now().UTC().AddDate(0, 0, -req.Days)
	}

	rng := rand.New(rand.NewSource(req.Seed))
	var points []NormalizedPoint

	for d := 0; d < req.Days; d++ {
		day := req.Start.AddDate(0, 0, d)
		declineFactor := 1.0
		if req.Scenario == ScenarioDecliningSleep {
			declineFactor = 1.0 - float64(d)/float64(req.Days)*0.3
		}
		recoverFactor := 1.0
		if req.Scenario == ScenarioRecoveringHRV {
			recoverFactor = 1.0 + float64(d)/float64(req.Days)*0.25
		}

		sleepHours := jitter(rng, 7.2*declineFactor, 0.6)
		points = append(points, NormalizedPoint{
			MetricKey: "sleep_duration", Value: sleepHours, Unit: "hours", Timestamp: day, Source: "demo",
		})

		sleepEff := jitter(rng, 0.88*declineFactor, 0.04)
		points = append(points, NormalizedPoint{
			MetricKey: "sleep_efficiency", Value: clampRatio(sleepEff), Unit: "ratio", Timestamp: day, Source: "demo",
		})

		hrv := jitter(rng, 55*recoverFactor, 8)
		points = append(points, NormalizedPoint{
			MetricKey: "hrv_rmssd", Value: math.Max(10, hrv), Unit: "ms", Timestamp: day, Source: "demo",
		})

		rhr := jitter(rng, 58, 3)
		points = append(points, NormalizedPoint{
			MetricKey: "resting_hr", Value: rhr, Unit: "bpm", Timestamp: day, Source: "demo",
		})

		steps := jitter(rng, 8000, 1500)
		points = append(points, NormalizedPoint{
			MetricKey: "steps", Value: math.Max(0, steps), Unit: "count", Timestamp: day, Source: "demo",
		})
	}

	return points, nil
}

func jitter(rng *rand.Rand, mean, stdDev float64) float64 {
	return mean + rng.NormFloat64()*stdDev
}

func clampRatio(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
