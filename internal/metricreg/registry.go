// Package metricreg is the canonical metric registry (C1): unit, valid
// range, direction, and expected cadence for every metric the system
// understands. It is immutable at runtime — built once at startup and
// shared by handle, never mutated.
package metricreg

import "fmt"

// Direction indicates which way a metric is "good" to move.
type Direction string

const (
	DirectionHigherBetter Direction = "higher_better"
	DirectionLowerBetter  Direction = "lower_better"
	DirectionOptimalRange Direction = "optimal_range"
)

// Aggregation describes how same-day points are combined.
type Aggregation string

const (
	AggregationMean Aggregation = "mean"
	AggregationSum  Aggregation = "sum"
)

// Range is an inclusive [Lo, Hi] bound.
type Range struct {
	Lo float64
	Hi float64
}

// Contains reports whether v falls within [Lo, Hi] inclusive.
func (r Range) Contains(v float64) bool {
	return v >= r.Lo && v <= r.Hi
}

// Spec is the canonical definition of one metric.
type Spec struct {
	Key             string
	Domain          string
	DisplayName     string
	Unit            string
	ValidRange      Range
	Direction       Direction
	OptimalRange    *Range
	Aggregation     Aggregation
	ExpectedCadence string
}

// Registry is an immutable, keyed collection of metric specs.
type Registry struct {
	specs map[string]Spec
	// order preserves registration order for deterministic iteration,
	// per spec.md §5's "metric-registry iteration order" requirement.
	order []string
}

// New builds a Registry from specs, preserving their given order. Panics on
// a duplicate key, since the registry is immutable, built-once startup
// state and a duplicate indicates a programming error, not a runtime one.
func New(specs []Spec) *Registry {
	r := &Registry{specs: make(map[string]Spec, len(specs))}
	for _, s := range specs {
		if _, exists := r.specs[s.Key]; exists {
			panic(fmt.Sprintf("metricreg: duplicate metric key %q", s.Key))
		}
		r.specs[s.Key] = s
		r.order = append(r.order, s.Key)
	}
	return r
}

// Get returns the spec for key and whether it was found.
func (r *Registry) Get(key string) (Spec, bool) {
	s, ok := r.specs[key]
	return s, ok
}

// MustGet returns the spec for key, panicking if absent. Intended for
// startup-time lookups of metrics this binary registered itself.
func (r *Registry) MustGet(key string) Spec {
	s, ok := r.specs[key]
	if !ok {
		panic(fmt.Sprintf("metricreg: unknown metric key %q", key))
	}
	return s
}

// Keys returns all registered metric keys in registration order.
func (r *Registry) Keys() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Default returns the built-in registry grounded on the source system's
// METRIC_REGISTRY (original_source/backend/app/domain/metrics/registry.py).
func Default() *Registry {
	return New([]Spec{
		{Key: "sleep_duration", Domain: "sleep", DisplayName: "Sleep Duration", Unit: "minutes",
			ValidRange: Range{0, 1000}, Direction: DirectionHigherBetter, Aggregation: AggregationSum, ExpectedCadence: "daily"},
		{Key: "sleep_efficiency", Domain: "sleep", DisplayName: "Sleep Efficiency", Unit: "percent",
			ValidRange: Range{0, 100}, Direction: DirectionHigherBetter, Aggregation: AggregationMean, ExpectedCadence: "daily"},
		{Key: "resting_hr", Domain: "cardiometabolic", DisplayName: "Resting Heart Rate", Unit: "bpm",
			ValidRange: Range{20, 200}, Direction: DirectionLowerBetter, Aggregation: AggregationMean, ExpectedCadence: "daily"},
		{Key: "hrv_rmssd", Domain: "stress_nervous_system", DisplayName: "Heart Rate Variability (RMSSD)", Unit: "ms",
			ValidRange: Range{0, 300}, Direction: DirectionHigherBetter, Aggregation: AggregationMean, ExpectedCadence: "daily"},
		{Key: "steps", Domain: "activity", DisplayName: "Steps", Unit: "count",
			ValidRange: Range{0, 100000}, Direction: DirectionHigherBetter, Aggregation: AggregationSum, ExpectedCadence: "daily"},
		{Key: "sleep_quality", Domain: "sleep", DisplayName: "Sleep Quality (1-5)", Unit: "score_1_5",
			ValidRange: Range{1, 5}, Direction: DirectionHigherBetter, Aggregation: AggregationMean, ExpectedCadence: "daily"},
		{Key: "energy", Domain: "energy_fatigue", DisplayName: "Energy (1-5)", Unit: "score_1_5",
			ValidRange: Range{1, 5}, Direction: DirectionHigherBetter, Aggregation: AggregationMean, ExpectedCadence: "daily"},
		{Key: "stress", Domain: "stress_nervous_system", DisplayName: "Stress (1-5)", Unit: "score_1_5",
			ValidRange: Range{1, 5}, Direction: DirectionLowerBetter, Aggregation: AggregationMean, ExpectedCadence: "daily"},
		{Key: "glucose_mgdl", Domain: "cardiometabolic", DisplayName: "Blood Glucose", Unit: "mg/dL",
			ValidRange: Range{20, 600}, Direction: DirectionLowerBetter, Aggregation: AggregationMean, ExpectedCadence: "daily"},
		{Key: "vitamin_d_25oh", Domain: "labs", DisplayName: "Vitamin D (25-OH)", Unit: "ng/mL",
			ValidRange: Range{0, 150}, Direction: DirectionHigherBetter, Aggregation: AggregationMean, ExpectedCadence: "daily"},
	})
}
