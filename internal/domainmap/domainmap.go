// Package domainmap is the static, pure-metadata membership map from
// metric key to health domain (C2). It never drives control flow on its
// own; it labels other components' output for narrative grouping and
// domain-status classification.
package domainmap

// Domain names used by the narrative synthesizer's domain-status
// classifier (§4.13).
const (
	Sleep               = "sleep"
	Cardiometabolic     = "cardiometabolic"
	StressNervousSystem = "stress_nervous_system"
	Activity            = "activity"
	EnergyFatigue       = "energy_fatigue"
	Labs                = "labs"
)

// Map is an immutable metric-key -> domain-key lookup, separate from the
// metric registry so a domain's membership can be reasoned about without
// pulling in unit/range metadata.
type Map struct {
	membership map[string]string
}

// New builds a Map from a metric-key -> domain-key association.
func New(membership map[string]string) *Map {
	m := make(map[string]string, len(membership))
	for k, v := range membership {
		m[k] = v
	}
	return &Map{membership: m}
}

// DomainOf returns the domain for metricKey and whether it is known.
func (m *Map) DomainOf(metricKey string) (string, bool) {
	d, ok := m.membership[metricKey]
	return d, ok
}

// MetricsInDomain returns every metric key mapped to domainKey, in no
// particular order.
func (m *Map) MetricsInDomain(domainKey string) []string {
	var out []string
	for k, v := range m.membership {
		if v == domainKey {
			out = append(out, k)
		}
	}
	return out
}

// Default returns the built-in domain map mirroring metricreg.Default's
// domain assignments, kept as an independent, intentionally duplicated
// source of truth per spec.md §3 ("pure metadata").
func Default() *Map {
	return New(map[string]string{
		"sleep_duration":   Sleep,
		"sleep_efficiency": Sleep,
		"sleep_quality":    Sleep,
		"resting_hr":       Cardiometabolic,
		"glucose_mgdl":     Cardiometabolic,
		"hrv_rmssd":        StressNervousSystem,
		"stress":           StressNervousSystem,
		"steps":            Activity,
		"energy":           EnergyFatigue,
		"vitamin_d_25oh":   Labs,
	})
}
