package safety

import (
	"fmt"

	"github.com/healthlattice/healthengine/internal/degradation"
	"github.com/healthlattice/healthengine/internal/store"
)

// InterventionSpec is the registry entry for a known intervention:
// its default risk, contraindication/interaction flags, and default
// evidence grade and boundary.
type InterventionSpec struct {
	Key               string
	DisplayName       string
	DefaultRisk       store.RiskLevel
	Contraindications []string
	Interactions      []string
	EvidenceGrade     string
	DefaultBoundary   store.InterventionBoundary
}

// registry is the built-in intervention safety registry. Unknown
// interventions fall through to the unknown-intervention default in
// EvaluateIntervention.
var registry = map[string]InterventionSpec{
	"melatonin": {
		Key: "melatonin", DisplayName: "Melatonin", DefaultRisk: store.RiskLow,
		Contraindications: []string{"pregnancy", "autoimmune_disorder"},
		Interactions:      []string{"anticoagulant_use", "immunosuppressant_use"},
		EvidenceGrade:     "B", DefaultBoundary: store.BoundaryLifestyle,
	},
	"magnesium_glycinate": {
		Key: "magnesium_glycinate", DisplayName: "Magnesium Glycinate", DefaultRisk: store.RiskLow,
		Contraindications: []string{"kidney_disease"},
		EvidenceGrade:     "B", DefaultBoundary: store.BoundaryLifestyle,
	},
	"cold_exposure": {
		Key: "cold_exposure", DisplayName: "Cold Exposure", DefaultRisk: store.RiskModerate,
		Contraindications: []string{"cardiovascular_condition", "raynauds"},
		EvidenceGrade:     "C", DefaultBoundary: store.BoundaryExperiment,
	},
	"intermittent_fasting": {
		Key: "intermittent_fasting", DisplayName: "Intermittent Fasting", DefaultRisk: store.RiskModerate,
		Contraindications: []string{"eating_disorder_history", "pregnancy", "type1_diabetes"},
		EvidenceGrade:     "C", DefaultBoundary: store.BoundaryExperiment,
	},
	"caffeine_timing_change": {
		Key: "caffeine_timing_change", DisplayName: "Caffeine Timing Change", DefaultRisk: store.RiskLow,
		Interactions:  []string{"anxiety_disorder"},
		EvidenceGrade: "B", DefaultBoundary: store.BoundaryLifestyle,
	},
}

// maxRisk returns the higher-severity of two risk levels.
func maxRisk(a, b store.RiskLevel) store.RiskLevel {
	order := map[store.RiskLevel]int{store.RiskLow: 0, store.RiskModerate: 1, store.RiskHigh: 2}
	if order[a] >= order[b] {
		return a
	}
	return b
}

// EvaluateIntervention computes the safety decision for a user starting
// intervention interventionKey, given their known safety flags (a set of
// strings such as "pregnancy", "kidney_disease"). Unknown interventions
// are allowed but downgraded to experiment boundary with grade D,
// matching the "treat as experimental and proceed cautiously" default.
func EvaluateIntervention(interventionKey string, userFlags map[string]bool) store.InterventionSafety {
	spec, ok := registry[interventionKey]
	if !ok {
		return store.InterventionSafety{
			RiskLevel:     store.RiskModerate,
			EvidenceGrade: "D",
			Boundary:      store.BoundaryExperiment,
			Issues: []store.SafetyIssue{{
				Key:     "unknown_intervention",
				Message: "This intervention is not in the safety registry yet. Treat as experimental and proceed cautiously.",
			}},
		}
	}

	risk := spec.DefaultRisk
	var issues []store.SafetyIssue

	for _, c := range spec.Contraindications {
		if userFlags[c] {
			issues = append(issues, store.SafetyIssue{
				Key:     "contraindication",
				Message: "User has contraindication flag '" + c + "' for " + spec.DisplayName + ".",
			})
			risk = maxRisk(risk, store.RiskHigh)
		}
	}
	for _, i := range spec.Interactions {
		if userFlags[i] {
			issues = append(issues, store.SafetyIssue{
				Key:     "interaction",
				Message: "User has interaction flag '" + i + "' for " + spec.DisplayName + ".",
			})
			risk = maxRisk(risk, store.RiskModerate)
		}
	}

	boundary := spec.DefaultBoundary
	if boundary == "" {
		boundary = store.BoundaryExperiment
		if risk == store.RiskLow {
			boundary = store.BoundaryLifestyle
		}
	}

	return store.InterventionSafety{
		RiskLevel:     risk,
		EvidenceGrade: spec.EvidenceGrade,
		Boundary:      boundary,
		Issues:        issues,
	}
}

// riskRank orders RiskLevel for the ordinal comparison
// invalidate_protocol_on_safety_change performs.
var riskRank = map[store.RiskLevel]int{store.RiskLow: 0, store.RiskModerate: 1, store.RiskHigh: 2}

// OverallRiskLevel folds a set of triggered red-flag rules into a single
// risk level, mapping urgent/high severity to high and medium severity
// to moderate (§4.6). A rule set with no urgent/high/medium-severity trigger
// produces RiskLow.
func OverallRiskLevel(triggered []Triggered) store.RiskLevel {
	risk := store.RiskLow
	for _, t := range triggered {
		switch t.Rule.Severity {
		case SeverityUrgent, SeverityHigh:
			risk = maxRisk(risk, store.RiskHigh)
		case SeverityMedium:
			risk = maxRisk(risk, store.RiskModerate)
		}
	}
	return risk
}

// ReEvaluateProtocol reports a protocol_invalidated signal when this
// cycle's observed risk level exceeds an intervention's previously
// recorded risk level, mirroring invalidate_protocol_on_safety_change's
// ordinal risk_level comparison (§4.17). Returns nil when risk has not
// increased.
func ReEvaluateProtocol(previous, observed store.RiskLevel) *degradation.Signal {
	if riskRank[observed] <= riskRank[previous] {
		return nil
	}
	return &degradation.Signal{
		State:       degradation.StateProtocolInvalidated,
		Reason:      fmt.Sprintf("protocol invalidated due to safety risk increase: %s -> %s", previous, observed),
		Metadata:    map[string]float64{"previous_risk": float64(riskRank[previous]), "observed_risk": float64(riskRank[observed])},
		ShouldBlock: true,
	}
}

// Allowed reports whether an intervention safety decision permits the
// intervention to proceed: a hard block only occurs on a high-severity
// contraindication, mirroring SafetyService.evaluate_intervention's
// "allowed = not any HIGH contraindication" rule.
func Allowed(decision store.InterventionSafety) bool {
	if decision.RiskLevel != store.RiskHigh {
		return true
	}
	for _, issue := range decision.Issues {
		if issue.Key == "contraindication" {
			return false
		}
	}
	return true
}
