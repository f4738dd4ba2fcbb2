// Package claimpolicy implements the evidence-grade to allowed-language
// lookup (C3) that gates every surfaced insight, evaluation, and
// narrative segment. It is a pure function of statistical inputs: no
// repository handle, no hidden state.
//
// Grounded on original_source/backend/app/domain/claims/claim_policy.py.
package claimpolicy

import "strings"

// Grade is the evidence grade, A (strongest) through D (weakest).
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
)

// Strength categorizes a Grade's overall claim strength.
type Strength string

const (
	StrengthWeak     Strength = "weak"
	StrengthModerate Strength = "moderate"
	StrengthStrong   Strength = "strong"
)

// Policy is the allowed/disallowed language for one evidence grade.
type Policy struct {
	Grade               Grade
	Strength            Strength
	AllowedVerbs        []string
	AllowedModifiers    []string
	DisallowedVerbs     []string
	UncertaintyRequired bool
	AllowedActions      []string
}

var policies = map[Grade]Policy{
	GradeA: {
		Grade:    GradeA,
		Strength: StrengthStrong,
		AllowedVerbs: []string{
			"improves", "increases", "decreases", "reduces", "enhances",
			"correlates with", "is associated with", "shows",
		},
		AllowedModifiers:    []string{"significantly", "consistently", "reliably"},
		DisallowedVerbs:     []string{"causes", "guarantees", "ensures", "proves"},
		UncertaintyRequired: false,
		AllowedActions:      []string{"inform", "suggest_experiment", "recommend_lifestyle_change"},
	},
	GradeB: {
		Grade:    GradeB,
		Strength: StrengthModerate,
		AllowedVerbs: []string{
			"appears to improve", "may increase", "suggests",
			"is associated with", "tends to", "shows",
		},
		AllowedModifiers:    []string{"likely", "probably", "often"},
		DisallowedVerbs:     []string{"causes", "guarantees", "ensures", "proves", "definitely"},
		UncertaintyRequired: true,
		AllowedActions:      []string{"inform", "suggest_experiment"},
	},
	GradeC: {
		Grade:    GradeC,
		Strength: StrengthWeak,
		AllowedVerbs: []string{
			"might improve", "could increase", "possibly",
			"may be associated with", "suggests a potential",
		},
		AllowedModifiers: []string{"possibly", "potentially", "uncertain"},
		DisallowedVerbs: []string{
			"improves", "increases", "causes", "guarantees", "ensures", "proves",
			"definitely", "significantly", "consistently",
		},
		UncertaintyRequired: true,
		AllowedActions:      []string{"inform"},
	},
	GradeD: {
		Grade:    GradeD,
		Strength: StrengthWeak,
		AllowedVerbs: []string{
			"might suggest", "could indicate", "possibly hints at",
			"uncertain association with",
		},
		AllowedModifiers: []string{"uncertain", "unclear", "inconclusive", "limited evidence"},
		DisallowedVerbs: []string{
			"improves", "increases", "causes", "guarantees", "ensures", "proves",
			"definitely", "significantly", "consistently", "appears to",
		},
		UncertaintyRequired: true,
		AllowedActions:      []string{"inform"},
	},
}

// Get returns the Policy for grade.
func Get(grade Grade) Policy {
	return policies[grade]
}

// GradeInputs holds the statistical inputs used to derive an evidence
// grade.
type GradeInputs struct {
	Confidence float64
	SampleSize int
	Coverage   float64
	EffectSize *float64
	PValue     *float64
}

// DeriveGrade maps (confidence, sample_size, coverage, effect_size?,
// p_value?) to an EvidenceGrade, per spec.md §4.1: A requires
// confidence>=0.8 AND n>=30 AND coverage>=0.7 AND (|d|>=0.5 OR p<0.01); B,
// C, D progressively weaker; default D.
func DeriveGrade(in GradeInputs) Grade {
	if in.Confidence >= 0.8 && in.SampleSize >= 30 && in.Coverage >= 0.7 {
		if in.EffectSize != nil && absf(*in.EffectSize) >= 0.5 {
			return GradeA
		}
		if in.PValue != nil && *in.PValue < 0.01 {
			return GradeA
		}
	}
	if in.Confidence >= 0.6 && in.SampleSize >= 14 && in.Coverage >= 0.5 {
		return GradeB
	}
	if in.Confidence >= 0.4 && in.SampleSize >= 7 && in.Coverage >= 0.3 {
		return GradeC
	}
	return GradeD
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

var uncertaintyMarkers = []string{
	"uncertain", "unclear", "may", "might", "could", "possibly", "potentially", "suggests",
}

// Validate checks text for disallowed phrases (case-insensitive), for the
// uncertainty-marker requirement, and for the presence of at least one
// allowed verb. Returns ok=true when there are no violations.
func Validate(text string, grade Grade) (bool, []string) {
	policy := Get(grade)
	lower := strings.ToLower(text)
	var violations []string

	for _, verb := range policy.DisallowedVerbs {
		if strings.Contains(lower, strings.ToLower(verb)) {
			violations = append(violations, "disallowed verb: "+verb)
		}
	}

	if policy.UncertaintyRequired {
		has := false
		for _, marker := range uncertaintyMarkers {
			if strings.Contains(lower, marker) {
				has = true
				break
			}
		}
		if !has {
			violations = append(violations, "uncertainty marker required")
		}
	}

	if len(policy.AllowedVerbs) > 0 {
		has := false
		for _, verb := range policy.AllowedVerbs {
			if strings.Contains(lower, strings.ToLower(verb)) {
				has = true
				break
			}
		}
		if !has {
			violations = append(violations, "no allowed verb present")
		}
	}

	return len(violations) == 0, violations
}

// Direction is the direction of an observed or claimed effect.
type Direction string

const (
	DirectionPositive Direction = "positive"
	DirectionNegative Direction = "negative"
	DirectionNeutral  Direction = "neutral"
)

// Suggest deterministically builds a policy-compliant phrase for grade,
// metric, and direction. Used both for downgrade-and-resynthesize in the
// narrative synthesizer and as a fallback when an LLM translation is
// rejected.
func Suggest(grade Grade, metricKey string, direction Direction) string {
	var verb string
	switch direction {
	case DirectionPositive:
		switch grade {
		case GradeA:
			verb = "improves"
		case GradeB:
			verb = "appears to improve"
		default:
			verb = "might improve"
		}
	case DirectionNegative:
		switch grade {
		case GradeA:
			verb = "decreases"
		case GradeB:
			verb = "appears to decrease"
		default:
			verb = "might decrease"
		}
	default:
		if grade == GradeA || grade == GradeB {
			verb = "is associated with"
		} else {
			verb = "might be associated with"
		}
	}

	policy := Get(grade)
	phrase := verb + " " + metricKey
	if policy.UncertaintyRequired && (grade == GradeC || grade == GradeD) {
		phrase += " (uncertain)"
	}
	return phrase
}

// IsActionAllowed reports whether action is permitted at claim level
// level (1..5), using the same grade-by-level mapping the narrative
// synthesizer uses to pick verbs: level maps onto the four grades with
// levels 4-5 treated as Grade A.
func IsActionAllowed(level int, action string) bool {
	grade := GradeForLevel(level)
	policy := Get(grade)
	for _, a := range policy.AllowedActions {
		if a == action {
			return true
		}
	}
	return false
}

// GradeForLevel maps a claim level (1..5) onto an evidence grade, so that
// language validation can be applied uniformly whether an insight is
// being graded by statistical inputs or has already been assigned a
// claim level (e.g. by the narrative synthesizer from insight
// confidence).
func GradeForLevel(level int) Grade {
	switch {
	case level >= 4:
		return GradeA
	case level == 3:
		return GradeB
	case level == 2:
		return GradeC
	default:
		return GradeD
	}
}
