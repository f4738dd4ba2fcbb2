// Package safety implements the Safety Gate (C9): a rule-based red-flag
// evaluator over the latest 3-day metric averages and symptom tags, plus
// a per-intervention contraindication/interaction check used at
// intervention creation time.
//
// Grounded on
// original_source/backend/app/domain/safety/red_flags.py
// (RED_FLAG_RULES, evaluate_red_flags's comparison and severity-ordering
// logic) and
// original_source/backend/app/engine/safety/safety_service.py
// (SafetyService.evaluate_intervention's contraindication/interaction/
// boundary/evidence-grade decision).
package safety

import "sort"

// Kind classifies what a rule compares against.
type Kind string

const (
	KindMetric  Kind = "metric"
	KindLab     Kind = "lab"
	KindSymptom Kind = "symptom"
)

// Condition is the comparator a rule applies.
type Condition string

const (
	ConditionLessThan    Condition = "lt"
	ConditionGreaterThan Condition = "gt"
	ConditionEquals      Condition = "eq"
	ConditionIn          Condition = "in"
)

// Severity ranks how urgently a triggered rule should be surfaced.
type Severity string

const (
	SeverityUrgent Severity = "urgent"
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
)

// Action is the recommended response to a triggered rule.
type Action string

const (
	ActionSeekCareNow   Action = "seek_care_now"
	ActionContactDoctor Action = "contact_doctor"
	ActionMonitor       Action = "monitor"
)

// Rule is one red-flag condition (§4.6).
type Rule struct {
	Key         string
	MetricKey   string // empty for symptom rules
	Kind        Kind
	Condition   Condition
	Threshold   float64  // for lt/gt/eq
	SymptomTags []string // for "in" over symptom tags
	Message     string
	Severity    Severity
	Action      Action
}

// DefaultRules is the built-in red-flag rule set (§4.6), carried directly
// from RED_FLAG_RULES.
var DefaultRules = []Rule{
	{Key: "sleep_very_low", MetricKey: "sleep_duration", Kind: KindMetric, Condition: ConditionLessThan, Threshold: 240,
		Message:  "Very low sleep duration detected (under 4 hours). If this is persistent or severe, consider medical advice.",
		Severity: SeverityHigh, Action: ActionContactDoctor},
	{Key: "resting_hr_high", MetricKey: "resting_hr", Kind: KindMetric, Condition: ConditionGreaterThan, Threshold: 110,
		Message:  "High resting heart rate detected (>110 bpm). If you feel unwell (chest pain, fainting, shortness of breath), seek urgent care.",
		Severity: SeverityUrgent, Action: ActionSeekCareNow},
	{Key: "hrv_very_low", MetricKey: "hrv_rmssd", Kind: KindMetric, Condition: ConditionLessThan, Threshold: 15,
		Message:  "Very low HRV detected. If combined with severe symptoms or illness, consider medical advice.",
		Severity: SeverityMedium, Action: ActionMonitor},
	{Key: "glucose_very_high", MetricKey: "glucose_mgdl", Kind: KindLab, Condition: ConditionGreaterThan, Threshold: 300,
		Message:  "Very high glucose detected. This can be dangerous. Seek medical care urgently, especially if symptomatic.",
		Severity: SeverityUrgent, Action: ActionSeekCareNow},
	{Key: "vitd_very_low", MetricKey: "vitamin_d_25oh", Kind: KindLab, Condition: ConditionLessThan, Threshold: 10,
		Message:  "Very low vitamin D detected. Consider discussing supplementation and causes with a clinician.",
		Severity: SeverityMedium, Action: ActionContactDoctor},
	{Key: "severe_mood_crisis", Kind: KindSymptom, Condition: ConditionIn,
		SymptomTags: []string{"suicidal_ideation", "self_harm_thoughts"},
		Message:     "If you are in immediate danger or thinking about self-harm, seek urgent help now. Contact emergency services or a local crisis line.",
		Severity:    SeverityUrgent, Action: ActionSeekCareNow},
}

// Triggered is one rule that fired against the user's current state.
type Triggered struct {
	Rule  Rule
	Value float64 // observed metric/lab value; zero for symptom rules
}

var severityOrder = map[Severity]int{SeverityUrgent: 0, SeverityHigh: 1, SeverityMedium: 2}

// Evaluate checks every rule against the latest per-metric averages and
// the active symptom tag set, returning triggered rules sorted urgent
// first (ties broken by rule order).
func Evaluate(latestMetrics map[string]float64, symptomTags []string) []Triggered {
	tagSet := make(map[string]bool, len(symptomTags))
	for _, t := range symptomTags {
		tagSet[t] = true
	}

	var out []Triggered
	for _, rule := range DefaultRules {
		switch rule.Kind {
		case KindMetric, KindLab:
			v, ok := latestMetrics[rule.MetricKey]
			if !ok {
				continue
			}
			if compare(rule.Condition, v, rule.Threshold) {
				out = append(out, Triggered{Rule: rule, Value: v})
			}
		case KindSymptom:
			if anyTagMatches(rule.SymptomTags, tagSet) {
				out = append(out, Triggered{Rule: rule})
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return severityOrder[out[i].Rule.Severity] < severityOrder[out[j].Rule.Severity]
	})
	return out
}

func compare(cond Condition, value, threshold float64) bool {
	switch cond {
	case ConditionLessThan:
		return value < threshold
	case ConditionGreaterThan:
		return value > threshold
	case ConditionEquals:
		return value == threshold
	default:
		return false
	}
}

func anyTagMatches(ruleTags []string, present map[string]bool) bool {
	for _, t := range ruleTags {
		if present[t] {
			return true
		}
	}
	return false
}
