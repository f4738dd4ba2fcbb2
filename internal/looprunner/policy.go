package looprunner

import "github.com/healthlattice/healthengine/internal/store"

// MetricPolicy names which detectors run for a metric and the
// metric-specific thresholds each detector fires at (§4.5, §4.8).
//
// The source system's per-metric policy table
// (app/domain/metric_policies.py) was not present in the retrieved
// original_source tree, so these thresholds are a grounded-but-invented
// default set, following spec.md §4.5's "metric-specific threshold"
// language: one z_threshold/slope_threshold/ratio_threshold per metric,
// with labs (infrequent cadence) excluded from trend/instability since
// those detectors assume daily aggregates.
type MetricPolicy struct {
	AllowedInsights           map[store.InsightType]bool
	ChangeZThreshold          float64
	TrendSlopeThreshold       float64
	InstabilityRatioThreshold float64
}

var dailyInsights = map[store.InsightType]bool{
	store.InsightChange:      true,
	store.InsightTrend:       true,
	store.InsightInstability: true,
}

var changeOnlyInsights = map[store.InsightType]bool{
	store.InsightChange: true,
}

var defaultPolicies = map[string]MetricPolicy{
	"sleep_duration":   {AllowedInsights: dailyInsights, ChangeZThreshold: 2.0, TrendSlopeThreshold: 5.0, InstabilityRatioThreshold: 1.5},
	"sleep_efficiency": {AllowedInsights: dailyInsights, ChangeZThreshold: 2.0, TrendSlopeThreshold: 1.0, InstabilityRatioThreshold: 1.5},
	"resting_hr":       {AllowedInsights: dailyInsights, ChangeZThreshold: 2.0, TrendSlopeThreshold: 0.3, InstabilityRatioThreshold: 1.5},
	"hrv_rmssd":        {AllowedInsights: dailyInsights, ChangeZThreshold: 2.0, TrendSlopeThreshold: 0.5, InstabilityRatioThreshold: 1.5},
	"steps":            {AllowedInsights: dailyInsights, ChangeZThreshold: 2.0, TrendSlopeThreshold: 200.0, InstabilityRatioThreshold: 1.5},
	"sleep_quality":    {AllowedInsights: dailyInsights, ChangeZThreshold: 1.5, TrendSlopeThreshold: 0.1, InstabilityRatioThreshold: 1.5},
	"energy":           {AllowedInsights: dailyInsights, ChangeZThreshold: 1.5, TrendSlopeThreshold: 0.1, InstabilityRatioThreshold: 1.5},
	"stress":           {AllowedInsights: dailyInsights, ChangeZThreshold: 1.5, TrendSlopeThreshold: 0.1, InstabilityRatioThreshold: 1.5},
	"glucose_mgdl":     {AllowedInsights: dailyInsights, ChangeZThreshold: 2.0, TrendSlopeThreshold: 2.0, InstabilityRatioThreshold: 1.5},
	"vitamin_d_25oh":   {AllowedInsights: changeOnlyInsights, ChangeZThreshold: 2.0},
}

// PolicyFor returns the detection policy for metricKey, falling back to a
// conservative change-only policy for any metric without an explicit
// entry (new registry additions default to the most conservative
// detector set until a policy is authored for them).
func PolicyFor(metricKey string) MetricPolicy {
	if p, ok := defaultPolicies[metricKey]; ok {
		return p
	}
	return MetricPolicy{AllowedInsights: changeOnlyInsights, ChangeZThreshold: 2.0}
}
