package attribution

// DriverType distinguishes a behavioral check-in signal from an
// intervention/adherence signal in the feature matrix (§4.10 step 1).
type DriverType string

const (
	DriverTypeBehavior     DriverType = "behavior"
	DriverTypeIntervention DriverType = "intervention"
)

// DriverSpec names one candidate driver hypothesized to influence an
// outcome metric, the lag range to test it at, and the minimum aligned
// sample size required before testing it at all.
type DriverSpec struct {
	DriverKey   string
	DriverType  DriverType
	MaxLagDays  int
	MinDataDays int
}

const (
	defaultInterventionMaxLagDays  = 3
	defaultInterventionMinDataDays = 14
)

// behaviorDriversByOutcome maps each outcome metric to the check-in
// behavior keys hypothesized to influence it.
//
// The source system's driver registry (app/domain/driver_registry.py,
// referenced but not present in the retrieved original_source tree) was
// not retrievable, so this table is a grounded-but-invented default set:
// grounded in the shape cross_signal_engine.py expects
// (get_drivers_for_outcome(outcome_metric) returning driver specs with a
// max_lag_days and min_data_days), invented in its specific entries.
var behaviorDriversByOutcome = map[string][]DriverSpec{
	"sleep_duration": {
		{DriverKey: "caffeine_after_2pm", DriverType: DriverTypeBehavior, MaxLagDays: 1, MinDataDays: 10},
		{DriverKey: "alcohol", DriverType: DriverTypeBehavior, MaxLagDays: 1, MinDataDays: 10},
		{DriverKey: "screen_time_evening", DriverType: DriverTypeBehavior, MaxLagDays: 1, MinDataDays: 10},
		{DriverKey: "exercise", DriverType: DriverTypeBehavior, MaxLagDays: 2, MinDataDays: 10},
	},
	"sleep_efficiency": {
		{DriverKey: "caffeine_after_2pm", DriverType: DriverTypeBehavior, MaxLagDays: 1, MinDataDays: 10},
		{DriverKey: "screen_time_evening", DriverType: DriverTypeBehavior, MaxLagDays: 1, MinDataDays: 10},
	},
	"sleep_quality": {
		{DriverKey: "alcohol", DriverType: DriverTypeBehavior, MaxLagDays: 1, MinDataDays: 10},
		{DriverKey: "screen_time_evening", DriverType: DriverTypeBehavior, MaxLagDays: 1, MinDataDays: 10},
		{DriverKey: "meditation", DriverType: DriverTypeBehavior, MaxLagDays: 1, MinDataDays: 10},
	},
	"resting_hr": {
		{DriverKey: "exercise", DriverType: DriverTypeBehavior, MaxLagDays: 2, MinDataDays: 10},
		{DriverKey: "alcohol", DriverType: DriverTypeBehavior, MaxLagDays: 1, MinDataDays: 10},
	},
	"hrv_rmssd": {
		{DriverKey: "alcohol", DriverType: DriverTypeBehavior, MaxLagDays: 1, MinDataDays: 10},
		{DriverKey: "meditation", DriverType: DriverTypeBehavior, MaxLagDays: 0, MinDataDays: 10},
		{DriverKey: "exercise", DriverType: DriverTypeBehavior, MaxLagDays: 2, MinDataDays: 10},
	},
	"energy": {
		{DriverKey: "caffeine_after_2pm", DriverType: DriverTypeBehavior, MaxLagDays: 1, MinDataDays: 10},
		{DriverKey: "exercise", DriverType: DriverTypeBehavior, MaxLagDays: 1, MinDataDays: 10},
	},
	"stress": {
		{DriverKey: "meditation", DriverType: DriverTypeBehavior, MaxLagDays: 0, MinDataDays: 10},
		{DriverKey: "exercise", DriverType: DriverTypeBehavior, MaxLagDays: 1, MinDataDays: 10},
	},
	"glucose_mgdl": {
		{DriverKey: "late_meal", DriverType: DriverTypeBehavior, MaxLagDays: 0, MinDataDays: 10},
	},
}

// GetDriversForOutcome returns the full set of candidate drivers to test
// against outcomeMetric: the fixed behavioral set plus one
// DriverTypeIntervention entry per distinct intervention key active for
// the user during the window (every active intervention is tested
// against every outcome metric, since an intervention's effect on any
// particular metric is exactly what attribution exists to discover).
func GetDriversForOutcome(outcomeMetric string, interventionKeys []string) []DriverSpec {
	out := append([]DriverSpec(nil), behaviorDriversByOutcome[outcomeMetric]...)
	for _, key := range interventionKeys {
		out = append(out, DriverSpec{
			DriverKey:   key,
			DriverType:  DriverTypeIntervention,
			MaxLagDays:  defaultInterventionMaxLagDays,
			MinDataDays: defaultInterventionMinDataDays,
		})
	}
	return out
}
