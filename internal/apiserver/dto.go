package apiserver

import "time"

// ingestPointDTO is one wire-level observation in an ingest request
// body, validated before it is turned into a providernorm.NormalizedPoint.
type ingestPointDTO struct {
	MetricKey string    `json:"metric_key" validate:"required"`
	Value     float64   `json:"value" validate:"required"`
	Unit      string    `json:"unit" validate:"required"`
	Timestamp time.Time `json:"timestamp" validate:"required"`
	Source    string    `json:"source"`
}

// ingestRequestDTO is the body of POST /users/:user/ingest/:vendor.
type ingestRequestDTO struct {
	Points []ingestPointDTO `json:"points" validate:"required,min=1,dive"`
}

// createExperimentDTO is the body of POST /users/:user/experiments.
type createExperimentDTO struct {
	Intervention           string `json:"intervention" validate:"required"`
	PrimaryMetric          string `json:"primary_metric" validate:"required"`
	ExpectedDirection      string `json:"expected_direction" validate:"omitempty,oneof=positive negative"`
	BaselineWindowDays     int    `json:"baseline_window_days" validate:"required,gt=0"`
	InterventionWindowDays int    `json:"intervention_window_days" validate:"required,gt=0"`
}

// providerSyncDTO is the body of POST /users/:user/providers/:provider/sync.
type providerSyncDTO struct {
	RawBatch []byte `json:"raw_batch" validate:"required"`
}
