package store

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement is the single InfluxDB measurement every health metric is
// written under; the metric key is a tag, not a separate measurement, so
// a fixed bucket schema covers the full, user-extensible metric registry.
const Measurement = "health_metric"

// InfluxConfig configures the TimeseriesStore's connection to InfluxDB.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// TimeseriesStore is the InfluxDB-backed implementation of
// DataPointRepository (§4.3, §4.5), grounded on the data-fetcher's
// write/query API usage.
type TimeseriesStore struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	queryAPI api.QueryAPI
	org      string
	bucket   string
}

// NewTimeseriesStore opens a connection to InfluxDB and returns a ready
// TimeseriesStore. It does not verify connectivity; callers that need a
// fail-fast startup should call Ping first.
func NewTimeseriesStore(cfg InfluxConfig) (*TimeseriesStore, error) {
	if cfg.URL == "" || cfg.Token == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("timeseriesstore: URL/token/org/bucket must all be set")
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &TimeseriesStore{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		queryAPI: client.QueryAPI(cfg.Org),
		org:      cfg.Org,
		bucket:   cfg.Bucket,
	}, nil
}

// Ping verifies the InfluxDB server is reachable and healthy.
func (t *TimeseriesStore) Ping(ctx context.Context) error {
	health, err := t.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("timeseriesstore: health check: %w", err)
	}
	if health.Status != "pass" {
		msg := "unknown"
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("timeseriesstore: unhealthy: %s", msg)
	}
	return nil
}

// Close releases the underlying InfluxDB client.
func (t *TimeseriesStore) Close() {
	t.client.Close()
}

// Insert writes points in a single blocking batch, tagging each point by
// user and metric key and carrying unit/source/quality/flagged as fields
// so Range reconstructs a full HealthDataPoint without a join.
func (t *TimeseriesStore) Insert(ctx context.Context, points []HealthDataPoint) error {
	if len(points) == 0 {
		return nil
	}
	influxPoints := make([]*write.Point, 0, len(points))
	for _, p := range points {
		influxPoints = append(influxPoints, influxdb2.NewPoint(
			Measurement,
			map[string]string{
				"user":       p.User,
				"metric_key": p.MetricKey,
			},
			map[string]interface{}{
				"value":         p.Value,
				"unit":          p.Unit,
				"source":        p.Source,
				"provenance_id": p.ProvenanceID,
				"quality_score": p.QualityScore,
				"flagged":       p.Flagged,
			},
			p.Timestamp,
		))
	}
	if err := t.writeAPI.WritePoint(ctx, influxPoints...); err != nil {
		return fmt.Errorf("timeseriesstore: write: %w", err)
	}
	return nil
}

// Range queries [from, to) for one (user, metricKey) pair, ordered
// ascending by time.
func (t *TimeseriesStore) Range(ctx context.Context, user, metricKey string, from, to time.Time) ([]HealthDataPoint, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
		  |> range(start: %s, stop: %s)
		  |> filter(fn: (r) => r._measurement == "%s")
		  |> filter(fn: (r) => r.user == "%s")
		  |> filter(fn: (r) => r.metric_key == "%s")
		  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
		  |> sort(columns: ["_time"], desc: false)
	`, t.bucket, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339), Measurement, user, metricKey)

	result, err := t.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("timeseriesstore: query: %w", err)
	}
	defer result.Close()

	var out []HealthDataPoint
	for result.Next() {
		rec := result.Record()
		p := HealthDataPoint{
			User:      user,
			MetricKey: metricKey,
			Timestamp: rec.Time(),
		}
		if v, ok := rec.ValueByKey("value").(float64); ok {
			p.Value = v
		}
		if v, ok := rec.ValueByKey("unit").(string); ok {
			p.Unit = v
		}
		if v, ok := rec.ValueByKey("source").(string); ok {
			p.Source = v
		}
		if v, ok := rec.ValueByKey("provenance_id").(string); ok {
			p.ProvenanceID = v
		}
		if v, ok := rec.ValueByKey("quality_score").(float64); ok {
			p.QualityScore = v
		}
		if v, ok := rec.ValueByKey("flagged").(bool); ok {
			p.Flagged = v
		}
		out = append(out, p)
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("timeseriesstore: result: %w", result.Err())
	}
	return out, nil
}

// LatestTimestamp returns the most recent observation's timestamp for
// (user, metricKey), used by the ingestion pipeline to dedupe re-synced
// provider batches.
func (t *TimeseriesStore) LatestTimestamp(ctx context.Context, user, metricKey string) (time.Time, bool, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
		  |> range(start: 0)
		  |> filter(fn: (r) => r._measurement == "%s")
		  |> filter(fn: (r) => r.user == "%s")
		  |> filter(fn: (r) => r.metric_key == "%s")
		  |> filter(fn: (r) => r._field == "value")
		  |> sort(columns: ["_time"], desc: true)
		  |> limit(n: 1)
	`, t.bucket, Measurement, user, metricKey)

	result, err := t.queryAPI.Query(ctx, query)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("timeseriesstore: query: %w", err)
	}
	defer result.Close()

	if result.Next() {
		return result.Record().Time(), true, nil
	}
	if result.Err() != nil {
		return time.Time{}, false, fmt.Errorf("timeseriesstore: result: %w", result.Err())
	}
	return time.Time{}, false, nil
}
