// Package ingestion implements the Ingestion Service (C6): validates,
// scores, and persists a batch of normalized provider points for one
// user, all-or-nothing.
//
// Grounded on
// original_source/backend/app/engine/providers/provider_sync_service.py
// (ProviderSyncService.sync_whoop's validate-then-persist shape, per-point
// provenance records, never-partial-ingest guarantee).
package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/healthlattice/healthengine/internal/consent"
	"github.com/healthlattice/healthengine/internal/dataquality"
	"github.com/healthlattice/healthengine/internal/metricreg"
	"github.com/healthlattice/healthengine/internal/providernorm"
	"github.com/healthlattice/healthengine/internal/store"
)

// RejectedPoint is one point the batch dropped, with the reason.
type RejectedPoint struct {
	MetricKey string
	Timestamp time.Time
	Reason    dataquality.RejectionReason
}

// Result is the outcome of one Ingest call (§4.3).
type Result struct {
	RunID    string
	Inserted int
	Rejected int
	Errors   []RejectedPoint
	Quality  dataquality.Score
}

// Service wires the consent gate, quality scorer, metric registry, and
// the two repositories ingestion writes to.
type Service struct {
	gate       *consent.Gate
	registry   *metricreg.Registry
	points     store.DataPointRepository
	provenance store.ProvenanceRepository
	now        func() time.Time
}

// NewService constructs an ingestion Service. now defaults to time.Now
// when nil.
func NewService(gate *consent.Gate, registry *metricreg.Registry, points store.DataPointRepository, provenance store.ProvenanceRepository, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{gate: gate, registry: registry, points: points, provenance: provenance, now: now}
}

// Ingest validates vendor normalized points against the canonical unit
// and range, scores the batch, and persists provenance + accepted points
// in one pass. No points are written if validation produces zero
// survivors, and any persistence failure leaves the store untouched
// from the caller's perspective (the in-process repositories used here
// do not partially apply a single Insert call).
func (s *Service) Ingest(ctx context.Context, user, vendor string, raw []providernorm.NormalizedPoint) (Result, error) {
	if err := s.gate.RequireProvider(ctx, user, vendor); err != nil {
		return Result{}, err
	}

	runID := fmt.Sprintf("%s_%s_%s", vendor, user, uuid.NewString())
	receivedAt := s.now()

	existingByMetric := make(map[string][]time.Time)
	qualityPoints := make([]dataquality.Point, 0, len(raw))
	for _, p := range raw {
		value, unit := providernorm.Normalize(p.MetricKey, p.Value, p.Unit)
		qualityPoints = append(qualityPoints, dataquality.Point{
			MetricKey: p.MetricKey, Value: value, Unit: unit, Timestamp: p.Timestamp, Source: p.Source,
		})
	}
	quality := dataquality.Compute(qualityPoints, s.registry, receivedAt)
	flagged := quality.Overall < dataquality.MinInsightQuality

	var toInsert []store.HealthDataPoint
	var rejected []RejectedPoint

	for i, p := range raw {
		value, unit := providernorm.Normalize(p.MetricKey, p.Value, p.Unit)
		qp := dataquality.Point{MetricKey: p.MetricKey, Value: value, Unit: unit, Timestamp: p.Timestamp, Source: p.Source}

		existing, err := s.latestTimestamps(ctx, user, p.MetricKey, existingByMetric)
		if err != nil {
			return Result{}, err
		}

		if reject, reason := dataquality.ShouldReject(qp, s.registry, existing); reject {
			rejected = append(rejected, RejectedPoint{MetricKey: p.MetricKey, Timestamp: p.Timestamp, Reason: reason})
			continue
		}

		sourceRecordID := fmt.Sprintf("%d", i)
		prov := store.DataProvenance{
			User:           user,
			SourceType:     "wearable",
			SourceName:     vendor,
			SourceRecordID: sourceRecordID,
			IngestionRunID: runID,
			ReceivedAt:     receivedAt,
			QualityScore:   quality.Overall,
		}
		if err := s.provenance.Put(ctx, prov); err != nil {
			return Result{}, fmt.Errorf("ingestion: provenance write: %w", err)
		}

		toInsert = append(toInsert, store.HealthDataPoint{
			User:         user,
			MetricKey:    p.MetricKey,
			Value:        value,
			Unit:         unit,
			Timestamp:    p.Timestamp,
			Source:       p.Source,
			ProvenanceID: runID + "|" + sourceRecordID,
			QualityScore: quality.Overall,
			Flagged:      flagged,
		})
		existingByMetric[p.MetricKey] = append(existingByMetric[p.MetricKey], p.Timestamp)
	}

	if len(toInsert) > 0 {
		if err := s.points.Insert(ctx, toInsert); err != nil {
			return Result{}, fmt.Errorf("ingestion: point insert: %w", err)
		}
	}

	return Result{
		RunID:    runID,
		Inserted: len(toInsert),
		Rejected: len(rejected),
		Errors:   rejected,
		Quality:  quality,
	}, nil
}

// latestTimestamps returns the duplicate-detection set for metricKey:
// timestamps already seen earlier in this batch, plus the most recent
// persisted timestamp for this (user, metric), queried once per metric
// and cached for the remainder of the batch.
func (s *Service) latestTimestamps(ctx context.Context, user, metricKey string, seen map[string][]time.Time) ([]time.Time, error) {
	if _, ok := seen[metricKey]; !ok {
		ts, found, err := s.points.LatestTimestamp(ctx, user, metricKey)
		if err != nil {
			return nil, fmt.Errorf("ingestion: latest timestamp lookup: %w", err)
		}
		seen[metricKey] = []time.Time{}
		if found {
			seen[metricKey] = append(seen[metricKey], ts)
		}
	}
	return append([]time.Time{}, seen[metricKey]...), nil
}
