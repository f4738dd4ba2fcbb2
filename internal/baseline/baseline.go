// Package baseline implements the Baseline Service (C7): the rolling
// per-(user, metric) mean/stddev reference every detector compares
// against, with typed, never-silent unavailability.
//
// Grounded on
// original_source/backend/app/engine/baseline_service.py
// (recompute_baseline's metric-not-found / insufficient-data / database
// / computation / table-missing error taxonomy and the population-stddev
// choice).
package baseline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/healthlattice/healthengine/internal/errs"
	"github.com/healthlattice/healthengine/internal/metricreg"
	"github.com/healthlattice/healthengine/internal/store"
	"github.com/healthlattice/healthengine/pkg/timeseries"
)

// MinSamplePoints is the minimum count recompute_baseline requires before
// it will produce a baseline.
const MinSamplePoints = 5

// DefaultWindowDays is the default lookback window for a baseline
// recompute when the caller does not override it.
const DefaultWindowDays = 30

// DisconnectThreshold is how long a provider can go silent before its
// baselines are declared frozen (§4.17).
const DisconnectThreshold = 48 * time.Hour

// Service recomputes and serves baselines.
type Service struct {
	registry  *metricreg.Registry
	points    store.DataPointRepository
	baselines store.BaselineRepository
	now       func() time.Time
}

// NewService constructs a baseline Service. now defaults to time.Now
// when nil.
func NewService(registry *metricreg.Registry, points store.DataPointRepository, baselines store.BaselineRepository, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{registry: registry, points: points, baselines: baselines, now: now}
}

// Recompute rebuilds the (user, metricKey) baseline from the last
// windowDays of data and persists it. Returns a typed *errs.BaselineUnavailable
// on every failure path; never a silent zero-value baseline.
func (s *Service) Recompute(ctx context.Context, user, metricKey string, windowDays int) (store.Baseline, error) {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	if _, ok := s.registry.Get(metricKey); !ok {
		return store.Baseline{}, errs.NewBaselineUnavailable(errs.BaselineMetricNotFound,
			fmt.Sprintf("metric %q not in registry", metricKey))
	}

	now := s.now()
	since := now.AddDate(0, 0, -windowDays)

	rows, err := s.points.Range(ctx, user, metricKey, since, now)
	if err != nil {
		return store.Baseline{}, errs.NewBaselineUnavailable(errs.BaselineDatabaseError, err.Error())
	}

	values := make([]float64, len(rows))
	for i, r := range rows {
		values[i] = r.Value
	}
	if len(values) < MinSamplePoints {
		return store.Baseline{}, errs.NewBaselineUnavailable(errs.BaselineInsufficientData,
			fmt.Sprintf("%d points < %d required", len(values), MinSamplePoints))
	}

	mu := timeseries.Mean(values)
	sd := timeseries.PopStdDev(values)

	b := store.Baseline{
		User:        user,
		MetricKey:   metricKey,
		Mean:        mu,
		StdDev:      sd,
		SampleCount: len(values),
		WindowDays:  windowDays,
		ComputedAt:  now,
	}
	if err := s.baselines.PutBaseline(ctx, b); err != nil {
		return store.Baseline{}, errs.NewBaselineUnavailable(errs.BaselineDatabaseError, err.Error())
	}
	return b, nil
}

// RecomputeResult summarizes a compute_baselines_for_user-style sweep
// across every registered metric for one user.
type RecomputeResult struct {
	Computed []string
	Skipped  []string // insufficient data
	Frozen   []string // baselines_frozen: served read-only, recompute withheld
	Failed   map[string]errs.BaselineErrorType
}

// RecomputeAll recomputes baselines for every metric in the registry for
// one user, partitioning results by outcome rather than aborting on the
// first failure. A metric whose baseline is frozen (§4.17, IsFrozen) is
// skipped entirely rather than recomputed: recomputing it would silently
// discard the "served read-only" guarantee the moment data resumed
// flowing from some other source.
func (s *Service) RecomputeAll(ctx context.Context, user string, windowDays int) RecomputeResult {
	res := RecomputeResult{Failed: map[string]errs.BaselineErrorType{}}
	now := s.now()
	for _, key := range s.registry.Keys() {
		frozen, err := s.isBaselineFrozen(ctx, user, key, now)
		if err != nil {
			res.Failed[key] = errs.BaselineDatabaseError
			continue
		}
		if frozen {
			res.Frozen = append(res.Frozen, key)
			continue
		}
		_, err = s.Recompute(ctx, user, key, windowDays)
		if err == nil {
			res.Computed = append(res.Computed, key)
			continue
		}
		var bu *errs.BaselineUnavailable
		if errors.As(err, &bu) {
			if bu.ErrorType == errs.BaselineInsufficientData {
				res.Skipped = append(res.Skipped, key)
			} else {
				res.Failed[key] = bu.ErrorType
			}
			continue
		}
		res.Failed[key] = errs.BaselineComputationError
	}
	return res
}

// isBaselineFrozen reports whether (user, metricKey) already has a
// persisted baseline and has gone silent beyond DisconnectThreshold,
// per IsFrozen. A metric with no baseline yet is never "frozen" — there
// is nothing to serve read-only, so the usual insufficient-data path
// runs instead.
func (s *Service) isBaselineFrozen(ctx context.Context, user, metricKey string, now time.Time) (bool, error) {
	_, found, err := s.baselines.GetBaseline(ctx, user, metricKey)
	if err != nil || !found {
		return false, err
	}
	last, found, err := s.points.LatestTimestamp(ctx, user, metricKey)
	if err != nil {
		return false, err
	}
	if !found {
		return true, nil
	}
	return IsFrozen(last, now), nil
}

// Get loads the persisted baseline for (user, metricKey), failing
// INSUFFICIENT_DATA if absent — absence after an attempted recompute and
// absence because recompute was never run both yield that same typed
// unavailability, never a silent zero-value baseline.
func (s *Service) Get(ctx context.Context, user, metricKey string) (store.Baseline, error) {
	b, found, err := s.baselines.GetBaseline(ctx, user, metricKey)
	if err != nil {
		return store.Baseline{}, errs.NewBaselineUnavailable(errs.BaselineDatabaseError, err.Error())
	}
	if !found {
		return store.Baseline{}, errs.NewBaselineUnavailable(errs.BaselineInsufficientData, "no baseline computed yet")
	}
	return b, nil
}

// IsFrozen reports whether a baseline should be served read-only because
// the provider has been silent beyond DisconnectThreshold, per the
// disconnect-detection note in §4.17.
func IsFrozen(lastProviderActivity time.Time, now time.Time) bool {
	return now.Sub(lastProviderActivity) >= DisconnectThreshold
}
