// Package trust implements the Trust Engine (C17): a weekly rollup of
// engagement and evaluation health into a single gating score. Low trust
// should make narrative phrasing and intervention suggestions more
// conservative; high trust licenses stronger protocol confidence. This
// package only computes and persists the score — callers decide what to
// do with it.
//
// Grounded on original_source/backend/app/engine/trust/trust_engine.py.
package trust

import (
	"context"
	"time"

	"github.com/healthlattice/healthengine/internal/metricreg"
	"github.com/healthlattice/healthengine/internal/store"
)

const (
	lookbackDays = 30

	weightDataCoverage      = 0.30
	weightAdherence         = 0.25
	weightEvaluationSuccess = 0.25
	weightStability         = 0.20

	neutralEvaluationSuccess = 50.0
	neutralStability         = 50.0

	highEvidenceCount = 3

	LevelHigh   = "high"
	LevelMedium = "medium"
	LevelLow    = "low"
)

type Service struct {
	registry     *metricreg.Registry
	points       store.DataPointRepository
	experiments  store.ExperimentRepository
	evaluations  store.EvaluationRepository
	causalMemory store.CausalMemoryRepository
	trust        store.TrustRepository
	now          func() time.Time
}

func NewService(
	registry *metricreg.Registry,
	points store.DataPointRepository,
	experiments store.ExperimentRepository,
	evaluations store.EvaluationRepository,
	causalMemory store.CausalMemoryRepository,
	trust store.TrustRepository,
	now func() time.Time,
) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		registry: registry, points: points, experiments: experiments,
		evaluations: evaluations, causalMemory: causalMemory, trust: trust, now: now,
	}
}

// Compute recomputes and persists user's trust score (§4.14).
func (s *Service) Compute(ctx context.Context, user string) (store.TrustScore, error) {
	now := s.now()
	cutoff := now.AddDate(0, 0, -lookbackDays)

	coverage, err := s.dataCoverageScore(ctx, user, cutoff)
	if err != nil {
		return store.TrustScore{}, err
	}
	adherence, err := s.adherenceScore(ctx, user, cutoff)
	if err != nil {
		return store.TrustScore{}, err
	}
	success, err := s.evaluationSuccessScore(ctx, user)
	if err != nil {
		return store.TrustScore{}, err
	}
	stability, err := s.stabilityScore(ctx, user)
	if err != nil {
		return store.TrustScore{}, err
	}

	overall := coverage*weightDataCoverage + adherence*weightAdherence +
		success*weightEvaluationSuccess + stability*weightStability

	score := store.TrustScore{
		User:    user,
		Overall: overall,
		Level:   Level(overall),
		Components: store.TrustComponents{
			DataCoverage:      coverage,
			Adherence:         adherence,
			EvaluationSuccess: success,
			Stability:         stability,
		},
		LastUpdatedAt: now,
	}
	if err := s.trust.PutTrust(ctx, score); err != nil {
		return store.TrustScore{}, err
	}
	return score, nil
}

// dataCoverageScore counts data points across every registered metric
// since cutoff; one point per metric per day for the full window scores
// 100, more is fine, fewer scales down linearly.
func (s *Service) dataCoverageScore(ctx context.Context, user string, cutoff time.Time) (float64, error) {
	expectedPerMetric := float64(lookbackDays)
	var total float64
	var metricCount int
	for _, key := range s.registry.Keys() {
		points, err := s.points.Range(ctx, user, key, cutoff, s.now())
		if err != nil {
			return 0, err
		}
		total += float64(len(points))
		metricCount++
	}
	if metricCount == 0 {
		return 0, nil
	}
	expected := expectedPerMetric * float64(metricCount)
	if expected == 0 {
		return 0, nil
	}
	return minFloat(100.0, (total/expected)*100.0), nil
}

func (s *Service) adherenceScore(ctx context.Context, user string, cutoff time.Time) (float64, error) {
	experiments, err := s.experiments.ListAllByUser(ctx, user)
	if err != nil {
		return 0, err
	}
	var taken, total int
	for _, exp := range experiments {
		events, err := s.experiments.AdherenceSince(ctx, exp.ID, cutoff)
		if err != nil {
			return 0, err
		}
		for _, e := range events {
			total++
			if e.Taken {
				taken++
			}
		}
	}
	if total == 0 {
		return 0, nil
	}
	return (float64(taken) / float64(total)) * 100.0, nil
}

// evaluationSuccessScore counts a user's evaluations across every
// experiment, since EvaluationRepository has no direct user-scoped
// method by experiment; it reuses ListByUser with an open-ended window.
func (s *Service) evaluationSuccessScore(ctx context.Context, user string) (float64, error) {
	evals, err := s.evaluations.ListByUser(ctx, user, time.Time{})
	if err != nil {
		return 0, err
	}
	if len(evals) == 0 {
		return neutralEvaluationSuccess, nil
	}
	var positive int
	for _, e := range evals {
		if e.Verdict == store.VerdictHelpful {
			positive++
		}
	}
	return (float64(positive) / float64(len(evals))) * 100.0, nil
}

func (s *Service) stabilityScore(ctx context.Context, user string) (float64, error) {
	memories, err := s.causalMemory.ListCausalMemoryByUser(ctx, user)
	if err != nil {
		return 0, err
	}
	var confirmed []store.CausalMemory
	for _, m := range memories {
		if m.Status == store.CausalConfirmed {
			confirmed = append(confirmed, m)
		}
	}
	if len(confirmed) == 0 {
		return neutralStability, nil
	}

	var confidenceSum float64
	var highEvidence int
	for _, m := range confirmed {
		confidenceSum += m.Confidence
		if m.EvidenceCount >= highEvidenceCount {
			highEvidence++
		}
	}
	avgConfidence := confidenceSum / float64(len(confirmed))
	evidenceComponent := minFloat(50.0, (float64(highEvidence)/float64(len(confirmed)))*50.0)
	return minFloat(100.0, avgConfidence*50.0+evidenceComponent), nil
}

// Level buckets an overall score into a category: high at 75 or above,
// medium at 50 or above, low otherwise (§4.14). No other package calls it.
func Level(overall float64) string {
	switch {
	case overall >= 75:
		return LevelHigh
	case overall >= 50:
		return LevelMedium
	default:
		return LevelLow
	}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
