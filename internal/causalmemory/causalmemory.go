// Package causalmemory implements the Causal Memory engine (C15): the
// cross-run ledger that accumulates evidence for each (user, driver,
// metric) triple across successive evaluations, promoting consistent
// findings toward "confirmed" and demoting contradicted ones rather than
// discarding history.
//
// Grounded on
// original_source/backend/app/engine/memory/causal_memory_updater.py
// (direction-conflict / deprecation / mixed-evidence decision tree) and
// original_source/backend/app/domain/repositories/causal_memory_repository.py
// (running-mean effect size, weighted-average confidence, promotion
// thresholds).
package causalmemory

import (
	"context"
	"fmt"
	"time"

	"github.com/healthlattice/healthengine/internal/store"
)

type Service struct {
	experiments   store.ExperimentRepository
	interventions store.InterventionRepository
	memories      store.CausalMemoryRepository
	audit         store.AuditRepository
	now           func() time.Time
}

func NewService(
	experiments store.ExperimentRepository,
	interventions store.InterventionRepository,
	memories store.CausalMemoryRepository,
	audit store.AuditRepository,
	now func() time.Time,
) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{experiments: experiments, interventions: interventions, memories: memories, audit: audit, now: now}
}

// UpdateFromEvaluation folds one EvaluationResult into the causal memory
// ledger for its driver/metric pair, returning the memory record as it
// stands after the update (§4.12).
func (s *Service) UpdateFromEvaluation(ctx context.Context, eval store.EvaluationResult) (store.CausalMemory, error) {
	exp, err := s.experiments.GetExperiment(ctx, eval.Experiment)
	if err != nil {
		return store.CausalMemory{}, fmt.Errorf("causalmemory: load experiment: %w", err)
	}
	iv, err := s.interventions.GetIntervention(ctx, exp.Intervention)
	if err != nil {
		return store.CausalMemory{}, fmt.Errorf("causalmemory: load intervention: %w", err)
	}

	direction := verdictToDirection(eval.Verdict)
	confidence := eval.ConfidenceScore
	if confidence <= 0 {
		confidence = 0.5
	}

	existing, found := s.memories.GetCausalMemory(ctx, eval.User, iv.Key, eval.MetricKey)
	if found && existing.Status == store.CausalDeprecated {
		found = false
	}

	now := s.now()

	if !found {
		mem := store.CausalMemory{
			User: eval.User, DriverKey: iv.Key, MetricKey: eval.MetricKey,
			Direction: direction, AvgEffectSize: eval.EffectSizeD, Confidence: confidence,
			EvidenceCount: 1, Status: store.CausalTentative,
			FirstSeenAt: now, LastConfirmedAt: now,
			SupportingEvaluations: []string{eval.ID},
		}
		if err := s.memories.PutCausalMemory(ctx, mem); err != nil {
			return store.CausalMemory{}, err
		}
		return mem, nil
	}

	conflicting := existing.Direction != direction &&
		existing.Direction != store.DriverMixed &&
		direction != store.DriverMixed

	if conflicting && existing.Status == store.CausalConfirmed && existing.EvidenceCount >= 3 {
		// The repository keys one current record per (user, driver, metric)
		// triple, so the deprecated snapshot would be overwritten the
		// instant the replacement tentative record below is written; its
		// audit trail is what "remains for audit" (§4.12), recorded here
		// before the overwrite.
		deprecated := existing
		deprecated.Status = store.CausalDeprecated
		if err := s.recordDeprecationAudit(ctx, deprecated, eval); err != nil {
			return store.CausalMemory{}, err
		}
		mem := store.CausalMemory{
			User: eval.User, DriverKey: iv.Key, MetricKey: eval.MetricKey,
			Direction: direction, AvgEffectSize: eval.EffectSizeD, Confidence: confidence,
			EvidenceCount: 1, Status: store.CausalTentative,
			FirstSeenAt: now, LastConfirmedAt: now,
			SupportingEvaluations: []string{eval.ID},
		}
		if err := s.memories.PutCausalMemory(ctx, mem); err != nil {
			return store.CausalMemory{}, err
		}
		return mem, nil
	}

	finalDirection := existing.Direction
	finalConfidenceInput := confidence
	if conflicting {
		// Weak contradictory evidence: blend toward mixed rather than
		// deprecating, and discount the new evidence's weight (§4.12).
		finalDirection = store.DriverMixed
		finalConfidenceInput = confidence * 0.7
	} else if existing.Direction == store.DriverMixed || direction == store.DriverMixed {
		finalDirection = store.DriverMixed
	}

	newCount := existing.EvidenceCount + 1
	mem := store.CausalMemory{
		User: eval.User, DriverKey: iv.Key, MetricKey: eval.MetricKey,
		Direction:             finalDirection,
		AvgEffectSize:         (existing.AvgEffectSize*float64(existing.EvidenceCount) + eval.EffectSizeD) / float64(newCount),
		Confidence:            (existing.Confidence*float64(existing.EvidenceCount) + finalConfidenceInput) / float64(newCount),
		EvidenceCount:         newCount,
		Status:                existing.Status,
		FirstSeenAt:           existing.FirstSeenAt,
		LastConfirmedAt:       now,
		SupportingEvaluations: append(append([]string(nil), existing.SupportingEvaluations...), eval.ID),
	}
	if (mem.EvidenceCount >= 3 && mem.Confidence >= 0.7) || (mem.EvidenceCount >= 2 && mem.Confidence >= 0.6) {
		mem.Status = store.CausalConfirmed
	}

	if err := s.memories.PutCausalMemory(ctx, mem); err != nil {
		return store.CausalMemory{}, err
	}
	return mem, nil
}

func (s *Service) recordDeprecationAudit(ctx context.Context, deprecated store.CausalMemory, eval store.EvaluationResult) error {
	if s.audit == nil {
		return nil
	}
	if err := s.audit.PutEvent(ctx, store.AuditEvent{
		ID: eval.ID + ":deprecate:" + deprecated.DriverKey, User: deprecated.User,
		EntityType: "causal_memory", EntityID: deprecated.DriverKey + ":" + deprecated.MetricKey,
		Action: "deprecated", Detail: map[string]string{
			"reason":             "contradicted_by_evaluation",
			"evaluation":         eval.ID,
			"previous_direction": string(deprecated.Direction),
		},
		CreatedAt: deprecated.LastConfirmedAt,
	}); err != nil {
		return err
	}
	return s.audit.PutEdges(ctx, []store.ExplanationEdge{
		{FromEntityType: "causal_memory", FromEntityID: deprecated.DriverKey + ":" + deprecated.MetricKey,
			ToKind: "evaluation", ToRef: eval.ID, CreatedAt: deprecated.LastConfirmedAt},
	})
}

// verdictToDirection maps an evaluation verdict onto the causal-memory
// direction vocabulary.
func verdictToDirection(v store.Verdict) store.DriverDirection {
	switch v {
	case store.VerdictHelpful:
		return store.DriverPositive
	case store.VerdictNotHelpful:
		return store.DriverNegative
	default:
		return store.DriverMixed
	}
}
