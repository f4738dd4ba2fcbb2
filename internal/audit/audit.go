// Package audit implements the Audit & Explanation component (C20): a
// thin traceback query over the append-only AuditEvent/ExplanationEdge
// records every other component writes directly through
// store.AuditRepository, plus the notification outbox drain that
// supplements spec.md's distillation (§4.20).
//
// Grounded on spec.md §3's AuditEvent/ExplanationEdge description and
// (for the outbox half) original_source's
// notification_outbox_repository.py and
// scheduler/jobs.py::job_dispatch_notifications.
package audit

import (
	"context"

	"github.com/healthlattice/healthengine/internal/logging"
	"github.com/healthlattice/healthengine/internal/store"
)

// Service is the read-side of the audit trail: given a produced entity,
// walk the edges it was built from without recomputing anything.
type Service struct {
	audit store.AuditRepository
	log   *logging.Logger
}

func NewService(audit store.AuditRepository, log *logging.Logger) *Service {
	return &Service{audit: audit, log: log}
}

// Explain returns every ExplanationEdge recorded for one produced
// entity — its full traceback to source metrics, detectors, thresholds,
// and safety checks (§3).
func (s *Service) Explain(ctx context.Context, entityType, entityID string) ([]store.ExplanationEdge, error) {
	return s.audit.ListByEntity(ctx, entityType, entityID)
}
