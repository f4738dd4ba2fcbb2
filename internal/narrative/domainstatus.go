// Package narrative implements the Narrative Synthesizer (C16): a pure
// assembly pass over a user's in-range insights, evaluations, and
// personal drivers into a governed, claim-policy-compliant summary.
//
// Grounded on
// original_source/backend/app/engine/synthesis/narrative_synthesizer.py
// and original_source/backend/app/engine/domain_status.py.
package narrative

import (
	"context"

	"github.com/healthlattice/healthengine/internal/metricreg"
	"github.com/healthlattice/healthengine/internal/store"
)

// DomainStatus is the conservative, membership-only classification of
// whether a health domain currently has something meaningful to say.
type DomainStatus string

const (
	DomainNoData           DomainStatus = "NO_DATA"
	DomainBaselineBuilding DomainStatus = "BASELINE_BUILDING"
	DomainNoSignalDetected DomainStatus = "NO_SIGNAL_DETECTED"
	DomainSignalDetected   DomainStatus = "SIGNAL_DETECTED"
)

// computeDomainStatuses classifies every domain in the registry using
// only data presence, baseline presence, and which domains the
// already-surfaced insights touch — no thresholds or grading (§4.13
// step 5). Any per-domain lookup failure degrades conservatively to
// NO_DATA rather than propagating an error, matching the source's
// backward-compatible except-default behavior.
func computeDomainStatuses(
	ctx context.Context,
	registry *metricreg.Registry,
	points store.DataPointRepository,
	baselines store.BaselineRepository,
	user string,
	surfacedDomains map[string]bool,
) map[string]DomainStatus {
	metricsByDomain := map[string][]string{}
	for _, key := range registry.Keys() {
		spec, ok := registry.Get(key)
		if !ok {
			continue
		}
		metricsByDomain[spec.Domain] = append(metricsByDomain[spec.Domain], key)
	}

	out := make(map[string]DomainStatus, len(metricsByDomain))
	for domain, metricKeys := range metricsByDomain {
		out[domain] = computeDomainStatus(ctx, points, baselines, user, metricKeys, surfacedDomains[domain])
	}
	return out
}

func computeDomainStatus(
	ctx context.Context,
	points store.DataPointRepository,
	baselines store.BaselineRepository,
	user string,
	metricKeys []string,
	surfaced bool,
) DomainStatus {
	var present []string
	for _, mk := range metricKeys {
		_, found, err := points.LatestTimestamp(ctx, user, mk)
		if err != nil {
			return DomainNoData
		}
		if found {
			present = append(present, mk)
		}
	}
	if len(present) == 0 {
		return DomainNoData
	}

	for _, mk := range present {
		_, found, err := baselines.GetBaseline(ctx, user, mk)
		if err != nil {
			return DomainNoData
		}
		if !found {
			return DomainBaselineBuilding
		}
	}

	if !surfaced {
		return DomainNoSignalDetected
	}
	return DomainSignalDetected
}
