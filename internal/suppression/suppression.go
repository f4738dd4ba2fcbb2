// Package suppression implements the end-of-loop Suppression component
// (C12): repeat-within-window suppression and a daily insight volume
// cap, applied after guardrail filtering/escalation and before persist.
//
// Grounded on spec.md §4.9 (no standalone suppression.py was present in
// the retrieved original_source tree; the rule text there is followed
// directly).
package suppression

import (
	"context"
	"sort"
	"time"

	"github.com/healthlattice/healthengine/internal/store"
)

// Tunables per spec.md §4.9 / §6 (MIN_DAYS_BETWEEN_REPEATS,
// MAX_DAILY_INSIGHTS).
const (
	MinDaysBetweenRepeats       = 7 * 24 * time.Hour
	MinConfidenceForRepeat      = 0.7
	MaxDailyInsights            = 10
	DailyCapConfidenceThreshold = 0.6
)

// Suppressor applies end-of-loop suppression rules over a batch of
// candidate insights for one user, using recent insight history to
// decide repeats and the daily volume cap.
type Suppressor struct {
	insights store.InsightRepository
	now      func() time.Time
}

// NewSuppressor builds a Suppressor. now defaults to time.Now when nil.
func NewSuppressor(insights store.InsightRepository, now func() time.Time) *Suppressor {
	if now == nil {
		now = time.Now
	}
	return &Suppressor{insights: insights, now: now}
}

// Apply returns a copy of candidates with suppressed entries marked, per
// the repeat-within-window rule and the daily cap rule, in that order.
// The daily cap counts higher-confidence candidates first, so the
// lowest-confidence ones are the first suppressed once the cap is
// exceeded. It does not persist; callers are responsible for writing the
// result.
func (s *Suppressor) Apply(ctx context.Context, user string, candidates []store.Insight) ([]store.Insight, error) {
	now := s.now()
	out := make([]store.Insight, len(candidates))
	copy(out, candidates)

	weekAgo := now.Add(-MinDaysBetweenRepeats)
	prior, err := s.insights.ListByUser(ctx, user, weekAgo)
	if err != nil {
		return nil, err
	}
	for i := range out {
		c := &out[i]
		if c.MetricKey == "" || c.Suppressed {
			continue
		}
		for _, p := range prior {
			if p.MetricKey == c.MetricKey && p.Type == c.Type && !p.Suppressed {
				if c.Confidence < MinConfidenceForRepeat {
					c.Suppressed = true
					c.SuppressionReason = "repeat_within_window"
				}
				break
			}
		}
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	existingToday, err := s.insights.CountSince(ctx, user, dayStart)
	if err != nil {
		return nil, err
	}

	order := make([]int, 0, len(out))
	for i, c := range out {
		if !c.Suppressed {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(i, j int) bool { return out[order[i]].Confidence > out[order[j]].Confidence })

	total := existingToday
	for _, idx := range order {
		total++
		if total > MaxDailyInsights && out[idx].Confidence < DailyCapConfidenceThreshold {
			out[idx].Suppressed = true
			out[idx].SuppressionReason = "daily_cap_exceeded"
		}
	}

	return out, nil
}
