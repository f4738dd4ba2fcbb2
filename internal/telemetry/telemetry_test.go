package telemetry

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordLoopRunIncrementsCounter(t *testing.T) {
	RecordLoopRun("completed", 0.05)
	assert.Equal(t, float64(1), testutil.ToFloat64(loopRuns.WithLabelValues("completed")))
}

func TestRecordSuppressionIncrementsByReason(t *testing.T) {
	RecordSuppression("min_days_between_repeats")
	assert.GreaterOrEqual(t, testutil.ToFloat64(insightsSuppressed.WithLabelValues("min_days_between_repeats")), float64(1))
}

func TestRecordJobRunIncrementsByJobAndStatus(t *testing.T) {
	RecordJobRun("run_insights", "completed", 1.2)
	assert.GreaterOrEqual(t, testutil.ToFloat64(jobOutcomes.WithLabelValues("run_insights", "completed")), float64(1))
}

func TestStartLoopSpanAndEndSpanDoNotPanic(t *testing.T) {
	ctx, span := StartLoopSpan(context.Background(), "u1")
	assert.NotNil(t, ctx)
	EndSpan(span, nil)
}
