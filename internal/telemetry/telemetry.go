// Package telemetry wires Prometheus counters/histograms and an
// OpenTelemetry tracer around the core engine operations: loop runs,
// suppressions, detector fires, and scheduled job outcomes.
//
// Grounded on
// services/trace/agent/routing/metrics.go's promauto.NewCounterVec/
// NewHistogramVec pattern and services/trace/dag/executor.go's
// package-level otel.Tracer/otel.Meter plus tracer.Start/span.End
// usage.
package telemetry

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("healthengine")

var (
	loopRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthengine",
		Subsystem: "loop",
		Name:      "runs_total",
		Help:      "Total loop runner invocations by outcome.",
	}, []string{"outcome"})

	loopDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "healthengine",
		Subsystem: "loop",
		Name:      "duration_seconds",
		Help:      "Loop runner wall-clock duration.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"outcome"})

	insightsSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthengine",
		Subsystem: "suppression",
		Name:      "insights_suppressed_total",
		Help:      "Total insights suppressed by reason.",
	}, []string{"reason"})

	detectorFires = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthengine",
		Subsystem: "detectors",
		Name:      "fires_total",
		Help:      "Total detector firings by detector and metric.",
	}, []string{"detector", "metric"})

	jobOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthengine",
		Subsystem: "scheduler",
		Name:      "job_runs_total",
		Help:      "Total scheduled job runs by job and status.",
	}, []string{"job", "status"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "healthengine",
		Subsystem: "scheduler",
		Name:      "job_duration_seconds",
		Help:      "Scheduled job wall-clock duration.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"job"})
)

// RecordLoopRun records one loop runner invocation's outcome and
// duration in the loop counter and histogram; it sets no span attribute.
func RecordLoopRun(outcome string, seconds float64) {
	loopRuns.WithLabelValues(outcome).Inc()
	loopDuration.WithLabelValues(outcome).Observe(seconds)
}

// RecordSuppression records one suppressed insight by suppression reason.
func RecordSuppression(reason string) {
	insightsSuppressed.WithLabelValues(reason).Inc()
}

// RecordDetectorFire records one detector firing for metricKey.
func RecordDetectorFire(detector, metricKey string) {
	detectorFires.WithLabelValues(detector, metricKey).Inc()
}

// RecordJobRun records one scheduled job's terminal status and duration.
func RecordJobRun(jobID, status string, seconds float64) {
	jobOutcomes.WithLabelValues(jobID, status).Inc()
	jobDuration.WithLabelValues(jobID).Observe(seconds)
}

// StartLoopSpan opens a tracing span around one user's loop run.
func StartLoopSpan(ctx context.Context, user string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "loop.Run", trace.WithAttributes(
		attribute.String("user", user),
	))
}

// StartJobSpan opens a tracing span around one scheduled job invocation.
func StartJobSpan(ctx context.Context, jobID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "scheduler.Job", trace.WithAttributes(
		attribute.String("job", jobID),
	))
}

// EndSpan closes span, recording err as the span status when non-nil.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	}
	span.End()
}
