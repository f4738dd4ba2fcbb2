package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/healthlattice/healthengine/internal/store"
)

// generateIdempotencyKey derives a stable key from jobID, its sorted
// params, and the time bucket `now` falls into. Bucketing by window
// (rather than by calendar date) lets a job legitimately run more than
// once per day while still deduping concurrent/retried invocations
// within the same window, mirroring
// job_wrapper.py::generate_idempotency_key's AUDIT FIX.
func generateIdempotencyKey(jobID string, window time.Duration, now time.Time, params map[string]string) string {
	windowSeconds := int64(window / time.Second)
	if windowSeconds <= 0 {
		windowSeconds = 1
	}
	bucket := now.Unix() / windowSeconds * windowSeconds

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(jobID)
	for _, k := range keys {
		fmt.Fprintf(&b, ":%s=%s", k, params[k])
	}
	fmt.Fprintf(&b, ":%d", bucket)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// runWithIdempotency wraps fn with the job-run tracking and idempotency
// check from job_wrapper.py::with_idempotency: a completed run sharing
// this window's key short-circuits as skipped instead of re-running,
// and every real invocation is recorded running -> completed/failed
// regardless of outcome.
func runWithIdempotency(
	ctx context.Context,
	repo store.JobRunRepository,
	now func() time.Time,
	jobID string,
	window time.Duration,
	params map[string]string,
	fn func(ctx context.Context) (string, error),
) (store.JobRun, error) {
	key := generateIdempotencyKey(jobID, window, now(), params)

	existing, found, err := repo.GetByIdempotencyKey(ctx, key)
	if err != nil {
		return store.JobRun{}, err
	}
	if found && existing.Status == store.JobCompleted {
		skipped := existing
		skipped.Status = store.JobSkipped
		return skipped, nil
	}

	start := now()
	run := store.JobRun{
		ID: uuid.NewString(), JobID: jobID, IdempotencyKey: key,
		Status: store.JobRunning, StartedAt: &start,
	}
	if err := repo.PutJobRun(ctx, run); err != nil {
		return store.JobRun{}, err
	}

	summary, runErr := fn(ctx)

	completed := now()
	run.CompletedAt = &completed
	run.Duration = completed.Sub(start)
	if runErr != nil {
		run.Status = store.JobFailed
		run.Error = truncate(runErr.Error(), 1000)
		_ = repo.PutJobRun(ctx, run)
		return run, runErr
	}
	run.Status = store.JobCompleted
	run.ResultSummary = truncate(summary, 500)
	if err := repo.PutJobRun(ctx, run); err != nil {
		return run, err
	}
	return run, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
