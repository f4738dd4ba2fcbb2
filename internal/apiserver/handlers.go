package apiserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/healthlattice/healthengine/internal/audit"
	"github.com/healthlattice/healthengine/internal/consent"
	"github.com/healthlattice/healthengine/internal/evaluation"
	"github.com/healthlattice/healthengine/internal/ingestion"
	"github.com/healthlattice/healthengine/internal/logging"
	"github.com/healthlattice/healthengine/internal/looprunner"
	"github.com/healthlattice/healthengine/internal/providernorm"
	"github.com/healthlattice/healthengine/internal/store"
	"github.com/healthlattice/healthengine/internal/trust"
	"github.com/healthlattice/healthengine/pkg/validation"
)

// Handlers wraps the already-governed core services; every method here
// does request binding/validation and HTTP status mapping only — no
// business rule lives in this package (§6: "thin handlers delegating to
// core services").
type Handlers struct {
	Repos      store.Repositories
	Gate       *consent.Gate
	LoopRunner *looprunner.Service
	Ingestion  *ingestion.Service
	Evaluation *evaluation.Service
	Trust      *trust.Service
	Audit      *audit.Service
	Providers  map[string]providernorm.Adapter
	Log        *logging.Logger
}

func (h *Handlers) logf(msg string, args ...any) {
	if h.Log != nil {
		h.Log.Error(msg, args...)
	}
}

// HandleRunLoop runs the analytical loop for one user (POST
// /users/:user/run).
func (h *Handlers) HandleRunLoop(c *gin.Context) {
	user := c.Param("user")
	result, err := h.LoopRunner.Run(c.Request.Context(), user)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleIngest ingests a batch of points for one user from one vendor
// (POST /users/:user/ingest/:vendor).
func (h *Handlers) HandleIngest(c *gin.Context) {
	user := c.Param("user")
	vendor := c.Param("vendor")

	var req ingestRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "malformed request body", Details: err.Error()})
		return
	}
	if fields := validation.Struct(req); fields != nil {
		writeValidationError(c, fields)
		return
	}

	points := make([]providernorm.NormalizedPoint, 0, len(req.Points))
	for _, p := range req.Points {
		points = append(points, providernorm.NormalizedPoint{
			MetricKey: p.MetricKey, Value: p.Value, Unit: p.Unit, Timestamp: p.Timestamp, Source: p.Source,
		})
	}

	result, err := h.Ingestion.Ingest(c.Request.Context(), user, vendor, points)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleSyncProvider runs an on-demand sync against a registered
// provider adapter (POST /users/:user/providers/:provider/sync),
// mirroring the scheduler's periodic sync_providers job but for a
// single user on request.
func (h *Handlers) HandleSyncProvider(c *gin.Context) {
	user := c.Param("user")
	providerName := c.Param("provider")

	adapter, ok := h.Providers[providerName]
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "unknown provider", Code: providerName})
		return
	}

	var req providerSyncDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "malformed request body", Details: err.Error()})
		return
	}

	points, err := adapter.Normalize(req.RawBatch)
	if err != nil {
		h.logf("provider batch normalize failed", "user", user, "provider", providerName, "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "malformed provider batch", Details: err.Error()})
		return
	}

	result, err := h.Ingestion.Ingest(c.Request.Context(), user, adapter.Name(), points)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleListInsights lists a user's insights since an optional
// ?since=RFC3339 cutoff (GET /users/:user/insights).
func (h *Handlers) HandleListInsights(c *gin.Context) {
	user := c.Param("user")
	since, err := parseSince(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid since parameter", Details: err.Error()})
		return
	}
	insights, err := h.Repos.Insights.ListByUser(c.Request.Context(), user, since)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"insights": insights})
}

// HandleListDrivers lists a user's current personal drivers for one
// outcome metric (GET /users/:user/drivers?outcome_metric=).
func (h *Handlers) HandleListDrivers(c *gin.Context) {
	user := c.Param("user")
	outcomeMetric := c.Query("outcome_metric")
	if outcomeMetric == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "outcome_metric is required"})
		return
	}
	drivers, err := h.Repos.Drivers.ListDriversByUser(c.Request.Context(), user, outcomeMetric)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"drivers": drivers})
}

// HandleCreateExperiment starts a new experiment for a user (POST
// /users/:user/experiments). Creation requires the experiments consent
// scope, independent of the general data-analysis scope (§3).
func (h *Handlers) HandleCreateExperiment(c *gin.Context) {
	user := c.Param("user")
	if err := h.Gate.Require(c.Request.Context(), user, consent.ScopeExperiments); err != nil {
		writeError(c, err)
		return
	}

	var req createExperimentDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "malformed request body", Details: err.Error()})
		return
	}
	if fields := validation.Struct(req); fields != nil {
		writeValidationError(c, fields)
		return
	}

	exp := store.Experiment{
		ID:                     uuid.NewString(),
		User:                   user,
		Intervention:           req.Intervention,
		PrimaryMetric:          req.PrimaryMetric,
		ExpectedDirection:      req.ExpectedDirection,
		StartedAt:              time.Now().UTC(),
		Status:                 store.ExperimentActive,
		BaselineWindowDays:     req.BaselineWindowDays,
		InterventionWindowDays: req.InterventionWindowDays,
	}
	if err := h.Repos.Experiments.PutExperiment(c.Request.Context(), exp); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, exp)
}

// HandleStopExperiment marks an experiment stopped ahead of its
// scheduled evaluation (POST /users/:user/experiments/:id/stop), the
// stop_anytime consent guarantee (§3) made concrete.
func (h *Handlers) HandleStopExperiment(c *gin.Context) {
	user := c.Param("user")
	id := c.Param("id")
	if err := h.Gate.Require(c.Request.Context(), user, consent.ScopeStopAnytime); err != nil {
		writeError(c, err)
		return
	}
	exp, err := h.Repos.Experiments.GetExperiment(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	now := time.Now().UTC()
	exp.Status = store.ExperimentStopped
	exp.EndedAt = &now
	if err := h.Repos.Experiments.PutExperiment(c.Request.Context(), exp); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, exp)
}

// HandleEvaluateExperiment runs the evaluation pipeline for an
// experiment (POST /users/:user/experiments/:id/evaluate).
func (h *Handlers) HandleEvaluateExperiment(c *gin.Context) {
	id := c.Param("id")
	result, err := h.Evaluation.Evaluate(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleGetNarratives lists a user's synthesized narratives of one
// period type since a cutoff (GET
// /users/:user/narratives?period_type=&since=).
func (h *Handlers) HandleGetNarratives(c *gin.Context) {
	user := c.Param("user")
	periodType := store.NarrativePeriod(c.DefaultQuery("period_type", string(store.PeriodDaily)))
	since, err := parseSince(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid since parameter", Details: err.Error()})
		return
	}
	narratives, err := h.Repos.Narratives.ListNarrativesByUser(c.Request.Context(), user, periodType, since)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"narratives": narratives})
}

// HandleGetTrust computes the current trust score for a user (GET
// /users/:user/trust).
func (h *Handlers) HandleGetTrust(c *gin.Context) {
	user := c.Param("user")
	score, err := h.Trust.Compute(c.Request.Context(), user)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, score)
}

// HandleExplain computes the explanation graph for one entity (GET
// /entities/:type/:id/explain), the "compute graphs" endpoint named in
// §6.
func (h *Handlers) HandleExplain(c *gin.Context) {
	entityType := c.Param("type")
	entityID := c.Param("id")
	edges, err := h.Audit.Explain(c.Request.Context(), entityType, entityID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"edges": edges})
}

func parseSince(c *gin.Context) (time.Time, error) {
	raw := c.Query("since")
	if raw == "" {
		return time.Time{}, nil
	}
	if unixSeconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(unixSeconds, 0).UTC(), nil
	}
	return time.Parse(time.RFC3339, raw)
}
