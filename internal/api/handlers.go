// Package api implements the REST API endpoints for the prompt router.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/internal/analytics"
	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/internal/budget"
	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/internal/database"
	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/internal/health"
	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/internal/lifecycle"
	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/internal/registry"
	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/internal/router"
	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/pkg/models"
)

// Response messages.
const (
	MsgQuerySubmitted   = "Query successfully submitted. Track it with the provided ID."
	MsgFeedbackReceived = "Thank you for your feedback!"
)

// Store is the part of the persistence layer the handlers use directly.
type Store interface {
	CreateFeedback(ctx context.Context, f *models.Feedback) error
	ListFeedback(ctx context.Context, limit int) ([]models.Feedback, error)
	CreateUser(ctx context.Context, u *models.User) error
	UpdateUserRole(ctx context.Context, id string, role models.UserRole, isActive bool) (*models.User, error)
	SetModelAvailability(ctx context.Context, name string, available bool) error
	RecentQueries(ctx context.Context, limit int) ([]models.Query, error)
	ListQueriesByStatus(ctx context.Context, status models.QueryStatus, limit int) ([]models.Query, error)
}

// Deps bundles the services behind the handlers.
type Deps struct {
	Queries  *lifecycle.Manager
	Store    Store
	Registry *registry.Registry
	Ledger   *budget.Ledger
	Finance  *analytics.FinanceReporter
	Health   *health.Monitor
	Version  string
}

// Handlers provides REST API endpoint handlers.
type Handlers struct {
	queries  *lifecycle.Manager
	store    Store
	registry *registry.Registry
	ledger   *budget.Ledger
	finance  *analytics.FinanceReporter
	health   *health.Monitor
	version  string
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(d Deps) *Handlers {
	return &Handlers{
		queries:  d.Queries,
		store:    d.Store,
		registry: d.Registry,
		ledger:   d.Ledger,
		finance:  d.Finance,
		health:   d.Health,
		version:  d.Version,
	}
}

// writeError maps core errors onto HTTP status codes. The "code" field lets
// clients tell an exhausted budget from other client errors.
func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, database.ErrNotFound), errors.Is(err, registry.ErrUnknownModel):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, lifecycle.ErrValidation), errors.Is(err, budget.ErrInvalidAmount):
		status, code = http.StatusBadRequest, "validation_failed"
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		status, code = http.StatusConflict, "invalid_transition"
	case errors.Is(err, router.ErrNoModelAvailable):
		status, code = http.StatusUnprocessableEntity, "no_model_available"
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("api: request failed")
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "code": "validation_failed"})
}

// queryLimit parses the limit query parameter, falling back to 50.
func queryLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 1000 {
		limit = 50
	}
	return limit
}

// HealthCheck is the liveness probe.
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"service":  "promptrouter",
		"version":  h.version,
		"inflight": h.queries.InFlight(),
	})
}

// SubmitQueryRequest is the body of POST /queries.
type SubmitQueryRequest struct {
	UserID    string `json:"user_id"`
	QueryText string `json:"query_text"`
	SessionID string `json:"session_id"`
}

// SubmitQuery records a new query in the submitted state.
func (h *Handlers) SubmitQuery(c *gin.Context) {
	var req SubmitQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	q, err := h.queries.Submit(c.Request.Context(), lifecycle.SubmitRequest{
		UserID:    req.UserID,
		Text:      req.QueryText,
		SessionID: req.SessionID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"query_id": q.ID,
		"status":   q.Status,
		"message":  MsgQuerySubmitted,
	})
}

// AnalyzeQuery scores a submitted query.
func (h *Handlers) AnalyzeQuery(c *gin.Context) {
	q, err := h.queries.Analyze(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"query_id":            q.ID,
		"status":              q.Status,
		"complexity_score":    q.ComplexityScore,
		"complexity_category": q.ComplexityCategory,
	})
}

// AllocateQueryRequest is the optional body of POST /queries/:id/allocate.
type AllocateQueryRequest struct {
	PreferredModels []string `json:"preferred_models"`
}

// AllocateQuery routes an analyzed query and reserves its cost.
func (h *Handlers) AllocateQuery(c *gin.Context) {
	var req AllocateQueryRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	alloc, err := h.queries.Allocate(c.Request.Context(), c.Param("id"), req.PreferredModels)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"query_id":            alloc.Query.ID,
		"status":              alloc.Query.Status,
		"routed_model":        alloc.Decision.Model.Name,
		"provider":            alloc.Decision.Model.Provider,
		"reserved_cost_cents": alloc.Decision.ExpectedCostCents,
		"expected_latency_ms": alloc.Decision.ExpectedLatencyMs,
		"fell_back":           alloc.Decision.FellBack,
		"reason":              alloc.Decision.Reason,
	})
}

// CompleteQueryRequest writes an externally obtained inference result back.
type CompleteQueryRequest struct {
	Response           string   `json:"response"`
	ActualCostCents    *float64 `json:"actual_cost_cents"`
	InferenceLatencyMs float64  `json:"inference_latency_ms"`
}

// CompleteQuery settles a routed query.
func (h *Handlers) CompleteQuery(c *gin.Context) {
	var req CompleteQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.InferenceLatencyMs < 0 {
		badRequest(c, "inference_latency_ms must be non-negative")
		return
	}
	q, err := h.queries.Complete(c.Request.Context(), c.Param("id"), lifecycle.Outcome{
		Response:         req.Response,
		ActualCostCents:  req.ActualCostCents,
		InferenceLatency: time.Duration(req.InferenceLatencyMs * float64(time.Millisecond)),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

// FailQueryRequest is the body of POST /queries/:id/fail.
type FailQueryRequest struct {
	Reason string `json:"reason"`
}

// FailQuery moves a query to failed and releases any reservation.
func (h *Handlers) FailQuery(c *gin.Context) {
	var req FailQueryRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	if strings.TrimSpace(req.Reason) == "" {
		req.Reason = "failed by client"
	}
	q, err := h.queries.Fail(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

// ProcessQueryRequest is the body of POST /queries/process.
type ProcessQueryRequest struct {
	UserID          string   `json:"user_id"`
	QueryText       string   `json:"query_text"`
	SessionID       string   `json:"session_id"`
	PreferredModels []string `json:"preferred_models"`
}

// ProcessQuery runs the whole pipeline synchronously. An inference failure is
// reported as a failed result with status 200.
func (h *Handlers) ProcessQuery(c *gin.Context) {
	var req ProcessQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	q, err := h.queries.Process(c.Request.Context(), lifecycle.ProcessRequest{
		UserID:          req.UserID,
		Text:            req.QueryText,
		SessionID:       req.SessionID,
		PreferredModels: req.PreferredModels,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	res, err := h.queries.GetResult(context.WithoutCancel(c.Request.Context()), q.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetQueryResult returns the read view of a query.
func (h *Handlers) GetQueryResult(c *gin.Context) {
	res, err := h.queries.GetResult(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ListQueries returns recent queries, optionally filtered by status.
func (h *Handlers) ListQueries(c *gin.Context) {
	limit := queryLimit(c)
	var (
		queries []models.Query
		err     error
	)
	if s := c.Query("status"); s != "" {
		status := models.QueryStatus(strings.ToLower(s))
		switch status {
		case models.StatusSubmitted, models.StatusAnalyzed, models.StatusRouted, models.StatusCompleted, models.StatusFailed:
		default:
			badRequest(c, fmt.Sprintf("unknown status %q", s))
			return
		}
		queries, err = h.store.ListQueriesByStatus(c.Request.Context(), status, limit)
	} else {
		queries, err = h.store.RecentQueries(c.Request.Context(), limit)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	if queries == nil {
		queries = []models.Query{}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(queries), "data": queries})
}
