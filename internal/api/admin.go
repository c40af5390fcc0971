package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/internal/database"
	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/internal/health"
	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/pkg/models"
)

// SubmitFeedbackRequest is the body of POST /feedback.
type SubmitFeedbackRequest struct {
	UserID  string `json:"user_id"`
	QueryID string `json:"query_id"`
	Content string `json:"content"`
}

// SubmitFeedback stores free-text feedback.
func (h *Handlers) SubmitFeedback(c *gin.Context) {
	var req SubmitFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		badRequest(c, "content is required")
		return
	}

	f := &models.Feedback{
		ID:        uuid.New().String(),
		UserID:    req.UserID,
		QueryID:   req.QueryID,
		Content:   req.Content,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.CreateFeedback(c.Request.Context(), f); err != nil {
		log.Error().Err(err).Msg("api: storing feedback")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to submit feedback."})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"success":     true,
		"message":     MsgFeedbackReceived,
		"feedback_id": f.ID,
	})
}

// ListFeedback returns the most recent feedback entries.
func (h *Handlers) ListFeedback(c *gin.Context) {
	entries, err := h.store.ListFeedback(c.Request.Context(), queryLimit(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if entries == nil {
		entries = []models.Feedback{}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(entries), "data": entries})
}

// FinanceMetrics returns spend against the monthly budget.
func (h *Handlers) FinanceMetrics(c *gin.Context) {
	m, err := h.finance.Metrics(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// SystemHealth returns the full health report. A critical report is served
// with 503 so load balancers can act on it.
func (h *Handlers) SystemHealth(c *gin.Context) {
	report := h.health.Check(c.Request.Context())
	status := http.StatusOK
	if report.OverallStatus == health.StatusCritical {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

// CreateUserRequest is the body of POST /admin/users.
type CreateUserRequest struct {
	Email string          `json:"email"`
	Role  models.UserRole `json:"role"`
}

// CreateUser registers an account. The role defaults to user.
func (h *Handlers) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if !strings.Contains(req.Email, "@") {
		badRequest(c, "a valid email is required")
		return
	}
	if req.Role == "" {
		req.Role = models.RoleUser
	}
	if !req.Role.Valid() {
		badRequest(c, fmt.Sprintf("unknown role %q", req.Role))
		return
	}

	now := time.Now().UTC()
	u := &models.User{
		ID:        uuid.New().String(),
		Email:     req.Email,
		Role:      req.Role,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.store.CreateUser(c.Request.Context(), u); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

// ManageUserRequest is the body of PUT /admin/users/:id.
type ManageUserRequest struct {
	Role     models.UserRole `json:"role"`
	IsActive *bool           `json:"is_active"`
}

// ManageUser updates a user's role and active flag.
func (h *Handlers) ManageUser(c *gin.Context) {
	id := c.Param("id")

	var req ManageUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"is_success": false, "message": err.Error()})
		return
	}
	if !req.Role.Valid() || req.IsActive == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"is_success": false,
			"message":    "role (admin, finance or user) and is_active are required",
		})
		return
	}

	u, err := h.store.UpdateUserRole(c.Request.Context(), id, req.Role, *req.IsActive)
	switch {
	case errors.Is(err, database.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"is_success": false,
			"message":    fmt.Sprintf("User with ID %s not found.", id),
		})
		return
	case err != nil:
		log.Error().Err(err).Str("user_id", id).Msg("api: updating user")
		c.JSON(http.StatusInternalServerError, gin.H{
			"is_success": false,
			"message":    fmt.Sprintf("Failed to update user with ID %s.", id),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"is_success": true,
		"message":    fmt.Sprintf("User with ID %s successfully updated.", id),
		"user":       u,
	})
}

// ListModels returns the current registry snapshot.
func (h *Handlers) ListModels(c *gin.Context) {
	snap := h.registry.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"count":     len(snap),
		"available": h.registry.AvailableCount(),
		"version":   h.registry.Version(),
		"data":      snap,
	})
}

// SetModelAvailabilityRequest is the body of PUT /admin/models/:name/availability.
type SetModelAvailabilityRequest struct {
	Available *bool `json:"available"`
}

// SetModelAvailability flips a model in and out of routing. The store is
// written first so a later refresh does not undo the change.
func (h *Handlers) SetModelAvailability(c *gin.Context) {
	name := c.Param("name")
	var req SetModelAvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.Available == nil {
		badRequest(c, "available is required")
		return
	}
	if _, ok := h.registry.Get(name); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("model %q not found", name), "code": "not_found"})
		return
	}
	if err := h.store.SetModelAvailability(c.Request.Context(), name, *req.Available); err != nil {
		writeError(c, err)
		return
	}
	if err := h.registry.SetAvailability(name, *req.Available); err != nil {
		writeError(c, err)
		return
	}
	m, _ := h.registry.Get(name)
	c.JSON(http.StatusOK, m)
}

// RefreshModels reloads the registry from the catalog store.
func (h *Handlers) RefreshModels(c *gin.Context) {
	if err := h.registry.Refresh(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"version":   h.registry.Version(),
		"available": h.registry.AvailableCount(),
	})
}

// GetBudget returns the ledger snapshot.
func (h *Handlers) GetBudget(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ledger":   h.ledger.Snapshot(),
		"inflight": h.queries.InFlight(),
	})
}

// ResetBudget starts a new budget period immediately.
func (h *Handlers) ResetBudget(c *gin.Context) {
	snap := h.ledger.Reset()
	log.Warn().Uint64("period", snap.Period).Msg("api: budget period reset by admin")
	c.JSON(http.StatusOK, snap)
}
