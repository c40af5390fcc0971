// Package lifecycle drives a query from submission to a terminal state.
//
// The Manager is the entry point used by the API layer. It orchestrates the
// complexity analyzer, the allocation engine and the budget ledger, persists
// every transition, and guarantees that no routed query holds a reservation
// forever: each reservation carries a deadline and the reaper fails queries
// that miss it.
//
//	submitted -> analyzed -> routed -> completed
//	     \           \          \
//	      +-----------+----------+--> failed
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/internal/budget"
	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/internal/complexity"
	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/internal/inference"
	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/internal/metrics"
	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/internal/router"
	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/pkg/models"
)

var (
	// ErrInvalidTransition is returned when an operation does not apply to
	// the query's current state. Terminal states never transition.
	ErrInvalidTransition = errors.New("lifecycle: invalid state transition")

	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("lifecycle: validation failed")
)

// Placeholders returned by GetResult for fields that are not set yet.
const (
	UnknownModel        = "Unknown"
	NoResponseAvailable = "No response available"
)

// Failure reasons recorded on failed queries.
const (
	ReasonAllocationFailed   = "allocation failed"
	ReasonInferenceFailed    = "inference failed"
	ReasonInferenceTimeout   = "inference timed out"
	ReasonReservationExpired = "reservation deadline exceeded"
	ReasonOrphaned           = "reservation lost on restart"
	ReasonSettlementFailed   = "settlement failed"
)

// Store persists query records.
type Store interface {
	CreateQuery(ctx context.Context, q *models.Query) error
	UpdateQuery(ctx context.Context, q *models.Query) error
	GetQuery(ctx context.Context, id string) (*models.Query, error)
	ListQueriesByStatus(ctx context.Context, status models.QueryStatus, limit int) ([]models.Query, error)
}

// Catalog provides the current model snapshot.
type Catalog interface {
	Snapshot() []models.ModelDescriptor
}

// Allocator selects a model and reserves its cost.
type Allocator interface {
	Allocate(score float64, preferred []string, candidates []models.ModelDescriptor) (*router.Decision, error)
}

// Settler closes reservations and books late spend.
type Settler interface {
	Settle(token budget.Token, actualCents float64) error
	Release(token budget.Token) error
	Charge(actualCents float64) error
}

// Config controls timeouts.
type Config struct {
	// InferenceTimeout bounds the inference step. A routed query that has
	// not completed within it is failed and its reservation released.
	InferenceTimeout time.Duration
	// MaxTextLength rejects longer queries at submission. Zero means no limit.
	MaxTextLength int
}

// Deps bundles the Manager's collaborators.
type Deps struct {
	Store     Store
	Analyzer  *complexity.Analyzer
	Catalog   Catalog
	Allocator Allocator
	Ledger    Settler
	Inference inference.Client
}

// reservation is an open budget hold on a routed query.
type reservation struct {
	token        budget.Token
	deadline     time.Time
	allocLatency time.Duration
	model        models.ModelDescriptor
}

// Manager orchestrates query lifecycles.
type Manager struct {
	store     Store
	analyzer  *complexity.Analyzer
	catalog   Catalog
	allocator Allocator
	ledger    Settler
	inference inference.Client
	cfg       Config

	locks keyedMutex

	mu       sync.Mutex
	inflight map[string]reservation // query id -> open reservation

	now func() time.Time
}

// NewManager creates a Manager.
func NewManager(deps Deps, cfg Config) *Manager {
	if cfg.InferenceTimeout <= 0 {
		cfg.InferenceTimeout = 30 * time.Second
	}
	analyzer := deps.Analyzer
	if analyzer == nil {
		analyzer = complexity.NewAnalyzer(nil)
	}
	return &Manager{
		store:     deps.Store,
		analyzer:  analyzer,
		catalog:   deps.Catalog,
		allocator: deps.Allocator,
		ledger:    deps.Ledger,
		inference: deps.Inference,
		cfg:       cfg,
		inflight:  make(map[string]reservation),
		now:       time.Now,
	}
}

// SubmitRequest is the input to Submit.
type SubmitRequest struct {
	UserID    string
	Text      string
	SessionID string
}

// Submit creates a query record in the submitted state.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (*models.Query, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("%w: query text is required", ErrValidation)
	}
	if m.cfg.MaxTextLength > 0 && len(req.Text) > m.cfg.MaxTextLength {
		return nil, fmt.Errorf("%w: query text exceeds %d bytes", ErrValidation, m.cfg.MaxTextLength)
	}

	now := m.now().UTC()
	q := &models.Query{
		ID:        uuid.New().String(),
		Text:      req.Text,
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Status:    models.StatusSubmitted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.CreateQuery(ctx, q); err != nil {
		return nil, fmt.Errorf("lifecycle: creating query: %w", err)
	}
	metrics.QueryTransitions.WithLabelValues(string(models.StatusSubmitted)).Inc()
	return q, nil
}

// Analyze scores a submitted query.
func (m *Manager) Analyze(ctx context.Context, id string) (*models.Query, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	q, err := m.load(ctx, id, models.StatusSubmitted)
	if err != nil {
		return nil, err
	}

	res := m.analyzer.Analyze(q.Text)
	q.ComplexityScore = &res.Score
	q.ComplexityCategory = res.Category
	if err := m.save(ctx, q, models.StatusAnalyzed); err != nil {
		return nil, err
	}
	return q, nil
}

// Allocation is the outcome of Allocate.
type Allocation struct {
	Query    *models.Query
	Decision *router.Decision
}

// Allocate selects a model for an analyzed query and reserves its cost.
// When no model can be reserved the query is failed and the returned error
// wraps router.ErrNoModelAvailable.
func (m *Manager) Allocate(ctx context.Context, id string, preferred []string) (*Allocation, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	q, err := m.load(ctx, id, models.StatusAnalyzed)
	if err != nil {
		return nil, err
	}
	var score float64
	if q.ComplexityScore != nil {
		score = *q.ComplexityScore
	}

	start := m.now()
	decision, allocErr := m.allocator.Allocate(score, preferred, m.catalog.Snapshot())
	allocLatency := m.now().Sub(start)

	if allocErr != nil {
		q.FailureReason = ReasonAllocationFailed + ": " + allocErr.Error()
		if err := m.save(ctx, q, models.StatusFailed); err != nil {
			log.Error().Err(err).Str("query_id", id).Msg("lifecycle: persisting allocation failure")
		}
		return nil, allocErr
	}

	cost := decision.ExpectedCostCents
	q.RoutedModel = decision.Model.Name
	q.ReservedCostCents = &cost
	if err := m.save(ctx, q, models.StatusRouted); err != nil {
		// The query stays analyzed; give the budget back.
		if relErr := m.ledger.Release(decision.Reservation); relErr != nil {
			log.Error().Err(relErr).Str("query_id", id).Msg("lifecycle: releasing reservation after failed save")
		}
		return nil, err
	}

	m.mu.Lock()
	m.inflight[id] = reservation{
		token:        decision.Reservation,
		deadline:     m.now().Add(m.cfg.InferenceTimeout),
		allocLatency: allocLatency,
		model:        decision.Model,
	}
	m.mu.Unlock()

	log.Debug().
		Str("query_id", id).
		Str("model", decision.Model.Name).
		Float64("reserved_cents", cost).
		Bool("fell_back", decision.FellBack).
		Msg("lifecycle: query routed")

	return &Allocation{Query: q, Decision: decision}, nil
}

// Outcome is the inference result written back for a routed query.
type Outcome struct {
	Response string
	// ActualCostCents defaults to the reserved cost when nil.
	ActualCostCents  *float64
	InferenceLatency time.Duration
}

// Complete settles a routed query's reservation with its actual cost and
// records the response.
func (m *Manager) Complete(ctx context.Context, id string, out Outcome) (*models.Query, error) {
	if c := out.ActualCostCents; c != nil && (*c < 0 || math.IsNaN(*c) || math.IsInf(*c, 0)) {
		return nil, fmt.Errorf("%w: actual cost must be a finite non-negative number", ErrValidation)
	}

	unlock := m.locks.Lock(id)
	defer unlock()

	q, err := m.load(ctx, id, models.StatusRouted)
	if err != nil {
		return nil, err
	}

	res, ok := m.take(id)
	if !ok {
		return nil, fmt.Errorf("%w: query %s has no open reservation", ErrInvalidTransition, id)
	}

	actual := res.token.AmountCents
	if out.ActualCostCents != nil {
		actual = *out.ActualCostCents
	}
	if err := m.ledger.Settle(res.token, actual); err != nil {
		// Keep the hold visible to Fail and the reaper.
		m.mu.Lock()
		m.inflight[id] = res
		m.mu.Unlock()
		return nil, fmt.Errorf("lifecycle: settling query %s: %w", id, err)
	}

	latency := float64((res.allocLatency + out.InferenceLatency).Microseconds()) / 1000
	response := out.Response
	q.ActualCostCents = &actual
	q.LatencyMs = &latency
	q.Response = &response
	if err := m.save(ctx, q, models.StatusCompleted); err != nil {
		// The ledger already booked the spend; the record is behind.
		log.Error().Err(err).Str("query_id", id).Float64("actual_cents", actual).
			Msg("lifecycle: settled query could not be persisted")
		return nil, err
	}
	return q, nil
}

// Fail moves a non-terminal query to failed, releasing its reservation if
// it holds one.
func (m *Manager) Fail(ctx context.Context, id, reason string) (*models.Query, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	q, err := m.store.GetQuery(ctx, id)
	if err != nil {
		return nil, err
	}
	if q.Status.Terminal() {
		return nil, fmt.Errorf("%w: query %s is already %s", ErrInvalidTransition, id, q.Status)
	}
	if err := m.failLocked(ctx, q, reason); err != nil {
		return nil, err
	}
	return q, nil
}

// failLocked releases any open reservation and persists the failed state.
// Must be called with the query's key lock held.
func (m *Manager) failLocked(ctx context.Context, q *models.Query, reason string) error {
	if res, ok := m.take(q.ID); ok {
		if err := m.ledger.Release(res.token); err != nil {
			log.Error().Err(err).Str("query_id", q.ID).Msg("lifecycle: releasing reservation")
		}
	}
	q.FailureReason = reason
	return m.save(ctx, q, models.StatusFailed)
}

// ProcessRequest is the input to Process.
type ProcessRequest struct {
	UserID          string
	Text            string
	SessionID       string
	PreferredModels []string
}

// Process runs the full pipeline: submit, analyze, allocate, infer and
// complete. An inference failure or timeout is an expected outcome: the
// query is returned in the failed state with a nil error.
func (m *Manager) Process(ctx context.Context, req ProcessRequest) (*models.Query, error) {
	q, err := m.Submit(ctx, SubmitRequest{UserID: req.UserID, Text: req.Text, SessionID: req.SessionID})
	if err != nil {
		return nil, err
	}
	if _, err := m.Analyze(ctx, q.ID); err != nil {
		return nil, err
	}
	alloc, err := m.Allocate(ctx, q.ID, req.PreferredModels)
	if err != nil {
		return nil, err
	}

	inferCtx, cancel := context.WithTimeout(ctx, m.cfg.InferenceTimeout)
	start := m.now()
	result, inferErr := m.inference.Infer(inferCtx, alloc.Decision.Model, req.Text)
	elapsed := m.now().Sub(start)
	cancel()

	// The outcome is recorded even if the caller has gone away.
	ctx = context.WithoutCancel(ctx)

	if inferErr != nil {
		reason := ReasonInferenceFailed
		if errors.Is(inferErr, context.DeadlineExceeded) {
			reason = ReasonInferenceTimeout
		}
		log.Warn().Err(inferErr).Str("query_id", q.ID).Str("model", alloc.Decision.Model.Name).
			Msg("lifecycle: inference failed")
		failed, err := m.Fail(ctx, q.ID, reason)
		if errors.Is(err, ErrInvalidTransition) {
			// reaped concurrently; the reservation is already released
			return m.store.GetQuery(ctx, q.ID)
		}
		return failed, err
	}

	cost := result.CostCents
	done, err := m.Complete(ctx, q.ID, Outcome{
		Response:         result.Text,
		ActualCostCents:  &cost,
		InferenceLatency: elapsed,
	})
	switch {
	case err == nil:
		return done, nil
	case errors.Is(err, ErrInvalidTransition):
		// Reaped while the provider was answering. The reservation is gone
		// but the call was paid for.
		log.Warn().Str("query_id", q.ID).Str("model", alloc.Decision.Model.Name).Float64("cost_cents", cost).
			Msg("lifecycle: inference finished after its reservation was reaped, booking late spend")
		if chErr := m.ledger.Charge(cost); chErr != nil {
			log.Error().Err(chErr).Str("query_id", q.ID).Float64("cost_cents", cost).
				Msg("lifecycle: late spend could not be booked")
		}
		return m.store.GetQuery(ctx, q.ID)
	default:
		if _, failErr := m.Fail(ctx, q.ID, ReasonSettlementFailed+": "+err.Error()); failErr != nil {
			log.Error().Err(failErr).Str("query_id", q.ID).Msg("lifecycle: failing unsettled query")
		}
		return nil, err
	}
}

// Result is the read model returned by GetResult. Unset fields carry
// placeholders; Completed distinguishes "not yet" from "done".
type Result struct {
	QueryID            string                    `json:"query_id"`
	QueryText          string                    `json:"query_text"`
	Status             models.QueryStatus        `json:"status"`
	Completed          bool                      `json:"completed"`
	ComplexityScore    float64                   `json:"complexity_score"`
	ComplexityCategory models.ComplexityCategory `json:"complexity_category,omitempty"`
	RoutedModel        string                    `json:"routed_model"`
	Response           string                    `json:"response"`
	LatencyMs          float64                   `json:"latency_ms"`
	ActualCostCents    float64                   `json:"actual_cost_cents"`
	FailureReason      string                    `json:"failure_reason,omitempty"`
}

// GetResult reads a query without changing its state.
func (m *Manager) GetResult(ctx context.Context, id string) (*Result, error) {
	q, err := m.store.GetQuery(ctx, id)
	if err != nil {
		return nil, err
	}

	r := &Result{
		QueryID:            q.ID,
		QueryText:          q.Text,
		Status:             q.Status,
		Completed:          q.Status == models.StatusCompleted,
		ComplexityCategory: q.ComplexityCategory,
		RoutedModel:        UnknownModel,
		Response:           NoResponseAvailable,
		FailureReason:      q.FailureReason,
	}
	if q.ComplexityScore != nil {
		r.ComplexityScore = *q.ComplexityScore
	}
	if q.RoutedModel != "" {
		r.RoutedModel = q.RoutedModel
	}
	if q.Response != nil && *q.Response != "" {
		r.Response = *q.Response
	}
	if q.LatencyMs != nil {
		r.LatencyMs = *q.LatencyMs
	}
	if q.ActualCostCents != nil {
		r.ActualCostCents = *q.ActualCostCents
	}
	return r, nil
}

// InFlight returns the number of routed queries holding a reservation.
func (m *Manager) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inflight)
}

// load fetches a query and checks it is in the expected state.
func (m *Manager) load(ctx context.Context, id string, want models.QueryStatus) (*models.Query, error) {
	q, err := m.store.GetQuery(ctx, id)
	if err != nil {
		return nil, err
	}
	if q.Status != want {
		return nil, fmt.Errorf("%w: query %s is %s, expected %s", ErrInvalidTransition, id, q.Status, want)
	}
	return q, nil
}

// save persists q in the given status and counts the transition.
func (m *Manager) save(ctx context.Context, q *models.Query, status models.QueryStatus) error {
	prev := q.Status
	q.Status = status
	q.UpdatedAt = m.now().UTC()
	if err := m.store.UpdateQuery(ctx, q); err != nil {
		q.Status = prev
		return fmt.Errorf("lifecycle: updating query %s: %w", q.ID, err)
	}
	metrics.QueryTransitions.WithLabelValues(string(status)).Inc()
	return nil
}

// take removes and returns the open reservation for id.
func (m *Manager) take(id string) (reservation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.inflight[id]
	if ok {
		delete(m.inflight, id)
	}
	return res, ok
}
