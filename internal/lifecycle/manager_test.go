package lifecycle

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/internal/budget"
	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/internal/complexity"
	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/internal/database"
	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/internal/inference"
	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/internal/registry"
	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/internal/router"
	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/pkg/models"
)

type fixture struct {
	m      *Manager
	store  *database.MemoryStore
	ledger *budget.Ledger
	reg    *registry.Registry
}

func defaultCatalog() []models.ModelDescriptor {
	return []models.ModelDescriptor{
		{Name: "cheap", CostPerQueryCents: 100, AverageLatencyMs: 200, Available: true},
		{Name: "premium", CostPerQueryCents: 1000, AverageLatencyMs: 900, Available: true},
		{Name: "offline", CostPerQueryCents: 1, AverageLatencyMs: 50, Available: false},
	}
}

func newFixture(t *testing.T, capCents float64, catalog []models.ModelDescriptor, client inference.Client, timeout time.Duration) *fixture {
	t.Helper()
	store := database.NewMemoryStore()
	ledger := budget.NewLedger(budget.Config{MonthlyCapCents: capCents})
	reg := registry.New(nil, catalog)
	if client == nil {
		client = inference.Loopback{}
	}
	m := NewManager(Deps{
		Store:     store,
		Analyzer:  complexity.NewAnalyzer(nil),
		Catalog:   reg,
		Allocator: router.NewEngine(ledger, nil),
		Ledger:    ledger,
		Inference: client,
	}, Config{InferenceTimeout: timeout})
	return &fixture{m: m, store: store, ledger: ledger, reg: reg}
}

// routed submits, analyzes and allocates a query.
func (f *fixture) routed(t *testing.T, text string) *Allocation {
	t.Helper()
	ctx := context.Background()
	q, err := f.m.Submit(ctx, SubmitRequest{UserID: "u1", Text: text})
	require.NoError(t, err)
	_, err = f.m.Analyze(ctx, q.ID)
	require.NoError(t, err)
	alloc, err := f.m.Allocate(ctx, q.ID, nil)
	require.NoError(t, err)
	return alloc
}

type blockingClient struct{}

func (blockingClient) Infer(ctx context.Context, _ models.ModelDescriptor, _ string) (*inference.Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type failingClient struct{}

func (failingClient) Infer(_ context.Context, _ models.ModelDescriptor, _ string) (*inference.Result, error) {
	return nil, errors.New("connection refused")
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t, 10000, defaultCatalog(), nil, time.Second)
	ctx := context.Background()

	_, err := f.m.Submit(ctx, SubmitRequest{UserID: "", Text: "hello"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.m.Submit(ctx, SubmitRequest{UserID: "u1", Text: "   "})
	assert.ErrorIs(t, err, ErrValidation)

	q, err := f.m.Submit(ctx, SubmitRequest{UserID: "u1", Text: "hello", SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmitted, q.Status)
	assert.Equal(t, "s1", q.SessionID)
	assert.NotEmpty(t, q.ID)
}

func TestSubmitMaxTextLength(t *testing.T) {
	f := newFixture(t, 10000, defaultCatalog(), nil, time.Second)
	f.m.cfg.MaxTextLength = 5

	_, err := f.m.Submit(context.Background(), SubmitRequest{UserID: "u1", Text: "too long"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestManualLifecycle(t *testing.T) {
	f := newFixture(t, 10000, defaultCatalog(), nil, time.Minute)
	ctx := context.Background()

	q, err := f.m.Submit(ctx, SubmitRequest{UserID: "u1", Text: strings.Repeat("a", 250)})
	require.NoError(t, err)

	q, err = f.m.Analyze(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAnalyzed, q.Status)
	require.NotNil(t, q.ComplexityScore)
	assert.InDelta(t, 2.5, *q.ComplexityScore, 1e-9)
	assert.Equal(t, models.ComplexityHigh, q.ComplexityCategory)
	assert.Empty(t, q.RoutedModel)

	alloc, err := f.m.Allocate(ctx, q.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRouted, alloc.Query.Status)
	assert.Equal(t, "cheap", alloc.Query.RoutedModel)
	assert.Equal(t, 100.0, f.ledger.Snapshot().CommittedCents)
	assert.Equal(t, 1, f.m.InFlight())

	actual := 80.0
	done, err := f.m.Complete(ctx, q.ID, Outcome{Response: "answer", ActualCostCents: &actual, InferenceLatency: 250 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.Equal(t, 80.0, *done.ActualCostCents)
	assert.GreaterOrEqual(t, *done.LatencyMs, 250.0)

	snap := f.ledger.Snapshot()
	assert.Equal(t, 0.0, snap.CommittedCents)
	assert.Equal(t, 80.0, snap.SettledCents)
	assert.Equal(t, 0, f.m.InFlight())

	res, err := f.m.GetResult(ctx, q.ID)
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, "answer", res.Response)
	assert.Equal(t, "cheap", res.RoutedModel)
}

func TestInvalidTransitions(t *testing.T) {
	f := newFixture(t, 10000, defaultCatalog(), nil, time.Minute)
	ctx := context.Background()

	q, err := f.m.Submit(ctx, SubmitRequest{UserID: "u1", Text: "hi"})
	require.NoError(t, err)

	_, err = f.m.Allocate(ctx, q.ID, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition, "allocate before analyze")

	_, err = f.m.Complete(ctx, q.ID, Outcome{Response: "x"})
	assert.ErrorIs(t, err, ErrInvalidTransition, "complete before routing")

	_, err = f.m.Analyze(ctx, q.ID)
	require.NoError(t, err)
	_, err = f.m.Analyze(ctx, q.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition, "analyze twice")

	_, err = f.m.Allocate(ctx, q.ID, nil)
	require.NoError(t, err)
	_, err = f.m.Complete(ctx, q.ID, Outcome{Response: "x"})
	require.NoError(t, err)

	_, err = f.m.Fail(ctx, q.ID, "late")
	assert.ErrorIs(t, err, ErrInvalidTransition, "completed is terminal")
	_, err = f.m.Complete(ctx, q.ID, Outcome{Response: "again"})
	assert.ErrorIs(t, err, ErrInvalidTransition, "no double completion")

	assert.Equal(t, 100.0, f.ledger.Snapshot().SettledCents)
}

func TestUnknownQuery(t *testing.T) {
	f := newFixture(t, 10000, defaultCatalog(), nil, time.Minute)
	ctx := context.Background()

	_, err := f.m.Analyze(ctx, "missing")
	assert.ErrorIs(t, err, database.ErrNotFound)

	_, err = f.m.GetResult(ctx, "missing")
	assert.ErrorIs(t, err, database.ErrNotFound)

	_, err = f.m.Fail(ctx, "missing", "x")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestAllocationFailureFailsQuery(t *testing.T) {
	f := newFixture(t, 50, defaultCatalog(), nil, time.Minute)
	ctx := context.Background()

	q, err := f.m.Submit(ctx, SubmitRequest{UserID: "u1", Text: "hi"})
	require.NoError(t, err)
	_, err = f.m.Analyze(ctx, q.ID)
	require.NoError(t, err)

	_, err = f.m.Allocate(ctx, q.ID, nil)
	assert.ErrorIs(t, err, router.ErrNoModelAvailable)

	got, err := f.store.GetQuery(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Empty(t, got.RoutedModel)
	assert.Contains(t, got.FailureReason, ReasonAllocationFailed)
	assert.Equal(t, 0.0, f.ledger.Snapshot().CommittedCents)
	assert.Equal(t, 0, f.m.InFlight())
}

func TestCompleteDefaultsToReservedCost(t *testing.T) {
	f := newFixture(t, 10000, defaultCatalog(), nil, time.Minute)
	alloc := f.routed(t, "hi")

	done, err := f.m.Complete(context.Background(), alloc.Query.ID, Outcome{Response: "ok"})
	require.NoError(t, err)
	assert.Equal(t, 100.0, *done.ActualCostCents)
	assert.Equal(t, 100.0, f.ledger.Snapshot().SettledCents)
}

func TestCompleteRejectsNegativeCost(t *testing.T) {
	f := newFixture(t, 10000, defaultCatalog(), nil, time.Minute)
	alloc := f.routed(t, "hi")

	neg := -1.0
	_, err := f.m.Complete(context.Background(), alloc.Query.ID, Outcome{ActualCostCents: &neg})
	assert.ErrorIs(t, err, ErrValidation)

	// the reservation is still open and can be completed properly
	assert.Equal(t, 1, f.m.InFlight())
	_, err = f.m.Complete(context.Background(), alloc.Query.ID, Outcome{Response: "ok"})
	assert.NoError(t, err)
}

func TestCompleteAboveReservationIsAlerted(t *testing.T) {
	f := newFixture(t, 150, defaultCatalog(), nil, time.Minute)
	alloc := f.routed(t, "hi")

	actual := 400.0
	done, err := f.m.Complete(context.Background(), alloc.Query.ID, Outcome{Response: "ok", ActualCostCents: &actual})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)

	snap := f.ledger.Snapshot()
	assert.Equal(t, 400.0, snap.SettledCents)
	assert.Contains(t, snap.Alerts, budget.AlertOverCap)
}

func TestFailReleasesReservation(t *testing.T) {
	f := newFixture(t, 10000, defaultCatalog(), nil, time.Minute)
	alloc := f.routed(t, "hi")
	require.Equal(t, 100.0, f.ledger.Snapshot().CommittedCents)

	q, err := f.m.Fail(context.Background(), alloc.Query.ID, "client gave up")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, q.Status)
	assert.Equal(t, "client gave up", q.FailureReason)

	snap := f.ledger.Snapshot()
	assert.Equal(t, 0.0, snap.CommittedCents)
	assert.Equal(t, 0.0, snap.SettledCents)
	assert.Equal(t, 0, snap.OpenReservations)
}

func TestFailBeforeRouting(t *testing.T) {
	f := newFixture(t, 10000, defaultCatalog(), nil, time.Minute)
	q, err := f.m.Submit(context.Background(), SubmitRequest{UserID: "u1", Text: "hi"})
	require.NoError(t, err)

	failed, err := f.m.Fail(context.Background(), q.ID, "cancelled")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, failed.Status)
}

func TestProcessSuccess(t *testing.T) {
	f := newFixture(t, 10000, defaultCatalog(), inference.Loopback{}, time.Second)
	ctx := context.Background()

	q, err := f.m.Process(ctx, ProcessRequest{UserID: "u1", Text: "what is 2+2", SessionID: "sess"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, q.Status)
	assert.Equal(t, "cheap", q.RoutedModel)
	require.NotNil(t, q.Response)
	assert.Contains(t, *q.Response, "what is 2+2")

	stored, err := f.store.GetQuery(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, "sess", stored.SessionID)
	assert.Equal(t, models.StatusCompleted, stored.Status)
	assert.Equal(t, 100.0, f.ledger.Snapshot().SettledCents)
}

func TestProcessPreferenceFallsBack(t *testing.T) {
	f := newFixture(t, 10000, defaultCatalog(), inference.Loopback{}, time.Second)

	q, err := f.m.Process(context.Background(), ProcessRequest{UserID: "u1", Text: "x", PreferredModels: []string{"offline"}})
	require.NoError(t, err)
	assert.Equal(t, "cheap", q.RoutedModel)

	q, err = f.m.Process(context.Background(), ProcessRequest{UserID: "u1", Text: "x", PreferredModels: []string{"premium"}})
	require.NoError(t, err)
	assert.Equal(t, "premium", q.RoutedModel)
}

func TestProcessNoModelAvailable(t *testing.T) {
	f := newFixture(t, 10, defaultCatalog(), inference.Loopback{}, time.Second)

	_, err := f.m.Process(context.Background(), ProcessRequest{UserID: "u1", Text: "x"})
	assert.ErrorIs(t, err, router.ErrNoModelAvailable)
}

func TestProcessTimeoutReleasesReservation(t *testing.T) {
	catalog := []models.ModelDescriptor{{Name: "only", CostPerQueryCents: 1000, Available: true}}
	f := newFixture(t, 1000, catalog, blockingClient{}, 20*time.Millisecond)
	ctx := context.Background()

	q, err := f.m.Process(ctx, ProcessRequest{UserID: "u1", Text: "slow"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, q.Status)
	assert.Equal(t, ReasonInferenceTimeout, q.FailureReason)

	snap := f.ledger.Snapshot()
	assert.Equal(t, 0.0, snap.CommittedCents)
	assert.Equal(t, 0, snap.OpenReservations)

	// the released capacity is available to the next query
	f.m.inference = inference.Loopback{}
	q, err = f.m.Process(ctx, ProcessRequest{UserID: "u1", Text: "fast"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, q.Status)
	assert.Equal(t, 1000.0, f.ledger.Snapshot().SettledCents)
}

func TestProcessInferenceError(t *testing.T) {
	f := newFixture(t, 10000, defaultCatalog(), failingClient{}, time.Second)

	q, err := f.m.Process(context.Background(), ProcessRequest{UserID: "u1", Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, q.Status)
	assert.Equal(t, ReasonInferenceFailed, q.FailureReason)
	assert.Equal(t, 0.0, f.ledger.Snapshot().CommittedCents)
}

func TestReapExpiredReservation(t *testing.T) {
	f := newFixture(t, 10000, defaultCatalog(), nil, time.Second)
	ctx := context.Background()
	alloc := f.routed(t, "hi")

	assert.Equal(t, 0, f.m.Reap(ctx, time.Now()), "not expired yet")

	n := f.m.Reap(ctx, time.Now().Add(time.Minute))
	assert.Equal(t, 1, n)

	got, err := f.store.GetQuery(ctx, alloc.Query.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, ReasonReservationExpired, got.FailureReason)
	assert.Equal(t, 0.0, f.ledger.Snapshot().CommittedCents)
	assert.Equal(t, 0, f.m.InFlight())

	// a late completion is rejected and books nothing
	_, err = f.m.Complete(ctx, alloc.Query.ID, Outcome{Response: "late"})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, 0.0, f.ledger.Snapshot().SettledCents)
}

func TestRunReapsInBackground(t *testing.T) {
	f := newFixture(t, 10000, defaultCatalog(), nil, 10*time.Millisecond)
	alloc := f.routed(t, "hi")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.m.Run(ctx, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		q, err := f.store.GetQuery(context.Background(), alloc.Query.ID)
		return err == nil && q.Status == models.StatusFailed
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0.0, f.ledger.Snapshot().CommittedCents)
}

func TestCompleteAndFailAreExclusive(t *testing.T) {
	f := newFixture(t, 1000000, defaultCatalog(), nil, time.Minute)
	ctx := context.Background()

	const n = 50
	ids := make([]string, n)
	for i := range ids {
		ids[i] = f.routed(t, "race").Query.ID
	}

	var completed, failed atomic.Int64
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(3)
		go func(id string) {
			defer wg.Done()
			if _, err := f.m.Complete(ctx, id, Outcome{Response: "ok"}); err == nil {
				completed.Add(1)
			}
		}(id)
		go func(id string) {
			defer wg.Done()
			if _, err := f.m.Fail(ctx, id, "cancelled"); err == nil {
				failed.Add(1)
			}
		}(id)
		go func(id string) {
			defer wg.Done()
			f.m.Reap(ctx, time.Now().Add(time.Hour))
		}(id)
	}
	wg.Wait()

	snap := f.ledger.Snapshot()
	assert.Equal(t, 0.0, snap.CommittedCents)
	assert.Equal(t, 0, snap.OpenReservations)
	assert.Equal(t, float64(completed.Load())*100, snap.SettledCents)
	assert.LessOrEqual(t, completed.Load()+failed.Load(), int64(n))

	for _, id := range ids {
		q, err := f.store.GetQuery(ctx, id)
		require.NoError(t, err)
		assert.True(t, q.Status.Terminal(), "query %s left in %s", id, q.Status)
		if q.Status == models.StatusCompleted {
			assert.NotNil(t, q.ActualCostCents)
		} else {
			assert.Nil(t, q.ActualCostCents)
		}
	}
	assert.Equal(t, 0, f.m.locks.size())
}

func TestRecoverOrphans(t *testing.T) {
	f := newFixture(t, 10000, defaultCatalog(), nil, time.Minute)
	ctx := context.Background()

	now := time.Now()
	orphan := &models.Query{
		ID: "orphan", Text: "x", UserID: "u1", RoutedModel: "cheap",
		Status: models.StatusRouted, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, f.store.CreateQuery(ctx, orphan))
	live := f.routed(t, "live")

	n, err := f.m.RecoverOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, _ := f.store.GetQuery(ctx, "orphan")
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, ReasonOrphaned, got.FailureReason)

	still, _ := f.store.GetQuery(ctx, live.Query.ID)
	assert.Equal(t, models.StatusRouted, still.Status)
	assert.Equal(t, 100.0, f.ledger.Snapshot().CommittedCents)
}

func TestGetResultPlaceholders(t *testing.T) {
	f := newFixture(t, 10000, defaultCatalog(), nil, time.Minute)
	ctx := context.Background()

	q, err := f.m.Submit(ctx, SubmitRequest{UserID: "u1", Text: "pending"})
	require.NoError(t, err)

	res, err := f.m.GetResult(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, UnknownModel, res.RoutedModel)
	assert.Equal(t, NoResponseAvailable, res.Response)
	assert.False(t, res.Completed)
	assert.Equal(t, models.StatusSubmitted, res.Status)
	assert.Zero(t, res.LatencyMs)
	assert.Zero(t, res.ActualCostCents)

	// retrieval does not transition state
	again, _ := f.store.GetQuery(ctx, q.ID)
	assert.Equal(t, models.StatusSubmitted, again.Status)

	alloc := f.routed(t, "routed")
	res, err = f.m.GetResult(ctx, alloc.Query.ID)
	require.NoError(t, err)
	assert.Equal(t, "cheap", res.RoutedModel)
	assert.Equal(t, NoResponseAvailable, res.Response)
	assert.False(t, res.Completed)
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	var k keyedMutex
	unlock := k.Lock("a")
	assert.Equal(t, 1, k.size())

	done := make(chan struct{})
	go func() {
		u := k.Lock("a")
		u()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second Lock should block while the first is held")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	<-done
	assert.Equal(t, 0, k.size())
}

func TestCompleteRejectsNonFiniteCost(t *testing.T) {
	f := newFixture(t, 10000, defaultCatalog(), nil, time.Minute)
	ctx := context.Background()
	alloc := f.routed(t, "hi")

	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		cost := bad
		_, err := f.m.Complete(ctx, alloc.Query.ID, Outcome{Response: "x", ActualCostCents: &cost})
		assert.ErrorIs(t, err, ErrValidation, "cost %v", bad)
	}
	assert.Equal(t, 1, f.m.InFlight())

	_, err := f.m.Fail(ctx, alloc.Query.ID, "cancelled")
	require.NoError(t, err)
	snap := f.ledger.Snapshot()
	assert.Equal(t, 0.0, snap.CommittedCents)
	assert.Equal(t, 0, snap.OpenReservations)
}

// rejectingSettler refuses every settlement.
type rejectingSettler struct {
	*budget.Ledger
}

func (rejectingSettler) Settle(budget.Token, float64) error {
	return budget.ErrInvalidAmount
}

func TestCompleteSettleErrorKeepsReservation(t *testing.T) {
	f := newFixture(t, 10000, defaultCatalog(), nil, time.Second)
	f.m.ledger = rejectingSettler{f.ledger}
	ctx := context.Background()
	alloc := f.routed(t, "hi")

	_, err := f.m.Complete(ctx, alloc.Query.ID, Outcome{Response: "x"})
	require.ErrorIs(t, err, budget.ErrInvalidAmount)
	assert.Equal(t, 1, f.m.InFlight())

	assert.Equal(t, 1, f.m.Reap(ctx, time.Now().Add(time.Hour)))
	snap := f.ledger.Snapshot()
	assert.Equal(t, 0.0, snap.CommittedCents)
	assert.Equal(t, 0, snap.OpenReservations)
}

// hookClient runs before before answering like Loopback.
type hookClient struct {
	before func()
}

func (h hookClient) Infer(ctx context.Context, model models.ModelDescriptor, text string) (*inference.Result, error) {
	h.before()
	return inference.Loopback{}.Infer(ctx, model, text)
}

func TestProcessBooksSpendAfterReap(t *testing.T) {
	f := newFixture(t, 10000, defaultCatalog(), nil, time.Minute)
	ctx := context.Background()
	f.m.inference = hookClient{before: func() {
		require.Equal(t, 1, f.m.Reap(ctx, time.Now().Add(time.Hour)))
	}}

	q, err := f.m.Process(ctx, ProcessRequest{UserID: "u1", Text: "slow answer"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, q.Status)
	assert.Equal(t, ReasonReservationExpired, q.FailureReason)

	snap := f.ledger.Snapshot()
	assert.Equal(t, 0.0, snap.CommittedCents)
	assert.Equal(t, 100.0, snap.SettledCents)
	assert.Equal(t, 0, f.m.InFlight())
}

func TestProcessFailsQueryOnBadProviderCost(t *testing.T) {
	catalog := []models.ModelDescriptor{{Name: "broken", CostPerQueryCents: 100, Available: true}}
	f := newFixture(t, 10000, catalog, nil, time.Minute)
	ctx := context.Background()
	f.m.inference = nanCostClient{}

	_, err := f.m.Process(ctx, ProcessRequest{UserID: "u1", Text: "x"})
	require.ErrorIs(t, err, ErrValidation)

	failed, err := f.store.ListQueriesByStatus(ctx, models.StatusFailed, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.True(t, strings.HasPrefix(failed[0].FailureReason, ReasonSettlementFailed))
	assert.Equal(t, 0.0, f.ledger.Snapshot().CommittedCents)
	assert.Equal(t, 0, f.m.InFlight())
}

type nanCostClient struct{}

func (nanCostClient) Infer(_ context.Context, _ models.ModelDescriptor, _ string) (*inference.Result, error) {
	return &inference.Result{Text: "ok", CostCents: math.NaN()}, nil
}
