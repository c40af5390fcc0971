package analytics

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/internal/budget"
	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/internal/database"
	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/pkg/models"
)

func completed(id string, cost float64) *models.Query {
	return &models.Query{ID: id, Text: "q", UserID: "u", Status: models.StatusCompleted, ActualCostCents: &cost}
}

func TestMetricsEmpty(t *testing.T) {
	ledger := budget.NewLedger(budget.Config{MonthlyCapCents: 1000, AlertThresholdCents: 100})
	r := NewFinanceReporter(database.NewMemoryStore(), ledger)

	m, err := r.Metrics(context.Background())
	require.NoError(t, err)
	assert.Zero(t, m.TotalExpenditure)
	assert.Zero(t, m.CostPerQuery, "no queries means zero cost per query")
	assert.Equal(t, 1000.0, m.MonthlyBudget)
	assert.Equal(t, 1000.0, m.RemainingBudget)
	assert.Equal(t, 100.0, m.FinancialHealthScore)
	assert.Empty(t, m.BudgetAlerts)
	assert.NotNil(t, m.BudgetAlerts)
}

func TestMetricsWithSpend(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryStore()
	require.NoError(t, store.CreateQuery(ctx, completed("a", 300)))
	require.NoError(t, store.CreateQuery(ctx, completed("b", 450)))
	require.NoError(t, store.CreateQuery(ctx, &models.Query{ID: "c", Text: "q", UserID: "u", Status: models.StatusSubmitted}))

	ledger := budget.NewLedger(budget.Config{MonthlyCapCents: 1000, AlertThresholdCents: 300})
	for _, cost := range []float64{300, 450} {
		tok, err := ledger.TryReserve(cost)
		require.NoError(t, err)
		require.NoError(t, ledger.Settle(tok, cost))
	}
	_, err := ledger.TryReserve(50)
	require.NoError(t, err)

	m, err := NewFinanceReporter(store, ledger).Metrics(ctx)
	require.NoError(t, err)

	assert.Equal(t, 750.0, m.TotalExpenditure)
	assert.Equal(t, 750.0, m.PeriodExpenditure)
	assert.Equal(t, int64(3), m.TotalQueries)
	assert.Equal(t, 250.0, m.CostPerQuery)
	assert.Equal(t, 50.0, m.CommittedBudget)
	assert.Equal(t, 200.0, m.RemainingBudget)
	assert.Equal(t, 20.0, m.FinancialHealthScore)
	assert.Equal(t, []string{budget.AlertBelowThreshold}, m.BudgetAlerts)
}

func TestMetricsZeroCap(t *testing.T) {
	ledger := budget.NewLedger(budget.Config{MonthlyCapCents: 0})
	m, err := NewFinanceReporter(database.NewMemoryStore(), ledger).Metrics(context.Background())
	require.NoError(t, err)
	assert.Zero(t, m.FinancialHealthScore)
}

type brokenStats struct{}

func (brokenStats) CountQueries(context.Context) (int64, error) { return 0, nil }
func (brokenStats) SumQueryCost(context.Context) (float64, error) { return 0, errors.New("db down") }

func TestMetricsStoreError(t *testing.T) {
	ledger := budget.NewLedger(budget.Config{MonthlyCapCents: 10})
	_, err := NewFinanceReporter(brokenStats{}, ledger).Metrics(context.Background())
	assert.ErrorContains(t, err, "db down")
}
