// Package analytics derives financial reporting from stored queries and the
// live budget ledger. Nothing here is persisted; every report is computed on request.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/internal/budget"
)

// QueryStats is the slice of the store the reporter reads.
type QueryStats interface {
	CountQueries(ctx context.Context) (int64, error)
	SumQueryCost(ctx context.Context) (float64, error)
}

// BudgetSource exposes the ledger's current state.
type BudgetSource interface {
	Snapshot() budget.Snapshot
}

// FinanceMetrics summarizes spend against the monthly budget. Amounts are cents.
type FinanceMetrics struct {
	TotalExpenditure     float64   `json:"total_expenditure"`
	PeriodExpenditure    float64   `json:"period_expenditure"`
	MonthlyBudget        float64   `json:"monthly_budget"`
	RemainingBudget      float64   `json:"remaining_budget"`
	CommittedBudget      float64   `json:"committed_budget"`
	TotalQueries         int64     `json:"total_queries"`
	CostPerQuery         float64   `json:"cost_per_query"`
	BudgetAlerts         []string  `json:"budget_alerts"`
	FinancialHealthScore float64   `json:"financial_health_score"`
	PeriodStart          time.Time `json:"period_start"`
	GeneratedAt          time.Time `json:"generated_at"`
}

// FinanceReporter builds FinanceMetrics.
type FinanceReporter struct {
	store  QueryStats
	ledger BudgetSource
	now    func() time.Time
}

// NewFinanceReporter creates a reporter over the given store and ledger.
func NewFinanceReporter(store QueryStats, ledger BudgetSource) *FinanceReporter {
	return &FinanceReporter{store: store, ledger: ledger, now: time.Now}
}

// Metrics computes the current financial report.
//
// Total expenditure is the settled cost of every completed query in the store.
// Remaining budget, committed spend and alerts come from the ledger, so they
// reflect the current period including in-flight reservations. The health
// score is remaining / cap x 100 and goes negative once spend passes the cap.
func (r *FinanceReporter) Metrics(ctx context.Context) (*FinanceMetrics, error) {
	total, err := r.store.SumQueryCost(ctx)
	if err != nil {
		return nil, fmt.Errorf("summing query cost: %w", err)
	}
	count, err := r.store.CountQueries(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting queries: %w", err)
	}
	snap := r.ledger.Snapshot()

	totalDec := decimal.NewFromFloat(total)
	perQuery := decimal.Zero
	if count > 0 {
		perQuery = totalDec.Div(decimal.NewFromInt(count))
	}

	score := decimal.Zero
	if snap.MonthlyCapCents > 0 {
		score = decimal.NewFromFloat(snap.RemainingCents).
			Div(decimal.NewFromFloat(snap.MonthlyCapCents)).
			Mul(decimal.NewFromInt(100))
	}

	alerts := snap.Alerts
	if alerts == nil {
		alerts = []string{}
	}

	return &FinanceMetrics{
		TotalExpenditure:     total,
		PeriodExpenditure:    snap.SettledCents,
		MonthlyBudget:        snap.MonthlyCapCents,
		RemainingBudget:      snap.RemainingCents,
		CommittedBudget:      snap.CommittedCents,
		TotalQueries:         count,
		CostPerQuery:         perQuery.Round(4).InexactFloat64(),
		BudgetAlerts:         alerts,
		FinancialHealthScore: score.Round(2).InexactFloat64(),
		PeriodStart:          snap.PeriodStart,
		GeneratedAt:          r.now().UTC(),
	}, nil
}
