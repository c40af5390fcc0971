// Package metrics exposes Prometheus instrumentation for the prompt router.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Query lifecycle
	QueryTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptrouter_query_transitions_total",
			Help: "Total number of query state transitions, by target state",
		},
		[]string{"status"},
	)

	ReservationsReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "promptrouter_reservations_reaped_total",
			Help: "Routed queries failed by the timeout reaper",
		},
	)

	// Allocation
	Allocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptrouter_allocations_total",
			Help: "Allocation attempts by selected model and result",
		},
		[]string{"model", "result"}, // result: reserved/rejected/no_candidates
	)

	PreferenceFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "promptrouter_preference_fallbacks_total",
			Help: "Allocations where no preferred model was available",
		},
	)

	// Budget ledger
	BudgetCommittedCents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "promptrouter_budget_committed_cents",
			Help: "Cents held by open reservations",
		},
	)

	BudgetSettledCents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "promptrouter_budget_settled_cents",
			Help: "Cents settled in the current budget period",
		},
	)

	BudgetCapCents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "promptrouter_budget_cap_cents",
			Help: "Monthly budget cap in cents",
		},
	)

	BudgetRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "promptrouter_budget_rejections_total",
			Help: "Reservations rejected because the cap would be exceeded",
		},
	)

	BudgetOverruns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "promptrouter_budget_overruns_total",
			Help: "Settlements that pushed spend above the monthly cap",
		},
	)

	LedgerViolations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptrouter_ledger_violations_total",
			Help: "Reservation protocol violations by kind",
		},
		[]string{"kind"}, // already_closed/unknown
	)

	// Inference
	InferenceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "promptrouter_inference_duration_seconds",
			Help:    "Inference call duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
		[]string{"model", "status"},
	)

	InferenceCostCents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptrouter_inference_cost_cents_total",
			Help: "Settled inference cost in cents",
		},
		[]string{"model"},
	)
)
