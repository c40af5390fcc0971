// Package router implements the allocation engine.
//
// Given a complexity score, an optional preference list and the current
// model catalog, the engine ranks eligible models and reserves the selected
// model's per-query cost against the budget ledger. When the ledger rejects a
// reservation the engine moves on to the next-ranked model; only when every
// candidate is rejected does allocation fail.
package router

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/internal/budget"
	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/internal/metrics"
	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/pkg/models"
)

// ErrNoModelAvailable means no candidate could be selected and reserved.
// Callers surface it as an allocation failure; retrying immediately will not
// change the outcome.
var ErrNoModelAvailable = errors.New("router: no model available")

// RoutingStrategy names a ranking policy.
type RoutingStrategy string

const (
	// StrategyCostOptimized ranks the cheapest model first.
	StrategyCostOptimized RoutingStrategy = "cost_optimized"

	// StrategyLatencyOptimized ranks the fastest responding model first.
	StrategyLatencyOptimized RoutingStrategy = "latency_optimized"
)

// RankingPolicy orders eligible candidates, best first. Implementations must
// be deterministic and must not mutate anything but the given slice.
type RankingPolicy interface {
	Rank(score float64, candidates []models.ModelDescriptor)
}

// CostRanking orders by cost, then latency, then name.
type CostRanking struct{}

// Rank implements RankingPolicy.
func (CostRanking) Rank(_ float64, c []models.ModelDescriptor) {
	sort.SliceStable(c, func(i, j int) bool {
		if c[i].CostPerQueryCents != c[j].CostPerQueryCents {
			return c[i].CostPerQueryCents < c[j].CostPerQueryCents
		}
		if c[i].AverageLatencyMs != c[j].AverageLatencyMs {
			return c[i].AverageLatencyMs < c[j].AverageLatencyMs
		}
		return c[i].Name < c[j].Name
	})
}

// LatencyRanking orders by latency, then cost, then name.
type LatencyRanking struct{}

// Rank implements RankingPolicy.
func (LatencyRanking) Rank(_ float64, c []models.ModelDescriptor) {
	sort.SliceStable(c, func(i, j int) bool {
		if c[i].AverageLatencyMs != c[j].AverageLatencyMs {
			return c[i].AverageLatencyMs < c[j].AverageLatencyMs
		}
		if c[i].CostPerQueryCents != c[j].CostPerQueryCents {
			return c[i].CostPerQueryCents < c[j].CostPerQueryCents
		}
		return c[i].Name < c[j].Name
	})
}

// PolicyFor maps a strategy name to its ranking policy. Unknown names get
// cost ranking.
func PolicyFor(strategy RoutingStrategy) RankingPolicy {
	switch RoutingStrategy(strings.ToLower(string(strategy))) {
	case StrategyLatencyOptimized:
		return LatencyRanking{}
	default:
		return CostRanking{}
	}
}

// Reserver holds budget for a selected model.
type Reserver interface {
	TryReserve(amountCents float64) (budget.Token, error)
}

// Decision reasons.
const (
	ReasonBestRanked = "selected best ranked model"
	ReasonFallback   = "preferred models unavailable, selected best ranked model from catalog"
)

// Decision is the outcome of a successful allocation.
type Decision struct {
	Model             models.ModelDescriptor
	Reservation       budget.Token
	ExpectedCostCents float64
	ExpectedLatencyMs float64
	// FellBack is true when preferences were given but none matched an
	// available model.
	FellBack bool
	// Reason explains the choice to API callers.
	Reason string
}

// Engine selects a model and reserves its cost.
type Engine struct {
	ledger  Reserver
	ranking RankingPolicy
}

// NewEngine creates an Engine. A nil ranking means CostRanking.
func NewEngine(ledger Reserver, ranking RankingPolicy) *Engine {
	if ranking == nil {
		ranking = CostRanking{}
	}
	return &Engine{ledger: ledger, ranking: ranking}
}

// Allocate picks the best eligible model for a query and reserves its
// per-query cost. Preferences are advisory: if none of them names an
// available model, the full available set is used.
func (e *Engine) Allocate(score float64, preferred []string, candidates []models.ModelDescriptor) (*Decision, error) {
	eligible := filterAvailable(candidates)
	if len(eligible) == 0 {
		metrics.Allocations.WithLabelValues("", "no_candidates").Inc()
		return nil, fmt.Errorf("%w: no available models in catalog", ErrNoModelAvailable)
	}

	fellBack := false
	if len(preferred) > 0 {
		if matched := filterPreferred(eligible, preferred); len(matched) > 0 {
			eligible = matched
		} else {
			fellBack = true
			metrics.PreferenceFallbacks.Inc()
			log.Debug().Strs("preferred", preferred).Msg("router: no preferred model available, using full catalog")
		}
	}

	e.ranking.Rank(score, eligible)

	for _, m := range eligible {
		token, err := e.ledger.TryReserve(m.CostPerQueryCents)
		if errors.Is(err, budget.ErrBudgetExhausted) {
			metrics.Allocations.WithLabelValues(m.Name, "rejected").Inc()
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("router: reserving %s: %w", m.Name, err)
		}

		metrics.Allocations.WithLabelValues(m.Name, "reserved").Inc()
		reason := ReasonBestRanked
		if fellBack {
			reason = ReasonFallback
		}
		return &Decision{
			Model:             m,
			Reservation:       token,
			ExpectedCostCents: m.CostPerQueryCents,
			ExpectedLatencyMs: m.AverageLatencyMs,
			FellBack:          fellBack,
			Reason:            reason,
		}, nil
	}

	return nil, fmt.Errorf("%w: budget exhausted for all %d candidates", ErrNoModelAvailable, len(eligible))
}

// filterAvailable returns a fresh slice, so ranking never reorders the
// caller's catalog.
func filterAvailable(candidates []models.ModelDescriptor) []models.ModelDescriptor {
	out := make([]models.ModelDescriptor, 0, len(candidates))
	for _, c := range candidates {
		if c.Available {
			out = append(out, c)
		}
	}
	return out
}

func filterPreferred(candidates []models.ModelDescriptor, preferred []string) []models.ModelDescriptor {
	want := make(map[string]struct{}, len(preferred))
	for _, p := range preferred {
		want[p] = struct{}{}
	}
	var out []models.ModelDescriptor
	for _, c := range candidates {
		if _, ok := want[c.Name]; ok {
			out = append(out, c)
		}
	}
	return out
}
