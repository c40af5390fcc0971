// Package complexity scores how much model capability a query needs.
//
// Scoring is delegated to a Policy so the reference length-based heuristic can
// be swapped without touching allocation or budget logic. Categories are fixed:
// scores below 1.0 are Low, scores below 2.0 are Medium, everything else is High.
package complexity

import (
	"math"
	"unicode/utf8"

	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/pkg/models"
)

// DefaultScale is the number of characters that make up one complexity point.
const DefaultScale = 100.0

// Category thresholds. Each bucket is closed on its lower bound.
const (
	MediumThreshold = 1.0
	HighThreshold   = 2.0
)

// Policy turns query text into a non-negative complexity score.
type Policy interface {
	Score(text string) float64
}

// LengthPolicy scores text by its length in characters divided by Scale.
// Appending characters never lowers the score.
type LengthPolicy struct {
	Scale float64
}

// Score implements Policy.
func (p LengthPolicy) Score(text string) float64 {
	scale := p.Scale
	if scale <= 0 {
		scale = DefaultScale
	}
	return float64(utf8.RuneCountInString(text)) / scale
}

// Result is the outcome of analyzing one query.
type Result struct {
	Score    float64                   `json:"complexity_score"`
	Category models.ComplexityCategory `json:"complexity_category"`
}

// Analyzer applies a Policy and buckets the result. It holds no mutable state
// and is safe for concurrent use.
type Analyzer struct {
	policy Policy
}

// NewAnalyzer creates an Analyzer. A nil policy selects LengthPolicy with DefaultScale.
func NewAnalyzer(policy Policy) *Analyzer {
	if policy == nil {
		policy = LengthPolicy{Scale: DefaultScale}
	}
	return &Analyzer{policy: policy}
}

// Analyze scores text and categorizes the score. It never fails; any input,
// including the empty string, yields a score >= 0.
func (a *Analyzer) Analyze(text string) Result {
	score := a.policy.Score(text)
	if score < 0 || math.IsNaN(score) {
		score = 0
	}
	return Result{Score: score, Category: Categorize(score)}
}

// Categorize maps a score onto Low, Medium or High.
func Categorize(score float64) models.ComplexityCategory {
	switch {
	case score < MediumThreshold:
		return models.ComplexityLow
	case score < HighThreshold:
		return models.ComplexityMedium
	default:
		return models.ComplexityHigh
	}
}
