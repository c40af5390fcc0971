package complexity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/pkg/models"
)

func TestAnalyze_TwoHundredFiftyCharsIsHigh(t *testing.T) {
	a := NewAnalyzer(nil)

	res := a.Analyze(strings.Repeat("a", 250))

	assert.InDelta(t, 2.5, res.Score, 1e-9)
	assert.Equal(t, models.ComplexityHigh, res.Category)
}

func TestAnalyze_EmptyString(t *testing.T) {
	a := NewAnalyzer(nil)

	res := a.Analyze("")

	assert.Equal(t, 0.0, res.Score)
	assert.Equal(t, models.ComplexityLow, res.Category)
}

func TestCategorize_Boundaries(t *testing.T) {
	tests := []struct {
		score    float64
		expected models.ComplexityCategory
	}{
		{0, models.ComplexityLow},
		{0.999, models.ComplexityLow},
		{1.0, models.ComplexityMedium},
		{1.999, models.ComplexityMedium},
		{2.0, models.ComplexityHigh},
		{17, models.ComplexityHigh},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, Categorize(tt.score), "score %v", tt.score)
	}
}

func TestAnalyze_MonotonicOnAppend(t *testing.T) {
	a := NewAnalyzer(nil)
	base := "Summarize the quarterly report"

	prev := a.Analyze(base).Score
	for i := 0; i < 300; i++ {
		base += string(rune('a' + i%26))
		next := a.Analyze(base).Score
		if next < prev {
			t.Fatalf("score decreased after append: %v -> %v", prev, next)
		}
		prev = next
	}
}

func TestLengthPolicy_CountsRunesNotBytes(t *testing.T) {
	p := LengthPolicy{Scale: 1}

	assert.Equal(t, 3.0, p.Score("héé"))
}

func TestLengthPolicy_NonPositiveScaleFallsBack(t *testing.T) {
	p := LengthPolicy{}

	assert.InDelta(t, 1.5, p.Score(strings.Repeat("x", 150)), 1e-9)
}

type negativePolicy struct{}

func (negativePolicy) Score(string) float64 { return -4 }

func TestAnalyze_ClampsNegativeScores(t *testing.T) {
	a := NewAnalyzer(negativePolicy{})

	res := a.Analyze("anything")

	assert.Equal(t, 0.0, res.Score)
	assert.Equal(t, models.ComplexityLow, res.Category)
}
