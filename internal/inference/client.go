// Package inference calls the model selected by the allocation engine.
//
// Two clients are provided: HTTPClient talks to the provider APIs (OpenAI,
// Anthropic, Google Gemini, or any OpenAI-compatible local server) and
// Loopback answers locally without a network call, for development and tests.
package inference

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/pkg/models"
)

// ErrUpstream wraps non-success responses from a provider.
var ErrUpstream = errors.New("inference: upstream error")

// Result is the outcome of one inference call.
type Result struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
	CostCents    float64
	Latency      time.Duration
}

// Client runs a query against a model.
type Client interface {
	Infer(ctx context.Context, model models.ModelDescriptor, text string) (*Result, error)
}

// CostCents prices a call. Token pricing is used when the model has it and
// the provider reported usage; otherwise the flat per-query cost applies.
func CostCents(model models.ModelDescriptor, inputTokens, outputTokens int64) float64 {
	hasPricing := model.InputPerMTokenCents > 0 || model.OutputPerMTokenCents > 0
	if !hasPricing || inputTokens+outputTokens == 0 {
		return model.CostPerQueryCents
	}
	inputCost := float64(inputTokens) * model.InputPerMTokenCents / 1_000_000
	outputCost := float64(outputTokens) * model.OutputPerMTokenCents / 1_000_000
	return inputCost + outputCost
}

// Loopback answers without contacting a provider. Cost is the model's
// per-query cost and latency is Delay.
type Loopback struct {
	Delay time.Duration
}

// Infer implements Client.
func (l Loopback) Infer(ctx context.Context, model models.ModelDescriptor, text string) (*Result, error) {
	if l.Delay > 0 {
		timer := time.NewTimer(l.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &Result{
		Text:         fmt.Sprintf("[%s] %s", model.Name, preview(text, 200)),
		InputTokens:  estimateTokens(text),
		OutputTokens: 0,
		CostCents:    model.CostPerQueryCents,
		Latency:      l.Delay,
	}, nil
}

// estimateTokens uses the ~4 characters per token heuristic for English.
func estimateTokens(text string) int64 {
	return int64(utf8.RuneCountInString(text) / 4)
}

func preview(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max]) + "..."
}
