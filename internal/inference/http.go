package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/internal/metrics"
	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/pkg/models"
)

// Responses above this size are rejected. LLM text responses are typically
// well under 1MB.
const defaultMaxResponseBodySize = 10 << 20 // 10 MB

const defaultMaxOutputTokens = 1024

// providerBaseURLs maps providers to their API base URLs, used when a model
// descriptor has no endpoint.
var providerBaseURLs = map[models.LLMProvider]string{
	models.ProviderOpenAI:    "https://api.openai.com/v1/chat/completions",
	models.ProviderAnthropic: "https://api.anthropic.com/v1/messages",
	models.ProviderGemini:    "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent",
}

// Keys holds provider API keys. Keys live in memory only and are never logged.
type Keys struct {
	OpenAI    string
	Anthropic string
	Gemini    string
}

// HTTPClient sends queries to provider APIs.
type HTTPClient struct {
	keys                Keys
	client              *http.Client
	maxResponseBodySize int64
}

// NewHTTPClient creates an HTTPClient. Per-call deadlines come from the
// context; the client timeout is only an upper bound.
func NewHTTPClient(keys Keys) *HTTPClient {
	return &HTTPClient{
		keys: keys,
		client: &http.Client{
			Timeout: 5 * time.Minute,
		},
		maxResponseBodySize: defaultMaxResponseBodySize,
	}
}

// Infer implements Client.
func (h *HTTPClient) Infer(ctx context.Context, model models.ModelDescriptor, text string) (*Result, error) {
	start := time.Now()
	res, err := h.infer(ctx, model, text)

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.InferenceDuration.WithLabelValues(model.Name, status).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	res.Latency = time.Since(start)
	metrics.InferenceCostCents.WithLabelValues(model.Name).Add(res.CostCents)
	return res, nil
}

func (h *HTTPClient) infer(ctx context.Context, model models.ModelDescriptor, text string) (*Result, error) {
	body, err := buildRequestBody(model, text)
	if err != nil {
		return nil, fmt.Errorf("inference: encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointFor(model), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("inference: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	h.setProviderAuth(req, model.Provider)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inference: request to %s failed: %w", model.Name, err)
	}
	defer resp.Body.Close()

	// Read limit+1 to distinguish "exactly at limit" from "over limit".
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, h.maxResponseBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("inference: reading response from %s: %w", model.Name, err)
	}
	if int64(len(respBody)) > h.maxResponseBodySize {
		return nil, fmt.Errorf("%w: response from %s too large", ErrUpstream, model.Name)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warn().
			Str("model", model.Name).
			Int("status", resp.StatusCode).
			Msg("inference: provider returned an error")
		return nil, fmt.Errorf("%w: %s returned status %d", ErrUpstream, model.Name, resp.StatusCode)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decoding response from %s: %v", ErrUpstream, model.Name, err)
	}

	inputTokens, outputTokens := extractTokenUsage(parsed, model.Provider)
	return &Result{
		Text:         extractText(parsed, model.Provider),
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostCents:    CostCents(model, inputTokens, outputTokens),
	}, nil
}

// endpointFor returns the model's endpoint, or the provider default.
func endpointFor(model models.ModelDescriptor) string {
	if model.Endpoint != "" {
		return model.Endpoint
	}
	base := providerBaseURLs[model.Provider]
	if model.Provider == models.ProviderGemini {
		return fmt.Sprintf(base, model.Name)
	}
	if base == "" {
		return providerBaseURLs[models.ProviderOpenAI]
	}
	return base
}

// buildRequestBody renders a single-turn chat request in the provider's format.
// Local models are assumed to speak the OpenAI wire format.
func buildRequestBody(model models.ModelDescriptor, text string) ([]byte, error) {
	message := []map[string]string{{"role": "user", "content": text}}

	switch model.Provider {
	case models.ProviderAnthropic:
		return json.Marshal(map[string]interface{}{
			"model":      model.Name,
			"max_tokens": defaultMaxOutputTokens,
			"messages":   message,
		})
	case models.ProviderGemini:
		return json.Marshal(map[string]interface{}{
			"contents": []map[string]interface{}{
				{"parts": []map[string]string{{"text": text}}},
			},
		})
	default:
		return json.Marshal(map[string]interface{}{
			"model":    model.Name,
			"messages": message,
		})
	}
}

// setProviderAuth sets the appropriate authentication header for each provider.
func (h *HTTPClient) setProviderAuth(req *http.Request, provider models.LLMProvider) {
	switch provider {
	case models.ProviderOpenAI, models.ProviderLocal:
		if h.keys.OpenAI != "" {
			req.Header.Set("Authorization", "Bearer "+h.keys.OpenAI)
		}
	case models.ProviderAnthropic:
		if h.keys.Anthropic != "" {
			req.Header.Set("X-API-Key", h.keys.Anthropic)
		}
		req.Header.Set("anthropic-version", "2023-06-01")
	case models.ProviderGemini:
		if h.keys.Gemini != "" {
			req.Header.Set("X-Goog-Api-Key", h.keys.Gemini)
		}
	}
}

// extractText pulls the generated text out of a provider response.
func extractText(data map[string]interface{}, provider models.LLMProvider) string {
	switch provider {
	case models.ProviderAnthropic:
		// {"content":[{"type":"text","text":"..."}]}
		blocks, _ := data["content"].([]interface{})
		var sb strings.Builder
		for _, b := range blocks {
			if block, ok := b.(map[string]interface{}); ok {
				if t, ok := block["text"].(string); ok {
					sb.WriteString(t)
				}
			}
		}
		return sb.String()
	case models.ProviderGemini:
		// {"candidates":[{"content":{"parts":[{"text":"..."}]}}]}
		candidates, _ := data["candidates"].([]interface{})
		if len(candidates) == 0 {
			return ""
		}
		first, _ := candidates[0].(map[string]interface{})
		content, _ := first["content"].(map[string]interface{})
		parts, _ := content["parts"].([]interface{})
		var sb strings.Builder
		for _, p := range parts {
			if part, ok := p.(map[string]interface{}); ok {
				if t, ok := part["text"].(string); ok {
					sb.WriteString(t)
				}
			}
		}
		return sb.String()
	default:
		// {"choices":[{"message":{"content":"..."}}]}
		choices, _ := data["choices"].([]interface{})
		if len(choices) == 0 {
			return ""
		}
		first, _ := choices[0].(map[string]interface{})
		msg, _ := first["message"].(map[string]interface{})
		content, _ := msg["content"].(string)
		return content
	}
}

// extractTokenUsage pulls input/output token counts from the provider response.
func extractTokenUsage(data map[string]interface{}, provider models.LLMProvider) (int64, int64) {
	switch provider {
	case models.ProviderAnthropic:
		return extractAnthropicTokens(data)
	case models.ProviderGemini:
		return extractGeminiTokens(data)
	default:
		return extractOpenAITokens(data)
	}
}

func extractOpenAITokens(data map[string]interface{}) (int64, int64) {
	usage, ok := data["usage"].(map[string]interface{})
	if !ok {
		return 0, 0
	}
	input := int64(toFloat(usage["prompt_tokens"]))
	output := int64(toFloat(usage["completion_tokens"]))
	return input, output
}

func extractAnthropicTokens(data map[string]interface{}) (int64, int64) {
	usage, ok := data["usage"].(map[string]interface{})
	if !ok {
		return 0, 0
	}
	input := int64(toFloat(usage["input_tokens"]))
	output := int64(toFloat(usage["output_tokens"]))
	return input, output
}

func extractGeminiTokens(data map[string]interface{}) (int64, int64) {
	meta, ok := data["usageMetadata"].(map[string]interface{})
	if !ok {
		return 0, 0
	}
	input := int64(toFloat(meta["promptTokenCount"]))
	output := int64(toFloat(meta["candidatesTokenCount"]))
	return input, output
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}
