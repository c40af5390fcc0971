package registry

import "github.com/bigdegenenergy/open-cloud-ops/promptrouter/pkg/models"

// DefaultCatalog returns the built-in model catalog used when no catalog
// file or database catalog is configured. Per-query costs are in cents and
// assume a typical 1K input / 1K output token exchange.
func DefaultCatalog() []models.ModelDescriptor {
	return []models.ModelDescriptor{
		// OpenAI
		{
			Name: "gpt-4o-mini", Provider: models.ProviderOpenAI,
			Endpoint:          "https://api.openai.com/v1/chat/completions",
			CostPerQueryCents: 0.075, AverageLatencyMs: 400,
			Capabilities:        []string{"general", "chat"},
			InputPerMTokenCents: 15, OutputPerMTokenCents: 60,
			Available: true,
		},
		{
			Name: "gpt-4o", Provider: models.ProviderOpenAI,
			Endpoint:          "https://api.openai.com/v1/chat/completions",
			CostPerQueryCents: 1.25, AverageLatencyMs: 800,
			Capabilities:        []string{"general", "chat", "code"},
			InputPerMTokenCents: 250, OutputPerMTokenCents: 1000,
			Available: true,
		},
		{
			Name: "gpt-4-turbo", Provider: models.ProviderOpenAI,
			Endpoint:          "https://api.openai.com/v1/chat/completions",
			CostPerQueryCents: 4, AverageLatencyMs: 1200,
			Capabilities:        []string{"general", "nlp", "code", "reasoning"},
			InputPerMTokenCents: 1000, OutputPerMTokenCents: 3000,
			Available: true,
		},

		// Anthropic
		{
			Name: "claude-3-haiku-20240307", Provider: models.ProviderAnthropic,
			Endpoint:          "https://api.anthropic.com/v1/messages",
			CostPerQueryCents: 0.15, AverageLatencyMs: 350,
			Capabilities:        []string{"general", "chat"},
			InputPerMTokenCents: 25, OutputPerMTokenCents: 125,
			Available: true,
		},
		{
			Name: "claude-3-5-sonnet-20241022", Provider: models.ProviderAnthropic,
			Endpoint:          "https://api.anthropic.com/v1/messages",
			CostPerQueryCents: 1.8, AverageLatencyMs: 700,
			Capabilities:        []string{"general", "content", "code"},
			InputPerMTokenCents: 300, OutputPerMTokenCents: 1500,
			Available: true,
		},
		{
			Name: "claude-3-opus-20240229", Provider: models.ProviderAnthropic,
			Endpoint:          "https://api.anthropic.com/v1/messages",
			CostPerQueryCents: 9, AverageLatencyMs: 1500,
			Capabilities:        []string{"content", "moderation", "reasoning"},
			InputPerMTokenCents: 1500, OutputPerMTokenCents: 7500,
			Available: true,
		},

		// Gemini
		{
			Name: "gemini-1.5-flash", Provider: models.ProviderGemini,
			Endpoint:          "https://generativelanguage.googleapis.com/v1beta/models/gemini-1.5-flash:generateContent",
			CostPerQueryCents: 0.0375, AverageLatencyMs: 300,
			Capabilities:        []string{"general", "chat"},
			InputPerMTokenCents: 7.5, OutputPerMTokenCents: 30,
			Available: true,
		},
		{
			Name: "gemini-1.5-pro", Provider: models.ProviderGemini,
			Endpoint:          "https://generativelanguage.googleapis.com/v1beta/models/gemini-1.5-pro:generateContent",
			CostPerQueryCents: 0.625, AverageLatencyMs: 900,
			Capabilities:        []string{"general", "domain", "current-events"},
			InputPerMTokenCents: 125, OutputPerMTokenCents: 500,
			Available: true,
		},
	}
}
