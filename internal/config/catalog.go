package config

import (
	"fmt"
	"math"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/bigdegenenergy/open-cloud-ops/promptrouter/pkg/models"
)

// catalogEntry is one model in a catalog file. Available is a pointer so an
// omitted key defaults to true.
type catalogEntry struct {
	Name                 string   `koanf:"name"`
	Provider             string   `koanf:"provider"`
	Endpoint             string   `koanf:"endpoint"`
	CostPerQueryCents    float64  `koanf:"cost_per_query_cents"`
	AverageLatencyMs     float64  `koanf:"average_latency_ms"`
	Capabilities         []string `koanf:"capabilities"`
	Available            *bool    `koanf:"available"`
	InputPerMTokenCents  float64  `koanf:"input_per_m_token_cents"`
	OutputPerMTokenCents float64  `koanf:"output_per_m_token_cents"`
}

// LoadCatalog reads a YAML model catalog:
//
//	models:
//	  - name: gpt-4o-mini
//	    provider: openai
//	    cost_per_query_cents: 0.075
//	    average_latency_ms: 400
//	    capabilities: [general, chat]
func LoadCatalog(path string) ([]models.ModelDescriptor, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading catalog %s: %w", path, err)
	}

	var entries []catalogEntry
	if err := k.Unmarshal("models", &entries); err != nil {
		return nil, fmt.Errorf("parsing catalog %s: %w", path, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("catalog %s defines no models", path)
	}

	seen := make(map[string]bool, len(entries))
	out := make([]models.ModelDescriptor, 0, len(entries))
	for i, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("catalog %s: model %d has no name", path, i)
		}
		if seen[e.Name] {
			return nil, fmt.Errorf("catalog %s: duplicate model %q", path, e.Name)
		}
		seen[e.Name] = true
		for field, v := range map[string]float64{
			"cost_per_query_cents":     e.CostPerQueryCents,
			"average_latency_ms":       e.AverageLatencyMs,
			"input_per_m_token_cents":  e.InputPerMTokenCents,
			"output_per_m_token_cents": e.OutputPerMTokenCents,
		} {
			if !finiteNonNegative(v) {
				return nil, fmt.Errorf("catalog %s: model %q has invalid %s %v", path, e.Name, field, v)
			}
		}

		provider := models.LLMProvider(e.Provider)
		switch provider {
		case models.ProviderOpenAI, models.ProviderAnthropic, models.ProviderGemini, models.ProviderLocal:
		case "":
			provider = models.ProviderLocal
		default:
			return nil, fmt.Errorf("catalog %s: model %q has unknown provider %q", path, e.Name, e.Provider)
		}

		available := true
		if e.Available != nil {
			available = *e.Available
		}
		out = append(out, models.ModelDescriptor{
			Name:                 e.Name,
			Provider:             provider,
			Endpoint:             e.Endpoint,
			CostPerQueryCents:    e.CostPerQueryCents,
			AverageLatencyMs:     e.AverageLatencyMs,
			Capabilities:         e.Capabilities,
			Available:            available,
			InputPerMTokenCents:  e.InputPerMTokenCents,
			OutputPerMTokenCents: e.OutputPerMTokenCents,
		})
	}
	return out, nil
}

func finiteNonNegative(v float64) bool {
	return v >= 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}
