package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Config holds configuration for the AI classifier and its providers.
type Config struct {
	Provider          string
	GeminiAPIKey      string
	GeminiModel       string
	OpenAIAPIKey      string
	OpenAIModel       string
	OpenAIBaseURL     string
	Timeout           time.Duration
	CacheTTL          time.Duration
	ConfidenceCeiling float64
	Temperature       float64
	MaxTokens         int
	RequestsPerMinute int
}

// NewCompleter creates a completion client based on the provider setting.
// The fallback provider uses Gemini first and OpenAI second, skipping
// whichever has no API key.
func NewCompleter(ctx context.Context, cfg Config) (Completer, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderGemini:
		return newGeminiClient(ctx, cfg)
	case ProviderOpenAI:
		return newOpenAIClient(cfg)
	case ProviderFallback, "":
		var names []string
		var chain []Completer
		if cfg.GeminiAPIKey != "" {
			g, err := newGeminiClient(ctx, cfg)
			if err != nil {
				return nil, err
			}
			names = append(names, ProviderGemini)
			chain = append(chain, g)
		}
		if cfg.OpenAIAPIKey != "" {
			o, err := newOpenAIClient(cfg)
			if err != nil {
				return nil, err
			}
			names = append(names, ProviderOpenAI)
			chain = append(chain, o)
		}
		if len(chain) == 0 {
			return nil, fmt.Errorf("no AI provider API key configured")
		}
		if len(chain) == 1 {
			return chain[0], nil
		}
		return NewFallback(names, chain...), nil
	default:
		return nil, fmt.Errorf("unsupported AI provider: %s", cfg.Provider)
	}
}
