package llm

import (
	"context"
)

// Provider names.
const (
	ProviderGemini   = "gemini"
	ProviderOpenAI   = "openai"
	ProviderFallback = "fallback"
)

// Completer is a generic text completion client.
type Completer interface {
	Complete(ctx context.Context, prompt string, opts Options) (Completion, error)
}

// Options tune a single completion.
type Options struct {
	MaxTokens   int
	Temperature float64
}

// Completion is the raw text returned by a provider.
type Completion struct {
	Content  string
	Provider string
}
