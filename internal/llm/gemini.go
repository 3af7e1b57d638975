package llm

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// geminiClient implements Completer on the Gemini API.
type geminiClient struct {
	client *genai.Client
	model  string
}

func newGeminiClient(ctx context.Context, cfg Config) (*geminiClient, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, errors.New("Gemini API key is required")
	}

	model := cfg.GeminiModel
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &geminiClient{client: client, model: model}, nil
}

// Complete generates a single JSON response.
func (c *geminiClient) Complete(ctx context.Context, prompt string, opts Options) (Completion, error) {
	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(float32(opts.Temperature)),
		ResponseMIMEType: "application/json",
	}
	if opts.MaxTokens > 0 {
		config.MaxOutputTokens = int32(opts.MaxTokens)
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(systemPrompt+"\n\n"+prompt), config)
	if err != nil {
		return Completion{}, fmt.Errorf("generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return Completion{}, errors.New("empty response from model")
	}

	return Completion{Content: text, Provider: ProviderGemini}, nil
}
