package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// fallbackClient tries each completer in order until one succeeds.
type fallbackClient struct {
	names      []string
	completers []Completer
}

// NewFallback chains completers. names are used for logging only and must
// line up with completers.
func NewFallback(names []string, completers ...Completer) Completer {
	return &fallbackClient{names: names, completers: completers}
}

func (f *fallbackClient) Complete(ctx context.Context, prompt string, opts Options) (Completion, error) {
	var errs []error
	for i, c := range f.completers {
		out, err := c.Complete(ctx, prompt, opts)
		if err == nil {
			return out, nil
		}
		name := fmt.Sprintf("provider-%d", i)
		if i < len(f.names) {
			name = f.names[i]
		}
		slog.Warn("AI provider failed, trying next",
			"provider", name,
			"error", err)
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return Completion{}, errors.New("no AI providers configured")
	}
	return Completion{}, errors.Join(errs...)
}
