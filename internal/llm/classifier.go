package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/pattern"
)

// Classifier defaults.
const (
	DefaultTimeout           = 5 * time.Second
	DefaultConfidenceCeiling = 0.9
	DefaultMaxTokens         = 400
	DefaultTemperature       = 0.1
)

// Suggestion is a validated AI classification.
type Suggestion struct {
	CategoryID    string
	CategoryName  string
	Justification string
	Provider      string
	Confidence    float64
}

// Classifier asks a Completer to pick a category from a closed list.
// Every failure surfaces as common.ErrClassifierUnavailable.
type Classifier struct {
	completer Completer
	cache     *suggestionCache
	logger    *slog.Logger
	opts      Options
	timeout   time.Duration
	ceiling   float64
}

// NewClassifier creates a classifier around completer. Zero config values
// take the package defaults.
func NewClassifier(completer Completer, cfg Config, logger *slog.Logger) (*Classifier, error) {
	if completer == nil {
		return nil, errors.New("completer is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ceiling := cfg.ConfidenceCeiling
	if ceiling <= 0 || ceiling >= 1 {
		ceiling = DefaultConfidenceCeiling
	}
	opts := Options{MaxTokens: cfg.MaxTokens, Temperature: cfg.Temperature}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.Temperature < 0 {
		opts.Temperature = DefaultTemperature
	}

	cache, err := newSuggestionCache(cfg.CacheTTL, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to create suggestion cache: %w", err)
	}

	return &Classifier{
		completer: completer,
		cache:     cache,
		logger:    logger,
		opts:      opts,
		timeout:   timeout,
		ceiling:   ceiling,
	}, nil
}

// NewClassifierFromConfig builds the provider chain and wraps it in the
// configured rate limit.
func NewClassifierFromConfig(ctx context.Context, cfg Config, logger *slog.Logger) (*Classifier, error) {
	completer, err := NewCompleter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AI client: %w", err)
	}
	return NewClassifier(WithRateLimit(completer, cfg.RequestsPerMinute), cfg, logger)
}

// Classify picks one of categories for txn. Categories whose type conflicts
// with the transaction direction are not offered.
func (c *Classifier) Classify(ctx context.Context, txn model.Transaction, categories []model.Category) (Suggestion, error) {
	candidates := pattern.CompatibleCategories(txn.Type, categories)
	if len(candidates) == 0 {
		return Suggestion{}, fmt.Errorf("%w: no candidate categories", common.ErrClassifierUnavailable)
	}

	prompt := buildPrompt(txn, candidates)
	key := cacheKey(prompt)
	if s, ok := c.cache.get(key); ok {
		c.logger.Debug("AI suggestion cache hit", "transaction_id", txn.ID)
		return s, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	completion, err := c.completer.Complete(ctx, prompt, c.opts)
	if err != nil {
		c.logger.Warn("AI classification failed",
			"transaction_id", txn.ID,
			"error", err)
		return Suggestion{}, fmt.Errorf("%w: %w", common.ErrClassifierUnavailable, err)
	}

	s, err := parseClassification(completion.Content, model.IndexCategories(candidates))
	if err != nil {
		c.logger.Warn("AI response rejected",
			"transaction_id", txn.ID,
			"provider", completion.Provider,
			"error", err)
		return Suggestion{}, fmt.Errorf("%w: %w", common.ErrClassifierUnavailable, err)
	}

	s.Confidence = c.clamp(s.Confidence)
	s.Provider = completion.Provider
	c.cache.set(key, s)

	c.logger.Debug("Transaction classified by AI",
		"transaction_id", txn.ID,
		"category", s.CategoryID,
		"confidence", s.Confidence,
		"provider", s.Provider)

	return s, nil
}

// clamp bounds confidence to [0, ceiling). The ceiling is always below 1.
func (c *Classifier) clamp(conf float64) float64 {
	switch {
	case conf < 0:
		return 0
	case conf >= c.ceiling:
		return math.Nextafter(c.ceiling, 0)
	}
	return conf
}

// Close releases the response cache.
func (c *Classifier) Close() error {
	c.cache.Close()
	return nil
}

// buildPrompt creates the prompt for transaction classification.
func buildPrompt(txn model.Transaction, categories []model.Category) string {
	var cats strings.Builder
	for _, cat := range categories {
		fmt.Fprintf(&cats, "%s | %s | %s\n", cat.ID, cat.Name, cat.Type)
	}

	merchant := txn.MerchantName
	if merchant == "" {
		merchant = "(unknown)"
	}

	hint := "This is a debit (money out). It is almost always an expense or a transfer."
	if txn.Type == model.TransactionTypeCredit {
		hint = "This is a credit (money in). It is almost always income or a transfer."
	}

	return fmt.Sprintf(`Classify this bank transaction into exactly one of the categories below.

Transaction:
Description: %s
Merchant: %s
Amount: %s
Type: %s

%s

Categories (id | name | type):
%s
Respond with a JSON object:
{"category_id": "<id from the list>", "confidence": <0.0-1.0>, "justification": "<one sentence>"}

Use only an id from the list. Base the choice on what the merchant is.`,
		txn.Description,
		merchant,
		txn.Amount.StringFixed(2),
		txn.Type,
		hint,
		cats.String())
}
