package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
)

// RuleStrategy answers with the best matching stored rule.
type RuleStrategy struct{}

// Source implements Strategy.
func (RuleStrategy) Source() model.ResultSource { return model.SourceRule }

// Categorize implements Strategy.
func (RuleStrategy) Categorize(_ context.Context, sess *Session, txn model.Transaction) (*Hit, error) {
	rule := sess.Matcher.Match(txn, sess.Scope)
	if rule == nil {
		return nil, nil //nolint:nilnil // no match is a valid result
	}
	return &Hit{
		Rule:       rule,
		CategoryID: rule.CategoryID,
		Confidence: rule.Confidence,
		Justification: fmt.Sprintf("Matched rule: %q (%s) → %s",
			rule.Keyword, rule.MatchType, sess.CategoryName(rule.CategoryID)),
	}, nil
}

// SmartStrategy answers from repeated history when confident enough.
type SmartStrategy struct {
	Floor float64
}

// Source implements Strategy.
func (SmartStrategy) Source() model.ResultSource { return model.SourceSmart }

// Categorize implements Strategy.
func (s SmartStrategy) Categorize(_ context.Context, sess *Session, txn model.Transaction) (*Hit, error) {
	suggestion := sess.History.Suggest(txn, sess.Scope, sess.Index)
	if suggestion == nil || suggestion.Confidence < s.Floor {
		return nil, nil //nolint:nilnil // below floor is a valid result
	}
	if _, ok := sess.Index[suggestion.CategoryID]; !ok {
		return nil, nil //nolint:nilnil // category no longer visible
	}
	return &Hit{
		CategoryID:    suggestion.CategoryID,
		Confidence:    suggestion.Confidence,
		Justification: suggestion.Justification(),
	}, nil
}

// maxAIConfidence keeps AI answers distinguishable from rule matches.
const maxAIConfidence = 0.99

// AIStrategy delegates to an AIClassifier. Classifier failures abstain.
type AIStrategy struct {
	Classifier AIClassifier
}

// Source implements Strategy.
func (AIStrategy) Source() model.ResultSource { return model.SourceAI }

// Categorize implements Strategy.
func (a AIStrategy) Categorize(ctx context.Context, sess *Session, txn model.Transaction) (*Hit, error) {
	if a.Classifier == nil || len(sess.Categories) == 0 {
		return nil, nil //nolint:nilnil // nothing to ask
	}

	s, err := a.Classifier.Classify(ctx, txn, sess.Categories)
	if err != nil {
		if errors.Is(err, common.ErrClassifierUnavailable) {
			slog.Debug("AI classifier unavailable, leaving uncategorized",
				"transaction_id", txn.ID,
				"error", err)
			return nil, nil //nolint:nilnil // degrade to uncategorized
		}
		return nil, err
	}

	justification := s.Justification
	if justification == "" {
		justification = fmt.Sprintf("Suggested by %s", s.Provider)
	}
	return &Hit{
		CategoryID:    s.CategoryID,
		Confidence:    min(s.Confidence, maxAIConfidence),
		Justification: justification,
	}, nil
}
