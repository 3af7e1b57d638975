package engine

import (
	"context"

	"github.com/Veraticus/tally/internal/classification"
	"github.com/Veraticus/tally/internal/llm"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/pattern"
)

// AIClassifier is the last-resort categorizer. Implementations report every
// failure as common.ErrClassifierUnavailable.
type AIClassifier interface {
	Classify(ctx context.Context, txn model.Transaction, categories []model.Category) (llm.Suggestion, error)
}

// Strategy is one layer of the categorization chain. A nil result with a nil
// error means the layer abstains and the next one runs.
type Strategy interface {
	Source() model.ResultSource
	Categorize(ctx context.Context, sess *Session, txn model.Transaction) (*Hit, error)
}

// Hit is a strategy's answer before mode policy is applied.
type Hit struct {
	Rule          *model.CategorizationRule
	CategoryID    string
	Justification string
	Confidence    float64
}

// Session is the read-mostly state shared by every transaction in one
// categorization call or batch.
type Session struct {
	Matcher    *pattern.Matcher
	History    *classification.History
	Index      model.CategoryIndex
	Scope      model.Scope
	Categories []model.Category
}

// CategoryName resolves a category id for display, falling back to the id.
func (s *Session) CategoryName(id string) string {
	if c, ok := s.Index[id]; ok {
		return c.Name
	}
	return id
}
