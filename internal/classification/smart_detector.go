// Package classification provides the history-based smart pattern detector.
package classification

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/pattern"
	"github.com/shopspring/decimal"
)

const (
	// MinOccurrences is how many agreeing history entries a proposal needs.
	MinOccurrences = 2
	// MaxConfidence is the asymptotic ceiling of smart suggestions.
	MaxConfidence = 0.85
	// RecurringBonus is added when amounts recur within AmountTolerance.
	RecurringBonus = 0.05
	// DefaultHistoryLimit bounds how many records are read per source.
	DefaultHistoryLimit = 500
)

// AmountTolerance is the relative difference under which amounts count as recurring.
var AmountTolerance = decimal.RequireFromString("0.01")

// Basis describes which comparison produced a suggestion.
type Basis string

// Basis values.
const (
	BasisExact  Basis = "exact"
	BasisPrefix Basis = "prefix"
)

// HistorySource supplies the categorization history of a user.
type HistorySource interface {
	ListAssignments(ctx context.Context, userID string, limit int) ([]model.Assignment, error)
	ListFeedback(ctx context.Context, userID string, limit int) ([]model.FeedbackRecord, error)
}

// Entry is one categorized transaction in a user's history.
type Entry struct {
	EntityID       *string
	TransactionID  string
	NormalizedText string
	CategoryID     string
	Amount         decimal.Decimal
}

// Suggestion is a category proposed from repeated history.
type Suggestion struct {
	CategoryID  string
	Basis       Basis
	Key         string
	Confidence  float64
	Occurrences int
	Recurring   bool
}

// Justification renders the suggestion for humans.
func (s Suggestion) Justification() string {
	msg := fmt.Sprintf("Seen %d times as %q (%s match)", s.Occurrences, s.Key, s.Basis)
	if s.Recurring {
		msg += ", recurring amount"
	}
	return msg
}

// SmartDetector proposes categories for text seen repeatedly before. It only
// reads history and never creates rules.
type SmartDetector struct {
	source HistorySource
	limit  int
}

// NewSmartDetector creates a detector reading at most limit records from each
// history source. A non-positive limit uses DefaultHistoryLimit.
func NewSmartDetector(source HistorySource, limit int) *SmartDetector {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &SmartDetector{source: source, limit: limit}
}

// LoadHistory reads the user's assignments and feedback, deduplicated by
// transaction. Feedback wins over assignments and newer records over older.
func (d *SmartDetector) LoadHistory(ctx context.Context, userID string) (*History, error) {
	feedback, err := d.source.ListFeedback(ctx, userID, d.limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load feedback history: %w", err)
	}
	assignments, err := d.source.ListAssignments(ctx, userID, d.limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load assignment history: %w", err)
	}

	seen := make(map[string]struct{}, len(feedback)+len(assignments))
	entries := make([]Entry, 0, len(feedback)+len(assignments))

	add := func(key string, e Entry) {
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		if e.NormalizedText == "" || e.CategoryID == "" {
			return
		}
		entries = append(entries, e)
	}

	for _, f := range feedback {
		key := f.TransactionID
		if key == "" {
			key = "feedback:" + f.ID
		}
		norm := f.NormalizedText
		if norm == "" {
			norm = pattern.Normalize(f.TransactionText)
		}
		add(key, Entry{
			EntityID:       f.EntityID,
			TransactionID:  f.TransactionID,
			NormalizedText: norm,
			CategoryID:     f.FinalCategoryID,
			Amount:         f.Amount,
		})
	}

	for _, a := range assignments {
		norm := a.NormalizedText
		if norm == "" {
			norm = pattern.Normalize(a.Description)
		}
		add(a.TransactionID, Entry{
			EntityID:       a.EntityID,
			TransactionID:  a.TransactionID,
			NormalizedText: norm,
			CategoryID:     a.CategoryID,
			Amount:         a.Amount,
		})
	}

	return NewHistory(entries), nil
}

// History is an immutable, in-memory view of past categorizations.
type History struct {
	entries []Entry
}

// NewHistory wraps entries. Callers must not modify the slice afterwards.
func NewHistory(entries []Entry) *History {
	return &History{entries: entries}
}

// Len returns the number of entries.
func (h *History) Len() int {
	if h == nil {
		return 0
	}
	return len(h.entries)
}

// Suggest proposes a category for txn, or nil when no repetition qualifies.
// Exact normalized text is tried before the two-token prefix. Categories whose
// type conflicts with the transaction direction are ignored when known.
func (h *History) Suggest(txn model.Transaction, scope model.Scope, categories model.CategoryIndex) *Suggestion {
	if h.Len() == 0 {
		return nil
	}

	norm := pattern.Normalize(txn.Description)
	if norm == "" {
		return nil
	}
	entity := scope.EntityID
	if entity == nil {
		entity = txn.EntityID
	}

	usable := func(e Entry) bool {
		if entity != nil && e.EntityID != nil && *e.EntityID != *entity {
			return false
		}
		if cat, ok := categories[e.CategoryID]; ok && !pattern.DirectionCompatible(txn.Type, cat.Type) {
			return false
		}
		return true
	}

	if s := h.best(BasisExact, norm, txn.Amount, func(e Entry) bool {
		return usable(e) && e.NormalizedText == norm
	}); s != nil {
		return s
	}

	prefix := pattern.Prefix(norm)
	return h.best(BasisPrefix, prefix, txn.Amount, func(e Entry) bool {
		return usable(e) && pattern.Prefix(e.NormalizedText) == prefix
	})
}

func (h *History) best(basis Basis, key string, amount decimal.Decimal, match func(Entry) bool) *Suggestion {
	groups := make(map[string][]Entry)
	for _, e := range h.entries {
		if match(e) {
			groups[e.CategoryID] = append(groups[e.CategoryID], e)
		}
	}

	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if len(groups[ids[i]]) != len(groups[ids[j]]) {
			return len(groups[ids[i]]) > len(groups[ids[j]])
		}
		return ids[i] < ids[j]
	})

	if len(ids) == 0 || len(groups[ids[0]]) < MinOccurrences {
		return nil
	}

	winner := groups[ids[0]]
	recurring := amountsRecur(amount, winner)
	return &Suggestion{
		CategoryID:  ids[0],
		Basis:       basis,
		Key:         key,
		Occurrences: len(winner),
		Recurring:   recurring,
		Confidence:  Confidence(len(winner), recurring),
	}
}

// Confidence maps an occurrence count to a suggestion confidence:
// 0.85 - 0.25*2/n, so 0.6 at two sightings rising towards 0.85.
func Confidence(occurrences int, recurring bool) float64 {
	if occurrences < MinOccurrences {
		return 0
	}
	c := MaxConfidence - 0.25*float64(MinOccurrences)/float64(occurrences)
	if recurring {
		c += RecurringBonus
	}
	c = math.Min(c, MaxConfidence)
	return math.Round(c*10000) / 10000
}

// amountsRecur reports whether every history amount is within tolerance of amount.
func amountsRecur(amount decimal.Decimal, entries []Entry) bool {
	if amount.IsZero() || len(entries) < MinOccurrences {
		return false
	}
	target := amount.Abs()
	limit := target.Mul(AmountTolerance)
	for _, e := range entries {
		if e.Amount.IsZero() {
			return false
		}
		if e.Amount.Abs().Sub(target).Abs().GreaterThan(limit) {
			return false
		}
	}
	return true
}
