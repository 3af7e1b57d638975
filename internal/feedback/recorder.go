// Package feedback records human corrections and promotes repeated ones into
// auto-learned rules.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/pattern"
)

// Defaults for rule promotion.
const (
	DefaultThreshold       = 3
	DefaultLearnedPriority = 5
)

// Store is the persistence the recorder needs.
type Store interface {
	AppendFeedback(ctx context.Context, record *model.FeedbackRecord) error
	CountMatchingFeedback(ctx context.Context, userID string, entityID *string, normalizedText, categoryID string) (int, error)
	UpsertLearnedRule(ctx context.Context, rule *model.CategorizationRule) (created bool, err error)
	ListActiveRules(ctx context.Context, scope model.Scope) ([]model.CategorizationRule, error)
	ListCategories(ctx context.Context, scope model.Scope) ([]model.Category, error)
}

// Input is one human decision about a transaction.
type Input struct {
	Scope               model.Scope
	Transaction         model.Transaction
	SuggestedCategoryID string
	SuggestedSource     model.ResultSource
	FinalCategoryID     string
	SuggestedConfidence float64
}

// Outcome reports what recording a correction changed.
type Outcome struct {
	RuleID      *int64 `json:"rule_id,omitempty"`
	FeedbackID  string `json:"feedback_id"`
	Keyword     string `json:"keyword,omitempty"`
	Occurrences int    `json:"occurrences"`
	RuleCreated bool   `json:"rule_created"`
	RuleUpdated bool   `json:"rule_updated"`
}

// Recorder appends feedback and promotes rules once a correction repeats
// Threshold times for the same user and entity, text and category.
type Recorder struct {
	store           Store
	now             func() time.Time
	threshold       int
	learnedPriority int
}

// NewRecorder creates a recorder. A non-positive threshold uses DefaultThreshold.
func NewRecorder(store Store, threshold int) *Recorder {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Recorder{
		store:           store,
		now:             time.Now,
		threshold:       threshold,
		learnedPriority: DefaultLearnedPriority,
	}
}

// Record stores the correction and, when the threshold is reached, creates or
// retargets the user's learned rule for the extracted keyword.
func (r *Recorder) Record(ctx context.Context, in Input) (Outcome, error) {
	if err := validate(&in); err != nil {
		return Outcome{}, err
	}

	categories, err := r.store.ListCategories(ctx, in.Scope)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to load categories: %w", err)
	}
	index := model.IndexCategories(categories)
	if _, ok := index[in.FinalCategoryID]; !ok {
		return Outcome{}, fmt.Errorf("%w: unknown category %q", common.ErrInvalidInput, in.FinalCategoryID)
	}

	txn := in.Transaction
	normalized := pattern.Normalize(txn.Description)
	if normalized == "" {
		normalized = strings.ToUpper(strings.Join(strings.Fields(txn.Description), " "))
	}

	entity := in.Scope.EntityID
	if entity == nil {
		entity = txn.EntityID
	}

	record := &model.FeedbackRecord{
		ID:                  uuid.NewString(),
		UserID:              in.Scope.UserID,
		EntityID:            entity,
		TransactionID:       txn.ID,
		TransactionText:     txn.Description,
		NormalizedText:      normalized,
		MerchantName:        txn.MerchantName,
		Amount:              txn.Amount,
		SuggestedCategoryID: in.SuggestedCategoryID,
		SuggestedConfidence: in.SuggestedConfidence,
		SuggestedSource:     in.SuggestedSource,
		FinalCategoryID:     in.FinalCategoryID,
		CreatedAt:           r.now(),
	}
	if err := r.store.AppendFeedback(ctx, record); err != nil {
		return Outcome{}, fmt.Errorf("failed to append feedback: %w", err)
	}

	out := Outcome{FeedbackID: record.ID}

	count, err := r.store.CountMatchingFeedback(ctx, in.Scope.UserID, entity, normalized, in.FinalCategoryID)
	if err != nil {
		return out, fmt.Errorf("failed to count matching feedback: %w", err)
	}
	out.Occurrences = count
	if count < r.threshold {
		return out, nil
	}

	keyword := pattern.ExtractKeyword(txn.Description, txn.MerchantName)
	priority, err := r.priorityFor(ctx, in, categories, keyword)
	if err != nil {
		return out, err
	}

	userID := in.Scope.UserID
	rule := &model.CategorizationRule{
		UserID:       &userID,
		Keyword:      keyword,
		MatchType:    model.MatchContains,
		PatternField: model.FieldBoth,
		CategoryID:   in.FinalCategoryID,
		Confidence:   1.0,
		AutoApprove:  true,
		Priority:     priority,
		Source:       model.RuleSourceAutoLearned,
		IsActive:     true,
		Description:  fmt.Sprintf("Learned from %d corrections", count),
	}

	created, err := r.store.UpsertLearnedRule(ctx, rule)
	if errors.Is(err, common.ErrRuleConflict) {
		// A concurrent correction inserted the row first; retarget it.
		created, err = r.store.UpsertLearnedRule(ctx, rule)
	}
	if err != nil {
		return out, fmt.Errorf("failed to upsert learned rule: %w", err)
	}

	id := rule.ID
	out.RuleID = &id
	out.Keyword = keyword
	out.RuleCreated = created
	out.RuleUpdated = !created

	slog.Info("Promoted correction to rule",
		"user_id", userID,
		"keyword", keyword,
		"category", in.FinalCategoryID,
		"rule_id", id,
		"created", created,
		"occurrences", count)

	return out, nil
}

// priorityFor returns a priority that beats every active rule currently
// sending this transaction elsewhere, so the learned rule takes effect.
func (r *Recorder) priorityFor(ctx context.Context, in Input, categories []model.Category, keyword string) (int, error) {
	rules, err := r.store.ListActiveRules(ctx, in.Scope)
	if err != nil {
		return 0, fmt.Errorf("failed to load rules: %w", err)
	}

	priority := r.learnedPriority
	key := strings.ToLower(keyword)
	for _, rule := range pattern.NewMatcher(rules, categories).MatchAll(in.Transaction, in.Scope) {
		if rule.CategoryID == in.FinalCategoryID {
			continue
		}
		if rule.UserID != nil && *rule.UserID == in.Scope.UserID && strings.ToLower(rule.Keyword) == key {
			continue
		}
		if rule.Priority >= priority {
			priority = rule.Priority + 1
		}
	}
	return priority, nil
}

func validate(in *Input) error {
	tt, ok := model.ParseTransactionType(string(in.Transaction.Type))
	if !ok {
		return fmt.Errorf("%w: transaction type must be debit or credit", common.ErrInvalidInput)
	}
	in.Transaction.Type = tt

	switch {
	case strings.TrimSpace(in.Scope.UserID) == "":
		return fmt.Errorf("%w: user id is required", common.ErrInvalidInput)
	case strings.TrimSpace(in.Transaction.Description) == "":
		return fmt.Errorf("%w: transaction description is required", common.ErrInvalidInput)
	case strings.TrimSpace(in.FinalCategoryID) == "":
		return fmt.Errorf("%w: final category is required", common.ErrInvalidInput)
	}
	return nil
}
