// Package storage provides the data persistence layer for tally.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
)

// Validation errors.
var (
	ErrNilContext      = errors.New("context cannot be nil")
	ErrEmptyString     = errors.New("string parameter cannot be empty")
	ErrNilParameter    = errors.New("parameter cannot be nil")
	ErrInvalidRule     = fmt.Errorf("%w: rule", common.ErrInvalidInput)
	ErrInvalidCategory = fmt.Errorf("%w: category", common.ErrInvalidInput)
	ErrInvalidFeedback = fmt.Errorf("%w: feedback", common.ErrInvalidInput)
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// keywordKey is the case-folded form used for the (user, keyword) uniqueness constraint.
func keywordKey(keyword string) string {
	return strings.ToLower(strings.Join(strings.Fields(keyword), " "))
}

// validateRule checks a rule before it is written. Regex patterns must compile.
func validateRule(rule *model.CategorizationRule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule", ErrNilParameter)
	}
	if strings.TrimSpace(rule.Keyword) == "" {
		return fmt.Errorf("%w: missing keyword", ErrInvalidRule)
	}
	if strings.TrimSpace(rule.CategoryID) == "" {
		return fmt.Errorf("%w: missing category", ErrInvalidRule)
	}
	if !rule.MatchType.Valid() {
		return fmt.Errorf("%w: match type %q", ErrInvalidRule, rule.MatchType)
	}
	if !rule.PatternField.Valid() {
		return fmt.Errorf("%w: pattern field %q", ErrInvalidRule, rule.PatternField)
	}
	if rule.Confidence < 0 || rule.Confidence > 1 {
		return fmt.Errorf("%w: confidence must be between 0 and 1", ErrInvalidRule)
	}
	if rule.TransactionType != nil {
		if _, ok := model.ParseTransactionType(string(*rule.TransactionType)); !ok {
			return fmt.Errorf("%w: transaction type %q", ErrInvalidRule, *rule.TransactionType)
		}
	}
	switch rule.Source {
	case model.RuleSourceSystem:
		if rule.UserID != nil {
			return fmt.Errorf("%w: system rules cannot have an owner", ErrInvalidRule)
		}
	case model.RuleSourceManual, model.RuleSourceAutoLearned:
		if rule.UserID == nil || *rule.UserID == "" {
			return fmt.Errorf("%w: %s rules need an owner", ErrInvalidRule, rule.Source)
		}
	default:
		return fmt.Errorf("%w: source %q", ErrInvalidRule, rule.Source)
	}
	if rule.MatchType == model.MatchRegex {
		if _, err := common.CompileRulePattern(rule.Keyword); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRule, err)
		}
	}
	return nil
}

// applyPatch returns rule with patch applied, validated.
func applyPatch(rule model.CategorizationRule, patch model.RulePatch) (model.CategorizationRule, error) {
	if patch.Keyword != nil {
		rule.Keyword = *patch.Keyword
	}
	if patch.MatchType != nil {
		rule.MatchType = *patch.MatchType
	}
	if patch.PatternField != nil {
		rule.PatternField = *patch.PatternField
	}
	if patch.ClearTransactionType {
		rule.TransactionType = nil
	} else if patch.TransactionType != nil {
		tt := *patch.TransactionType
		rule.TransactionType = &tt
	}
	if patch.CategoryID != nil {
		rule.CategoryID = *patch.CategoryID
	}
	if patch.Description != nil {
		rule.Description = *patch.Description
	}
	if patch.Priority != nil {
		rule.Priority = *patch.Priority
	}
	if patch.Confidence != nil {
		rule.Confidence = *patch.Confidence
	}
	if patch.AutoApprove != nil {
		rule.AutoApprove = *patch.AutoApprove
	}
	if patch.IsActive != nil {
		rule.IsActive = *patch.IsActive
	}
	return rule, validateRule(&rule)
}

func validateCategory(category *model.Category) error {
	if category == nil {
		return fmt.Errorf("%w: category", ErrNilParameter)
	}
	if strings.TrimSpace(category.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidCategory)
	}
	if strings.TrimSpace(category.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidCategory)
	}
	if !category.Type.Valid() {
		return fmt.Errorf("%w: type %q", ErrInvalidCategory, category.Type)
	}
	return nil
}

func validateFeedback(record *model.FeedbackRecord) error {
	if record == nil {
		return fmt.Errorf("%w: feedback", ErrNilParameter)
	}
	if record.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidFeedback)
	}
	if record.UserID == "" {
		return fmt.Errorf("%w: missing user", ErrInvalidFeedback)
	}
	if record.FinalCategoryID == "" {
		return fmt.Errorf("%w: missing final category", ErrInvalidFeedback)
	}
	if record.NormalizedText == "" {
		return fmt.Errorf("%w: missing normalized text", ErrInvalidFeedback)
	}
	return nil
}
