// Package model defines the core data structures for the tally application.
package model

import (
	"time"
)

// MatchType controls how a rule keyword is compared to transaction text.
type MatchType string

// Match type constants.
const (
	MatchExact      MatchType = "exact"
	MatchContains   MatchType = "contains"
	MatchStartsWith MatchType = "starts_with"
	MatchRegex      MatchType = "regex"
)

// Valid reports whether m is a known match type.
func (m MatchType) Valid() bool {
	switch m {
	case MatchExact, MatchContains, MatchStartsWith, MatchRegex:
		return true
	}
	return false
}

// PatternField selects which transaction text a rule is evaluated against.
type PatternField string

// Pattern field constants.
const (
	FieldDescription PatternField = "description"
	FieldMerchant    PatternField = "merchant"
	FieldBoth        PatternField = "both"
)

// Valid reports whether f is a known pattern field.
func (f PatternField) Valid() bool {
	switch f {
	case FieldDescription, FieldMerchant, FieldBoth:
		return true
	}
	return false
}

// RuleSource records who created a rule.
type RuleSource string

// Rule source constants.
const (
	RuleSourceSystem      RuleSource = "system"
	RuleSourceManual      RuleSource = "manual"
	RuleSourceAutoLearned RuleSource = "auto_learned"
)

// CategorizationRule is a deterministic keyword-to-category mapping.
// A nil UserID marks a system-wide rule.
type CategorizationRule struct {
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	LastUsedAt      *time.Time       `json:"last_used_at,omitempty"`
	UserID          *string          `json:"user_id,omitempty"`
	EntityID        *string          `json:"entity_id,omitempty"`
	TransactionType *TransactionType `json:"transaction_type,omitempty"`
	Keyword         string           `json:"keyword"`
	MatchType       MatchType        `json:"match_type"`
	PatternField    PatternField     `json:"pattern_field"`
	CategoryID      string           `json:"category_id"`
	Source          RuleSource       `json:"source"`
	Description     string           `json:"description,omitempty"`
	ID              int64            `json:"id"`
	Priority        int              `json:"priority"`
	UsageCount      int              `json:"usage_count"`
	Confidence      float64          `json:"confidence"`
	AutoApprove     bool             `json:"auto_approve"`
	IsActive        bool             `json:"is_active"`
}

// IsSystem reports whether the rule is shared by all users.
func (r CategorizationRule) IsSystem() bool {
	return r.UserID == nil
}

// RulePatch is a partial update to a rule. Nil fields are left unchanged.
type RulePatch struct {
	Keyword         *string
	MatchType       *MatchType
	PatternField    *PatternField
	TransactionType *TransactionType
	CategoryID      *string
	Description     *string
	Priority        *int
	Confidence      *float64
	AutoApprove     *bool
	IsActive        *bool
	// ClearTransactionType removes the transaction type filter.
	ClearTransactionType bool
}
