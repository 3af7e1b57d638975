// Package rules manages user-owned categorization rules.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
)

// Defaults applied to manually created rules.
const (
	DefaultPriority   = 5
	DefaultConfidence = 1.0
)

// Store is the persistence the manager needs.
type Store interface {
	ListRules(ctx context.Context, scope model.Scope, includeInactive bool) ([]model.CategorizationRule, error)
	GetRule(ctx context.Context, id int64) (*model.CategorizationRule, error)
	CreateRule(ctx context.Context, rule *model.CategorizationRule) error
	UpdateRule(ctx context.Context, id int64, patch model.RulePatch) (*model.CategorizationRule, error)
}

// Draft is a new manual rule. Zero values take the manual defaults:
// contains, description, priority 5, confidence 1.0.
type Draft struct {
	EntityID        *string                `json:"entity_id,omitempty"`
	TransactionType *model.TransactionType `json:"transaction_type,omitempty"`
	Priority        *int                   `json:"priority,omitempty"`
	Confidence      *float64               `json:"confidence,omitempty"`
	Keyword         string                 `json:"keyword"`
	MatchType       model.MatchType        `json:"match_type,omitempty"`
	PatternField    model.PatternField     `json:"pattern_field,omitempty"`
	CategoryID      string                 `json:"category_id"`
	Description     string                 `json:"description,omitempty"`
	AutoApprove     bool                   `json:"auto_approve"`
}

// Manager enforces ownership on top of the rule store. Users may change
// only their own rules; system rules are read-only.
type Manager struct {
	store Store
}

// NewManager creates a manager over store.
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// List returns the system rules plus the user's own rules.
func (m *Manager) List(ctx context.Context, scope model.Scope, includeInactive bool) ([]model.CategorizationRule, error) {
	if err := requireUser(scope); err != nil {
		return nil, err
	}
	rules, err := m.store.ListRules(ctx, scope, includeInactive)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return rules, nil
}

// Create adds a manual rule owned by the scope user.
func (m *Manager) Create(ctx context.Context, scope model.Scope, d Draft) (*model.CategorizationRule, error) {
	if err := requireUser(scope); err != nil {
		return nil, err
	}
	if strings.TrimSpace(d.Keyword) == "" {
		return nil, fmt.Errorf("%w: keyword is required", common.ErrInvalidInput)
	}
	if strings.TrimSpace(d.CategoryID) == "" {
		return nil, fmt.Errorf("%w: category_id is required", common.ErrInvalidInput)
	}

	userID := scope.UserID
	rule := &model.CategorizationRule{
		UserID:          &userID,
		EntityID:        d.EntityID,
		TransactionType: d.TransactionType,
		Keyword:         strings.TrimSpace(d.Keyword),
		MatchType:       d.MatchType,
		PatternField:    d.PatternField,
		CategoryID:      d.CategoryID,
		Description:     d.Description,
		Priority:        DefaultPriority,
		Confidence:      DefaultConfidence,
		AutoApprove:     d.AutoApprove,
		Source:          model.RuleSourceManual,
		IsActive:        true,
	}
	if rule.EntityID == nil {
		rule.EntityID = scope.EntityID
	}
	if rule.MatchType == "" {
		rule.MatchType = model.MatchContains
	}
	if rule.PatternField == "" {
		rule.PatternField = model.FieldDescription
	}
	if d.Priority != nil {
		rule.Priority = *d.Priority
	}
	if d.Confidence != nil {
		rule.Confidence = *d.Confidence
	}
	if rule.MatchType == model.MatchRegex {
		if _, err := common.CompileRulePattern(rule.Keyword); err != nil {
			return nil, fmt.Errorf("invalid regex: %w", err)
		}
	}

	if err := m.store.CreateRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to create rule: %w", err)
	}

	slog.Info("Created rule",
		"rule_id", rule.ID,
		"user_id", userID,
		"keyword", rule.Keyword,
		"category", rule.CategoryID)
	return rule, nil
}

// Update patches a rule the scope user owns.
func (m *Manager) Update(ctx context.Context, scope model.Scope, id int64, patch model.RulePatch) (*model.CategorizationRule, error) {
	if _, err := m.owned(ctx, scope, id); err != nil {
		return nil, err
	}
	if patch.Keyword != nil && strings.TrimSpace(*patch.Keyword) == "" {
		return nil, fmt.Errorf("%w: keyword cannot be empty", common.ErrInvalidInput)
	}

	updated, err := m.store.UpdateRule(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to update rule: %w", err)
	}
	return updated, nil
}

// Deactivate retires a rule. Rules are never hard-deleted so usage history
// and metrics keep their references.
func (m *Manager) Deactivate(ctx context.Context, scope model.Scope, id int64) error {
	if _, err := m.owned(ctx, scope, id); err != nil {
		return err
	}
	inactive := false
	if _, err := m.store.UpdateRule(ctx, id, model.RulePatch{IsActive: &inactive}); err != nil {
		return fmt.Errorf("failed to deactivate rule: %w", err)
	}
	slog.Info("Deactivated rule", "rule_id", id, "user_id", scope.UserID)
	return nil
}

// owned loads the rule and checks the scope user may change it. Other users'
// rules are reported as not found.
func (m *Manager) owned(ctx context.Context, scope model.Scope, id int64) (*model.CategorizationRule, error) {
	if err := requireUser(scope); err != nil {
		return nil, err
	}
	rule, err := m.store.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule.IsSystem() {
		return nil, fmt.Errorf("rule %d: %w", id, common.ErrSystemRule)
	}
	if *rule.UserID != scope.UserID {
		return nil, fmt.Errorf("rule %d: %w", id, common.ErrNotFound)
	}
	return rule, nil
}

func requireUser(scope model.Scope) error {
	if strings.TrimSpace(scope.UserID) == "" {
		return fmt.Errorf("%w: user id is required", common.ErrInvalidInput)
	}
	return nil
}
