// Package service defines the repository contracts consumed by the categorization core.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/tally/internal/model"
)

// RuleStore persists categorization rules.
type RuleStore interface {
	// ListActiveRules returns active system rules plus the scope user's own rules.
	ListActiveRules(ctx context.Context, scope model.Scope) ([]model.CategorizationRule, error)
	// ListRules returns the rules visible to scope, optionally including retired ones.
	ListRules(ctx context.Context, scope model.Scope, includeInactive bool) ([]model.CategorizationRule, error)
	GetRule(ctx context.Context, id int64) (*model.CategorizationRule, error)
	// CreateRule inserts a rule and fills in its ID and timestamps. It returns
	// common.ErrRuleConflict when the user already owns a rule for the keyword.
	CreateRule(ctx context.Context, rule *model.CategorizationRule) error
	UpdateRule(ctx context.Context, id int64, patch model.RulePatch) (*model.CategorizationRule, error)
	// IncrementRuleUsage bumps the usage counter and last-used time by one.
	IncrementRuleUsage(ctx context.Context, id int64, usedAt time.Time) error
	// UpsertLearnedRule inserts an auto-learned rule keyed on (user, keyword),
	// or retargets the existing one. created reports which happened.
	UpsertLearnedRule(ctx context.Context, rule *model.CategorizationRule) (created bool, err error)
	CountRulesBySource(ctx context.Context, userID string) (map[model.RuleSource]int, error)
}

// CategoryStore is the read side of the category taxonomy.
type CategoryStore interface {
	ListCategories(ctx context.Context, scope model.Scope) ([]model.Category, error)
	GetCategory(ctx context.Context, id string) (*model.Category, error)
	CreateCategory(ctx context.Context, category *model.Category) error
}

// FeedbackStore holds the append-only correction log.
type FeedbackStore interface {
	AppendFeedback(ctx context.Context, record *model.FeedbackRecord) error
	// CountMatchingFeedback counts the user's records for the entity (nil
	// meaning none) with the given normalized text and final category.
	CountMatchingFeedback(ctx context.Context, userID string, entityID *string, normalizedText, categoryID string) (int, error)
	ListFeedback(ctx context.Context, userID string, limit int) ([]model.FeedbackRecord, error)
	FeedbackStats(ctx context.Context, userID string, since time.Time) (FeedbackStats, error)
	TopCorrections(ctx context.Context, userID string, since time.Time, limit int) ([]model.CorrectionCount, error)
}

// AssignmentStore records categories callers persisted for transactions.
type AssignmentStore interface {
	SaveAssignment(ctx context.Context, assignment *model.Assignment) error
	ListAssignments(ctx context.Context, userID string, limit int) ([]model.Assignment, error)
}

// HistoryStore records categorization outcomes for metrics.
type HistoryStore interface {
	RecordEvent(ctx context.Context, event *model.CategorizationEvent) error
	// SummarizeEvents aggregates the latest event per transaction since the given time.
	SummarizeEvents(ctx context.Context, userID string, since time.Time) (EventSummary, error)
}

// Storage is the full persistence contract.
type Storage interface {
	RuleStore
	CategoryStore
	FeedbackStore
	AssignmentStore
	HistoryStore

	Migrate(ctx context.Context) error
	Close() error
}

// FeedbackStats counts feedback records in a window.
type FeedbackStats struct {
	Total       int
	Corrections int
}

// EventSummary aggregates categorization history.
type EventSummary struct {
	BySource          map[model.ResultSource]int
	Total             int
	AverageConfidence float64
}
