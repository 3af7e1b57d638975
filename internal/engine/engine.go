// Package engine orchestrates transaction categorization: stored rules first,
// then repeated history, then the AI classifier.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Veraticus/tally/internal/classification"
	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/pattern"
	"github.com/Veraticus/tally/internal/service"
)

// Store is the persistence the engine reads from and defers writes to.
type Store interface {
	ListActiveRules(ctx context.Context, scope model.Scope) ([]model.CategorizationRule, error)
	ListCategories(ctx context.Context, scope model.Scope) ([]model.Category, error)
	classification.HistorySource
	UsageStore
}

var _ Store = (service.Storage)(nil)

// Config holds configuration options for the categorization engine.
type Config struct {
	Mode             Mode
	SmartFloor       float64
	BatchConcurrency int
	HistoryLimit     int
	RecordHistory    bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Mode:             ModeSmart,
		SmartFloor:       0.5,
		BatchConcurrency: 8,
		HistoryLimit:     classification.DefaultHistoryLimit,
		RecordHistory:    true,
	}
}

// Engine categorizes transactions through a fixed strategy chain.
type Engine struct {
	store      Store
	detector   *classification.SmartDetector
	usage      *UsageRecorder
	now        func() time.Time
	strategies []Strategy
	cfg        Config
}

// New creates an engine. classifier may be nil to disable the AI layer.
func New(store Store, classifier AIClassifier, cfg Config) *Engine {
	if cfg.Mode == "" {
		cfg.Mode = ModeSmart
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = DefaultConfig().BatchConcurrency
	}

	strategies := []Strategy{
		RuleStrategy{},
		SmartStrategy{Floor: cfg.SmartFloor},
	}
	if classifier != nil {
		strategies = append(strategies, AIStrategy{Classifier: classifier})
	}

	return &Engine{
		store:      store,
		detector:   classification.NewSmartDetector(store, cfg.HistoryLimit),
		usage:      NewUsageRecorder(store, 0),
		now:        time.Now,
		strategies: strategies,
		cfg:        cfg,
	}
}

// Close flushes pending usage writes.
func (e *Engine) Close() error {
	return e.usage.Close()
}

// Categorize resolves a category for one transaction. Only invalid input and
// storage failures return an error; every other outcome is a result.
func (e *Engine) Categorize(ctx context.Context, txn model.Transaction, scope model.Scope) (model.CategorizationResult, error) {
	if err := validateScope(scope); err != nil {
		return model.CategorizationResult{}, err
	}
	txn, err := validateTransaction(txn)
	if err != nil {
		return model.CategorizationResult{}, err
	}

	sess, err := e.OpenSession(ctx, scope)
	if err != nil {
		return model.CategorizationResult{}, err
	}
	return e.categorize(ctx, sess, txn)
}

// CategorizeBatch categorizes txns with bounded concurrency against one
// shared session. Per-item failures are reported in the item's Status and
// never abort the batch. Results are in input order.
func (e *Engine) CategorizeBatch(ctx context.Context, txns []model.Transaction, scope model.Scope) ([]model.CategorizationResult, error) {
	if err := validateScope(scope); err != nil {
		return nil, err
	}

	results := make([]model.CategorizationResult, len(txns))
	if len(txns) == 0 {
		return results, nil
	}

	sess, err := e.OpenSession(ctx, scope)
	if err != nil {
		return nil, err
	}

	slog.Info("Starting batch categorization",
		"user_id", scope.UserID,
		"count", len(txns),
		"concurrency", e.cfg.BatchConcurrency)

	var g errgroup.Group
	g.SetLimit(e.cfg.BatchConcurrency)

	for i := range txns {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = failed(txns[i].ID, err)
				return nil
			}
			txn, err := validateTransaction(txns[i])
			if err != nil {
				results[i] = failed(txns[i].ID, err)
				return nil
			}
			res, err := e.categorize(ctx, sess, txn)
			if err != nil {
				slog.Warn("Transaction categorization failed",
					"transaction_id", txn.ID,
					"error", err)
				results[i] = failed(txn.ID, err)
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	return results, nil
}

// OpenSession loads the rules, categories and history visible to scope.
func (e *Engine) OpenSession(ctx context.Context, scope model.Scope) (*Session, error) {
	rules, err := e.store.ListActiveRules(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	categories, err := e.store.ListCategories(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to load categories: %w", err)
	}
	history, err := e.detector.LoadHistory(ctx, scope.UserID)
	if err != nil {
		return nil, err
	}

	return &Session{
		Matcher:    pattern.NewMatcher(rules, categories),
		History:    history,
		Index:      model.IndexCategories(categories),
		Scope:      scope,
		Categories: categories,
	}, nil
}

func (e *Engine) categorize(ctx context.Context, sess *Session, txn model.Transaction) (model.CategorizationResult, error) {
	if txn.ID == "" {
		txn.ID = uuid.NewString()
	}

	res := model.Uncategorized(txn.ID)
	var hit *Hit
	for _, s := range e.strategies {
		h, err := s.Categorize(ctx, sess, txn)
		if err != nil {
			return model.CategorizationResult{}, fmt.Errorf("%s strategy: %w", s.Source(), err)
		}
		if h != nil {
			hit = h
			res.Source = s.Source()
			break
		}
	}

	ruleAutoApprove := false
	if hit != nil {
		res.CategoryID = hit.CategoryID
		res.CategoryName = sess.CategoryName(hit.CategoryID)
		res.Confidence = hit.Confidence
		res.Justification = hit.Justification
		if hit.Rule != nil {
			id := hit.Rule.ID
			res.RuleID = &id
			ruleAutoApprove = hit.Rule.AutoApprove
			e.usage.RecordRuleUsage(id, e.now())
		}
	}
	e.cfg.Mode.approve(&res, ruleAutoApprove)

	if e.cfg.RecordHistory {
		e.usage.RecordEvent(model.CategorizationEvent{
			UserID:        sess.Scope.UserID,
			EntityID:      effectiveEntity(txn, sess.Scope),
			TransactionID: txn.ID,
			CategoryID:    res.CategoryID,
			Source:        res.Source,
			Confidence:    res.Confidence,
			CreatedAt:     e.now(),
		})
	}

	slog.Debug("Transaction categorized",
		"transaction_id", txn.ID,
		"source", res.Source,
		"category", res.CategoryID,
		"confidence", res.Confidence)

	return res, nil
}

func effectiveEntity(txn model.Transaction, scope model.Scope) *string {
	if scope.EntityID != nil {
		return scope.EntityID
	}
	return txn.EntityID
}

func failed(txID string, err error) model.CategorizationResult {
	res := model.Uncategorized(txID)
	res.Status = model.StatusFailed
	res.Error = err.Error()
	return res
}

func validateScope(scope model.Scope) error {
	if strings.TrimSpace(scope.UserID) == "" {
		return fmt.Errorf("%w: user id is required", common.ErrInvalidInput)
	}
	return nil
}

// validateTransaction rejects unusable input and canonicalizes the type.
func validateTransaction(txn model.Transaction) (model.Transaction, error) {
	if strings.TrimSpace(txn.Description) == "" {
		return txn, fmt.Errorf("%w: transaction description is required", common.ErrInvalidInput)
	}
	tt, ok := model.ParseTransactionType(string(txn.Type))
	if !ok {
		return txn, fmt.Errorf("%w: transaction type must be debit or credit, got %q", common.ErrInvalidInput, txn.Type)
	}
	txn.Type = tt
	return txn, nil
}
