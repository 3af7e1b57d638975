package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
)

const ruleColumns = `id, user_id, entity_id, keyword, match_type, pattern_field, transaction_type,
	category_id, confidence, auto_approve, priority, source, usage_count, is_active,
	description, created_at, updated_at, last_used_at`

// ruleOrder is the matcher's total order, so callers that stop at the first
// hit agree with Matcher.Match.
const ruleOrder = `ORDER BY priority DESC, usage_count DESC, created_at ASC, id ASC`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (model.CategorizationRule, error) {
	var (
		rule            model.CategorizationRule
		userID          sql.NullString
		entityID        sql.NullString
		transactionType sql.NullString
		lastUsed        sql.NullTime
	)
	err := row.Scan(
		&rule.ID, &userID, &entityID, &rule.Keyword, &rule.MatchType, &rule.PatternField, &transactionType,
		&rule.CategoryID, &rule.Confidence, &rule.AutoApprove, &rule.Priority, &rule.Source, &rule.UsageCount,
		&rule.IsActive, &rule.Description, &rule.CreatedAt, &rule.UpdatedAt, &lastUsed,
	)
	if err != nil {
		return rule, err
	}
	rule.UserID = stringPtr(userID)
	rule.EntityID = stringPtr(entityID)
	rule.LastUsedAt = timePtr(lastUsed)
	if transactionType.Valid {
		tt := model.TransactionType(transactionType.String)
		rule.TransactionType = &tt
	}
	return rule, nil
}

func transactionTypeValue(tt *model.TransactionType) sql.NullString {
	if tt == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*tt), Valid: true}
}

func (s *SQLiteStorage) queryRules(ctx context.Context, query string, args ...any) ([]model.CategorizationRule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, common.NewStorageError("query rules", err)
	}
	defer func() { _ = rows.Close() }()

	var rules []model.CategorizationRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, common.NewStorageError("scan rule", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, common.NewStorageError("iterate rules", err)
	}
	return rules, nil
}

// ListActiveRules returns active system rules and the scope user's rules in match order.
func (s *SQLiteStorage) ListActiveRules(ctx context.Context, scope model.Scope) ([]model.CategorizationRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	return s.queryRules(ctx, `SELECT `+ruleColumns+`
		FROM categorization_rules
		WHERE is_active = 1 AND (user_id IS NULL OR user_id = ?)
		`+ruleOrder, scope.UserID)
}

// ListRules returns the rules visible to scope.
func (s *SQLiteStorage) ListRules(ctx context.Context, scope model.Scope, includeInactive bool) ([]model.CategorizationRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	return s.queryRules(ctx, `SELECT `+ruleColumns+`
		FROM categorization_rules
		WHERE (user_id IS NULL OR user_id = ?) AND (is_active = 1 OR ?)
		`+ruleOrder, scope.UserID, includeInactive)
}

// GetRule retrieves a rule by ID.
func (s *SQLiteStorage) GetRule(ctx context.Context, id int64) (*model.CategorizationRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return getRule(ctx, s.db, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getRule(ctx context.Context, q queryRower, id int64) (*model.CategorizationRule, error) {
	rule, err := scanRule(q.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM categorization_rules WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %d: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, common.NewStorageError("get rule", err)
	}
	return &rule, nil
}

// CreateRule inserts a rule. The category must exist.
func (s *SQLiteStorage) CreateRule(ctx context.Context, rule *model.CategorizationRule) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRule(rule); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := categoryExists(ctx, tx, rule.CategoryID); err != nil {
			return err
		}
		return s.insertRule(ctx, tx, rule)
	})
}

func (s *SQLiteStorage) insertRule(ctx context.Context, tx *sql.Tx, rule *model.CategorizationRule) error {
	now := s.now()
	result, err := tx.ExecContext(ctx, `
		INSERT INTO categorization_rules (
			user_id, entity_id, keyword, keyword_key, match_type, pattern_field, transaction_type,
			category_id, confidence, auto_approve, priority, source, usage_count, is_active,
			description, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullString(rule.UserID), nullString(rule.EntityID), rule.Keyword, keywordKey(rule.Keyword),
		rule.MatchType, rule.PatternField, transactionTypeValue(rule.TransactionType),
		rule.CategoryID, rule.Confidence, rule.AutoApprove, rule.Priority, rule.Source, rule.UsageCount,
		rule.IsActive, rule.Description, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: keyword %q", common.ErrRuleConflict, rule.Keyword)
		}
		return common.NewStorageError("create rule", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return common.NewStorageError("get rule id", err)
	}

	rule.ID = id
	rule.CreatedAt = now
	rule.UpdatedAt = now
	return nil
}

// UpdateRule applies patch to the rule. System rules only accept activation changes.
func (s *SQLiteStorage) UpdateRule(ctx context.Context, id int64, patch model.RulePatch) (*model.CategorizationRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var updated model.CategorizationRule
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := getRule(ctx, tx, id)
		if err != nil {
			return err
		}
		if current.IsSystem() && !activationOnly(patch) {
			return fmt.Errorf("rule %d: %w", id, common.ErrSystemRule)
		}

		updated, err = applyPatch(*current, patch)
		if err != nil {
			return err
		}
		if updated.CategoryID != current.CategoryID {
			if err := categoryExists(ctx, tx, updated.CategoryID); err != nil {
				return err
			}
		}
		updated.UpdatedAt = s.now()

		_, err = tx.ExecContext(ctx, `
			UPDATE categorization_rules SET
				keyword = ?, keyword_key = ?, match_type = ?, pattern_field = ?, transaction_type = ?,
				category_id = ?, confidence = ?, auto_approve = ?, priority = ?, is_active = ?,
				description = ?, updated_at = ?
			WHERE id = ?`,
			updated.Keyword, keywordKey(updated.Keyword), updated.MatchType, updated.PatternField,
			transactionTypeValue(updated.TransactionType), updated.CategoryID, updated.Confidence,
			updated.AutoApprove, updated.Priority, updated.IsActive, updated.Description, updated.UpdatedAt, id,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: keyword %q", common.ErrRuleConflict, updated.Keyword)
			}
			return common.NewStorageError("update rule", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func activationOnly(patch model.RulePatch) bool {
	return patch.Keyword == nil && patch.MatchType == nil && patch.PatternField == nil &&
		patch.TransactionType == nil && !patch.ClearTransactionType && patch.CategoryID == nil &&
		patch.Description == nil && patch.Priority == nil && patch.Confidence == nil &&
		patch.AutoApprove == nil
}

// IncrementRuleUsage increments a rule's usage counter.
func (s *SQLiteStorage) IncrementRuleUsage(ctx context.Context, id int64, usedAt time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE categorization_rules
		SET usage_count = usage_count + 1, last_used_at = ?
		WHERE id = ?`, usedAt.UTC(), id)
	if err != nil {
		return common.NewStorageError("increment rule usage", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return common.NewStorageError("increment rule usage", err)
	}
	if n == 0 {
		return fmt.Errorf("rule %d: %w", id, common.ErrNotFound)
	}
	return nil
}

// UpsertLearnedRule creates the user's rule for rule.Keyword or retargets the
// existing one. On return rule holds the stored row.
func (s *SQLiteStorage) UpsertLearnedRule(ctx context.Context, rule *model.CategorizationRule) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateRule(rule); err != nil {
		return false, err
	}

	created := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := categoryExists(ctx, tx, rule.CategoryID); err != nil {
			return err
		}

		var existingID int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM categorization_rules WHERE user_id = ? AND keyword_key = ?`,
			*rule.UserID, keywordKey(rule.Keyword)).Scan(&existingID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if insertErr := s.insertRule(ctx, tx, rule); insertErr != nil {
				return insertErr
			}
			created = true
			return nil
		case err != nil:
			return common.NewStorageError("find learned rule", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE categorization_rules SET
				category_id = ?, is_active = 1, priority = MAX(priority, ?),
				description = ?, updated_at = ?
			WHERE id = ?`,
			rule.CategoryID, rule.Priority, rule.Description, s.now(), existingID)
		if err != nil {
			return common.NewStorageError("update learned rule", err)
		}

		stored, err := getRule(ctx, tx, existingID)
		if err != nil {
			return err
		}
		*rule = *stored
		return nil
	})
	return created, err
}

// CountRulesBySource counts active rules visible to userID grouped by source.
func (s *SQLiteStorage) CountRulesBySource(ctx context.Context, userID string) (map[model.RuleSource]int, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT source, COUNT(*)
		FROM categorization_rules
		WHERE is_active = 1 AND (user_id IS NULL OR user_id = ?)
		GROUP BY source`, userID)
	if err != nil {
		return nil, common.NewStorageError("count rules", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[model.RuleSource]int)
	for rows.Next() {
		var source model.RuleSource
		var n int
		if err := rows.Scan(&source, &n); err != nil {
			return nil, common.NewStorageError("scan rule count", err)
		}
		counts[source] = n
	}
	if err := rows.Err(); err != nil {
		return nil, common.NewStorageError("iterate rule counts", err)
	}
	return counts, nil
}
