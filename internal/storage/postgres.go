package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/service"
)

var _ service.Storage = (*PostgresStorage)(nil)

// PostgresStorage implements service.Storage on a pgx connection pool.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage connects to url and verifies the connection.
func NewPostgresStorage(ctx context.Context, url string) (*PostgresStorage, error) {
	if err := validateString(url, "url"); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, common.NewStorageError("ping", err)
	}

	return &PostgresStorage{pool: pool}, nil
}

// Close closes the pool.
func (p *PostgresStorage) Close() error {
	p.pool.Close()
	return nil
}

var postgresMigrations = []Migration{
	{Version: 1, Description: "Categories and categorization rules"},
	{Version: 2, Description: "One rule per user and keyword"},
	{Version: 3, Description: "Append-only feedback log"},
	{Version: 4, Description: "Assignments and categorization history"},
	{Version: 5, Description: "Entity-scoped feedback promotion index"},
}

var postgresSchema = map[int][]string{
	1: {
		`CREATE TABLE IF NOT EXISTS categories (
			id TEXT PRIMARY KEY,
			user_id TEXT,
			name TEXT NOT NULL,
			type TEXT NOT NULL CHECK (type IN ('income', 'expense', 'transfer')),
			color TEXT NOT NULL DEFAULT '',
			icon TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_categories_user ON categories(user_id)`,
		`CREATE TABLE IF NOT EXISTS categorization_rules (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT,
			entity_id TEXT,
			keyword TEXT NOT NULL,
			keyword_key TEXT NOT NULL,
			match_type TEXT NOT NULL CHECK (match_type IN ('exact', 'contains', 'starts_with', 'regex')),
			pattern_field TEXT NOT NULL DEFAULT 'description',
			transaction_type TEXT CHECK (transaction_type IN ('debit', 'credit')),
			category_id TEXT NOT NULL REFERENCES categories(id),
			confidence DOUBLE PRECISION NOT NULL DEFAULT 1.0,
			auto_approve BOOLEAN NOT NULL DEFAULT FALSE,
			priority INTEGER NOT NULL DEFAULT 0,
			source TEXT NOT NULL CHECK (source IN ('system', 'manual', 'auto_learned')),
			usage_count INTEGER NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_used_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rules_active ON categorization_rules(is_active, user_id)`,
	},
	2: {
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_rules_user_keyword ON categorization_rules(user_id, keyword_key)`,
	},
	3: {
		`CREATE TABLE IF NOT EXISTS feedback (
			id UUID PRIMARY KEY,
			user_id TEXT NOT NULL,
			entity_id TEXT,
			transaction_id TEXT NOT NULL DEFAULT '',
			transaction_text TEXT NOT NULL,
			normalized_text TEXT NOT NULL,
			merchant_name TEXT NOT NULL DEFAULT '',
			amount TEXT NOT NULL DEFAULT '0',
			suggested_category_id TEXT NOT NULL DEFAULT '',
			suggested_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			suggested_source TEXT NOT NULL DEFAULT '',
			final_category_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_feedback_promotion ON feedback(user_id, normalized_text, final_category_id)`,
		`CREATE INDEX IF NOT EXISTS idx_feedback_user_created ON feedback(user_id, created_at)`,
	},
	4: {
		`CREATE TABLE IF NOT EXISTS assignments (
			user_id TEXT NOT NULL,
			transaction_id TEXT NOT NULL,
			entity_id TEXT,
			description TEXT NOT NULL,
			normalized_text TEXT NOT NULL,
			category_id TEXT NOT NULL,
			amount TEXT NOT NULL DEFAULT '0',
			assigned_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, transaction_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_assignments_user_assigned ON assignments(user_id, assigned_at)`,
		`CREATE TABLE IF NOT EXISTS categorization_events (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			entity_id TEXT,
			transaction_id TEXT NOT NULL,
			category_id TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_user_created ON categorization_events(user_id, created_at)`,
	},
	5: {
		`DROP INDEX IF EXISTS idx_feedback_promotion`,
		`CREATE INDEX idx_feedback_promotion ON feedback(user_id, entity_id, normalized_text, final_category_id)`,
	},
}

// Migrate applies pending schema versions, tracked in schema_migrations.
func (p *PostgresStorage) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	var current int
	if err := p.pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, m := range postgresMigrations {
		if m.Version <= current {
			continue
		}
		err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
			for _, stmt := range postgresSchema[m.Version] {
				if _, err := tx.Exec(ctx, stmt); err != nil {
					return fmt.Errorf("failed to execute query '%s': %w", stmt, err)
				}
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, m.Version)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d failed: %w", m.Version, err)
		}
		slog.Info("Applied migration", "version", m.Version, "description", m.Description)
	}
	return nil
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const pgRuleColumns = `id, user_id, entity_id, keyword, match_type, pattern_field, transaction_type,
	category_id, confidence, auto_approve, priority, source, usage_count, is_active,
	description, created_at, updated_at, last_used_at`

func scanPgRule(row pgx.Row) (model.CategorizationRule, error) {
	var (
		rule                     model.CategorizationRule
		matchType, field, source string
		transactionType          *string
	)
	err := row.Scan(
		&rule.ID, &rule.UserID, &rule.EntityID, &rule.Keyword, &matchType, &field, &transactionType,
		&rule.CategoryID, &rule.Confidence, &rule.AutoApprove, &rule.Priority, &source, &rule.UsageCount,
		&rule.IsActive, &rule.Description, &rule.CreatedAt, &rule.UpdatedAt, &rule.LastUsedAt,
	)
	if err != nil {
		return rule, err
	}
	rule.MatchType = model.MatchType(matchType)
	rule.PatternField = model.PatternField(field)
	rule.Source = model.RuleSource(source)
	if transactionType != nil {
		tt := model.TransactionType(*transactionType)
		rule.TransactionType = &tt
	}
	return rule, nil
}

func pgTransactionType(tt *model.TransactionType) *string {
	if tt == nil {
		return nil
	}
	s := string(*tt)
	return &s
}

func (p *PostgresStorage) queryRules(ctx context.Context, query string, args ...any) ([]model.CategorizationRule, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, common.NewStorageError("query rules", err)
	}
	defer rows.Close()

	var rules []model.CategorizationRule
	for rows.Next() {
		rule, err := scanPgRule(rows)
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
func (p *PostgresStorage) ListActiveRules(ctx context.Context, scope model.Scope) ([]model.CategorizationRule, error) {
	return p.queryRules(ctx, `SELECT `+pgRuleColumns+`
		FROM categorization_rules
		WHERE is_active AND (user_id IS NULL OR user_id = $1)
		`+ruleOrder, scope.UserID)
}

// ListRules returns the rules visible to scope.
func (p *PostgresStorage) ListRules(ctx context.Context, scope model.Scope, includeInactive bool) ([]model.CategorizationRule, error) {
	return p.queryRules(ctx, `SELECT `+pgRuleColumns+`
		FROM categorization_rules
		WHERE (user_id IS NULL OR user_id = $1) AND (is_active OR $2)
		`+ruleOrder, scope.UserID, includeInactive)
}

type pgQueryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func pgGetRule(ctx context.Context, q pgQueryRower, id int64, lock bool) (*model.CategorizationRule, error) {
	query := `SELECT ` + pgRuleColumns + ` FROM categorization_rules WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	rule, err := scanPgRule(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("rule %d: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, common.NewStorageError("get rule", err)
	}
	return &rule, nil
}

// GetRule retrieves a rule by ID.
func (p *PostgresStorage) GetRule(ctx context.Context, id int64) (*model.CategorizationRule, error) {
	return pgGetRule(ctx, p.pool, id, false)
}

func pgCategoryExists(ctx context.Context, q pgQueryRower, id string) error {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM categories WHERE id = $1)`, id).Scan(&exists); err != nil {
		return common.NewStorageError("verify category", err)
	}
	if !exists {
		return fmt.Errorf("%w: category %q does not exist", ErrInvalidRule, id)
	}
	return nil
}

func pgInsertRule(ctx context.Context, q pgQueryRower, rule *model.CategorizationRule) error {
	err := q.QueryRow(ctx, `
		INSERT INTO categorization_rules (
			user_id, entity_id, keyword, keyword_key, match_type, pattern_field, transaction_type,
			category_id, confidence, auto_approve, priority, source, usage_count, is_active, description
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at, updated_at`,
		rule.UserID, rule.EntityID, rule.Keyword, keywordKey(rule.Keyword), string(rule.MatchType),
		string(rule.PatternField), pgTransactionType(rule.TransactionType), rule.CategoryID, rule.Confidence,
		rule.AutoApprove, rule.Priority, string(rule.Source), rule.UsageCount, rule.IsActive, rule.Description,
	).Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		if isPgUniqueViolation(err) {
			return fmt.Errorf("%w: keyword %q", common.ErrRuleConflict, rule.Keyword)
		}
		return common.NewStorageError("create rule", err)
	}
	return nil
}

// CreateRule inserts a rule. The category must exist.
func (p *PostgresStorage) CreateRule(ctx context.Context, rule *model.CategorizationRule) error {
	if err := validateRule(rule); err != nil {
		return err
	}
	if err := pgCategoryExists(ctx, p.pool, rule.CategoryID); err != nil {
		return err
	}
	return pgInsertRule(ctx, p.pool, rule)
}

// UpdateRule applies patch to the rule. System rules only accept activation changes.
func (p *PostgresStorage) UpdateRule(ctx context.Context, id int64, patch model.RulePatch) (*model.CategorizationRule, error) {
	var updated model.CategorizationRule
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		current, err := pgGetRule(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if current.IsSystem() && !activationOnly(patch) {
			return fmt.Errorf("rule %d: %w", id, common.ErrSystemRule)
		}
		if updated, err = applyPatch(*current, patch); err != nil {
			return err
		}
		if updated.CategoryID != current.CategoryID {
			if err := pgCategoryExists(ctx, tx, updated.CategoryID); err != nil {
				return err
			}
		}

		err = tx.QueryRow(ctx, `
			UPDATE categorization_rules SET
				keyword = $1, keyword_key = $2, match_type = $3, pattern_field = $4, transaction_type = $5,
				category_id = $6, confidence = $7, auto_approve = $8, priority = $9, is_active = $10,
				description = $11, updated_at = NOW()
			WHERE id = $12
			RETURNING updated_at`,
			updated.Keyword, keywordKey(updated.Keyword), string(updated.MatchType), string(updated.PatternField),
			pgTransactionType(updated.TransactionType), updated.CategoryID, updated.Confidence,
			updated.AutoApprove, updated.Priority, updated.IsActive, updated.Description, id,
		).Scan(&updated.UpdatedAt)
		if err != nil {
			if isPgUniqueViolation(err) {
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

// IncrementRuleUsage increments a rule's usage counter.
func (p *PostgresStorage) IncrementRuleUsage(ctx context.Context, id int64, usedAt time.Time) error {
	cmd, err := p.pool.Exec(ctx, `
		UPDATE categorization_rules
		SET usage_count = usage_count + 1, last_used_at = $1
		WHERE id = $2`, usedAt, id)
	if err != nil {
		return common.NewStorageError("increment rule usage", err)
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("rule %d: %w", id, common.ErrNotFound)
	}
	return nil
}

// UpsertLearnedRule inserts or retargets the user's rule for the keyword in
// one statement; concurrent callers converge on a single row.
func (p *PostgresStorage) UpsertLearnedRule(ctx context.Context, rule *model.CategorizationRule) (bool, error) {
	if err := validateRule(rule); err != nil {
		return false, err
	}
	if err := pgCategoryExists(ctx, p.pool, rule.CategoryID); err != nil {
		return false, err
	}

	var inserted bool
	err := p.pool.QueryRow(ctx, `
		INSERT INTO categorization_rules (
			user_id, entity_id, keyword, keyword_key, match_type, pattern_field, transaction_type,
			category_id, confidence, auto_approve, priority, source, usage_count, is_active, description
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 0, TRUE, $13)
		ON CONFLICT (user_id, keyword_key) DO UPDATE SET
			category_id = EXCLUDED.category_id,
			is_active = TRUE,
			priority = GREATEST(categorization_rules.priority, EXCLUDED.priority),
			description = EXCLUDED.description,
			updated_at = NOW()
		RETURNING id, (xmax = 0)`,
		rule.UserID, rule.EntityID, rule.Keyword, keywordKey(rule.Keyword), string(rule.MatchType),
		string(rule.PatternField), pgTransactionType(rule.TransactionType), rule.CategoryID, rule.Confidence,
		rule.AutoApprove, rule.Priority, string(rule.Source), rule.Description,
	).Scan(&rule.ID, &inserted)
	if err != nil {
		return false, common.NewStorageError("upsert learned rule", err)
	}

	stored, err := p.GetRule(ctx, rule.ID)
	if err != nil {
		return false, err
	}
	*rule = *stored
	return inserted, nil
}

// CountRulesBySource counts active rules visible to userID grouped by source.
func (p *PostgresStorage) CountRulesBySource(ctx context.Context, userID string) (map[model.RuleSource]int, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT source, COUNT(*)
		FROM categorization_rules
		WHERE is_active AND (user_id IS NULL OR user_id = $1)
		GROUP BY source`, userID)
	if err != nil {
		return nil, common.NewStorageError("count rules", err)
	}
	defer rows.Close()

	counts := make(map[model.RuleSource]int)
	for rows.Next() {
		var source string
		var n int
		if err := rows.Scan(&source, &n); err != nil {
			return nil, common.NewStorageError("scan rule count", err)
		}
		counts[model.RuleSource(source)] = n
	}
	return counts, rows.Err()
}

// ListCategories returns system categories plus the scope user's own.
func (p *PostgresStorage) ListCategories(ctx context.Context, scope model.Scope) ([]model.Category, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, user_id, name, type, color, icon, created_at
		FROM categories
		WHERE user_id IS NULL OR user_id = $1
		ORDER BY name, id`, scope.UserID)
	if err != nil {
		return nil, common.NewStorageError("query categories", err)
	}
	defer rows.Close()

	var categories []model.Category
	for rows.Next() {
		var cat model.Category
		var typ string
		if err := rows.Scan(&cat.ID, &cat.UserID, &cat.Name, &typ, &cat.Color, &cat.Icon, &cat.CreatedAt); err != nil {
			return nil, common.NewStorageError("scan category", err)
		}
		cat.Type = model.CategoryType(typ)
		categories = append(categories, cat)
	}
	if err := rows.Err(); err != nil {
		return nil, common.NewStorageError("iterate categories", err)
	}
	return categories, nil
}

// GetCategory returns a category by ID.
func (p *PostgresStorage) GetCategory(ctx context.Context, id string) (*model.Category, error) {
	var cat model.Category
	var typ string
	err := p.pool.QueryRow(ctx, `
		SELECT id, user_id, name, type, color, icon, created_at
		FROM categories WHERE id = $1`, id).
		Scan(&cat.ID, &cat.UserID, &cat.Name, &typ, &cat.Color, &cat.Icon, &cat.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("category %q: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, common.NewStorageError("get category", err)
	}
	cat.Type = model.CategoryType(typ)
	return &cat, nil
}

// CreateCategory inserts a category.
func (p *PostgresStorage) CreateCategory(ctx context.Context, category *model.Category) error {
	if err := validateCategory(category); err != nil {
		return err
	}
	err := p.pool.QueryRow(ctx, `
		INSERT INTO categories (id, user_id, name, type, color, icon)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		category.ID, category.UserID, category.Name, string(category.Type), category.Color, category.Icon,
	).Scan(&category.CreatedAt)
	if err != nil {
		if isPgUniqueViolation(err) {
			return fmt.Errorf("category %q: %w", category.ID, common.ErrDuplicateEntry)
		}
		return common.NewStorageError("create category", err)
	}
	return nil
}

// AppendFeedback stores a correction.
func (p *PostgresStorage) AppendFeedback(ctx context.Context, record *model.FeedbackRecord) error {
	if err := validateFeedback(record); err != nil {
		return err
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO feedback (
			id, user_id, entity_id, transaction_id, transaction_text, normalized_text,
			merchant_name, amount, suggested_category_id, suggested_confidence,
			suggested_source, final_category_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		record.ID, record.UserID, record.EntityID, record.TransactionID, record.TransactionText,
		record.NormalizedText, record.MerchantName, record.Amount.String(), record.SuggestedCategoryID,
		record.SuggestedConfidence, string(record.SuggestedSource), record.FinalCategoryID, record.CreatedAt,
	)
	if err != nil {
		return common.NewStorageError("append feedback", err)
	}
	return nil
}

// CountMatchingFeedback counts the user's feedback for entityID with the same
// normalized text and final category. A nil entity matches records without one.
func (p *PostgresStorage) CountMatchingFeedback(ctx context.Context, userID string, entityID *string, normalizedText, categoryID string) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM feedback
		WHERE user_id = $1 AND entity_id IS NOT DISTINCT FROM $2::text
			AND normalized_text = $3 AND final_category_id = $4`,
		userID, entityID, normalizedText, categoryID).Scan(&n)
	if err != nil {
		return 0, common.NewStorageError("count feedback", err)
	}
	return n, nil
}

// ListFeedback returns the user's most recent feedback, newest first.
func (p *PostgresStorage) ListFeedback(ctx context.Context, userID string, limit int) ([]model.FeedbackRecord, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id::text, user_id, entity_id, transaction_id, transaction_text, normalized_text,
			merchant_name, amount, suggested_category_id, suggested_confidence,
			suggested_source, final_category_id, created_at
		FROM feedback
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, common.NewStorageError("query feedback", err)
	}
	defer rows.Close()

	var records []model.FeedbackRecord
	for rows.Next() {
		var r model.FeedbackRecord
		var amount, source string
		if err := rows.Scan(&r.ID, &r.UserID, &r.EntityID, &r.TransactionID, &r.TransactionText,
			&r.NormalizedText, &r.MerchantName, &amount, &r.SuggestedCategoryID,
			&r.SuggestedConfidence, &source, &r.FinalCategoryID, &r.CreatedAt); err != nil {
			return nil, common.NewStorageError("scan feedback", err)
		}
		if err := r.Amount.Scan(amount); err != nil {
			return nil, common.NewStorageError("parse feedback amount", err)
		}
		r.SuggestedSource = model.ResultSource(source)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, common.NewStorageError("iterate feedback", err)
	}
	return records, nil
}

// FeedbackStats counts feedback and genuine corrections since the given time.
func (p *PostgresStorage) FeedbackStats(ctx context.Context, userID string, since time.Time) (service.FeedbackStats, error) {
	var stats service.FeedbackStats
	err := p.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE suggested_category_id <> final_category_id)
		FROM feedback
		WHERE user_id = $1 AND created_at >= $2`, userID, since).Scan(&stats.Total, &stats.Corrections)
	if err != nil {
		return stats, common.NewStorageError("feedback stats", err)
	}
	return stats, nil
}

// TopCorrections returns the most frequently corrected normalized texts.
func (p *PostgresStorage) TopCorrections(ctx context.Context, userID string, since time.Time, limit int) ([]model.CorrectionCount, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT normalized_text, COUNT(*) AS n
		FROM feedback
		WHERE user_id = $1 AND created_at >= $2 AND suggested_category_id <> final_category_id
		GROUP BY normalized_text
		ORDER BY n DESC, normalized_text
		LIMIT $3`, userID, since, limit)
	if err != nil {
		return nil, common.NewStorageError("top corrections", err)
	}
	defer rows.Close()

	var out []model.CorrectionCount
	for rows.Next() {
		var c model.CorrectionCount
		if err := rows.Scan(&c.NormalizedText, &c.Count); err != nil {
			return nil, common.NewStorageError("scan correction", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SaveAssignment upserts the caller's category for a transaction.
func (p *PostgresStorage) SaveAssignment(ctx context.Context, a *model.Assignment) error {
	if a == nil {
		return fmt.Errorf("%w: assignment", ErrNilParameter)
	}
	if a.AssignedAt.IsZero() {
		a.AssignedAt = time.Now().UTC()
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO assignments (
			user_id, transaction_id, entity_id, description, normalized_text, category_id, amount, assigned_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, transaction_id) DO UPDATE SET
			entity_id = EXCLUDED.entity_id,
			description = EXCLUDED.description,
			normalized_text = EXCLUDED.normalized_text,
			category_id = EXCLUDED.category_id,
			amount = EXCLUDED.amount,
			assigned_at = EXCLUDED.assigned_at`,
		a.UserID, a.TransactionID, a.EntityID, a.Description, a.NormalizedText, a.CategoryID,
		a.Amount.String(), a.AssignedAt)
	if err != nil {
		return common.NewStorageError("save assignment", err)
	}
	return nil
}

// ListAssignments returns the user's most recent assignments, newest first.
func (p *PostgresStorage) ListAssignments(ctx context.Context, userID string, limit int) ([]model.Assignment, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT user_id, transaction_id, entity_id, description, normalized_text, category_id, amount, assigned_at
		FROM assignments
		WHERE user_id = $1
		ORDER BY assigned_at DESC, transaction_id
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, common.NewStorageError("query assignments", err)
	}
	defer rows.Close()

	var out []model.Assignment
	for rows.Next() {
		var a model.Assignment
		var amount string
		if err := rows.Scan(&a.UserID, &a.TransactionID, &a.EntityID, &a.Description, &a.NormalizedText,
			&a.CategoryID, &amount, &a.AssignedAt); err != nil {
			return nil, common.NewStorageError("scan assignment", err)
		}
		if err := a.Amount.Scan(amount); err != nil {
			return nil, common.NewStorageError("parse assignment amount", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// RecordEvent appends a categorization outcome to the history.
func (p *PostgresStorage) RecordEvent(ctx context.Context, event *model.CategorizationEvent) error {
	if event == nil {
		return fmt.Errorf("%w: event", ErrNilParameter)
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	err := p.pool.QueryRow(ctx, `
		INSERT INTO categorization_events (user_id, entity_id, transaction_id, category_id, source, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		event.UserID, event.EntityID, event.TransactionID, event.CategoryID, string(event.Source),
		event.Confidence, event.CreatedAt).Scan(&event.ID)
	if err != nil {
		return common.NewStorageError("record event", err)
	}
	return nil
}

// SummarizeEvents aggregates the latest event of each transaction since the given time.
func (p *PostgresStorage) SummarizeEvents(ctx context.Context, userID string, since time.Time) (service.EventSummary, error) {
	summary := service.EventSummary{BySource: make(map[model.ResultSource]int)}
	rows, err := p.pool.Query(ctx, `
		SELECT source, COUNT(*), COALESCE(AVG(confidence), 0)
		FROM (
			SELECT DISTINCT ON (transaction_id) source, confidence
			FROM categorization_events
			WHERE user_id = $1 AND created_at >= $2
			ORDER BY transaction_id, id DESC
		) latest
		GROUP BY source`, userID, since)
	if err != nil {
		return summary, common.NewStorageError("summarize events", err)
	}
	defer rows.Close()

	var weighted float64
	for rows.Next() {
		var source string
		var n int
		var avg float64
		if err := rows.Scan(&source, &n, &avg); err != nil {
			return summary, common.NewStorageError("scan event summary", err)
		}
		summary.BySource[model.ResultSource(source)] = n
		summary.Total += n
		weighted += avg * float64(n)
	}
	if err := rows.Err(); err != nil {
		return summary, common.NewStorageError("iterate event summary", err)
	}
	if summary.Total > 0 {
		summary.AverageConfidence = weighted / float64(summary.Total)
	}
	return summary, nil
}
