package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 5

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

func execAll(tx *sql.Tx, queries ...string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query '%s': %w", query, err)
		}
	}
	return nil
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Categories and categorization rules",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS categories (
					id TEXT PRIMARY KEY,
					user_id TEXT,
					name TEXT NOT NULL,
					type TEXT NOT NULL CHECK (type IN ('income', 'expense', 'transfer')),
					color TEXT NOT NULL DEFAULT '',
					icon TEXT NOT NULL DEFAULT '',
					created_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_categories_user ON categories(user_id)`,

				`CREATE TABLE IF NOT EXISTS categorization_rules (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					user_id TEXT,
					entity_id TEXT,
					keyword TEXT NOT NULL,
					keyword_key TEXT NOT NULL,
					match_type TEXT NOT NULL CHECK (match_type IN ('exact', 'contains', 'starts_with', 'regex')),
					pattern_field TEXT NOT NULL DEFAULT 'description',
					transaction_type TEXT CHECK (transaction_type IN ('debit', 'credit')),
					category_id TEXT NOT NULL REFERENCES categories(id),
					confidence REAL NOT NULL DEFAULT 1.0,
					auto_approve INTEGER NOT NULL DEFAULT 0,
					priority INTEGER NOT NULL DEFAULT 0,
					source TEXT NOT NULL CHECK (source IN ('system', 'manual', 'auto_learned')),
					usage_count INTEGER NOT NULL DEFAULT 0,
					is_active INTEGER NOT NULL DEFAULT 1,
					description TEXT NOT NULL DEFAULT '',
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL,
					last_used_at DATETIME
				)`,
				`CREATE INDEX idx_rules_active ON categorization_rules(is_active, user_id)`,
			)
		},
	},
	{
		Version:     2,
		Description: "One rule per user and keyword",
		Up: func(tx *sql.Tx) error {
			// NULL user_id (system rules) is exempt: NULLs never collide.
			return execAll(tx,
				`CREATE UNIQUE INDEX idx_rules_user_keyword ON categorization_rules(user_id, keyword_key)`,
			)
		},
	},
	{
		Version:     3,
		Description: "Append-only feedback log",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS feedback (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					entity_id TEXT,
					transaction_id TEXT NOT NULL DEFAULT '',
					transaction_text TEXT NOT NULL,
					normalized_text TEXT NOT NULL,
					merchant_name TEXT NOT NULL DEFAULT '',
					amount TEXT NOT NULL DEFAULT '0',
					suggested_category_id TEXT NOT NULL DEFAULT '',
					suggested_confidence REAL NOT NULL DEFAULT 0,
					suggested_source TEXT NOT NULL DEFAULT '',
					final_category_id TEXT NOT NULL,
					created_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_feedback_promotion ON feedback(user_id, normalized_text, final_category_id)`,
				`CREATE INDEX idx_feedback_user_created ON feedback(user_id, created_at)`,
			)
		},
	},
	{
		Version:     4,
		Description: "Assignments and categorization history",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS assignments (
					user_id TEXT NOT NULL,
					transaction_id TEXT NOT NULL,
					entity_id TEXT,
					description TEXT NOT NULL,
					normalized_text TEXT NOT NULL,
					category_id TEXT NOT NULL,
					amount TEXT NOT NULL DEFAULT '0',
					assigned_at DATETIME NOT NULL,
					PRIMARY KEY (user_id, transaction_id)
				)`,
				`CREATE INDEX idx_assignments_user_assigned ON assignments(user_id, assigned_at)`,

				`CREATE TABLE IF NOT EXISTS categorization_events (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					user_id TEXT NOT NULL,
					entity_id TEXT,
					transaction_id TEXT NOT NULL,
					category_id TEXT NOT NULL DEFAULT '',
					source TEXT NOT NULL,
					confidence REAL NOT NULL DEFAULT 0,
					created_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_events_user_created ON categorization_events(user_id, created_at)`,
				`CREATE INDEX idx_events_transaction ON categorization_events(user_id, transaction_id)`,
			)
		},
	},
	{
		Version:     5,
		Description: "Entity-scoped feedback promotion index",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`DROP INDEX IF EXISTS idx_feedback_promotion`,
				`CREATE INDEX idx_feedback_promotion ON feedback(user_id, entity_id, normalized_text, final_category_id)`,
			)
		},
	},
}

// Migrate applies pending migrations in order.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
