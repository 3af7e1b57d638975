package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
)

// ListCategories returns system categories plus the scope user's own.
func (s *SQLiteStorage) ListCategories(ctx context.Context, scope model.Scope) ([]model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, type, color, icon, created_at
		FROM categories
		WHERE user_id IS NULL OR user_id = ?
		ORDER BY name, id`, scope.UserID)
	if err != nil {
		return nil, common.NewStorageError("query categories", err)
	}
	defer func() { _ = rows.Close() }()

	var categories []model.Category
	for rows.Next() {
		cat, err := scanCategory(rows)
		if err != nil {
			return nil, common.NewStorageError("scan category", err)
		}
		categories = append(categories, cat)
	}
	if err := rows.Err(); err != nil {
		return nil, common.NewStorageError("iterate categories", err)
	}

	slog.Debug("Retrieved categories", "user_id", scope.UserID, "count", len(categories))
	return categories, nil
}

// GetCategory returns a category by ID.
func (s *SQLiteStorage) GetCategory(ctx context.Context, id string) (*model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	cat, err := scanCategory(s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, type, color, icon, created_at
		FROM categories WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("category %q: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, common.NewStorageError("get category", err)
	}
	return &cat, nil
}

// CreateCategory inserts a category. Creating an existing ID is an error.
func (s *SQLiteStorage) CreateCategory(ctx context.Context, category *model.Category) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateCategory(category); err != nil {
		return err
	}

	category.CreatedAt = s.now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, user_id, name, type, color, icon, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		category.ID, nullString(category.UserID), category.Name, category.Type,
		category.Color, category.Icon, category.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("category %q: %w", category.ID, common.ErrDuplicateEntry)
		}
		return common.NewStorageError("create category", err)
	}
	return nil
}

func scanCategory(row rowScanner) (model.Category, error) {
	var cat model.Category
	var userID sql.NullString
	if err := row.Scan(&cat.ID, &userID, &cat.Name, &cat.Type, &cat.Color, &cat.Icon, &cat.CreatedAt); err != nil {
		return cat, err
	}
	cat.UserID = stringPtr(userID)
	return cat, nil
}

func categoryExists(ctx context.Context, q queryRower, id string) error {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM categories WHERE id = ?`, id).Scan(&n); err != nil {
		return common.NewStorageError("verify category", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: category %q does not exist", ErrInvalidRule, id)
	}
	return nil
}
