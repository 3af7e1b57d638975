package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
)

// SaveAssignment records the category a caller persisted for a transaction.
// A later assignment for the same transaction replaces the earlier one.
func (s *SQLiteStorage) SaveAssignment(ctx context.Context, a *model.Assignment) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if a == nil {
		return fmt.Errorf("%w: assignment", ErrNilParameter)
	}
	if err := validateString(a.UserID, "userID"); err != nil {
		return err
	}
	if err := validateString(a.TransactionID, "transactionID"); err != nil {
		return err
	}
	if err := validateString(a.CategoryID, "categoryID"); err != nil {
		return err
	}
	if a.AssignedAt.IsZero() {
		a.AssignedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assignments (
			user_id, transaction_id, entity_id, description, normalized_text, category_id, amount, assigned_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, transaction_id) DO UPDATE SET
			entity_id = excluded.entity_id,
			description = excluded.description,
			normalized_text = excluded.normalized_text,
			category_id = excluded.category_id,
			amount = excluded.amount,
			assigned_at = excluded.assigned_at`,
		a.UserID, a.TransactionID, nullString(a.EntityID), a.Description, a.NormalizedText,
		a.CategoryID, a.Amount, a.AssignedAt.UTC())
	if err != nil {
		return common.NewStorageError("save assignment", err)
	}
	return nil
}

// ListAssignments returns the user's most recent assignments, newest first.
func (s *SQLiteStorage) ListAssignments(ctx context.Context, userID string, limit int) ([]model.Assignment, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, transaction_id, entity_id, description, normalized_text, category_id, amount, assigned_at
		FROM assignments
		WHERE user_id = ?
		ORDER BY assigned_at DESC, transaction_id
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, common.NewStorageError("query assignments", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Assignment
	for rows.Next() {
		var a model.Assignment
		var entityID sql.NullString
		if err := rows.Scan(&a.UserID, &a.TransactionID, &entityID, &a.Description, &a.NormalizedText,
			&a.CategoryID, &a.Amount, &a.AssignedAt); err != nil {
			return nil, common.NewStorageError("scan assignment", err)
		}
		a.EntityID = stringPtr(entityID)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, common.NewStorageError("iterate assignments", err)
	}
	return out, nil
}
