package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/service"
)

// AppendFeedback stores a correction. Records are never updated or deleted.
func (s *SQLiteStorage) AppendFeedback(ctx context.Context, record *model.FeedbackRecord) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateFeedback(record); err != nil {
		return err
	}

	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback (
			id, user_id, entity_id, transaction_id, transaction_text, normalized_text,
			merchant_name, amount, suggested_category_id, suggested_confidence,
			suggested_source, final_category_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.UserID, nullString(record.EntityID), record.TransactionID,
		record.TransactionText, record.NormalizedText, record.MerchantName, record.Amount,
		record.SuggestedCategoryID, record.SuggestedConfidence, record.SuggestedSource,
		record.FinalCategoryID, record.CreatedAt.UTC(),
	)
	if err != nil {
		return common.NewStorageError("append feedback", err)
	}
	return nil
}

// CountMatchingFeedback counts the user's feedback for entityID with the same
// normalized text and final category. A nil entity matches records without one.
func (s *SQLiteStorage) CountMatchingFeedback(ctx context.Context, userID string, entityID *string, normalizedText, categoryID string) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM feedback
		WHERE user_id = ? AND entity_id IS ? AND normalized_text = ? AND final_category_id = ?`,
		userID, nullString(entityID), normalizedText, categoryID).Scan(&n)
	if err != nil {
		return 0, common.NewStorageError("count feedback", err)
	}
	return n, nil
}

// ListFeedback returns the user's most recent feedback, newest first.
func (s *SQLiteStorage) ListFeedback(ctx context.Context, userID string, limit int) ([]model.FeedbackRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, entity_id, transaction_id, transaction_text, normalized_text,
			merchant_name, amount, suggested_category_id, suggested_confidence,
			suggested_source, final_category_id, created_at
		FROM feedback
		WHERE user_id = ?
		ORDER BY created_at DESC, id
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, common.NewStorageError("query feedback", err)
	}
	defer func() { _ = rows.Close() }()

	var records []model.FeedbackRecord
	for rows.Next() {
		var (
			r        model.FeedbackRecord
			entityID sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.UserID, &entityID, &r.TransactionID, &r.TransactionText,
			&r.NormalizedText, &r.MerchantName, &r.Amount, &r.SuggestedCategoryID,
			&r.SuggestedConfidence, &r.SuggestedSource, &r.FinalCategoryID, &r.CreatedAt); err != nil {
			return nil, common.NewStorageError("scan feedback", err)
		}
		r.EntityID = stringPtr(entityID)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, common.NewStorageError("iterate feedback", err)
	}
	return records, nil
}

// FeedbackStats counts feedback and genuine corrections since the given time.
func (s *SQLiteStorage) FeedbackStats(ctx context.Context, userID string, since time.Time) (service.FeedbackStats, error) {
	if err := validateContext(ctx); err != nil {
		return service.FeedbackStats{}, err
	}

	var stats service.FeedbackStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN suggested_category_id <> final_category_id THEN 1 ELSE 0 END), 0)
		FROM feedback
		WHERE user_id = ? AND created_at >= ?`, userID, since.UTC()).Scan(&stats.Total, &stats.Corrections)
	if err != nil {
		return stats, common.NewStorageError("feedback stats", err)
	}
	return stats, nil
}

// TopCorrections returns the most frequently corrected normalized texts.
func (s *SQLiteStorage) TopCorrections(ctx context.Context, userID string, since time.Time, limit int) ([]model.CorrectionCount, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT normalized_text, COUNT(*) AS n
		FROM feedback
		WHERE user_id = ? AND created_at >= ? AND suggested_category_id <> final_category_id
		GROUP BY normalized_text
		ORDER BY n DESC, normalized_text
		LIMIT ?`, userID, since.UTC(), limit)
	if err != nil {
		return nil, common.NewStorageError("top corrections", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.CorrectionCount
	for rows.Next() {
		var c model.CorrectionCount
		if err := rows.Scan(&c.NormalizedText, &c.Count); err != nil {
			return nil, common.NewStorageError("scan correction", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, common.NewStorageError("iterate corrections", err)
	}
	return out, nil
}
