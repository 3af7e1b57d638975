package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/service"
)

// RecordEvent appends a categorization outcome to the history.
func (s *SQLiteStorage) RecordEvent(ctx context.Context, event *model.CategorizationEvent) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if event == nil {
		return fmt.Errorf("%w: event", ErrNilParameter)
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO categorization_events (user_id, entity_id, transaction_id, category_id, source, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.UserID, nullString(event.EntityID), event.TransactionID, event.CategoryID,
		event.Source, event.Confidence, event.CreatedAt.UTC())
	if err != nil {
		return common.NewStorageError("record event", err)
	}
	if event.ID, err = result.LastInsertId(); err != nil {
		return common.NewStorageError("record event", err)
	}
	return nil
}

// SummarizeEvents aggregates the latest event of each transaction since the given time.
func (s *SQLiteStorage) SummarizeEvents(ctx context.Context, userID string, since time.Time) (service.EventSummary, error) {
	summary := service.EventSummary{BySource: make(map[model.ResultSource]int)}
	if err := validateContext(ctx); err != nil {
		return summary, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT source, COUNT(*), AVG(confidence)
		FROM categorization_events
		WHERE id IN (
			SELECT MAX(id) FROM categorization_events
			WHERE user_id = ? AND created_at >= ?
			GROUP BY transaction_id
		)
		GROUP BY source`, userID, since.UTC())
	if err != nil {
		return summary, common.NewStorageError("summarize events", err)
	}
	defer func() { _ = rows.Close() }()

	var weighted float64
	for rows.Next() {
		var source model.ResultSource
		var n int
		var avg sql.NullFloat64
		if err := rows.Scan(&source, &n, &avg); err != nil {
			return summary, common.NewStorageError("scan event summary", err)
		}
		summary.BySource[source] = n
		summary.Total += n
		weighted += avg.Float64 * float64(n)
	}
	if err := rows.Err(); err != nil {
		return summary, common.NewStorageError("iterate event summary", err)
	}
	if summary.Total > 0 {
		summary.AverageConfidence = weighted / float64(summary.Total)
	}
	return summary, nil
}
