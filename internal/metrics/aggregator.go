// Package metrics computes categorization quality metrics from stored history.
package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/service"
)

// DefaultTopCorrections is how many corrected texts GetMetrics reports.
const DefaultTopCorrections = 10

// Store is the read-only persistence the aggregator queries.
type Store interface {
	SummarizeEvents(ctx context.Context, userID string, since time.Time) (service.EventSummary, error)
	FeedbackStats(ctx context.Context, userID string, since time.Time) (service.FeedbackStats, error)
	TopCorrections(ctx context.Context, userID string, since time.Time, limit int) ([]model.CorrectionCount, error)
	CountRulesBySource(ctx context.Context, userID string) (map[model.RuleSource]int, error)
}

// Aggregator computes Metrics. It never writes.
type Aggregator struct {
	store Store
	now   func() time.Time
	top   int
}

// NewAggregator creates an aggregator over store.
func NewAggregator(store Store) *Aggregator {
	return &Aggregator{store: store, now: time.Now, top: DefaultTopCorrections}
}

// GetMetrics summarizes the user's categorization over the trailing window.
// A non-positive window covers all history.
func (a *Aggregator) GetMetrics(ctx context.Context, userID string, window time.Duration) (model.Metrics, error) {
	if strings.TrimSpace(userID) == "" {
		return model.Metrics{}, fmt.Errorf("%w: user id is required", common.ErrInvalidInput)
	}

	end := a.now()
	var start time.Time
	if window > 0 {
		start = end.Add(-window)
	}

	events, err := a.store.SummarizeEvents(ctx, userID, start)
	if err != nil {
		return model.Metrics{}, fmt.Errorf("failed to summarize events: %w", err)
	}
	fb, err := a.store.FeedbackStats(ctx, userID, start)
	if err != nil {
		return model.Metrics{}, fmt.Errorf("failed to load feedback stats: %w", err)
	}
	top, err := a.store.TopCorrections(ctx, userID, start, a.top)
	if err != nil {
		return model.Metrics{}, fmt.Errorf("failed to load top corrections: %w", err)
	}
	rules, err := a.store.CountRulesBySource(ctx, userID)
	if err != nil {
		return model.Metrics{}, fmt.Errorf("failed to count rules: %w", err)
	}

	m := model.Metrics{
		UserID:            userID,
		WindowStart:       start,
		WindowEnd:         end,
		BySource:          make(map[model.ResultSource]int, len(events.BySource)),
		RulesBySource:     rules,
		TopCorrections:    top,
		Total:             events.Total,
		Uncategorized:     events.BySource[model.SourceNone],
		FeedbackCount:     fb.Total,
		CorrectionCount:   fb.Corrections,
		AverageConfidence: events.AverageConfidence,
	}
	for source, n := range events.BySource {
		m.BySource[source] = n
	}
	if m.RulesBySource == nil {
		m.RulesBySource = make(map[model.RuleSource]int)
	}
	if m.TopCorrections == nil {
		m.TopCorrections = []model.CorrectionCount{}
	}
	for _, n := range m.RulesBySource {
		m.ActiveRules += n
	}

	m.Categorized = m.Total - m.Uncategorized
	if m.Total > 0 {
		m.CoverageRate = float64(m.Categorized) / float64(m.Total)
	}
	if m.Categorized > 0 {
		m.CorrectionRate = float64(m.FeedbackCount) / float64(m.Categorized)
	}

	return m, nil
}
