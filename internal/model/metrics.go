package model

import "time"

// Metrics summarizes categorization quality for one user over a window.
type Metrics struct {
	WindowStart       time.Time            `json:"window_start"`
	WindowEnd         time.Time            `json:"window_end"`
	BySource          map[ResultSource]int `json:"by_source"`
	RulesBySource     map[RuleSource]int   `json:"rules_by_source"`
	UserID            string               `json:"user_id"`
	TopCorrections    []CorrectionCount    `json:"top_corrections"`
	Total             int                  `json:"total"`
	Categorized       int                  `json:"categorized"`
	Uncategorized     int                  `json:"uncategorized"`
	FeedbackCount     int                  `json:"feedback_count"`
	// CorrectionCount is the feedback whose final category differed from the suggestion.
	CorrectionCount   int                  `json:"correction_count"`
	ActiveRules       int                  `json:"active_rules"`
	CoverageRate      float64              `json:"coverage_rate"`
	// CorrectionRate is FeedbackCount divided by Categorized.
	CorrectionRate    float64              `json:"correction_rate"`
	AverageConfidence float64              `json:"average_confidence"`
}

// CorrectionCount is a normalized text and how often it was corrected.
type CorrectionCount struct {
	NormalizedText string `json:"normalized_text"`
	Count          int    `json:"count"`
}
