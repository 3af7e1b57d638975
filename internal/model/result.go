package model

import "time"

// ResultSource names the layer that produced a categorization.
type ResultSource string

// Result source constants.
const (
	SourceRule  ResultSource = "rule"
	SourceSmart ResultSource = "smart"
	SourceAI    ResultSource = "ai"
	SourceNone  ResultSource = "none"
)

// ResultStatus is the per-item outcome of a batch categorization.
type ResultStatus string

// Result status constants.
const (
	StatusOK     ResultStatus = "ok"
	StatusFailed ResultStatus = "failed"
)

// CategorizationResult is the suggestion returned for one transaction.
// CategoryID is empty when Source is SourceNone.
type CategorizationResult struct {
	RuleID        *int64       `json:"rule_id,omitempty"`
	TransactionID string       `json:"transaction_id,omitempty"`
	CategoryID    string       `json:"category_id,omitempty"`
	CategoryName  string       `json:"category_name,omitempty"`
	Source        ResultSource `json:"source"`
	Justification string       `json:"justification,omitempty"`
	Status        ResultStatus `json:"status"`
	Error         string       `json:"error,omitempty"`
	Confidence    float64      `json:"confidence"`
	AutoApprove   bool         `json:"auto_approve"`
	NeedsReview   bool         `json:"needs_review"`
}

// IsCategorized reports whether a category was resolved.
func (r CategorizationResult) IsCategorized() bool {
	return r.Source != SourceNone && r.CategoryID != ""
}

// Uncategorized returns the terminal result used when every layer declines.
func Uncategorized(transactionID string) CategorizationResult {
	return CategorizationResult{
		TransactionID: transactionID,
		Source:        SourceNone,
		Status:        StatusOK,
		NeedsReview:   true,
	}
}

// CategorizationEvent is a history entry written after each categorization.
type CategorizationEvent struct {
	CreatedAt     time.Time    `json:"created_at"`
	EntityID      *string      `json:"entity_id,omitempty"`
	UserID        string       `json:"user_id"`
	TransactionID string       `json:"transaction_id"`
	CategoryID    string       `json:"category_id,omitempty"`
	Source        ResultSource `json:"source"`
	ID            int64        `json:"id"`
	Confidence    float64      `json:"confidence"`
}
