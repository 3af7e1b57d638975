package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// FeedbackRecord is an append-only human correction.
type FeedbackRecord struct {
	CreatedAt           time.Time       `json:"created_at"`
	EntityID            *string         `json:"entity_id,omitempty"`
	ID                  string          `json:"id"`
	UserID              string          `json:"user_id"`
	TransactionID       string          `json:"transaction_id,omitempty"`
	TransactionText     string          `json:"transaction_text"`
	NormalizedText      string          `json:"normalized_text"`
	MerchantName        string          `json:"merchant_name,omitempty"`
	SuggestedCategoryID string          `json:"suggested_category_id,omitempty"`
	SuggestedSource     ResultSource    `json:"suggested_source,omitempty"`
	FinalCategoryID     string          `json:"final_category_id"`
	Amount              decimal.Decimal `json:"amount"`
	SuggestedConfidence float64         `json:"suggested_confidence"`
}

// IsCorrection reports whether the human chose something other than the suggestion.
func (f FeedbackRecord) IsCorrection() bool {
	return f.SuggestedCategoryID != f.FinalCategoryID
}
