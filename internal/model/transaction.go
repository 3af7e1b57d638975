package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType is the direction of money movement.
type TransactionType string

const (
	// TransactionTypeDebit is money leaving the account.
	TransactionTypeDebit TransactionType = "debit"
	// TransactionTypeCredit is money entering the account.
	TransactionTypeCredit TransactionType = "credit"
)

// ParseTransactionType normalizes user input such as "DEBIT" or " credit ".
func ParseTransactionType(s string) (TransactionType, bool) {
	switch TransactionType(strings.ToLower(strings.TrimSpace(s))) {
	case TransactionTypeDebit:
		return TransactionTypeDebit, true
	case TransactionTypeCredit:
		return TransactionTypeCredit, true
	}
	return "", false
}

// Transaction is the read-only input to categorization. The engine never
// writes transactions; callers persist the suggestion it returns.
type Transaction struct {
	Date               time.Time       `json:"date"`
	EntityID           *string         `json:"entity_id,omitempty"`
	ID                 string          `json:"id"`
	Description        string          `json:"description"`
	MerchantName       string          `json:"merchant_name,omitempty"`
	Type               TransactionType `json:"type"`
	ExistingCategoryID string          `json:"existing_category_id,omitempty"`
	Reference          string          `json:"reference,omitempty"`
	Amount             decimal.Decimal `json:"amount"`
}

// Scope is the user/entity boundary of a categorization call.
type Scope struct {
	EntityID *string
	UserID   string
}

// Assignment records a category a caller persisted for a transaction.
// Assignments are the repetition history read by the smart pattern detector.
type Assignment struct {
	AssignedAt     time.Time       `json:"assigned_at"`
	EntityID       *string         `json:"entity_id,omitempty"`
	UserID         string          `json:"user_id"`
	TransactionID  string          `json:"transaction_id"`
	Description    string          `json:"description"`
	NormalizedText string          `json:"normalized_text"`
	CategoryID     string          `json:"category_id"`
	Amount         decimal.Decimal `json:"amount"`
}
