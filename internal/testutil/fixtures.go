package testutil

import (
	"github.com/shopspring/decimal"

	"github.com/Veraticus/tally/internal/model"
)

// Category IDs used by the standard fixture.
const (
	Groceries     = "groceries"
	Household     = "household"
	Dining        = "dining"
	Transport     = "transport"
	Subscriptions = "subscriptions"
	Salary        = "salary"
	Refunds       = "refunds"
	Transfers     = "transfers"
)

// StandardCategories returns a small taxonomy covering every category type.
func StandardCategories() []model.Category {
	return []model.Category{
		{ID: Groceries, Name: "Groceries", Type: model.CategoryTypeExpense},
		{ID: Household, Name: "Household", Type: model.CategoryTypeExpense},
		{ID: Dining, Name: "Eating Out", Type: model.CategoryTypeExpense},
		{ID: Transport, Name: "Transport", Type: model.CategoryTypeExpense},
		{ID: Subscriptions, Name: "Subscriptions", Type: model.CategoryTypeExpense},
		{ID: Salary, Name: "Salary", Type: model.CategoryTypeIncome},
		{ID: Refunds, Name: "Refunds", Type: model.CategoryTypeIncome},
		{ID: Transfers, Name: "Transfers", Type: model.CategoryTypeTransfer},
	}
}

// SystemRule builds an active contains rule shared by all users.
func SystemRule(keyword, categoryID string, priority int) *model.CategorizationRule {
	return &model.CategorizationRule{
		Keyword:      keyword,
		MatchType:    model.MatchContains,
		PatternField: model.FieldDescription,
		CategoryID:   categoryID,
		Confidence:   1.0,
		Priority:     priority,
		Source:       model.RuleSourceSystem,
		IsActive:     true,
	}
}

// UserRule builds an active manual contains rule owned by userID.
func UserRule(userID, keyword, categoryID string, priority int) *model.CategorizationRule {
	rule := SystemRule(keyword, categoryID, priority)
	rule.UserID = &userID
	rule.Source = model.RuleSourceManual
	return rule
}

// Debit builds a debit transaction with the given description and amount.
func Debit(id, description, amount string) model.Transaction {
	return model.Transaction{
		ID:          id,
		Description: description,
		Amount:      decimal.RequireFromString(amount),
		Type:        model.TransactionTypeDebit,
	}
}

// Credit builds a credit transaction with the given description and amount.
func Credit(id, description, amount string) model.Transaction {
	txn := Debit(id, description, amount)
	txn.Type = model.TransactionTypeCredit
	return txn
}
