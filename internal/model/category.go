package model

import "time"

// CategoryType indicates whether a category is for income, expense, or transfers.
type CategoryType string

const (
	// CategoryTypeIncome represents categories for income transactions.
	CategoryTypeIncome CategoryType = "income"
	// CategoryTypeExpense represents categories for expense transactions.
	CategoryTypeExpense CategoryType = "expense"
	// CategoryTypeTransfer represents money moving between the user's own accounts.
	CategoryTypeTransfer CategoryType = "transfer"
)

// Valid reports whether t is a known category type.
func (t CategoryType) Valid() bool {
	switch t {
	case CategoryTypeIncome, CategoryTypeExpense, CategoryTypeTransfer:
		return true
	}
	return false
}

// Category is an entry of the taxonomy visible to a user.
// System categories have a nil UserID.
type Category struct {
	CreatedAt time.Time    `json:"created_at"`
	UserID    *string      `json:"user_id,omitempty"`
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Type      CategoryType `json:"type"`
	Color     string       `json:"color,omitempty"`
	Icon      string       `json:"icon,omitempty"`
}

// IsSystem reports whether the category belongs to the shared taxonomy.
func (c Category) IsSystem() bool {
	return c.UserID == nil
}

// CategoryIndex maps category IDs to categories for quick lookup.
type CategoryIndex map[string]Category

// IndexCategories builds a CategoryIndex from a slice.
func IndexCategories(categories []Category) CategoryIndex {
	idx := make(CategoryIndex, len(categories))
	for _, c := range categories {
		idx[c.ID] = c
	}
	return idx
}
