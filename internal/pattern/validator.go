package pattern

import "github.com/Veraticus/tally/internal/model"

// DirectionCompatible reports whether a category of type ct may be assigned
// to a transaction of type tt. Credits never land in expense categories and
// debits never land in income categories; transfers accept either.
func DirectionCompatible(tt model.TransactionType, ct model.CategoryType) bool {
	switch {
	case tt == model.TransactionTypeCredit && ct == model.CategoryTypeExpense:
		return false
	case tt == model.TransactionTypeDebit && ct == model.CategoryTypeIncome:
		return false
	}
	return true
}

// CompatibleCategories filters categories to those usable for tt.
func CompatibleCategories(tt model.TransactionType, categories []model.Category) []model.Category {
	out := make([]model.Category, 0, len(categories))
	for _, c := range categories {
		if DirectionCompatible(tt, c.Type) {
			out = append(out, c)
		}
	}
	return out
}
