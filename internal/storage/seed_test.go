package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/tally/internal/model"
)

func TestApplySeed_DefaultIsIdempotent(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	seed, err := DefaultSeed()
	require.NoError(t, err)

	first, err := ApplySeed(ctx, store, seed)
	require.NoError(t, err)
	assert.Equal(t, len(seed.Categories), first.CategoriesCreated)
	assert.Equal(t, len(seed.Rules), first.RulesCreated)

	second, err := ApplySeed(ctx, store, seed)
	require.NoError(t, err)
	assert.Zero(t, second.CategoriesCreated)
	assert.Zero(t, second.RulesCreated)

	rules, err := store.ListActiveRules(ctx, model.Scope{UserID: "anyone"})
	require.NoError(t, err)
	for _, r := range rules {
		assert.Equal(t, model.RuleSourceSystem, r.Source)
		assert.Nil(t, r.UserID)
	}
}

func TestLoadSeed(t *testing.T) {
	doc := `
categories:
  - {id: groceries, name: Groceries, type: expense}
rules:
  - {keyword: TESCO, category: groceries, priority: 10, transaction_type: DEBIT}
`
	seed, err := LoadSeed(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, seed.Rules, 1)

	rule, err := seed.Rules[0].toRule()
	require.NoError(t, err)
	assert.Equal(t, model.MatchContains, rule.MatchType)
	assert.Equal(t, model.FieldDescription, rule.PatternField)
	assert.InDelta(t, 1.0, rule.Confidence, 1e-9)
	require.NotNil(t, rule.TransactionType)
	assert.Equal(t, model.TransactionTypeDebit, *rule.TransactionType)

	_, err = LoadSeed(strings.NewReader("rules:\n  - {keyword: x, colour: red}\n"))
	assert.Error(t, err, "unknown fields are rejected")
}
