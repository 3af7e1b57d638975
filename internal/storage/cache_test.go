package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/service"
)

// countingStore counts reads that reach the underlying store.
type countingStore struct {
	service.Storage
	ruleReads     int
	categoryReads int
}

func (c *countingStore) ListActiveRules(ctx context.Context, scope model.Scope) ([]model.CategorizationRule, error) {
	c.ruleReads++
	return c.Storage.ListActiveRules(ctx, scope)
}

func (c *countingStore) ListCategories(ctx context.Context, scope model.Scope) ([]model.Category, error) {
	c.categoryReads++
	return c.Storage.ListCategories(ctx, scope)
}

func TestCachedStore_InvalidatesOnRuleWrite(t *testing.T) {
	inner := &countingStore{Storage: createTestStorageWithCategories(t, "groceries", "household")}
	cached, err := NewCachedStore(inner, CacheConfig{TTL: time.Minute, MaxCost: 100})
	require.NoError(t, err)
	ctx := context.Background()
	scope := model.Scope{UserID: "alice"}

	rules, err := cached.ListActiveRules(ctx, scope)
	require.NoError(t, err)
	assert.Empty(t, rules)

	_, err = cached.ListActiveRules(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.ruleReads, "second read served from cache")

	require.NoError(t, cached.CreateRule(ctx, manualRule("alice", "COSTCO", "groceries", 5)))

	rules, err = cached.ListActiveRules(ctx, scope)
	require.NoError(t, err)
	assert.Len(t, rules, 1)
	assert.Equal(t, 2, inner.ruleReads)

	_, err = cached.UpsertLearnedRule(ctx, &model.CategorizationRule{
		UserID: strPtr("alice"), Keyword: "COSTCO", MatchType: model.MatchContains,
		PatternField: model.FieldDescription, CategoryID: "household", Confidence: 1,
		Priority: 5, Source: model.RuleSourceAutoLearned, IsActive: true,
	})
	require.NoError(t, err)

	rules, err = cached.ListActiveRules(ctx, scope)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "household", rules[0].CategoryID)
}

func TestCachedStore_UsageReordersTies(t *testing.T) {
	inner := &countingStore{Storage: createTestStorageWithCategories(t, "groceries", "household")}
	cached, err := NewCachedStore(inner, CacheConfig{TTL: time.Hour, MaxCost: 100})
	require.NoError(t, err)
	ctx := context.Background()
	scope := model.Scope{UserID: "alice"}

	first := manualRule("alice", "COSTCO", "groceries", 5)
	require.NoError(t, cached.CreateRule(ctx, first))
	second := manualRule("alice", "COSTCO WHOLESALE", "household", 5)
	require.NoError(t, cached.CreateRule(ctx, second))

	rules, err := cached.ListActiveRules(ctx, scope)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, first.ID, rules[0].ID, "older rule wins an unused tie")

	require.NoError(t, cached.IncrementRuleUsage(ctx, second.ID, time.Now()))

	rules, err = cached.ListActiveRules(ctx, scope)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, second.ID, rules[0].ID, "fresh usage count breaks the tie")
	assert.Equal(t, 1, rules[0].UsageCount)
	assert.Equal(t, 2, inner.ruleReads)
}

func TestCachedStore_ReturnsCopies(t *testing.T) {
	inner := &countingStore{Storage: createTestStorageWithCategories(t, "groceries")}
	cached, err := NewCachedStore(inner, CacheConfig{})
	require.NoError(t, err)
	ctx := context.Background()
	scope := model.Scope{UserID: "alice"}

	cats, err := cached.ListCategories(ctx, scope)
	require.NoError(t, err)
	require.Len(t, cats, 1)
	cats[0].Name = "mutated"

	again, err := cached.ListCategories(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, "groceries", again[0].Name)
}
