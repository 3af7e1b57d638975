package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
)

// createTestStorage opens a migrated database in a temp dir.
func createTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()

	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Migrate(context.Background()))
	return store
}

// createTestStorageWithCategories seeds expense categories with the given IDs.
func createTestStorageWithCategories(t *testing.T, ids ...string) *SQLiteStorage {
	t.Helper()
	store := createTestStorage(t)
	for _, id := range ids {
		require.NoError(t, store.CreateCategory(context.Background(), &model.Category{
			ID:   id,
			Name: id,
			Type: model.CategoryTypeExpense,
		}))
	}
	return store
}

func strPtr(s string) *string { return &s }

func TestSQLiteStorage_MigrateIsIdempotent(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.Migrate(ctx))

	var version int
	require.NoError(t, store.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version))
	assert.Equal(t, ExpectedSchemaVersion, version)

	var indexCount int
	require.NoError(t, store.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sqlite_master
		WHERE type = 'index' AND name = 'idx_rules_user_keyword'`).Scan(&indexCount))
	assert.Equal(t, 1, indexCount)
}

func TestSQLiteStorage_InMemory(t *testing.T) {
	store, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	require.NoError(t, store.Migrate(context.Background()))
	cats, err := store.ListCategories(context.Background(), model.Scope{UserID: "u1"})
	require.NoError(t, err)
	assert.Empty(t, cats)
}

func TestSQLiteStorage_Categories(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.CreateCategory(ctx, &model.Category{ID: "groceries", Name: "Groceries", Type: model.CategoryTypeExpense}))
	require.NoError(t, store.CreateCategory(ctx, &model.Category{ID: "pets", Name: "Pets", Type: model.CategoryTypeExpense, UserID: strPtr("alice")}))
	require.NoError(t, store.CreateCategory(ctx, &model.Category{ID: "bob-hobby", Name: "Hobby", Type: model.CategoryTypeExpense, UserID: strPtr("bob")}))

	err := store.CreateCategory(ctx, &model.Category{ID: "groceries", Name: "Again", Type: model.CategoryTypeExpense})
	assert.ErrorIs(t, err, common.ErrDuplicateEntry)

	err = store.CreateCategory(ctx, &model.Category{ID: "x", Name: "X", Type: "savings"})
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	cats, err := store.ListCategories(ctx, model.Scope{UserID: "alice"})
	require.NoError(t, err)
	ids := make([]string, 0, len(cats))
	for _, c := range cats {
		ids = append(ids, c.ID)
	}
	assert.ElementsMatch(t, []string{"groceries", "pets"}, ids)

	cat, err := store.GetCategory(ctx, "pets")
	require.NoError(t, err)
	assert.False(t, cat.IsSystem())

	_, err = store.GetCategory(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}
