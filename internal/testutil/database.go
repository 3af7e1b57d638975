// Package testutil provides test databases and fixtures shared across packages.
package testutil

import (
	"context"
	"testing"

	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/storage"
)

// TestDB is a migrated in-memory database with fixture helpers.
type TestDB struct {
	*storage.SQLiteStorage
	t *testing.T
}

// SetupTestDB creates a new in-memory test database seeded with cats.
// It handles migrations and cleanup.
//
// Example:
//
//	db := testutil.SetupTestDB(t, testutil.StandardCategories()...)
//	db.MustCreateRule(testutil.SystemRule("TESCO", testutil.Groceries, 10))
func SetupTestDB(t *testing.T, cats ...model.Category) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	for i := range cats {
		cat := cats[i]
		if err := store.CreateCategory(ctx, &cat); err != nil {
			t.Fatalf("failed to seed category %q: %v", cat.ID, err)
		}
	}

	return &TestDB{SQLiteStorage: store, t: t}
}

// MustCreateRule inserts rule or fails the test.
func (db *TestDB) MustCreateRule(rule *model.CategorizationRule) *model.CategorizationRule {
	db.t.Helper()
	if err := db.CreateRule(context.Background(), rule); err != nil {
		db.t.Fatalf("failed to create rule %q: %v", rule.Keyword, err)
	}
	return rule
}

// MustGetRule loads a rule or fails the test.
func (db *TestDB) MustGetRule(id int64) *model.CategorizationRule {
	db.t.Helper()
	rule, err := db.GetRule(context.Background(), id)
	if err != nil {
		db.t.Fatalf("failed to get rule %d: %v", id, err)
	}
	return rule
}

// MustSaveAssignment records an assignment or fails the test.
func (db *TestDB) MustSaveAssignment(a model.Assignment) {
	db.t.Helper()
	if err := db.SaveAssignment(context.Background(), &a); err != nil {
		db.t.Fatalf("failed to save assignment %q: %v", a.TransactionID, err)
	}
}
