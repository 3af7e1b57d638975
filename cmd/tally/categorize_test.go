package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/engine"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/testutil"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestScopeFromFlags(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		wantUser   string
		wantEntity string
		wantErr    bool
	}{
		{name: "user only", args: []string{"--user", "alice"}, wantUser: "alice"},
		{name: "user and entity", args: []string{"--user", "alice", "--entity", "home"}, wantUser: "alice", wantEntity: "home"},
		{name: "blank user", args: []string{"--user", " "}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &cobra.Command{}
			addScopeFlags(cmd)
			require.NoError(t, cmd.ParseFlags(tt.args))

			scope, err := scopeFromFlags(cmd)
			if tt.wantErr {
				assert.ErrorIs(t, err, common.ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantUser, scope.UserID)
			if tt.wantEntity == "" {
				assert.Nil(t, scope.EntityID)
			} else {
				require.NotNil(t, scope.EntityID)
				assert.Equal(t, tt.wantEntity, *scope.EntityID)
			}
		})
	}
}

func TestExpandFiles(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.csv", "description,amount\nX,1\n")
	b := writeFile(t, dir, "b.csv", "description,amount\nY,1\n")

	files, err := expandFiles([]string{filepath.Join(dir, "*.csv")})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a, b}, files)

	_, err = expandFiles([]string{filepath.Join(dir, "*.ofx")})
	assert.Error(t, err)
}

func TestReadTransactions_Dedup(t *testing.T) {
	dir := t.TempDir()
	first := writeFile(t, dir, "first.csv", "id,description,amount\nt1,TESCO,-1\n,CORNER SHOP,-2\n")
	second := writeFile(t, dir, "second.csv", "id,description,amount\nt1,TESCO,-1\n,CORNER SHOP,-2\n")

	txns, err := readTransactions(context.Background(), []string{first, second}, ',')
	require.NoError(t, err)
	require.Len(t, txns, 3)
	assert.Equal(t, "t1", txns[0].ID)
	assert.Equal(t, "first.csv:row-2", txns[1].ID)
	assert.Equal(t, "second.csv:row-2", txns[2].ID)
}

func TestReadTransactions_BadFile(t *testing.T) {
	dir := t.TempDir()
	bad := writeFile(t, dir, "bad.csv", "description,amount\nTESCO,lots\n")

	_, err := readTransactions(context.Background(), []string{bad}, ',')
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestCategorizeAndSave(t *testing.T) {
	db := testutil.SetupTestDB(t, testutil.StandardCategories()...)
	auto := testutil.SystemRule("tesco", testutil.Groceries, 10)
	auto.AutoApprove = true
	db.MustCreateRule(auto)
	db.MustCreateRule(testutil.SystemRule("costa", testutil.Dining, 10))

	cfg := engine.DefaultConfig()
	cfg.Mode = engine.ModeConservative
	eng := engine.New(db, nil, cfg)
	t.Cleanup(func() { _ = eng.Close() })

	scope := model.Scope{UserID: "alice"}
	txns := make([]model.Transaction, 0, chunkSize+3)
	for i := 0; i < chunkSize+1; i++ {
		txns = append(txns, testutil.Debit(fmt.Sprintf("tesco-%d", i), "TESCO STORES", "10"))
	}
	txns = append(txns,
		testutil.Debit("costa", "COSTA COFFEE", "3"),
		testutil.Debit("mystery", "MYSTERY", "3"),
	)

	results, err := categorizeWithProgress(context.Background(), eng, txns, scope)
	require.NoError(t, err)
	require.Len(t, results, len(txns))

	saved, err := saveAssignments(context.Background(), db, scope, txns, results, false)
	require.NoError(t, err)
	assert.Equal(t, chunkSize+1, saved, "only auto-approved results")

	saved, err = saveAssignments(context.Background(), db, scope, txns, results, true)
	require.NoError(t, err)
	assert.Equal(t, chunkSize+2, saved, "uncategorized results are never saved")

	assignments, err := db.ListAssignments(context.Background(), "alice", 100)
	require.NoError(t, err)
	assert.Len(t, assignments, chunkSize+2)
}
