package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/llm"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const userID = "user-1"

var scope = model.Scope{UserID: userID}

// fakeAI is a scripted AIClassifier.
type fakeAI struct {
	fn    func(ctx context.Context, txn model.Transaction) (llm.Suggestion, error)
	calls int
	mu    sync.Mutex
}

func (f *fakeAI) Classify(ctx context.Context, txn model.Transaction, _ []model.Category) (llm.Suggestion, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fn == nil {
		return llm.Suggestion{}, fmt.Errorf("%w: not configured", common.ErrClassifierUnavailable)
	}
	return f.fn(ctx, txn)
}

func (f *fakeAI) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func answer(categoryID string, confidence float64) *fakeAI {
	return &fakeAI{fn: func(context.Context, model.Transaction) (llm.Suggestion, error) {
		return llm.Suggestion{CategoryID: categoryID, Confidence: confidence, Justification: "looks like it", Provider: "fake"}, nil
	}}
}

func newTestEngine(t *testing.T, db *testutil.TestDB, ai AIClassifier, mutate ...func(*Config)) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	eng := New(db, ai, cfg)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func TestEngine_TescoExample(t *testing.T) {
	db := testutil.SetupTestDB(t, testutil.StandardCategories()...)
	rule := db.MustCreateRule(testutil.SystemRule("TESCO", testutil.Groceries, 0))
	ai := answer(testutil.Dining, 0.8)
	eng := newTestEngine(t, db, ai)

	got, err := eng.Categorize(context.Background(), testutil.Debit("t-1", "TESCO STORES 3297", "-42.10"), scope)
	require.NoError(t, err)

	assert.Equal(t, testutil.Groceries, got.CategoryID)
	assert.Equal(t, "Groceries", got.CategoryName)
	assert.Equal(t, model.SourceRule, got.Source)
	assert.InDelta(t, 1.0, got.Confidence, 1e-9)
	assert.Equal(t, model.StatusOK, got.Status)
	require.NotNil(t, got.RuleID)
	assert.Equal(t, rule.ID, *got.RuleID)
	assert.Equal(t, `Matched rule: "TESCO" (contains) → Groceries`, got.Justification)

	// Rule hits short-circuit the lower layers.
	assert.Equal(t, 0, ai.Calls())

	require.NoError(t, eng.Close())
	stored := db.MustGetRule(rule.ID)
	assert.Equal(t, 1, stored.UsageCount)
	assert.NotNil(t, stored.LastUsedAt)
}

func TestEngine_UsageIncrementedOncePerCall(t *testing.T) {
	db := testutil.SetupTestDB(t, testutil.StandardCategories()...)
	rule := db.MustCreateRule(testutil.SystemRule("netflix", testutil.Subscriptions, 1))
	eng := newTestEngine(t, db, nil)

	for i := 0; i < 3; i++ {
		_, err := eng.Categorize(context.Background(), testutil.Debit(fmt.Sprintf("n-%d", i), "NETFLIX.COM", "9.99"), scope)
		require.NoError(t, err)
	}
	_, err := eng.CategorizeBatch(context.Background(), []model.Transaction{
		testutil.Debit("b-1", "NETFLIX.COM", "9.99"),
		testutil.Debit("b-2", "NETFLIX.COM", "9.99"),
	}, scope)
	require.NoError(t, err)

	require.NoError(t, eng.Close())
	assert.Equal(t, 5, db.MustGetRule(rule.ID).UsageCount)
}

func TestEngine_Layers(t *testing.T) {
	tests := []struct {
		setup      func(t *testing.T, db *testutil.TestDB)
		ai         *fakeAI
		name       string
		txn        model.Transaction
		wantSource model.ResultSource
		wantCat    string
		wantConf   float64
		floor      float64
		wantAI     int
	}{
		{
			name: "smart pattern from repeated assignments",
			setup: func(t *testing.T, db *testutil.TestDB) {
				t.Helper()
				db.MustSaveAssignment(model.Assignment{UserID: userID, TransactionID: "h1", NormalizedText: "CORNER SHOP", CategoryID: testutil.Household})
				db.MustSaveAssignment(model.Assignment{UserID: userID, TransactionID: "h2", NormalizedText: "CORNER SHOP", CategoryID: testutil.Household})
			},
			ai:         answer(testutil.Dining, 0.8),
			txn:        testutil.Debit("t", "CORNER SHOP 0042", "3.20"),
			floor:      0.5,
			wantSource: model.SourceSmart,
			wantCat:    testutil.Household,
			wantConf:   0.6,
		},
		{
			name: "smart below floor falls through to AI",
			setup: func(t *testing.T, db *testutil.TestDB) {
				t.Helper()
				db.MustSaveAssignment(model.Assignment{UserID: userID, TransactionID: "h1", NormalizedText: "CORNER SHOP", CategoryID: testutil.Household})
				db.MustSaveAssignment(model.Assignment{UserID: userID, TransactionID: "h2", NormalizedText: "CORNER SHOP", CategoryID: testutil.Household})
			},
			ai:         answer(testutil.Groceries, 0.8),
			txn:        testutil.Debit("t", "CORNER SHOP 0042", "3.20"),
			floor:      0.7,
			wantSource: model.SourceAI,
			wantCat:    testutil.Groceries,
			wantConf:   0.8,
			wantAI:     1,
		},
		{
			name:       "AI answer",
			ai:         answer(testutil.Dining, 0.75),
			txn:        testutil.Debit("t", "PRET A MANGER", "4.50"),
			floor:      0.5,
			wantSource: model.SourceAI,
			wantCat:    testutil.Dining,
			wantConf:   0.75,
			wantAI:     1,
		},
		{
			name:       "AI certainty is capped",
			ai:         answer(testutil.Dining, 1.0),
			txn:        testutil.Debit("t", "PRET A MANGER", "4.50"),
			floor:      0.5,
			wantSource: model.SourceAI,
			wantCat:    testutil.Dining,
			wantConf:   maxAIConfidence,
			wantAI:     1,
		},
		{
			name:       "AI unavailable leaves uncategorized",
			ai:         &fakeAI{},
			txn:        testutil.Debit("t", "MYSTERY LTD", "1"),
			floor:      0.5,
			wantSource: model.SourceNone,
			wantAI:     1,
		},
		{
			name: "other users history is ignored",
			setup: func(t *testing.T, db *testutil.TestDB) {
				t.Helper()
				db.MustSaveAssignment(model.Assignment{UserID: "user-2", TransactionID: "h1", NormalizedText: "CORNER SHOP", CategoryID: testutil.Household})
				db.MustSaveAssignment(model.Assignment{UserID: "user-2", TransactionID: "h2", NormalizedText: "CORNER SHOP", CategoryID: testutil.Household})
			},
			ai:         &fakeAI{},
			txn:        testutil.Debit("t", "CORNER SHOP", "1"),
			floor:      0.5,
			wantSource: model.SourceNone,
			wantAI:     1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := testutil.SetupTestDB(t, testutil.StandardCategories()...)
			if tt.setup != nil {
				tt.setup(t, db)
			}
			eng := newTestEngine(t, db, tt.ai, func(c *Config) { c.SmartFloor = tt.floor })

			got, err := eng.Categorize(context.Background(), tt.txn, scope)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSource, got.Source)
			assert.Equal(t, tt.wantCat, got.CategoryID)
			assert.InDelta(t, tt.wantConf, got.Confidence, 1e-9)
			assert.Equal(t, model.StatusOK, got.Status)
			assert.Equal(t, tt.wantAI, tt.ai.Calls())
			if got.Source == model.SourceAI {
				assert.Less(t, got.Confidence, 1.0)
			}
			if got.Source == model.SourceNone {
				assert.True(t, got.NeedsReview)
				assert.False(t, got.AutoApprove)
			}
		})
	}
}

func TestEngine_InvalidInput(t *testing.T) {
	tests := []struct {
		name  string
		txn   model.Transaction
		scope model.Scope
	}{
		{"empty description", testutil.Debit("t", "   ", "1"), scope},
		{"missing type", model.Transaction{ID: "t", Description: "TESCO"}, scope},
		{"unknown type", model.Transaction{ID: "t", Description: "TESCO", Type: "refund"}, scope},
		{"missing user", testutil.Debit("t", "TESCO", "1"), model.Scope{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := testutil.SetupTestDB(t, testutil.StandardCategories()...)
			ai := answer(testutil.Groceries, 0.5)
			eng := newTestEngine(t, db, ai)

			_, err := eng.Categorize(context.Background(), tt.txn, tt.scope)
			require.Error(t, err)
			assert.ErrorIs(t, err, common.ErrInvalidInput)
			assert.Equal(t, 0, ai.Calls())
		})
	}
}

func TestEngine_UppercaseTypeAccepted(t *testing.T) {
	db := testutil.SetupTestDB(t, testutil.StandardCategories()...)
	db.MustCreateRule(testutil.SystemRule("tesco", testutil.Groceries, 1))
	eng := newTestEngine(t, db, nil)

	txn := testutil.Debit("t", "TESCO", "1")
	txn.Type = "DEBIT"
	got, err := eng.Categorize(context.Background(), txn, scope)
	require.NoError(t, err)
	assert.Equal(t, testutil.Groceries, got.CategoryID)
}

func TestEngine_GeneratesMissingTransactionID(t *testing.T) {
	db := testutil.SetupTestDB(t, testutil.StandardCategories()...)
	eng := newTestEngine(t, db, nil)

	got, err := eng.Categorize(context.Background(), testutil.Debit("", "SOMETHING", "1"), scope)
	require.NoError(t, err)
	assert.Len(t, got.TransactionID, 36)
}

func TestEngine_Deterministic(t *testing.T) {
	db := testutil.SetupTestDB(t, testutil.StandardCategories()...)
	db.MustCreateRule(testutil.SystemRule("tesco", testutil.Groceries, 5))
	db.MustCreateRule(testutil.SystemRule("tesco stores", testutil.Household, 5))
	eng := newTestEngine(t, db, nil, func(c *Config) { c.RecordHistory = false })

	var first model.CategorizationResult
	for i := 0; i < 5; i++ {
		got, err := eng.Categorize(context.Background(), testutil.Debit("t", "TESCO STORES 3297", "5"), scope)
		require.NoError(t, err)
		if i == 0 {
			first = got
			continue
		}
		assert.Equal(t, first.CategoryID, got.CategoryID)
		assert.Equal(t, first.RuleID, got.RuleID)
	}
	// The first-created rule wins the initial tie and then leads on usage.
	assert.Equal(t, testutil.Groceries, first.CategoryID)
}

func TestEngine_BatchWithTimingOutItem(t *testing.T) {
	db := testutil.SetupTestDB(t, testutil.StandardCategories()...)
	db.MustCreateRule(testutil.SystemRule("tesco", testutil.Groceries, 10))

	ai := &fakeAI{fn: func(ctx context.Context, txn model.Transaction) (llm.Suggestion, error) {
		if strings.Contains(txn.Description, "SLOW") {
			tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
			defer cancel()
			<-tctx.Done()
			return llm.Suggestion{}, fmt.Errorf("%w: %w", common.ErrClassifierUnavailable, tctx.Err())
		}
		return llm.Suggestion{CategoryID: testutil.Dining, Confidence: 0.7, Provider: "fake"}, nil
	}}
	eng := newTestEngine(t, db, ai, func(c *Config) { c.BatchConcurrency = 2 })

	txns := []model.Transaction{
		testutil.Debit("a", "TESCO STORES 3297", "10"),
		testutil.Debit("b", "SLOW MERCHANT", "11"),
		testutil.Debit("c", "PRET A MANGER", "12"),
		testutil.Debit("d", "", "13"),
	}

	got, err := eng.CategorizeBatch(context.Background(), txns, scope)
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.Equal(t, "a", got[0].TransactionID)
	assert.Equal(t, model.SourceRule, got[0].Source)

	assert.Equal(t, "b", got[1].TransactionID)
	assert.Equal(t, model.StatusOK, got[1].Status)
	assert.Equal(t, model.SourceNone, got[1].Source)
	assert.Zero(t, got[1].Confidence)

	assert.Equal(t, "c", got[2].TransactionID)
	assert.Equal(t, model.SourceAI, got[2].Source)
	assert.Equal(t, testutil.Dining, got[2].CategoryID)

	assert.Equal(t, "d", got[3].TransactionID)
	assert.Equal(t, model.StatusFailed, got[3].Status)
	assert.Contains(t, got[3].Error, "description is required")
}

func TestEngine_BatchEmptyAndInvalidScope(t *testing.T) {
	db := testutil.SetupTestDB(t, testutil.StandardCategories()...)
	eng := newTestEngine(t, db, nil)

	got, err := eng.CategorizeBatch(context.Background(), nil, scope)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = eng.CategorizeBatch(context.Background(), []model.Transaction{testutil.Debit("a", "X", "1")}, model.Scope{})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestEngine_BatchCanceledContext(t *testing.T) {
	db := testutil.SetupTestDB(t, testutil.StandardCategories()...)
	eng := newTestEngine(t, db, nil)

	sess, err := eng.OpenSession(context.Background(), scope)
	require.NoError(t, err)
	require.NotNil(t, sess)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = eng.CategorizeBatch(ctx, []model.Transaction{testutil.Debit("a", "X", "1")}, scope)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled) || common.IsStorageError(err))
}

func TestEngine_RecordsHistory(t *testing.T) {
	db := testutil.SetupTestDB(t, testutil.StandardCategories()...)
	db.MustCreateRule(testutil.SystemRule("tesco", testutil.Groceries, 10))
	eng := newTestEngine(t, db, nil)

	_, err := eng.CategorizeBatch(context.Background(), []model.Transaction{
		testutil.Debit("a", "TESCO", "10"),
		testutil.Debit("b", "UNKNOWN", "10"),
	}, scope)
	require.NoError(t, err)
	require.NoError(t, eng.Close())

	summary, err := db.SummarizeEvents(context.Background(), userID, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.BySource[model.SourceRule])
	assert.Equal(t, 1, summary.BySource[model.SourceNone])
}

func TestMode_Approve(t *testing.T) {
	tests := []struct {
		name        string
		mode        Mode
		source      model.ResultSource
		confidence  float64
		ruleAuto    bool
		wantApprove bool
	}{
		{"conservative rule auto", ModeConservative, model.SourceRule, 1.0, true, true},
		{"conservative rule manual", ModeConservative, model.SourceRule, 1.0, false, false},
		{"conservative confident ai", ModeConservative, model.SourceAI, 0.95, false, false},
		{"smart confident", ModeSmart, model.SourceAI, 0.9, false, true},
		{"smart unsure", ModeSmart, model.SourceSmart, 0.6, false, false},
		{"autonomous above floor", ModeAutonomous, model.SourceSmart, 0.6, false, true},
		{"autonomous below floor", ModeAutonomous, model.SourceAI, 0.4, false, false},
		{"uncategorized never approved", ModeAutonomous, model.SourceNone, 0, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := model.CategorizationResult{TransactionID: "t", Source: tt.source, Confidence: tt.confidence}
			if tt.source != model.SourceNone {
				res.CategoryID = "c"
			}
			tt.mode.approve(&res, tt.ruleAuto)
			assert.Equal(t, tt.wantApprove, res.AutoApprove)
			assert.Equal(t, !tt.wantApprove, res.NeedsReview)
		})
	}
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeSmart, m)

	m, err = ParseMode("autonomous")
	require.NoError(t, err)
	assert.Equal(t, ModeAutonomous, m)

	_, err = ParseMode("yolo")
	assert.Error(t, err)
}

func TestUsageRecorder_DrainsOnClose(t *testing.T) {
	db := testutil.SetupTestDB(t, testutil.StandardCategories()...)
	rule := db.MustCreateRule(testutil.SystemRule("tesco", testutil.Groceries, 10))

	r := NewUsageRecorder(db, 4)
	for i := 0; i < 50; i++ {
		r.RecordRuleUsage(rule.ID, time.Now())
	}
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	assert.Equal(t, 50, db.MustGetRule(rule.ID).UsageCount)

	// Writes after close still land.
	r.RecordRuleUsage(rule.ID, time.Now())
	assert.Equal(t, 51, db.MustGetRule(rule.ID).UsageCount)
}
