package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/tally/internal/engine"
	"github.com/Veraticus/tally/internal/feedback"
	"github.com/Veraticus/tally/internal/metrics"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/rules"
	"github.com/Veraticus/tally/internal/testutil"
)

var testSecret = []byte("test-secret")

type testServer struct {
	db     *testutil.TestDB
	engine *engine.Engine
	router http.Handler
	token  string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db := testutil.SetupTestDB(t, testutil.StandardCategories()...)
	db.MustCreateRule(testutil.SystemRule("tesco", testutil.Groceries, 10))

	eng := engine.New(db, nil, engine.DefaultConfig())
	t.Cleanup(func() { _ = eng.Close() })

	token, err := NewToken(testSecret, "alice", time.Hour)
	require.NoError(t, err)

	return &testServer{
		db:     db,
		engine: eng,
		token:  token,
		router: NewRouter(Deps{
			Engine:     eng,
			Feedback:   feedback.NewRecorder(db, 3),
			Metrics:    metrics.NewAggregator(db),
			Rules:      rules.NewManager(db),
			Categories: db,
			JWTSecret:  testSecret,
			MaxBatch:   5,
		}),
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+s.token)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func TestAuthMiddleware(t *testing.T) {
	s := newTestServer(t)

	expired, err := NewToken(testSecret, "alice", -time.Minute)
	require.NoError(t, err)
	wrongKey, err := NewToken([]byte("other"), "alice", time.Hour)
	require.NoError(t, err)
	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}).SignedString(testSecret)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing", header: "", want: http.StatusUnauthorized},
		{name: "garbage", header: "Bearer abc", want: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + expired, want: http.StatusUnauthorized},
		{name: "wrong key", header: "Bearer " + wrongKey, want: http.StatusUnauthorized},
		{name: "no subject", header: "Bearer " + noSubject, want: http.StatusUnauthorized},
		{name: "valid", header: "Bearer " + s.token, want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/categories", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			s.router.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCategorize(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/categorize", map[string]any{
		"id":          "t1",
		"description": "TESCO STORES 3297",
		"amount":      "42.10",
		"type":        "debit",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decodeBody[model.CategorizationResult](t, rec)
	assert.Equal(t, "t1", res.TransactionID)
	assert.Equal(t, testutil.Groceries, res.CategoryID)
	assert.Equal(t, model.SourceRule, res.Source)
	assert.InDelta(t, 1.0, res.Confidence, 1e-9)
}

func TestCategorize_InvalidInput(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body any
	}{
		{name: "missing type", body: map[string]any{"description": "TESCO", "amount": "1"}},
		{name: "empty description", body: map[string]any{"description": " ", "amount": "1", "type": "debit"}},
		{name: "unknown field", body: map[string]any{"description": "TESCO", "type": "debit", "colour": "red"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/v1/categorize", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, decodeBody[errorResponse](t, rec).Error)
		})
	}
}

func TestCategorizeBatch(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/categorize/batch", map[string]any{
		"transactions": []map[string]any{
			{"id": "a", "description": "TESCO EXTRA", "amount": "10", "type": "debit"},
			{"id": "b", "description": "", "amount": "10", "type": "debit"},
			{"id": "c", "description": "MYSTERY SHOP", "amount": "10", "type": "debit"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody[batchResponse](t, rec)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, testutil.Groceries, resp.Results[0].CategoryID)
	assert.Equal(t, model.StatusFailed, resp.Results[1].Status)
	assert.NotEmpty(t, resp.Results[1].Error)
	assert.Equal(t, model.SourceNone, resp.Results[2].Source)
	assert.Equal(t, model.StatusOK, resp.Results[2].Status)
}

func TestCategorizeBatch_TooLarge(t *testing.T) {
	s := newTestServer(t)
	txns := make([]map[string]any, 6)
	for i := range txns {
		txns[i] = map[string]any{"id": fmt.Sprint(i), "description": "TESCO", "amount": "1", "type": "debit"}
	}
	rec := s.do(t, http.MethodPost, "/api/v1/categorize/batch", map[string]any{"transactions": txns})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFeedbackPromotesRule(t *testing.T) {
	s := newTestServer(t)

	var last feedback.Outcome
	for i := 0; i < 3; i++ {
		rec := s.do(t, http.MethodPost, "/api/v1/feedback", map[string]any{
			"transaction": map[string]any{
				"id":          fmt.Sprintf("t%d", i),
				"description": fmt.Sprintf("TESCO STORES %d", 3297+i),
				"amount":      "42.10",
				"type":        "debit",
			},
			"suggested_category_id": testutil.Groceries,
			"suggested_source":      "rule",
			"suggested_confidence":  1.0,
			"final_category_id":     testutil.Household,
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		last = decodeBody[feedback.Outcome](t, rec)
	}
	assert.True(t, last.RuleCreated)
	require.NotNil(t, last.RuleID)

	rec := s.do(t, http.MethodPost, "/api/v1/categorize", map[string]any{
		"description": "TESCO STORES 9999", "amount": "5", "type": "debit",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeBody[model.CategorizationResult](t, rec)
	assert.Equal(t, testutil.Household, res.CategoryID)
	require.NotNil(t, res.RuleID)
	assert.Equal(t, *last.RuleID, *res.RuleID)
}

func TestFeedback_UnknownCategory(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/v1/feedback", map[string]any{
		"transaction":       map[string]any{"description": "TESCO", "amount": "1", "type": "debit"},
		"final_category_id": "nope",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/categorize", map[string]any{
		"id": "t1", "description": "TESCO", "amount": "1", "type": "debit",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, s.engine.Close())

	rec = s.do(t, http.MethodGet, "/api/v1/metrics?days=30", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	m := decodeBody[model.Metrics](t, rec)
	assert.Equal(t, "alice", m.UserID)
	assert.Equal(t, 1, m.Total)
	assert.Equal(t, 1, m.BySource[model.SourceRule])

	for _, q := range []string{"?window=banana", "?days=-1"} {
		rec = s.do(t, http.MethodGet, "/api/v1/metrics"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestRulesCRUD(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/rules", map[string]any{"keyword": "costa", "category_id": testutil.Dining})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[model.CategorizationRule](t, rec)
	assert.Equal(t, model.MatchContains, created.MatchType)
	assert.Equal(t, rules.DefaultPriority, created.Priority)

	rec = s.do(t, http.MethodPost, "/api/v1/rules", map[string]any{"keyword": "COSTA", "category_id": testutil.Groceries})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPatch, fmt.Sprintf("/api/v1/rules/%d", created.ID), map[string]any{"priority": 50})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 50, decodeBody[model.CategorizationRule](t, rec).Priority)

	rec = s.do(t, http.MethodGet, "/api/v1/rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decodeBody[[]model.CategorizationRule](t, rec)
	require.Len(t, listed, 2)
	assert.Equal(t, created.ID, listed[0].ID, "priority 50 sorts first")

	var systemID int64
	for _, r := range listed {
		if r.IsSystem() {
			systemID = r.ID
		}
	}
	rec = s.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/rules/%d", systemID), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/rules/%d", created.ID), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, s.db.MustGetRule(created.ID).IsActive)

	rec = s.do(t, http.MethodGet, "/api/v1/rules?include_inactive=true", nil)
	assert.Len(t, decodeBody[[]model.CategorizationRule](t, rec), 2)

	for _, path := range []string{"/api/v1/rules/abc", "/api/v1/rules/0"} {
		rec = s.do(t, http.MethodDelete, path, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
	rec = s.do(t, http.MethodDelete, "/api/v1/rules/9999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListCategories(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/v1/categories", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]model.Category](t, rec), len(testutil.StandardCategories()))
}
