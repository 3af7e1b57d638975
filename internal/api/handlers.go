package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/feedback"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/rules"
)

const maxBodyBytes = 4 << 20

type handlers struct {
	deps Deps
}

type batchRequest struct {
	Transactions []model.Transaction `json:"transactions"`
}

type batchResponse struct {
	Results []model.CategorizationResult `json:"results"`
}

type feedbackRequest struct {
	Transaction         model.Transaction  `json:"transaction"`
	SuggestedCategoryID string             `json:"suggested_category_id"`
	SuggestedSource     model.ResultSource `json:"suggested_source"`
	FinalCategoryID     string             `json:"final_category_id"`
	SuggestedConfidence float64            `json:"suggested_confidence"`
}

type rulePatchRequest struct {
	Keyword              *string                `json:"keyword"`
	MatchType            *model.MatchType       `json:"match_type"`
	PatternField         *model.PatternField    `json:"pattern_field"`
	TransactionType      *model.TransactionType `json:"transaction_type"`
	CategoryID           *string                `json:"category_id"`
	Description          *string                `json:"description"`
	Priority             *int                   `json:"priority"`
	Confidence           *float64               `json:"confidence"`
	AutoApprove          *bool                  `json:"auto_approve"`
	IsActive             *bool                  `json:"is_active"`
	ClearTransactionType bool                   `json:"clear_transaction_type"`
}

func (p rulePatchRequest) toPatch() model.RulePatch {
	return model.RulePatch{
		Keyword:              p.Keyword,
		MatchType:            p.MatchType,
		PatternField:         p.PatternField,
		TransactionType:      p.TransactionType,
		CategoryID:           p.CategoryID,
		Description:          p.Description,
		Priority:             p.Priority,
		Confidence:           p.Confidence,
		AutoApprove:          p.AutoApprove,
		IsActive:             p.IsActive,
		ClearTransactionType: p.ClearTransactionType,
	}
}

func (h *handlers) categorize(w http.ResponseWriter, r *http.Request) {
	scope := mustScope(r)
	var txn model.Transaction
	if !decode(w, r, &txn) {
		return
	}

	result, err := h.deps.Engine.Categorize(r.Context(), txn, scope)
	if err != nil {
		writeServiceError(w, r, "categorize", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handlers) categorizeBatch(w http.ResponseWriter, r *http.Request) {
	scope := mustScope(r)
	var req batchRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Transactions) > h.deps.MaxBatch {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("batch exceeds %d transactions", h.deps.MaxBatch))
		return
	}

	results, err := h.deps.Engine.CategorizeBatch(r.Context(), req.Transactions, scope)
	if err != nil {
		writeServiceError(w, r, "categorize batch", err)
		return
	}
	writeJSON(w, http.StatusOK, batchResponse{Results: results})
}

func (h *handlers) recordFeedback(w http.ResponseWriter, r *http.Request) {
	scope := mustScope(r)
	var req feedbackRequest
	if !decode(w, r, &req) {
		return
	}

	outcome, err := h.deps.Feedback.Record(r.Context(), feedback.Input{
		Scope:               scope,
		Transaction:         req.Transaction,
		SuggestedCategoryID: req.SuggestedCategoryID,
		SuggestedSource:     req.SuggestedSource,
		SuggestedConfidence: req.SuggestedConfidence,
		FinalCategoryID:     req.FinalCategoryID,
	})
	if err != nil {
		writeServiceError(w, r, "record feedback", err)
		return
	}
	writeJSON(w, http.StatusCreated, outcome)
}

// metrics accepts ?window=<go duration> or ?days=<n>; neither means all time.
func (h *handlers) metrics(w http.ResponseWriter, r *http.Request) {
	scope := mustScope(r)

	var window time.Duration
	q := r.URL.Query()
	switch {
	case q.Get("window") != "":
		d, err := time.ParseDuration(q.Get("window"))
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "invalid window")
			return
		}
		window = d
	case q.Get("days") != "":
		days, err := strconv.Atoi(q.Get("days"))
		if err != nil || days < 0 {
			writeError(w, http.StatusBadRequest, "invalid days")
			return
		}
		window = time.Duration(days) * 24 * time.Hour
	}

	m, err := h.deps.Metrics.GetMetrics(r.Context(), scope.UserID, window)
	if err != nil {
		writeServiceError(w, r, "get metrics", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *handlers) listCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.deps.Categories.ListCategories(r.Context(), mustScope(r))
	if err != nil {
		writeServiceError(w, r, "list categories", err)
		return
	}
	if categories == nil {
		categories = []model.Category{}
	}
	writeJSON(w, http.StatusOK, categories)
}

func (h *handlers) listRules(w http.ResponseWriter, r *http.Request) {
	includeInactive, _ := strconv.ParseBool(r.URL.Query().Get("include_inactive"))
	list, err := h.deps.Rules.List(r.Context(), mustScope(r), includeInactive)
	if err != nil {
		writeServiceError(w, r, "list rules", err)
		return
	}
	if list == nil {
		list = []model.CategorizationRule{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handlers) createRule(w http.ResponseWriter, r *http.Request) {
	var draft rules.Draft
	if !decode(w, r, &draft) {
		return
	}
	rule, err := h.deps.Rules.Create(r.Context(), mustScope(r), draft)
	if err != nil {
		writeServiceError(w, r, "create rule", err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (h *handlers) updateRule(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(w, r)
	if !ok {
		return
	}
	var req rulePatchRequest
	if !decode(w, r, &req) {
		return
	}
	rule, err := h.deps.Rules.Update(r.Context(), mustScope(r), id, req.toPatch())
	if err != nil {
		writeServiceError(w, r, "update rule", err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *handlers) deactivateRule(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(w, r)
	if !ok {
		return
	}
	if err := h.deps.Rules.Deactivate(r.Context(), mustScope(r), id); err != nil {
		writeServiceError(w, r, "deactivate rule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func ruleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "rule_id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid rule id")
		return 0, false
	}
	return id, true
}

// mustScope reads the scope AuthMiddleware stored. Routes are only mounted
// behind the middleware so the value is always present.
func mustScope(r *http.Request) model.Scope {
	scope, _ := ScopeFromContext(r.Context())
	return scope
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeServiceError maps domain errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, common.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, common.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, common.ErrSystemRule):
		status = http.StatusForbidden
	case errors.Is(err, common.ErrRuleConflict):
		status = http.StatusConflict
	case common.IsStorageError(err):
		status = http.StatusServiceUnavailable
	}

	if status >= http.StatusInternalServerError {
		common.LogError(r.Context(), err, "Request failed", common.Fields{
			"op":         op,
			"path":       r.URL.Path,
			"request_id": middleware.GetReqID(r.Context()),
		})
		if common.IsRetryable(err) {
			w.Header().Set("Retry-After", "1")
		}
		writeError(w, status, op+" failed")
		return
	}
	writeError(w, status, err.Error())
}
