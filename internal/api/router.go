// Package api exposes the categorization engine over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Veraticus/tally/internal/feedback"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/rules"
)

// Categorizer runs the strategy chain.
type Categorizer interface {
	Categorize(ctx context.Context, txn model.Transaction, scope model.Scope) (model.CategorizationResult, error)
	CategorizeBatch(ctx context.Context, txns []model.Transaction, scope model.Scope) ([]model.CategorizationResult, error)
}

// FeedbackRecorder records corrections.
type FeedbackRecorder interface {
	Record(ctx context.Context, in feedback.Input) (feedback.Outcome, error)
}

// MetricsProvider reports categorization quality.
type MetricsProvider interface {
	GetMetrics(ctx context.Context, userID string, window time.Duration) (model.Metrics, error)
}

// RuleManager is the rule CRUD surface.
type RuleManager interface {
	List(ctx context.Context, scope model.Scope, includeInactive bool) ([]model.CategorizationRule, error)
	Create(ctx context.Context, scope model.Scope, d rules.Draft) (*model.CategorizationRule, error)
	Update(ctx context.Context, scope model.Scope, id int64, patch model.RulePatch) (*model.CategorizationRule, error)
	Deactivate(ctx context.Context, scope model.Scope, id int64) error
}

// CategoryLister reads the taxonomy.
type CategoryLister interface {
	ListCategories(ctx context.Context, scope model.Scope) ([]model.Category, error)
}

// Deps are the collaborators behind the HTTP handlers.
type Deps struct {
	Engine     Categorizer
	Feedback   FeedbackRecorder
	Metrics    MetricsProvider
	Rules      RuleManager
	Categories CategoryLister
	JWTSecret  []byte
	// MaxBatch caps the size of a batch request; zero uses DefaultMaxBatch.
	MaxBatch int
}

// DefaultMaxBatch is the largest batch accepted when Deps.MaxBatch is unset.
const DefaultMaxBatch = 1000

// NewRouter wires the API routes. Everything except /health requires a token.
func NewRouter(deps Deps) *chi.Mux {
	if deps.MaxBatch <= 0 {
		deps.MaxBatch = DefaultMaxBatch
	}
	h := &handlers{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(deps.JWTSecret))

		r.Post("/categorize", h.categorize)
		r.Post("/categorize/batch", h.categorizeBatch)
		r.Post("/feedback", h.recordFeedback)
		r.Get("/metrics", h.metrics)
		r.Get("/categories", h.listCategories)

		r.Get("/rules", h.listRules)
		r.Post("/rules", h.createRule)
		r.Patch("/rules/{rule_id}", h.updateRule)
		r.Delete("/rules/{rule_id}", h.deactivateRule)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("Handled request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
