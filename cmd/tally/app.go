package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/config"
	"github.com/Veraticus/tally/internal/engine"
	"github.com/Veraticus/tally/internal/llm"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/service"
	"github.com/Veraticus/tally/internal/storage"
)

// openStorage connects to the configured database, migrates it and fronts it
// with the rule cache.
func openStorage(ctx context.Context, cfg *config.Config) (service.Storage, error) {
	var store service.Storage

	err := common.WithRetry(ctx, func() error {
		var err error
		switch cfg.Database.Driver {
		case "postgres":
			store, err = storage.NewPostgresStorage(ctx, cfg.Database.URL)
		default:
			if dir := filepath.Dir(cfg.Database.Path); dir != "." && cfg.Database.Path != ":memory:" {
				if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
					return fmt.Errorf("failed to create data directory: %w", mkErr)
				}
			}
			store, err = storage.NewSQLiteStorage(cfg.Database.Path)
		}
		return err
	}, common.RetryOptions{MaxAttempts: 3, InitialDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second, Multiplier: 2})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if !cfg.Cache.Enabled {
		return store, nil
	}
	cached, err := storage.NewCachedStore(store, storage.CacheConfig{TTL: cfg.Cache.TTL, MaxCost: cfg.Cache.MaxCost})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return cached, nil
}

// newClassifier returns nil when the AI layer is disabled or unconfigured.
func newClassifier(ctx context.Context, cfg *config.Config) *llm.Classifier {
	if !cfg.AI.Enabled {
		return nil
	}
	classifier, err := llm.NewClassifierFromConfig(ctx, llm.Config{
		Provider:          cfg.AI.Provider,
		GeminiAPIKey:      cfg.AI.GeminiAPIKey,
		GeminiModel:       cfg.AI.GeminiModel,
		OpenAIAPIKey:      cfg.AI.OpenAIAPIKey,
		OpenAIModel:       cfg.AI.OpenAIModel,
		OpenAIBaseURL:     cfg.AI.OpenAIBaseURL,
		Timeout:           cfg.AI.Timeout,
		CacheTTL:          cfg.Cache.TTL,
		ConfidenceCeiling: cfg.AI.ConfidenceCeiling,
		Temperature:       cfg.AI.Temperature,
		MaxTokens:         cfg.AI.MaxTokens,
		RequestsPerMinute: cfg.AI.RequestsPerMinute,
	}, slog.Default())
	if err != nil {
		slog.Warn("AI classifier disabled", "error", err)
		return nil
	}
	return classifier
}

// newEngine builds the engine and returns a cleanup that flushes pending
// usage writes and closes the classifier.
func newEngine(ctx context.Context, cfg *config.Config, store service.Storage) (*engine.Engine, func(), error) {
	mode, err := engine.ParseMode(cfg.Categorization.Mode)
	if err != nil {
		return nil, nil, err
	}

	classifier := newClassifier(ctx, cfg)
	var ai engine.AIClassifier
	if classifier != nil {
		ai = classifier
	}

	eng := engine.New(store, ai, engine.Config{
		Mode:             mode,
		SmartFloor:       cfg.Categorization.SmartFloor,
		BatchConcurrency: cfg.Categorization.BatchConcurrency,
		HistoryLimit:     cfg.Categorization.HistoryLimit,
		RecordHistory:    cfg.Categorization.RecordHistory,
	})

	cleanup := func() {
		if err := eng.Close(); err != nil {
			slog.Warn("Failed to flush usage writes", "error", err)
		}
		if classifier != nil {
			_ = classifier.Close()
		}
	}
	return eng, cleanup, nil
}

// addScopeFlags registers --user and --entity on cmd.
func addScopeFlags(cmd *cobra.Command) {
	cmd.Flags().String("user", os.Getenv("USER"), "user the operation acts for")
	cmd.Flags().String("entity", "", "restrict to one entity (household, business)")
}

func scopeFromFlags(cmd *cobra.Command) (model.Scope, error) {
	user, _ := cmd.Flags().GetString("user")
	entity, _ := cmd.Flags().GetString("entity")
	user = strings.TrimSpace(user)
	if user == "" {
		return model.Scope{}, fmt.Errorf("%w: --user is required", common.ErrInvalidInput)
	}
	scope := model.Scope{UserID: user}
	if entity = strings.TrimSpace(entity); entity != "" {
		scope.EntityID = &entity
	}
	return scope, nil
}
