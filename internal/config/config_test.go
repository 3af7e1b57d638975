package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/tally/internal/common"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TALLY_DATABASE_PATH", filepath.Join(t.TempDir(), "tally.db"))

	cfg, err := Load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 5*time.Second, cfg.AI.Timeout)
	assert.InDelta(t, 0.9, cfg.AI.ConfidenceCeiling, 1e-9)
	assert.InDelta(t, 0.5, cfg.Categorization.SmartFloor, 1e-9)
	assert.Equal(t, 3, cfg.Categorization.PromotionThreshold)
	assert.Equal(t, ModeSmart, cfg.Categorization.Mode)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TALLY_DATABASE_PATH", filepath.Join(t.TempDir(), "tally.db"))
	t.Setenv("TALLY_CATEGORIZATION_PROMOTION_THRESHOLD", "5")
	t.Setenv("TALLY_AI_PROVIDER", "gemini")
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg, err := Load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Categorization.PromotionThreshold)
	assert.Equal(t, "gemini", cfg.AI.Provider)
	assert.Equal(t, "test-key", cfg.AI.GeminiAPIKey)
}

func TestConfig_Validate(t *testing.T) {
	base := func(t *testing.T) *Config {
		t.Helper()
		t.Setenv("TALLY_DATABASE_PATH", filepath.Join(t.TempDir(), "tally.db"))
		cfg, err := Load(viper.New())
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		mutate func(*Config)
		name   string
	}{
		{name: "ceiling of one", mutate: func(c *Config) { c.AI.ConfidenceCeiling = 1.0 }},
		{name: "unknown driver", mutate: func(c *Config) { c.Database.Driver = "mysql" }},
		{name: "postgres without url", mutate: func(c *Config) { c.Database.Driver = "postgres"; c.Database.URL = "" }},
		{name: "unknown mode", mutate: func(c *Config) { c.Categorization.Mode = "yolo" }},
		{name: "zero threshold", mutate: func(c *Config) { c.Categorization.PromotionThreshold = 0 }},
		{name: "zero concurrency", mutate: func(c *Config) { c.Categorization.BatchConcurrency = 0 }},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, common.ErrInvalidConfig) || errors.Is(err, common.ErrMissingConfig))
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	t.Setenv("TALLY_TEST_DIR", "/srv/tally")

	assert.Equal(t, "", ExpandPath(""))
	assert.Equal(t, home, ExpandPath("~"))
	assert.Equal(t, filepath.Join(home, "data", "tally.db"), ExpandPath("~/data/tally.db"))
	assert.Equal(t, "/srv/tally/seed.yaml", ExpandPath("$TALLY_TEST_DIR/seed.yaml"))
}
