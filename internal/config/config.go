// Package config loads tally's layered configuration: defaults, config file,
// .env file and TALLY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/Veraticus/tally/internal/common"
)

// EnvPrefix is the prefix for environment overrides, e.g. TALLY_DATABASE_DRIVER.
const EnvPrefix = "TALLY"

// Categorization modes.
const (
	ModeConservative = "conservative"
	ModeSmart        = "smart"
	ModeAutonomous   = "autonomous"
)

// Config represents the complete application configuration.
type Config struct {
	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`

	Database struct {
		Driver string `mapstructure:"driver"`
		Path   string `mapstructure:"path"`
		URL    string `mapstructure:"url"`
		Seed   string `mapstructure:"seed"`
	} `mapstructure:"database"`

	AI struct {
		Provider          string        `mapstructure:"provider"`
		GeminiAPIKey      string        `mapstructure:"gemini_api_key"`
		GeminiModel       string        `mapstructure:"gemini_model"`
		OpenAIAPIKey      string        `mapstructure:"openai_api_key"`
		OpenAIModel       string        `mapstructure:"openai_model"`
		OpenAIBaseURL     string        `mapstructure:"openai_base_url"`
		Timeout           time.Duration `mapstructure:"timeout"`
		ConfidenceCeiling float64       `mapstructure:"confidence_ceiling"`
		MaxTokens         int           `mapstructure:"max_tokens"`
		Temperature       float64       `mapstructure:"temperature"`
		RequestsPerMinute int           `mapstructure:"requests_per_minute"`
		Enabled           bool          `mapstructure:"enabled"`
	} `mapstructure:"ai"`

	Categorization struct {
		Mode               string  `mapstructure:"mode"`
		SmartFloor         float64 `mapstructure:"smart_floor"`
		PromotionThreshold int     `mapstructure:"promotion_threshold"`
		BatchConcurrency   int     `mapstructure:"batch_concurrency"`
		HistoryLimit       int     `mapstructure:"history_limit"`
		RecordHistory      bool    `mapstructure:"record_history"`
	} `mapstructure:"categorization"`

	Cache struct {
		TTL     time.Duration `mapstructure:"ttl"`
		MaxCost int64         `mapstructure:"max_cost"`
		Enabled bool          `mapstructure:"enabled"`
	} `mapstructure:"cache"`

	Server struct {
		Addr      string `mapstructure:"addr"`
		JWTSecret string `mapstructure:"jwt_secret"`
		// TLS serves HTTPS with a self-signed certificate kept in CertDir.
		TLS     bool   `mapstructure:"tls"`
		CertDir string `mapstructure:"cert_dir"`
	} `mapstructure:"server"`
}

// Load resolves the configuration held by v. The config file, if any, must
// already be registered on v; Load adds defaults, the .env file and the
// environment on top of it.
func Load(v *viper.Viper) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Provider keys are commonly exported without our prefix.
	_ = v.BindEnv("ai.gemini_api_key", EnvPrefix+"_AI_GEMINI_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("ai.openai_api_key", EnvPrefix+"_AI_OPENAI_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("server.jwt_secret", EnvPrefix+"_SERVER_JWT_SECRET", "JWT_SECRET")
	_ = v.BindEnv("database.url", EnvPrefix+"_DATABASE_URL", "DATABASE_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Database.Path = ExpandPath(cfg.Database.Path)
	cfg.Database.Seed = ExpandPath(cfg.Database.Seed)
	cfg.Server.CertDir = ExpandPath(cfg.Server.CertDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", filepath.Join(DataDir(), "tally.db"))
	v.SetDefault("database.url", "")
	v.SetDefault("database.seed", "")

	v.SetDefault("ai.enabled", true)
	v.SetDefault("ai.provider", "fallback")
	v.SetDefault("ai.gemini_model", "gemini-2.0-flash")
	v.SetDefault("ai.openai_model", "gpt-4o-mini")
	v.SetDefault("ai.openai_base_url", "https://api.openai.com/v1")
	v.SetDefault("ai.timeout", 5*time.Second)
	v.SetDefault("ai.confidence_ceiling", 0.9)
	v.SetDefault("ai.max_tokens", 400)
	v.SetDefault("ai.temperature", 0.1)
	v.SetDefault("ai.requests_per_minute", 60)

	v.SetDefault("categorization.mode", ModeSmart)
	v.SetDefault("categorization.smart_floor", 0.5)
	v.SetDefault("categorization.promotion_threshold", 3)
	v.SetDefault("categorization.batch_concurrency", 8)
	v.SetDefault("categorization.history_limit", 500)
	v.SetDefault("categorization.record_history", true)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("cache.max_cost", 1000)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.tls", false)
	v.SetDefault("server.cert_dir", filepath.Join(DataDir(), "certs"))
}

// Validate checks value ranges and cross-field requirements.
func (c *Config) Validate() error {
	if _, err := common.ParseLevel(c.Logging.Level); err != nil {
		return err
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("%w: database.path is required for sqlite", common.ErrMissingConfig)
		}
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("%w: database.url is required for postgres", common.ErrMissingConfig)
		}
	default:
		return fmt.Errorf("%w: database.driver must be sqlite or postgres, got %q", common.ErrInvalidConfig, c.Database.Driver)
	}

	switch c.AI.Provider {
	case "gemini", "openai", "fallback":
	default:
		return fmt.Errorf("%w: ai.provider must be gemini, openai or fallback, got %q", common.ErrInvalidConfig, c.AI.Provider)
	}

	if c.AI.ConfidenceCeiling <= 0 || c.AI.ConfidenceCeiling >= 1 {
		return fmt.Errorf("%w: ai.confidence_ceiling must be in (0, 1), got %v", common.ErrInvalidConfig, c.AI.ConfidenceCeiling)
	}
	if c.AI.Timeout <= 0 {
		return fmt.Errorf("%w: ai.timeout must be positive", common.ErrInvalidConfig)
	}

	switch c.Categorization.Mode {
	case ModeConservative, ModeSmart, ModeAutonomous:
	default:
		return fmt.Errorf("%w: categorization.mode %q", common.ErrInvalidConfig, c.Categorization.Mode)
	}

	if c.Categorization.SmartFloor < 0 || c.Categorization.SmartFloor >= 1 {
		return fmt.Errorf("%w: categorization.smart_floor must be in [0, 1)", common.ErrInvalidConfig)
	}
	if c.Categorization.PromotionThreshold < 1 {
		return fmt.Errorf("%w: categorization.promotion_threshold must be at least 1", common.ErrInvalidConfig)
	}
	if c.Categorization.BatchConcurrency < 1 {
		return fmt.Errorf("%w: categorization.batch_concurrency must be at least 1", common.ErrInvalidConfig)
	}

	return nil
}

// DataDir returns the directory tally keeps its local database in.
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "tally")
	}
	return ExpandPath("~/.local/share/tally")
}

// ExpandPath expands a leading ~ and $VAR references in a file path.
func ExpandPath(path string) string {
	switch {
	case path == "":
		return path
	case path == "~" || strings.HasPrefix(path, "~/"):
		if home, err := os.UserHomeDir(); err == nil {
			path = home + strings.TrimPrefix(path, "~")
		}
	}
	return os.ExpandEnv(path)
}
