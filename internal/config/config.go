// Package config provides configuration management for the reflector.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	apperrors "trade-reflector/internal/errors"
)

// Config holds all application configuration.
type Config struct {
	Store       StoreConfig      `mapstructure:"store"`
	Feed        FeedConfig       `mapstructure:"feed"`
	Reflection  ReflectionConfig `mapstructure:"reflection"`
	Logging     LoggingConfig    `mapstructure:"logging"`
	Credentials Credentials      `mapstructure:"-"` // Loaded separately

	Dir string `mapstructure:"-"`
}

// StoreConfig selects the decision database.
type StoreConfig struct {
	Driver string `mapstructure:"driver"` // "sqlite", "postgres"
	Path   string `mapstructure:"path"`   // SQLite file, relative to the config dir
	DSN    string `mapstructure:"dsn"`    // Postgres connection string
}

// FeedConfig selects the hourly price source.
type FeedConfig struct {
	Source        string        `mapstructure:"source"` // "upbit", "yahoo"
	BaseURL       string        `mapstructure:"base_url"`
	QuoteCurrency string        `mapstructure:"quote_currency"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Retries       int           `mapstructure:"retries"`
	Cache         bool          `mapstructure:"cache"`
}

// ReflectionConfig holds the eligibility and generation settings.
type ReflectionConfig struct {
	MinAgeHours       int    `mapstructure:"min_age_hours"`
	WindowHours       int    `mapstructure:"window_hours"`
	Model             string `mapstructure:"model"`
	MinSamplesWarning int    `mapstructure:"min_samples_warning"`

	// BreakerFailures is the number of consecutive generation failures
	// after which the remaining decisions of a run skip the service. Zero disables.
	BreakerFailures int `mapstructure:"breaker_failures"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
	File    bool   `mapstructure:"file"`
}

// Credentials holds API credentials.
type Credentials struct {
	OpenAI OpenAICredentials `mapstructure:"openai"`
}

// OpenAICredentials holds OpenAI API credentials.
type OpenAICredentials struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// envOverrides are read from the environment after the files.
type envOverrides struct {
	OpenAIKey     string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL string `envconfig:"OPENAI_BASE_URL"`
	StoreDriver   string `envconfig:"REFLECTOR_STORE_DRIVER"`
	StorePath     string `envconfig:"REFLECTOR_STORE_PATH"`
	StoreDSN      string `envconfig:"REFLECTOR_STORE_DSN"`
	FeedSource    string `envconfig:"REFLECTOR_FEED_SOURCE"`
	Model         string `envconfig:"REFLECTOR_MODEL"`
	MinAgeHours   int    `envconfig:"REFLECTOR_MIN_AGE_HOURS"`
	WindowHours   int    `envconfig:"REFLECTOR_WINDOW_HOURS"`
	LogLevel      string `envconfig:"REFLECTOR_LOG_LEVEL"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/trade-reflector"
	}
	return filepath.Join(home, ".config", "trade-reflector")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory. Missing files
// are written from templates and then read.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	// A missing .env is normal.
	_ = godotenv.Load()

	cfg := &Config{Dir: configDir}

	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if cfg.Store.Path != "" && !filepath.IsAbs(cfg.Store.Path) {
		cfg.Store.Path = filepath.Join(configDir, cfg.Store.Path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "trade_log.db")
	v.SetDefault("feed.source", "upbit")
	v.SetDefault("feed.base_url", "https://api.upbit.com")
	v.SetDefault("feed.quote_currency", "KRW")
	v.SetDefault("feed.timeout", "15s")
	v.SetDefault("feed.retries", 2)
	v.SetDefault("feed.cache", true)
	v.SetDefault("reflection.min_age_hours", 24)
	v.SetDefault("reflection.window_hours", 24)
	v.SetDefault("reflection.model", "gpt-4o-2024-08-06")
	v.SetDefault("reflection.min_samples_warning", 12)
	v.SetDefault("reflection.breaker_failures", 3)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)
}

func loadConfigFile(configDir string, cfg *Config) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
		if err := createTemplate(configDir, "config.toml", configTemplate, 0644); err != nil {
			return err
		}
		if err := v.ReadInConfig(); err != nil {
			return err
		}
	}

	return v.Unmarshal(cfg)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
		// Restricted permissions for the credentials file.
		if err := createTemplate(configDir, "credentials.toml", credentialsTemplate, 0600); err != nil {
			return err
		}
		return nil
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return err
	}

	if env.OpenAIKey != "" {
		cfg.Credentials.OpenAI.APIKey = env.OpenAIKey
	}
	if env.OpenAIBaseURL != "" {
		cfg.Credentials.OpenAI.BaseURL = env.OpenAIBaseURL
	}
	if env.StoreDriver != "" {
		cfg.Store.Driver = env.StoreDriver
	}
	if env.StorePath != "" {
		cfg.Store.Path = env.StorePath
	}
	if env.StoreDSN != "" {
		cfg.Store.DSN = env.StoreDSN
	}
	if env.FeedSource != "" {
		cfg.Feed.Source = env.FeedSource
	}
	if env.Model != "" {
		cfg.Reflection.Model = env.Model
	}
	if env.MinAgeHours != 0 {
		cfg.Reflection.MinAgeHours = env.MinAgeHours
	}
	if env.WindowHours != 0 {
		cfg.Reflection.WindowHours = env.WindowHours
	}
	if env.LogLevel != "" {
		cfg.Logging.Level = env.LogLevel
	}
	return nil
}

// Validate validates the configuration. Driver and feed source names are
// normalised to "sqlite"/"postgres" and "upbit"/"yahoo".
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Store.Driver)) {
	case "sqlite", "sqlite3":
		c.Store.Driver = "sqlite"
		if c.Store.Path == "" {
			return fmt.Errorf("%w: store.path is required for sqlite", apperrors.ErrConfigInvalid)
		}
	case "postgres", "postgresql", "pgx":
		c.Store.Driver = "postgres"
		if c.Store.DSN == "" {
			return fmt.Errorf("%w: store.dsn is required for postgres", apperrors.ErrConfigInvalid)
		}
	default:
		return fmt.Errorf("%w: invalid store driver: %s (must be 'sqlite' or 'postgres')", apperrors.ErrConfigInvalid, c.Store.Driver)
	}

	switch source := strings.ToLower(strings.TrimSpace(c.Feed.Source)); source {
	case "upbit", "yahoo":
		c.Feed.Source = source
	default:
		return fmt.Errorf("%w: invalid feed source: %s (must be 'upbit' or 'yahoo')", apperrors.ErrConfigInvalid, c.Feed.Source)
	}
	if c.Feed.Timeout < 0 {
		return fmt.Errorf("%w: feed.timeout must be non-negative", apperrors.ErrConfigInvalid)
	}

	if c.Reflection.MinAgeHours <= 0 {
		return fmt.Errorf("%w: reflection.min_age_hours must be positive", apperrors.ErrConfigInvalid)
	}
	if c.Reflection.WindowHours <= 0 {
		return fmt.Errorf("%w: reflection.window_hours must be positive", apperrors.ErrConfigInvalid)
	}
	if c.Reflection.MinSamplesWarning < 0 {
		return fmt.Errorf("%w: reflection.min_samples_warning must be non-negative", apperrors.ErrConfigInvalid)
	}
	if c.Reflection.BreakerFailures < 0 {
		return fmt.Errorf("%w: reflection.breaker_failures must be non-negative", apperrors.ErrConfigInvalid)
	}

	return nil
}

// WindowOutlivesAge reports whether decisions become eligible before their
// price window has elapsed. Such decisions are analyzed on partial windows.
func (c *Config) WindowOutlivesAge() bool {
	return c.Reflection.WindowHours > c.Reflection.MinAgeHours
}
