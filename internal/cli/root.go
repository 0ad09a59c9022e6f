// Package cli provides the command-line interface for the reflector.
package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"trade-reflector/internal/config"
	"trade-reflector/internal/logging"
	"trade-reflector/internal/pricefeed"
	"trade-reflector/internal/reflection"
	"trade-reflector/internal/resilience"
	"trade-reflector/internal/store"
	"trade-reflector/pkg/utils"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2024-06-01"
)

// skipConfig marks commands that run without loading configuration.
const skipConfig = "skip-config"

// App holds the application dependencies. The store and the generator are
// created on first use so that commands only pay for what they touch.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	store     store.DecisionStore
	generator reflection.Generator
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(logger zerolog.Logger) *cobra.Command {
	rootCmd, _ := newRootCmd(logger)
	return rootCmd
}

func newRootCmd(logger zerolog.Logger) (*cobra.Command, *App) {
	app := &App{Logger: logger}

	rootCmd := &cobra.Command{
		Use:   "reflector",
		Short: "Trade Reflector - reflections on past trading decisions",
		Long: `Trade Reflector evaluates recorded trading decisions against the price
action that followed them, classifies each outcome as gain, loss or neutral,
and stores a written reflection next to the decision.

Run 'reflector run' periodically (for example daily) from a single scheduler.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[skipConfig] == "true" {
				return nil
			}
			return app.init(cmd)
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/trade-reflector)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	addReflectionCommands(rootCmd, app)
	addDiaryCommands(rootCmd, app)
	addDecisionCommands(rootCmd, app)
	closeAfterRun(rootCmd, app)

	return rootCmd, app
}

// closeAfterRun releases the store once a command returns, whether or not
// it failed. Cobra skips post-run hooks after an error.
func closeAfterRun(cmd *cobra.Command, app *App) {
	for _, c := range cmd.Commands() {
		if run := c.RunE; run != nil {
			c.RunE = func(cmd *cobra.Command, args []string) (err error) {
				defer func() {
					if cerr := app.Close(); err == nil {
						err = cerr
					}
				}()
				return run(cmd, args)
			}
		}
		closeAfterRun(c, app)
	}
}

// init loads configuration and rebuilds the logger from it.
func (a *App) init(cmd *cobra.Command) error {
	configDir, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configDir)
	if err != nil {
		return err
	}
	a.Config = cfg

	logCfg := logging.DefaultLogConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Console = cfg.Logging.Console
	logCfg.File = cfg.Logging.File
	logCfg.FilePath = filepath.Join(cfg.Dir, "logs", "reflector.log")
	a.Logger = logging.NewLoggerWithConfig(logCfg)

	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		logging.SetDebugLevel()
		a.Logger = a.Logger.Level(zerolog.DebugLevel)
	}

	if cfg.WindowOutlivesAge() {
		a.Logger.Warn().
			Int("window_hours", cfg.Reflection.WindowHours).
			Int("min_age_hours", cfg.Reflection.MinAgeHours).
			Msg("Window is longer than the minimum age; younger decisions are analyzed on partial windows")
	}
	return nil
}

// Store opens the configured store and brings its schema up to date.
func (a *App) Store(ctx context.Context) (store.DecisionStore, error) {
	if a.store != nil {
		return a.store, nil
	}

	s, err := store.Open(store.Config{
		Driver: a.Config.Store.Driver,
		Path:   a.Config.Store.Path,
		DSN:    a.Config.Store.DSN,
	})
	if err != nil {
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		s.Close()
		return nil, err
	}
	a.Logger.Debug().Str("driver", s.Driver()).Msg("Decision store initialized")

	a.store = s
	return s, nil
}

// Windows builds the price window provider for the configured feed. Windows
// longer than minElapsedHours are returned partially once that much time
// has passed.
func (a *App) Windows(ctx context.Context, minElapsedHours int) (*pricefeed.WindowProvider, error) {
	logger := logging.WithOperation(a.Logger, "pricefeed")

	var feed pricefeed.Feed
	switch a.Config.Feed.Source {
	case "yahoo":
		retry := utils.DefaultRetryConfig()
		if a.Config.Feed.Retries > 0 {
			retry.MaxAttempts = a.Config.Feed.Retries + 1
		}
		feed = pricefeed.NewYahooFeed(retry, logger)
	default:
		feed = pricefeed.NewUpbitFeed(pricefeed.UpbitConfig{
			BaseURL:       a.Config.Feed.BaseURL,
			QuoteCurrency: a.Config.Feed.QuoteCurrency,
			Timeout:       a.Config.Feed.Timeout,
			RetryCount:    a.Config.Feed.Retries,
		}, logger)
	}

	if a.Config.Feed.Cache {
		s, err := a.Store(ctx)
		if err != nil {
			return nil, err
		}
		feed = pricefeed.NewCachedFeed(feed, s, logger)
	}

	a.Logger.Debug().Str("feed", feed.Name()).Bool("cache", a.Config.Feed.Cache).Msg("Price feed initialized")
	return pricefeed.NewWindowProvider(feed,
		pricefeed.WithMinElapsedHours(minElapsedHours),
		pricefeed.WithLogger(logger),
	), nil
}

// Generator returns the reflection generator.
func (a *App) Generator() (reflection.Generator, error) {
	if a.generator != nil {
		return a.generator, nil
	}
	if a.Config.Credentials.OpenAI.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not configured (set OPENAI_API_KEY or credentials.toml)")
	}

	logger := logging.WithOperation(a.Logger, "reflection")
	client := reflection.NewOpenAIClient(reflection.OpenAIConfig{
		APIKey:  a.Config.Credentials.OpenAI.APIKey,
		Model:   a.Config.Reflection.Model,
		BaseURL: a.Config.Credentials.OpenAI.BaseURL,
	}, logger)
	a.Logger.Debug().Str("model", client.Model()).Msg("OpenAI client initialized")

	var gen reflection.Generator = reflection.NewLLMGenerator(client, logger)
	if n := a.Config.Reflection.BreakerFailures; n > 0 {
		breakerCfg := resilience.DefaultCircuitBreakerConfig()
		breakerCfg.FailureThreshold = n
		gen = reflection.NewGuardedGenerator(gen, resilience.NewCircuitBreaker("openai", breakerCfg), logger)
	}

	a.generator = gen
	return a.generator, nil
}

// Close releases the store.
func (a *App) Close() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{skipConfig: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("Trade Reflector v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(redacted(app.Config))
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": app.Config.Dir})
			} else {
				output.Println(app.Config.Dir)
			}
		},
	})

	return cmd
}

func redacted(cfg *config.Config) config.Config {
	c := *cfg
	if c.Credentials.OpenAI.APIKey != "" {
		c.Credentials.OpenAI.APIKey = "********"
	}
	if c.Store.DSN != "" {
		c.Store.DSN = "********"
	}
	return c
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Store")
	output.Printf("  Driver:          %s\n", cfg.Store.Driver)
	if cfg.Store.Driver == "postgres" {
		output.Printf("  DSN:             %s\n", "(set)")
	} else {
		output.Printf("  Path:            %s\n", cfg.Store.Path)
	}
	output.Println()

	output.Bold("Price Feed")
	output.Printf("  Source:          %s\n", cfg.Feed.Source)
	output.Printf("  Base URL:        %s\n", cfg.Feed.BaseURL)
	output.Printf("  Quote Currency:  %s\n", cfg.Feed.QuoteCurrency)
	output.Printf("  Timeout:         %s\n", cfg.Feed.Timeout)
	output.Printf("  Cache:           %v\n", cfg.Feed.Cache)
	output.Println()

	output.Bold("Reflection")
	output.Printf("  Min Age:         %dh\n", cfg.Reflection.MinAgeHours)
	output.Printf("  Window:          %dh\n", cfg.Reflection.WindowHours)
	output.Printf("  Model:           %s\n", cfg.Reflection.Model)
	output.Printf("  OpenAI Key:      %v\n", cfg.Credentials.OpenAI.APIKey != "")
}
