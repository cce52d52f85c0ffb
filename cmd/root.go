// Package cmd defines and implements the CLI commands for the artvee-ingest executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/artvee-ingest/internal/app"
	"github.com/JakeFAU/artvee-ingest/internal/clock/system"
	"github.com/JakeFAU/artvee-ingest/internal/config"
	"github.com/JakeFAU/artvee-ingest/internal/logging"
	configsearch "github.com/JakeFAU/artvee-ingest/pkg/config"
)

// runtimeKeyType is the key for storing the loaded runtime in the context.
type runtimeKeyType string

const runtimeKey runtimeKeyType = "runtime"

// runtime is what every subcommand receives from the root hooks.
type runtime struct {
	cfg        config.Config
	configPath string
	logger     *zap.Logger
}

// newApp is the pipeline factory. It's a variable so tests can swap it.
var newApp = app.New

var timeNow = system.New().Now

type rootOptions struct {
	cfgFile string
	envFile string
	debug   bool
}

// NewRootCmd creates and configures the root command.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "artvee-ingest",
		Short: "Acquire Artvee artworks, validate them and upload them to an asset store.",
		Long: `artvee-ingest takes the artwork list produced by the discovery step and, for each
artwork, extracts metadata from its detail page, downloads the full-resolution
image, enforces the upload size ceiling and ships the result to the configured
asset store. Progress is recorded in a JSON ledger so interrupted runs resume
where they stopped.`,
		SilenceUsage: true,

		// Loads .env, the config file and the logger before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := loadRuntime(opts)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), runtimeKey, rt))
			return nil
		},

		// Flushes buffered log entries.
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, ok := cmd.Context().Value(runtimeKey).(*runtime); ok && rt != nil {
				_ = rt.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default: ./config.yaml, /etc/artvee-ingest/ or $HOME/.artvee-ingest/)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "dotenv file to load before reading the environment (default: .env when present)")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable development logging")

	cmd.AddCommand(
		newRunCmd(),
		newReportCmd(),
		newExportCmd(),
		newServeCmd(),
		newCleanupCmd(),
	)
	return cmd
}

func loadRuntime(opts *rootOptions) (*runtime, error) {
	if err := loadDotenv(opts.envFile); err != nil {
		return nil, err
	}
	path, err := configsearch.Discover(opts.cfgFile)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.debug {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	if path != "" {
		logger.Info("using config file", zap.String("path", path))
	} else {
		logger.Debug("no config file found; using defaults and environment variables")
	}
	return &runtime{cfg: cfg, configPath: path, logger: logger}, nil
}

// loadDotenv reads envFile, or .env when it exists. An explicit file that is
// missing is an error.
func loadDotenv(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func resolveRuntime(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(runtimeKey).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("configuration not loaded")
	}
	return rt, nil
}
