// Package cmd defines and implements the CLI commands for the docket-scraper
// executable.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/docket-scraper/internal/app"
	"github.com/JakeFAU/docket-scraper/internal/config"
	"github.com/JakeFAU/docket-scraper/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory; tests swap in their own logger.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger, opts app.Options) (*app.App, error) {
	return app.Build(ctx, cfg, logger, opts)
}

// newLogger builds the root logger; tests replace it with a no-op logger.
var newLogger = func(cfg config.Config) (*zap.Logger, error) {
	return logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
}

// newRootCmd creates and configures the root command. The returned cleanup
// closes the application once the command has finished, whether or not it
// succeeded.
func newRootCmd() (*cobra.Command, func()) {
	var (
		cfgFile string
		built   *app.App
	)
	cmd := &cobra.Command{
		Use:   "docket-scraper",
		Short: "Scrapes county jail rosters and court dockets into a searchable store.",
		Long: `docket-scraper walks the county's paginated jail listings and court
search, normalizes every person and case it finds, merges them by LE and
docket number, and upserts the result. Runs can be started from the CLI or
through the control API served by "serve".`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Build the application before the subcommand runs. Bootstrap
		// failures end the process with a non-zero exit.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			path := cfgFile
			if path == "" {
				path = config.Discover()
			}
			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			if path != "" {
				logger.Info("using config file", zap.String("path", path))
			}
			appInstance, err := newApp(cmd.Context(), cfg, logger, app.Options{
				SkipMigrate: cmd.Name() == "migrate",
			})
			if err != nil {
				_ = logger.Sync()
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			built = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}
	cleanup := func() {
		if built != nil {
			built.Close()
			_ = built.Logger().Sync()
			built = nil
		}
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is ./config.yaml, /etc/docket-scraper or $HOME/.docket-scraper)")

	cmd.AddCommand(
		newScrapeCmd(),
		newDetailCmd(),
		newStatusCmd(),
		newMigrateCmd(),
		newServeCmd(),
	)
	return cmd, cleanup
}

// Execute is the main entry point.
func Execute() {
	root, cleanup := newRootCmd()
	err := root.ExecuteContext(context.Background())
	cleanup()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
