// Package cmd defines the listing-harvester CLI commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/app"
	"github.com/JakeFAU/listing-harvester/internal/config"
	"github.com/JakeFAU/listing-harvester/internal/crawler"
	"github.com/JakeFAU/listing-harvester/internal/logging"
	"github.com/JakeFAU/listing-harvester/internal/pipeline"
)

// appKeyType is the key for storing the App in the command context.
type appKeyType string

const appKey appKeyType = "app"

// App is the service container commands use. Tests inject fakes through
// newApp.
type App interface {
	Close()
	Logger() *zap.Logger
	Config() config.Config
	Snapshot() crawler.SnapshotStore
	Sinks() []crawler.ExportSink
	Clock() crawler.Clock
	Run(ctx context.Context) (pipeline.Summary, error)
	ServeHTTP(ctx context.Context)
}

// newApp is the application factory. It is a variable so tests can replace
// it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// loadConfig is swapped in tests to skip files and environment.
var loadConfig = config.Load

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "listing-harvester",
		Short: "Harvests a paginated listing site into a reconciled snapshot.",
		Long: `listing-harvester walks the numbered listing pages of a site, merges every
item it finds into a persistent snapshot, refreshes stale detail pages and
exports the result.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Options{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); HARVEST_* environment variables override it")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newBacklogCmd())
	cmd.AddCommand(newExportCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
