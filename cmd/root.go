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

	"github.com/JakeFAU/boatrace-ingest/internal/app"
	"github.com/JakeFAU/boatrace-ingest/internal/config"
	"github.com/JakeFAU/boatrace-ingest/internal/ingest"
	"github.com/JakeFAU/boatrace-ingest/internal/logging"
	"github.com/JakeFAU/boatrace-ingest/internal/race"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands will use.
// This allows us to inject a test app.
type App interface {
	Close()
	GetLogger() *zap.Logger
	GetConfig() config.Config
	GetStore() race.Store
	GetOrchestrator() *ingest.Orchestrator
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	a, err := app.NewApp(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "boatrace",
		Short: "Ingests boat-race pre-race and result pages into a feature store.",
		Long: `boatrace fetches per-race information pages from boatrace.jp, parses the
entrant, exhibition, motor, weather and result tables, and upserts them into
SQLite or PostgreSQL, keyed by venue, date and race number.`,
		SilenceUsage: true,

		// Build and inject the application before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ./boatrace.yaml, /etc/boatrace, ~/.boatrace)")

	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newFeaturesCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command's
// context; ingestion stops starting new races and lets in-flight ones finish.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
