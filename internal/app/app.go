// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/boatrace-ingest/internal/config"
	collyfetcher "github.com/JakeFAU/boatrace-ingest/internal/fetcher/colly"
	"github.com/JakeFAU/boatrace-ingest/internal/hash/sha256"
	"github.com/JakeFAU/boatrace-ingest/internal/id/uuid"
	"github.com/JakeFAU/boatrace-ingest/internal/ingest"
	"github.com/JakeFAU/boatrace-ingest/internal/metrics"
	"github.com/JakeFAU/boatrace-ingest/internal/policy/ratelimit"
	"github.com/JakeFAU/boatrace-ingest/internal/policy/retry"
	memorypub "github.com/JakeFAU/boatrace-ingest/internal/publisher/memory"
	pubsubpub "github.com/JakeFAU/boatrace-ingest/internal/publisher/pubsub"
	"github.com/JakeFAU/boatrace-ingest/internal/race"
	"github.com/JakeFAU/boatrace-ingest/internal/storage/gcs"
	"github.com/JakeFAU/boatrace-ingest/internal/storage/local"
	"github.com/JakeFAU/boatrace-ingest/internal/storage/memory"
	"github.com/JakeFAU/boatrace-ingest/internal/storage/postgres"
	"github.com/JakeFAU/boatrace-ingest/internal/storage/sqlite"
	"github.com/JakeFAU/boatrace-ingest/internal/telemetry"
)

const serviceName = "boatrace-ingest"

// App holds the shared, long-lived services for one process: the logger,
// the relational store, the optional page archive and the orchestrator built
// on top of them. It is initialized once at startup and closed on exit.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	store        race.Store
	archive      race.BlobStore
	orchestrator *ingest.Orchestrator
	closers      []func() error
}

// GetLogger returns the shared zap logger.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// GetConfig returns the validated configuration the app was built from.
func (a *App) GetConfig() config.Config {
	return a.cfg
}

// GetStore exposes the relational store.
func (a *App) GetStore() race.Store {
	return a.store
}

// GetArchive returns the page archive, or nil when archiving is disabled.
func (a *App) GetArchive() race.BlobStore {
	return a.archive
}

// GetOrchestrator returns the ingestion orchestrator.
func (a *App) GetOrchestrator() *ingest.Orchestrator {
	return a.orchestrator
}

// NewApp builds every service described by cfg and migrates the store. It
// fails fast: a service that cannot be initialized closes the ones already
// opened.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logger.Info("Initializing application services...")
	metrics.Init()

	a := &App{cfg: cfg, logger: logger}

	tp, err := telemetry.InitTracerProvider(ctx, serviceName)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.closers = append(a.closers, func() error { return tp.Shutdown(context.Background()) })

	store, err := OpenStore(ctx, cfg.Store, logger.Named("store"))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)
	if err := store.Migrate(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	archive, closeArchive, err := OpenArchive(ctx, cfg.Archive)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.archive = archive
	if closeArchive != nil {
		a.closers = append(a.closers, closeArchive)
	}

	publisher, closePublisher, err := OpenPublisher(ctx, cfg.Notify)
	if err != nil {
		a.Close()
		return nil, err
	}
	if closePublisher != nil {
		a.closers = append(a.closers, closePublisher)
	}

	resultURL := ""
	if cfg.Ingest.FetchResults {
		resultURL = cfg.Source.ResultURL
	}
	limiter := ratelimit.New(cfg.Fetch.MinInterval, ratelimit.WithObserver(metrics.ObserveRateLimitDelay))
	fetcher, err := collyfetcher.New(collyfetcher.Config{
		RaceURL:       cfg.Source.RaceURL,
		ResultURL:     resultURL,
		UserAgent:     cfg.Source.UserAgent,
		RespectRobots: cfg.Source.RespectRobots,
		Timeout:       cfg.Fetch.Timeout,
	},
		collyfetcher.WithLimiter(limiter),
		collyfetcher.WithRetryPolicy(retry.New(cfg.Fetch.MaxRetries, cfg.Fetch.BackoffInitial, cfg.Fetch.BackoffMax)),
		collyfetcher.WithLogger(logger.Named("fetcher")),
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init fetcher: %w", err)
	}

	opts := []ingest.Option{
		ingest.WithHasher(sha256.New()),
		ingest.WithIDGenerator(uuid.New()),
		ingest.WithLogger(logger.Named("ingest")),
	}
	if archive != nil {
		opts = append(opts, ingest.WithArchive(archive))
	}
	if publisher != nil {
		opts = append(opts, ingest.WithPublisher(publisher))
	}
	orchestrator, err := ingest.New(fetcher, store, ingest.Config{
		Concurrency:   cfg.Ingest.Concurrency,
		RacesPerDay:   cfg.Ingest.RacesPerDay,
		StoreAttempts: cfg.Ingest.StoreAttempts,
		FetchResults:  cfg.Ingest.FetchResults,
		ArchivePrefix: cfg.Archive.Prefix,
		ContentType:   cfg.Archive.ContentType,
	}, opts...)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init orchestrator: %w", err)
	}
	a.orchestrator = orchestrator

	logger.Info("Application services initialized successfully.",
		zap.String("store", cfg.Store.Driver),
		zap.String("archive", cfg.Archive.Provider),
		zap.String("notify", cfg.Notify.Provider),
	)
	return a, nil
}

// OpenStore connects the relational backend selected by cfg.Driver.
func OpenStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (race.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		logger.Info("Opening SQLite store", zap.String("dsn", cfg.DSN))
		s, err := sqlite.New(cfg.DSN, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize store: %w", err)
		}
		return s, nil
	case config.DriverPostgres:
		logger.Info("Connecting to PostgreSQL...")
		s, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.DSN,
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			MaxConnLifetime: cfg.MaxConnLifetime,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver: %s", cfg.Driver)
	}
}

// OpenArchive builds the page archive selected by cfg.Provider. The archive
// is nil for the "none" provider; the returned close func may be nil.
func OpenArchive(ctx context.Context, cfg config.ArchiveConfig) (race.BlobStore, func() error, error) {
	switch cfg.Provider {
	case config.ArchiveNone, "":
		return nil, nil, nil
	case config.ArchiveMemory:
		return memory.NewBlobStore(), nil, nil
	case config.ArchiveLocal:
		b, err := local.New(local.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize archive: %w", err)
		}
		return b, nil, nil
	case config.ArchiveGCS:
		b, err := gcs.Dial(ctx, gcs.Config{Bucket: cfg.Bucket})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize archive: %w", err)
		}
		return b, b.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown archive provider: %s", cfg.Provider)
	}
}

// OpenPublisher builds the race event publisher selected by cfg.Provider. The
// publisher is nil for the "none" provider; the returned close func may be nil.
func OpenPublisher(ctx context.Context, cfg config.NotifyConfig) (race.Publisher, func() error, error) {
	switch cfg.Provider {
	case config.NotifyNone, "":
		return nil, nil, nil
	case config.NotifyMemory:
		return memorypub.New(), nil, nil
	case config.NotifyPubSub:
		p, err := pubsubpub.Dial(ctx, pubsubpub.Config{ProjectID: cfg.ProjectID, TopicID: cfg.Topic})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize publisher: %w", err)
		}
		return p, p.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown notify provider: %s", cfg.Provider)
	}
}

// Close shuts down every service in reverse order of creation. It is called
// by a Cobra hook after the command finishes execution.
func (a *App) Close() {
	a.logger.Info("Shutting down application services...")
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("Error closing application services", zap.Error(err))
	}
	// Sync fails on stderr-backed loggers on some platforms; nothing to do about it.
	_ = a.logger.Sync()
}

// NewForTest assembles an App from prebuilt parts.
func NewForTest(cfg config.Config, logger *zap.Logger, store race.Store, orchestrator *ingest.Orchestrator) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, store: store, orchestrator: orchestrator}
	if store != nil {
		a.closers = append(a.closers, store.Close)
	}
	return a
}
