// Package app builds the long-lived harvester services from configuration and
// acts as the dependency container for CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/api"
	"github.com/JakeFAU/listing-harvester/internal/clock/system"
	"github.com/JakeFAU/listing-harvester/internal/config"
	"github.com/JakeFAU/listing-harvester/internal/crawler"
	csvexport "github.com/JakeFAU/listing-harvester/internal/export/csv"
	sheetsexport "github.com/JakeFAU/listing-harvester/internal/export/sheets"
	collyfetcher "github.com/JakeFAU/listing-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/listing-harvester/internal/frontier"
	"github.com/JakeFAU/listing-harvester/internal/id/uuid"
	"github.com/JakeFAU/listing-harvester/internal/metrics"
	goqueryparser "github.com/JakeFAU/listing-harvester/internal/parser/goquery"
	"github.com/JakeFAU/listing-harvester/internal/pipeline"
	"github.com/JakeFAU/listing-harvester/internal/policy/ratelimit"
	gcppublisher "github.com/JakeFAU/listing-harvester/internal/publisher/pubsub"
	gcsstore "github.com/JakeFAU/listing-harvester/internal/storage/gcs"
	"github.com/JakeFAU/listing-harvester/internal/storage/local"
	"github.com/JakeFAU/listing-harvester/internal/storage/memory"
	pgstore "github.com/JakeFAU/listing-harvester/internal/storage/postgres"
)

// App holds the services shared by every command. Build it once per process
// and Close it on exit.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	snapshot      crawler.SnapshotStore
	fetcher       crawler.Fetcher
	listingParser crawler.ListingParser
	detailParser  crawler.DetailParser
	sinks         []crawler.ExportSink
	publisher     crawler.Publisher
	clock         crawler.Clock
	ids           crawler.IDGenerator
	runs          *api.RunTracker

	closers []func() error
}

// Option overrides a service normally built from configuration.
type Option func(*App)

// WithSnapshotStore replaces the configured snapshot backend.
func WithSnapshotStore(s crawler.SnapshotStore) Option {
	return func(a *App) { a.snapshot = s }
}

// WithPublisher replaces the configured notification publisher.
func WithPublisher(p crawler.Publisher) Option {
	return func(a *App) { a.publisher = p }
}

// WithClock replaces the wall clock.
func WithClock(c crawler.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithSinks replaces the configured export sinks.
func WithSinks(sinks ...crawler.ExportSink) Option {
	return func(a *App) { a.sinks = append([]crawler.ExportSink{}, sinks...) }
}

// New initializes every service described by cfg. It fails fast when a
// configured backend cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	a := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		ids:    uuid.New(),
		runs:   &api.RunTracker{},
	}
	for _, opt := range opts {
		opt(a)
	}

	logger.Info("initializing application services",
		zap.String("snapshot_provider", cfg.Snapshot.Provider),
		zap.Bool("detail_enabled", cfg.Detail.Enabled))

	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	if a.snapshot == nil {
		snap, err := a.buildSnapshotStore(ctx)
		if err != nil {
			return fmt.Errorf("init snapshot store: %w", err)
		}
		a.snapshot = snap
	}

	a.fetcher = a.buildFetcher()

	listingParser, err := goqueryparser.NewListingParser(a.cfg.Parser.Listing, a.cfg.Parser.BaseURL)
	if err != nil {
		return fmt.Errorf("init listing parser: %w", err)
	}
	a.listingParser = listingParser
	a.detailParser = goqueryparser.NewDetailParser(a.cfg.Parser.Detail, a.cfg.Parser.DescriptionMaxLen)

	if a.sinks == nil {
		sinks, err := a.buildSinks(ctx)
		if err != nil {
			return fmt.Errorf("init export sinks: %w", err)
		}
		a.sinks = sinks
	}

	if a.publisher == nil && a.cfg.PubSub.Topic != "" {
		pub, err := a.buildPublisher(ctx)
		if err != nil {
			return fmt.Errorf("init publisher: %w", err)
		}
		a.publisher = pub
	}
	return nil
}

func (a *App) buildSnapshotStore(ctx context.Context) (crawler.SnapshotStore, error) {
	cfg := a.cfg.Snapshot
	switch cfg.Provider {
	case config.ProviderFile:
		store, err := local.New(cfg.File)
		if err != nil {
			return nil, err
		}
		a.logger.Info("using file snapshot", zap.String("path", store.Path()))
		return store, nil
	case config.ProviderGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		store, err := gcsstore.New(client, cfg.GCS)
		if err != nil {
			return nil, err
		}
		a.logger.Info("using gcs snapshot", zap.String("uri", store.URI()))
		return store, nil
	case config.ProviderPostgres:
		store, err := pgstore.New(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		a.logger.Info("using postgres snapshot", zap.String("table", cfg.Postgres.Table))
		return store, nil
	case config.ProviderMemory:
		a.logger.Warn("using memory snapshot; nothing survives the process")
		return memory.NewSnapshotStore(), nil
	default:
		return nil, fmt.Errorf("unknown snapshot provider %q", cfg.Provider)
	}
}

func (a *App) buildFetcher() *collyfetcher.Fetcher {
	fc := a.cfg.Fetch
	headers := make(http.Header, len(fc.Headers))
	for k, v := range fc.Headers {
		headers.Set(k, v)
	}
	policy := &crawler.BackoffRetryPolicy{
		Attempts:   fc.MaxAttempts,
		Base:       fc.Backoff,
		Multiplier: fc.BackoffMultiplier,
		Max:        fc.MaxBackoff,
	}
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   fc.RateLimitRPS,
		DefaultBurst: fc.RateLimitBurst,
	})
	return collyfetcher.New(collyfetcher.Config{
		UserAgent: fc.UserAgent,
		Timeout:   fc.Timeout,
		Headers:   headers,
	}, policy, a.logger.Named("fetcher"), collyfetcher.WithLimiter(limiter))
}

func (a *App) buildSinks(ctx context.Context) ([]crawler.ExportSink, error) {
	var sinks []crawler.ExportSink
	if a.cfg.Export.CSV.Path != "" {
		sink, err := csvexport.New(a.cfg.Export.CSV)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	}
	if a.cfg.Export.Sheets.SpreadsheetID != "" {
		sink, err := sheetsexport.New(ctx, a.cfg.Export.Sheets)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	}
	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	a.logger.Info("export sinks configured", zap.Strings("sinks", names))
	return sinks, nil
}

func (a *App) buildPublisher(ctx context.Context) (crawler.Publisher, error) {
	if a.cfg.PubSub.ProjectID == "" {
		return nil, errors.New("pubsub.project_id is required when pubsub.topic is set")
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	pub := gcppublisher.New(client)
	a.closers = append(a.closers, func() error {
		pub.Close()
		return client.Close()
	})
	a.logger.Info("publishing run notifications", zap.String("topic", a.cfg.PubSub.Topic))
	return pub, nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Snapshot returns the snapshot backend.
func (a *App) Snapshot() crawler.SnapshotStore {
	return a.snapshot
}

// Sinks returns the export sinks.
func (a *App) Sinks() []crawler.ExportSink {
	return a.sinks
}

// Clock returns the clock used for staleness and timestamps.
func (a *App) Clock() crawler.Clock {
	return a.clock
}

// Runs returns the tracker of the latest run summary.
func (a *App) Runs() *api.RunTracker {
	return a.runs
}

// PipelineConfig maps the loaded configuration onto pipeline settings.
func (a *App) PipelineConfig() pipeline.Config {
	l, d := a.cfg.Listing, a.cfg.Detail
	return pipeline.Config{
		Listing: frontier.ListingConfig{
			MaxPages:               l.MaxPages,
			Window:                 l.EffectiveWindow(),
			MaxConsecutiveFailures: l.MaxConsecutiveFailures,
			StopOnNotFound:         l.StopOnNotFound,
		},
		URLs:           frontier.URLs{FirstPage: l.FirstPageURL, Template: l.PageURLTemplate},
		ListingWorkers: l.Workers,
		ListingDelay:   l.Delay,
		DetailEnabled:  d.Enabled,
		DetailWorkers:  d.Workers,
		DetailDelay:    d.Delay,
		StalenessTTL:   d.StalenessTTL,
		DetailMaxItems: d.MaxItems,
		Deadline:       a.cfg.Run.Deadline,
		Topic:          a.cfg.PubSub.Topic,
	}
}

// Pipeline assembles a pipeline over the app's services.
func (a *App) Pipeline() (*pipeline.Pipeline, error) {
	return pipeline.New(a.PipelineConfig(), pipeline.Deps{
		Fetcher:       a.fetcher,
		ListingParser: a.listingParser,
		DetailParser:  a.detailParser,
		Snapshot:      a.snapshot,
		Sinks:         a.sinks,
		Publisher:     a.publisher,
		Clock:         a.clock,
		IDs:           a.ids,
		Logger:        a.logger.Named("pipeline"),
	})
}

// Run executes one harvest and records its summary for the HTTP server.
func (a *App) Run(ctx context.Context) (pipeline.Summary, error) {
	p, err := a.Pipeline()
	if err != nil {
		return pipeline.Summary{}, err
	}
	a.runs.Start()
	summary, err := p.Run(ctx)
	a.runs.Finish(summary)
	return summary, err
}

// ServeHTTP starts the health/metrics server in the background when
// metrics.addr is configured. It stops when ctx ends.
func (a *App) ServeHTTP(ctx context.Context) {
	addr := a.cfg.Metrics.Addr
	if addr == "" {
		return
	}
	srv := api.NewServer(a.runs, a.logger.Named("api"))
	go func() {
		if err := srv.ListenAndServe(ctx, addr); err != nil {
			a.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
}

// Close releases backend clients in reverse construction order and flushes
// the logger.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("error closing service", zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
}
