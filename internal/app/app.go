// Package app builds and holds the long-lived services behind every command.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/docket-scraper/internal/api"
	"github.com/JakeFAU/docket-scraper/internal/archive"
	"github.com/JakeFAU/docket-scraper/internal/clock/system"
	"github.com/JakeFAU/docket-scraper/internal/config"
	"github.com/JakeFAU/docket-scraper/internal/dispatcher"
	"github.com/JakeFAU/docket-scraper/internal/extract"
	"github.com/JakeFAU/docket-scraper/internal/fetcher"
	collyfetcher "github.com/JakeFAU/docket-scraper/internal/fetcher/colly"
	"github.com/JakeFAU/docket-scraper/internal/id/uuid"
	"github.com/JakeFAU/docket-scraper/internal/metrics"
	"github.com/JakeFAU/docket-scraper/internal/normalize"
	"github.com/JakeFAU/docket-scraper/internal/pipeline"
	"github.com/JakeFAU/docket-scraper/internal/policy/ratelimit"
	gcppublisher "github.com/JakeFAU/docket-scraper/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/docket-scraper/internal/queue/memory"
	"github.com/JakeFAU/docket-scraper/internal/records"
	gcsstorage "github.com/JakeFAU/docket-scraper/internal/storage/gcs"
	localstorage "github.com/JakeFAU/docket-scraper/internal/storage/local"
	memoryStorage "github.com/JakeFAU/docket-scraper/internal/storage/memory"
	pgstore "github.com/JakeFAU/docket-scraper/internal/storage/postgres"
	"github.com/JakeFAU/docket-scraper/internal/telemetry"
	"github.com/JakeFAU/docket-scraper/internal/walker"
	"github.com/JakeFAU/docket-scraper/internal/worker"
)

const (
	shutdownTimeout = 10 * time.Second
	serviceName     = "docket-scraper"
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

// App holds the services shared by the CLI commands and the API server.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	clock   *system.Clock
	sleeper *system.Sleeper

	store        records.Store
	pg           *pgstore.Store
	orchestrator *pipeline.Orchestrator
	detail       *pipeline.DetailService

	queue     *queueMemory.Queue
	dispatch  *dispatcher.Dispatcher
	apiServer *api.Server

	gcsClient    *storage.Client
	pubsubClient *pubsub.Client
	publisher    *gcppublisher.Publisher
	tracer       *sdktrace.TracerProvider
}

// Options tweak Build for commands that need less than the full stack.
type Options struct {
	// SkipMigrate leaves the schema untouched even when db.migrate is set.
	SkipMigrate bool
}

// Build creates every dependency from cfg. On error, anything already opened
// is closed again.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (_ *App, err error) {
	metrics.Init()
	a := &App{
		cfg:     cfg,
		logger:  logger,
		clock:   system.New(),
		sleeper: system.NewSleeper(),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.logger.Info("building application dependencies",
		zap.Int("sources", len(cfg.Sources)),
		zap.String("db_driver", cfg.DB.Driver),
		zap.String("archive_backend", cfg.Archive.Backend),
	)
	if err = a.setupTracing(ctx); err != nil {
		return nil, err
	}
	if err = a.setupStore(ctx, opts); err != nil {
		return nil, err
	}
	blobs, err := a.setupArchive(ctx)
	if err != nil {
		return nil, err
	}
	if err = a.setupPublisher(ctx); err != nil {
		return nil, err
	}
	a.setupPipeline(blobs)
	a.setupServer()
	return a, nil
}

func (a *App) setupTracing(ctx context.Context) error {
	if !a.cfg.Tracing.Enabled {
		return nil
	}
	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: serviceName,
		Version:     Version,
		ProjectID:   a.cfg.Tracing.ProjectID,
		SampleRatio: a.cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("tracing init failed: %w", err)
	}
	a.tracer = tp
	a.logger.Info("tracing enabled", zap.Bool("export", a.cfg.Tracing.ProjectID != ""))
	return nil
}

func (a *App) setupStore(ctx context.Context, opts Options) error {
	switch a.cfg.DB.Driver {
	case "postgres":
		pg, err := pgstore.New(ctx, pgstore.Config{
			DSN:             a.cfg.DB.DSN,
			MaxConns:        a.cfg.DB.MaxConns,
			MinConns:        a.cfg.DB.MinConns,
			MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
		}, a.clock, a.logger)
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		a.pg = pg
		a.store = pg
		if a.cfg.DB.Migrate && !opts.SkipMigrate {
			if err := pg.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
		a.logger.Info("postgres store initialized")
	default:
		a.logger.Warn("using in-memory record store; data is lost on exit")
		a.store = memoryStorage.NewStore(a.clock)
	}
	return nil
}

func (a *App) setupArchive(ctx context.Context) (records.BlobStore, error) {
	switch a.cfg.Archive.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket: a.cfg.Archive.Bucket,
			Prefix: a.cfg.Archive.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("archiving pages to GCS", zap.String("bucket", a.cfg.Archive.Bucket))
		return blobs, nil
	case "local":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("archiving pages locally", zap.String("path", a.cfg.Archive.BaseDir))
		return blobs, nil
	case "memory":
		a.logger.Info("archiving pages in memory")
		return memoryStorage.NewBlobStore(), nil
	default:
		return nil, nil
	}
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.Topic == "" {
		a.logger.Info("run notifications disabled")
		return nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.publisher = gcppublisher.New(client)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.Topic),
	)
	return nil
}

func (a *App) setupPipeline(blobs records.BlobStore) {
	single := collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.Scraper.UserAgent,
		RespectRobots: a.cfg.Scraper.RespectRobots,
		Timeout:       a.cfg.Scraper.Timeout,
	})
	resilient := fetcher.NewResilient(single, fetcher.RetryPolicy{
		MaxAttempts: a.cfg.Scraper.MaxAttempts,
		BaseDelay:   a.cfg.Scraper.BackoffBase,
		MaxDelay:    a.cfg.Scraper.BackoffMax,
	}, a.sleeper)
	pacer := ratelimit.New(ratelimit.Config{
		PageInterval:   a.cfg.Scraper.PageDelay,
		DetailInterval: a.cfg.Scraper.DetailDelay,
		SourceInterval: a.cfg.Scraper.SourceDelay,
	}, a.clock, a.sleeper)
	extractor := extract.New(extract.Config{Columns: a.cfg.ColumnFields()})
	normalizer := normalize.New(normalize.Config{Location: a.cfg.Location()}, a.clock)
	ids := uuid.New()

	var publisher records.Publisher
	if a.publisher != nil {
		publisher = a.publisher
	}

	a.orchestrator = pipeline.New(pipeline.Config{
		Sources: a.cfg.Sources,
		Search: pipeline.SearchConfig{
			URL:       a.cfg.Search.URL,
			NameField: a.cfg.Search.NameField,
			Extra:     a.cfg.Search.Extra,
		},
		Topic: a.cfg.PubSub.Topic,
	}, pipeline.Deps{
		Walker:     walker.New(walker.Config{MaxPages: a.cfg.Scraper.MaxPages}, resilient, pacer),
		Extractor:  extractor,
		Normalizer: normalizer,
		Store:      a.store,
		Pacer:      pacer,
		Archiver:   archive.New(archive.Config{MalformedOnly: a.cfg.Archive.MalformedOnly}, blobs, a.clock),
		Publisher:  publisher,
		IDs:        ids,
		Clock:      a.clock,
		Logger:     a.logger,
	})
	a.detail = pipeline.NewDetailService(pipeline.DetailConfig{
		URLTemplate:  a.cfg.Detail.URLTemplate,
		Cooldown:     a.cfg.Detail.Cooldown,
		MaxAttempts:  a.cfg.Detail.MaxAttempts,
		RefreshAfter: a.cfg.Detail.RefreshAfter,
	}, pipeline.DetailDeps{
		Fetcher:    resilient,
		Extractor:  extractor,
		Normalizer: normalizer,
		Store:      a.store,
		Pacer:      pacer,
		IDs:        ids,
		Clock:      a.clock,
		Logger:     a.logger,
	})
}

func (a *App) setupServer() {
	a.queue = queueMemory.NewQueue(a.cfg.Server.QueueDepth)
	tracker := worker.NewTracker(a.clock, 0)
	// One worker: runs never overlap.
	w := worker.New(a.queue, a.orchestrator, tracker, a.sleeper, worker.Config{}, a.logger)
	a.dispatch = dispatcher.New(a.queue, []*worker.Worker{w}, tracker, uuid.New(), a.clock)
	a.apiServer = api.NewServer(a.cfg, api.Deps{
		Scheduler: a.dispatch,
		Pipeline:  a.orchestrator,
		Detail:    a.detail,
		Store:     a.store,
		Logger:    a.logger,
	})
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Store returns the record store.
func (a *App) Store() records.Store { return a.store }

// Orchestrator returns the scrape orchestrator.
func (a *App) Orchestrator() *pipeline.Orchestrator { return a.orchestrator }

// Detail returns the detail fetch service.
func (a *App) Detail() *pipeline.DetailService { return a.detail }

// Handler returns the control API handler.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// Migrate applies the schema. The in-memory store has nothing to migrate.
func (a *App) Migrate(ctx context.Context) error {
	if a.pg == nil {
		a.logger.Info("db.driver is memory; nothing to migrate")
		return nil
	}
	if err := a.pg.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Serve runs the dispatcher and the HTTP API until ctx ends or a signal
// arrives.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started")
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
		close(serveErr)
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.queue.Close()
	<-dispatchDone
	if err := <-serveErr; err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Close releases every opened backend.
func (a *App) Close() {
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		a.store.Close()
	}
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("trace provider shutdown failed", zap.Error(err))
		}
	}
	a.logger.Info("shutdown complete")
}
