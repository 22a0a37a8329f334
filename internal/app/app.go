// Package app builds the crawl's long-lived services from configuration and
// runs a single crawl with them.
package app

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/snp-citation-crawler/internal/api"
	"github.com/JakeFAU/snp-citation-crawler/internal/backlog"
	"github.com/JakeFAU/snp-citation-crawler/internal/citation"
	"github.com/JakeFAU/snp-citation-crawler/internal/clock/system"
	"github.com/JakeFAU/snp-citation-crawler/internal/config"
	"github.com/JakeFAU/snp-citation-crawler/internal/dispatcher"
	"github.com/JakeFAU/snp-citation-crawler/internal/extract"
	collyfetcher "github.com/JakeFAU/snp-citation-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/snp-citation-crawler/internal/id/uuid"
	"github.com/JakeFAU/snp-citation-crawler/internal/ledger"
	"github.com/JakeFAU/snp-citation-crawler/internal/policy/ratelimit"
	gcppublisher "github.com/JakeFAU/snp-citation-crawler/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/snp-citation-crawler/internal/storage/gcs"
	pgstore "github.com/JakeFAU/snp-citation-crawler/internal/storage/postgres"
	"github.com/JakeFAU/snp-citation-crawler/internal/worker"
)

// App contains the dependencies of one crawl run.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	runID  string

	backlog  []citation.Identifier
	writer   *ledger.Writer
	dispatch *dispatcher.Dispatcher

	progress  *api.Progress
	apiServer *api.Server

	citations *pgstore.CitationStore
	gcsClient *storage.Client
	reports   *gcsstorage.ReportStore
	publisher *gcppublisher.Publisher
}

// Build creates the application's dependencies. Ledger corruption and an
// unreadable backlog are fatal; so is a configured mirror that cannot connect.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	runID, err := uuid.New().NewID()
	if err != nil {
		return nil, err
	}
	app := &App{
		cfg:    cfg,
		logger: logger.With(zap.String("run_id", runID)),
		runID:  runID,
	}

	app.backlog, err = backlog.ReadFile(cfg.Input.Path)
	if err != nil {
		return nil, err
	}
	stored, err := ledger.LoadFile(cfg.Output.Path)
	if err != nil {
		return nil, err
	}
	app.logger.Info("ledger loaded",
		zap.String("path", cfg.Output.Path),
		zap.Int("identifiers", len(stored)),
	)

	if err := app.setupDatabase(ctx); err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	if err := app.setupStorage(ctx); err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	if err := app.setupPublisher(ctx); err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	app.writer, err = ledger.OpenWriter(cfg.Output.Path, ledger.WriterOptions{Header: cfg.Output.WriteHeader})
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	if cfg.Metrics.ListenAddr != "" {
		app.progress = api.NewProgress(runID, system.New())
		app.apiServer = api.NewServer(app.progress, app.logger.Named("api"))
	}

	app.dispatch = app.setupDispatcher(stored)
	return app, nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.Postgres.DSN == "" {
		a.logger.Debug("no postgres dsn configured, skipping mirror")
		return nil
	}
	store, err := pgstore.New(ctx, pgstore.Config{
		DSN:   a.cfg.Postgres.DSN,
		Table: a.cfg.Postgres.Table,
		RunID: a.runID,
	})
	if err != nil {
		return fmt.Errorf("postgres mirror init failed: %w", err)
	}
	a.citations = store
	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("postgres mirror init failed: %w", err)
	}
	a.logger.Info("postgres mirror initialized", zap.String("table", a.cfg.Postgres.Table))
	return nil
}

func (a *App) setupStorage(ctx context.Context) error {
	if a.cfg.GCS.Bucket == "" {
		return nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("gcs client init failed: %w", err)
	}
	a.gcsClient = client
	a.reports, err = gcsstorage.New(client, gcsstorage.Config{
		Bucket: a.cfg.GCS.Bucket,
		Object: a.cfg.GCS.Object,
	})
	if err != nil {
		return fmt.Errorf("gcs report store init failed: %w", err)
	}
	a.logger.Info("report upload enabled",
		zap.String("bucket", a.cfg.GCS.Bucket),
		zap.String("object", a.cfg.GCS.Object),
	)
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.Topic == "" {
		return nil
	}
	p, err := gcppublisher.New(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.Topic)
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.publisher = p
	a.logger.Info("run summary publishing enabled",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.Topic),
	)
	return nil
}

func (a *App) setupDispatcher(stored citation.Ledger) *dispatcher.Dispatcher {
	clock := system.New()

	var limiter collyfetcher.Waiter
	if a.cfg.Fetch.MaxRequestsPerSecond > 0 {
		limiter = ratelimit.New(ratelimit.Config{RPS: a.cfg.Fetch.MaxRequestsPerSecond})
		a.logger.Info("rate limiter enabled", zap.Float64("rps", a.cfg.Fetch.MaxRequestsPerSecond))
	}
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:      a.cfg.Fetch.UserAgent,
		RequestTimeout: a.cfg.Fetch.RequestTimeout,
		MaxAttempts:    a.cfg.Fetch.MaxAttempts,
		Limiter:        limiter,
		Logger:         a.logger.Named("fetcher"),
	})
	extractor := extract.New(a.logger.Named("extract"))

	workerCfg := worker.Config{
		BaseURL: a.cfg.Fetch.BaseURL,
		Delay:   a.cfg.Crawl.Delay,
	}
	workers := make([]*worker.Worker, 0, a.cfg.Crawl.Concurrency)
	for i := 0; i < a.cfg.Crawl.Concurrency; i++ {
		workers = append(workers, worker.New(
			fetcher,
			extractor,
			stored,
			clock,
			workerCfg,
			a.logger.Named("worker").With(zap.Int("index", i)),
		))
	}

	a.logger.Info("worker pool configured",
		zap.Int("workers", len(workers)),
		zap.Duration("delay", a.cfg.Crawl.Delay),
		zap.Int("drain_every", a.cfg.DrainEvery()),
	)

	opts := dispatcher.Options{
		Ledger:          stored,
		Sink:            a.writer,
		Clock:           clock,
		RunID:           a.runID,
		DrainMultiplier: a.cfg.Crawl.DrainMultiplier,
		Logger:          a.logger.Named("dispatcher"),
	}
	if a.citations != nil {
		opts.Mirrors = append(opts.Mirrors, a.citations)
	}
	if a.progress != nil {
		opts.OnOutcome = a.progress.Observe
	}
	return dispatcher.New(workers, opts)
}

// Run executes the crawl and then the optional post-run steps. An
// interrupted run still drains, uploads and publishes what it completed.
func (a *App) Run(ctx context.Context) (citation.Summary, error) {
	if a.apiServer != nil {
		serverCtx, stopServer := context.WithCancel(ctx)
		defer stopServer()
		go func() {
			if err := a.apiServer.ListenAndServe(serverCtx, a.cfg.Metrics.ListenAddr); err != nil {
				a.logger.Warn("admin server stopped", zap.Error(err))
			}
		}()
	}

	summary, err := a.dispatch.Run(ctx, a.backlog)
	if err != nil && !errors.Is(err, context.Canceled) {
		return summary, err
	}
	a.logger.Info("run summary",
		zap.Int("backlog", summary.Backlog),
		zap.Int("skipped", summary.Skipped),
		zap.Int("submitted", summary.Submitted),
		zap.Int("resolved", summary.Resolved),
		zap.Int("empty", summary.Empty),
		zap.Int("failed", summary.Failed),
		zap.Int("rows", summary.Rows),
	)
	a.finish(context.WithoutCancel(ctx), summary)
	return summary, err
}

func (a *App) finish(ctx context.Context, summary citation.Summary) {
	if a.citations != nil {
		if err := a.citations.RecordRun(ctx, summary); err != nil {
			a.logger.Warn("recording run failed", zap.Error(err))
		}
	}
	if a.reports != nil {
		uri, err := a.reports.Upload(ctx, a.cfg.Output.Path)
		if err != nil {
			a.logger.Warn("report upload failed", zap.Error(err))
		} else {
			a.logger.Info("report uploaded", zap.String("uri", uri))
		}
	}
	if a.publisher != nil {
		id, err := a.publisher.PublishSummary(ctx, summary)
		if err != nil {
			a.logger.Warn("summary publish failed", zap.Error(err))
		} else {
			a.logger.Info("summary published", zap.String("message_id", id))
		}
	}
}

// Close flushes the result store and releases every client.
func (a *App) Close() error {
	var err error
	if a.writer != nil {
		err = a.writer.Close()
	}
	a.closeInfrastructure()
	return err
}

func (a *App) closeInfrastructure() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.citations != nil {
		a.citations.Close()
	}
}
