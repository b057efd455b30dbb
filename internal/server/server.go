// Package server provides the core application server and dependency wiring.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/sitemap-crawler/internal/api"
	"github.com/JakeFAU/sitemap-crawler/internal/clock/system"
	"github.com/JakeFAU/sitemap-crawler/internal/config"
	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
	"github.com/JakeFAU/sitemap-crawler/internal/dispatcher"
	"github.com/JakeFAU/sitemap-crawler/internal/id/uuid"
	"github.com/JakeFAU/sitemap-crawler/internal/logging"
	"github.com/JakeFAU/sitemap-crawler/internal/metrics"
	"github.com/JakeFAU/sitemap-crawler/internal/progress"
	queuemem "github.com/JakeFAU/sitemap-crawler/internal/queue/memory"
	storemem "github.com/JakeFAU/sitemap-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/sitemap-crawler/internal/storage/postgres"
)

// App contains the application's dependencies.
type App struct {
	cfg             *config.Config
	logger          *zap.Logger
	apiServer       *api.Server
	dispatch        *dispatcher.Dispatcher
	queue           *queuemem.Queue
	cache           *storemem.CrawlStore
	progressHub     *progress.Hub
	progressSub     crawler.SubscriptionID
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	storage         *storage.Client
	auditStore      *pgstore.AuditStore
	fetcherClose    func()
}

// Build creates the application's dependencies. The returned App owns every
// client it opened; call Close (or Run, which closes on exit) to release them.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return build(ctx, cfg, logger)
}

func build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{cfg: cfg, logger: logger}
	app.logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("fetcher", cfg.Crawler.Fetcher),
		zap.Int("concurrency", cfg.Crawler.Concurrency),
		zap.String("storage_backend", cfg.Storage.Backend),
	)

	app.queue = queuemem.NewQueue()
	app.cache = storemem.NewCrawlStore(app.queue, uuid.New(), system.New())
	metrics.RegisterStateGauges(
		func() float64 { return float64(app.queue.Len()) },
		func() float64 { return float64(app.cache.Stats().Active) },
	)

	steps := []func(context.Context) error{
		app.setupProgress,
		app.setupDispatcher,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			_ = app.closeInfrastructure(context.Background())
			return nil, err
		}
	}

	app.apiServer = api.NewServer(app.cache, *cfg, logger.Named("api"))
	return app, nil
}

// Handler exposes the HTTP API, mainly for tests and embedding.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Cache returns the crawl state cache shared by the API and the workers.
func (a *App) Cache() crawler.CrawlCache {
	return a.cache
}

// Run starts the workers and the HTTP server and blocks until ctx is canceled,
// a termination signal arrives, or the server fails. It closes the App before
// returning.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		// Request contexts end with the run so progress streams release on shutdown.
		BaseContext: func(net.Listener) context.Context { return gctx },
	}

	g.Go(func() error {
		a.logger.Info("dispatcher started", zap.Int("workers", a.dispatch.Size()))
		a.dispatch.Run(gctx)
		a.logger.Info("dispatcher stopped")
		return nil
	})
	g.Go(func() error {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	runErr := g.Wait()
	closeCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()
	return errors.Join(runErr, a.Close(closeCtx))
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	a.queue.Close()
	err := a.closeInfrastructure(ctx)
	if syncErr := a.logger.Sync(); syncErr != nil {
		a.logger.Debug("logger sync failed", zap.Error(syncErr))
	}
	a.logger.Info("shutdown complete")
	return err
}

func (a *App) closeInfrastructure(ctx context.Context) error {
	var errs []error
	if a.progressHub != nil {
		a.cache.OffProgress(a.progressSub)
		if err := a.progressHub.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		a.progressHub = nil
	}
	if a.fetcherClose != nil {
		a.fetcherClose()
		a.fetcherClose = nil
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
		a.pubsubPublisher = nil
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("pubsub client close: %w", err))
		}
		a.pubsubClient = nil
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("gcs client close: %w", err))
		}
		a.storage = nil
	}
	if a.auditStore != nil {
		a.auditStore.Close()
		a.auditStore = nil
	}
	for _, err := range errs {
		a.logger.Warn("shutdown step failed", zap.Error(err))
	}
	return errors.Join(errs...)
}

func (a *App) shutdownTimeout() time.Duration {
	if d := a.cfg.ShutdownTimeout(); d > 0 {
		return d
	}
	return 10 * time.Second
}
