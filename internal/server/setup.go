package server

import (
	"context"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/config"
	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
	"github.com/JakeFAU/sitemap-crawler/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/sitemap-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/sitemap-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/sitemap-crawler/internal/progress"
	progresssinks "github.com/JakeFAU/sitemap-crawler/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/sitemap-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/sitemap-crawler/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/sitemap-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/sitemap-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/sitemap-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/sitemap-crawler/internal/storage/postgres"
	"github.com/JakeFAU/sitemap-crawler/internal/worker"
)

// localTopic names the in-memory completion topic used when Pub/Sub is not configured.
const localTopic = "crawl-completions"

func (a *App) setupStorage(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case config.StorageGCS:
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.Bucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storage = client
		blobStore, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobStore, nil
	case config.StorageLocal:
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.Local.BaseDir))
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobStore, nil
	default:
		a.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.Database.DSN == "" {
		a.logger.Warn("no DSN specified for database, crawl audit trail disabled")
		return nil
	}
	auditStore, err := pgstore.NewAuditStore(ctx, pgstore.Config{
		DSN:      a.cfg.Database.DSN,
		MaxConns: a.cfg.Database.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("audit store init failed: %w", err)
	}
	a.auditStore = auditStore
	a.logger.Info("audit store initialized")
	return nil
}

func (a *App) setupPublisher(ctx context.Context) (crawler.Publisher, string, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("no Pub/Sub topic configured, using in-memory publisher", zap.String("topic", localTopic))
		return memorypublisher.New(), localTopic, nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, "", fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.pubsubPublisher = client.Publisher(a.cfg.PubSub.TopicName)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return gcppublisher.New(a.pubsubPublisher), a.cfg.PubSub.TopicName, nil
}

func (a *App) setupProgress(ctx context.Context) error {
	if !a.cfg.Progress.Enabled {
		a.logger.Info("progress tracking disabled")
		return nil
	}

	blobStore, err := a.setupStorage(ctx)
	if err != nil {
		return err
	}
	if err := a.setupDatabase(ctx); err != nil {
		return err
	}
	publisher, topic, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}

	sinkList := []progress.Sink{
		progresssinks.NewSitemapSink(blobStore, a.cache, a.cfg.Storage.Prefix, a.logger.Named("progress_sitemap")),
		progresssinks.NewPublisherSink(publisher, topic, a.logger.Named("progress_publisher")),
	}
	promSink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	var already prometheus.AlreadyRegisteredError
	switch {
	case err == nil:
		sinkList = append(sinkList, promSink)
	case errors.As(err, &already):
		a.logger.Warn("progress metrics already registered, skipping prometheus sink")
	default:
		return fmt.Errorf("prometheus sink init failed: %w", err)
	}
	if a.auditStore != nil {
		sinkList = append(sinkList, progresssinks.NewStoreSink(a.auditStore, a.logger.Named("progress_store")))
		a.logger.Debug("added progress store sink")
	}
	if a.cfg.Progress.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
		a.logger.Debug("added progress log sink")
	}

	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.Batch.MaxEvents,
		MaxBatchWait:   a.cfg.BatchWait(),
		SinkTimeout:    a.cfg.SinkTimeout(),
		Logger:         a.logger.Named("progress_hub"),
	}
	a.progressHub = progress.NewHub(hubCfg, sinkList...)
	a.progressSub = progress.Forward(a.cache, a.progressHub)
	a.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Duration("sink_timeout", hubCfg.SinkTimeout),
	)
	return nil
}

func (a *App) setupFetcher() (crawler.Fetcher, error) {
	if a.cfg.Crawler.Fetcher == config.FetcherHeadless {
		fetcher, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         a.cfg.Crawler.UserAgent,
			NavigationTimeout: a.cfg.NavigationTimeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		a.fetcherClose = fetcher.Close
		a.logger.Info("using headless fetcher", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
		return fetcher, nil
	}
	a.logger.Info("using colly fetcher", zap.String("user_agent", a.cfg.Crawler.UserAgent))
	return collyfetcher.New(collyfetcher.Config{
		UserAgent: a.cfg.Crawler.UserAgent,
		Timeout:   a.cfg.FetchTimeout(),
	}), nil
}

func (a *App) setupDispatcher(context.Context) error {
	fetcher, err := a.setupFetcher()
	if err != nil {
		return err
	}
	workerCfg := worker.Config{FetchTimeout: a.cfg.FetchTimeout()}
	a.logger.Info("worker config",
		zap.Int("workers", a.cfg.Crawler.Concurrency),
		zap.Duration("fetch_timeout", workerCfg.FetchTimeout),
	)

	workers := make([]dispatcher.Runner, 0, a.cfg.Crawler.Concurrency)
	for i := 0; i < a.cfg.Crawler.Concurrency; i++ {
		workers = append(workers, worker.New(
			a.queue,
			a.cache,
			fetcher,
			workerCfg,
			a.logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	a.dispatch = dispatcher.New(workers)
	return nil
}
