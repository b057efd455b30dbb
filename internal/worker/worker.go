// Package worker implements the crawl loop that binds fetching to crawl state.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
	"github.com/JakeFAU/sitemap-crawler/internal/metrics"
)

// Config controls Worker behavior.
type Config struct {
	// FetchTimeout bounds a single fetch. Zero means no timeout.
	FetchTimeout time.Duration
}

// Worker consumes tasks and feeds discovered links back into the queue.
type Worker struct {
	queue   crawler.Queue
	cache   crawler.CrawlCache
	fetcher crawler.Fetcher
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Worker.
func New(
	queue crawler.Queue,
	cache crawler.CrawlCache,
	fetcher crawler.Fetcher,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:   queue,
		cache:   cache,
		fetcher: fetcher,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run blocks, consuming tasks until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued task", zap.String("crawl_id", task.CrawlID), zap.String("url", task.URL))

		if err := w.Process(ctx, task); err != nil {
			w.logger.Error("task aborted",
				zap.String("crawl_id", task.CrawlID),
				zap.String("url", task.URL),
				zap.Error(err),
			)
		}
	}
}

// Process runs one task: start, fetch, expand the frontier, finish. Fetch
// failures are recorded as unsuccessful results; only crawl state or queue
// errors are returned.
func (w *Worker) Process(ctx context.Context, task crawler.Task) error {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	if err := w.cache.NotifyURLStarted(task.CrawlID, task.URL); err != nil {
		metrics.ObserveWorkerError("started")
		return fmt.Errorf("notify started: %w", err)
	}

	start := time.Now()
	result := w.fetch(ctx, task)
	metrics.ObservePage(task.Domain, result.Success, time.Since(start))
	if !result.Success {
		w.logger.Info("fetch failed",
			zap.String("crawl_id", task.CrawlID),
			zap.String("url", task.URL),
			zap.String("reason", result.Error),
		)
	}

	if result.Success {
		if err := w.expand(task, result.Children); err != nil {
			return err
		}
	}

	if err := w.cache.NotifyURLDone(task.CrawlID, task.URL, result.Success); err != nil {
		metrics.ObserveWorkerError("done")
		return fmt.Errorf("notify done: %w", err)
	}
	return nil
}

func (w *Worker) fetch(ctx context.Context, task crawler.Task) crawler.FetchResult {
	fetchCtx := ctx
	if w.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, w.cfg.FetchTimeout)
		defer cancel()
	}
	return w.fetcher.Fetch(fetchCtx, task.URL, task.Domain)
}

func (w *Worker) expand(task crawler.Task, children []string) error {
	accepted := 0
	for _, child := range children {
		ok, err := w.cache.VisitIfPossible(task.CrawlID, child)
		if err != nil {
			metrics.ObserveWorkerError("visit")
			return fmt.Errorf("visit %s: %w", child, err)
		}
		if !ok {
			continue
		}
		next := crawler.Task{URL: child, CrawlID: task.CrawlID, Domain: task.Domain}
		if err := w.queue.Enqueue(next); err != nil {
			metrics.ObserveWorkerError("enqueue")
			return fmt.Errorf("enqueue %s: %w", child, err)
		}
		accepted++
	}
	metrics.ObserveLinksEnqueued(accepted)
	w.logger.Debug("frontier expanded",
		zap.String("crawl_id", task.CrawlID),
		zap.String("url", task.URL),
		zap.Int("children", len(children)),
		zap.Int("accepted", accepted),
	)
	return nil
}
