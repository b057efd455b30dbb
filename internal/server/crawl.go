package server

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

const resultsPageSize = 100

// CrawlReport is the outcome of a one-shot crawl.
type CrawlReport struct {
	Crawl   crawler.Crawl         `json:"crawl"`
	Results []crawler.CrawlResult `json:"results"`
}

// Crawl runs the workers until the crawl seeded at rawURL completes and
// returns every result in finish order. The HTTP server is not started.
func (a *App) Crawl(ctx context.Context, rawURL string) (CrawlReport, error) {
	baseURL, _, err := crawler.ParseBaseURL(rawURL)
	if err != nil {
		return CrawlReport{}, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		a.dispatch.Run(runCtx)
	}()
	defer func() {
		cancel()
		<-stopped
	}()

	waiter := newCompletionWaiter()
	sub := a.cache.OnProgress(waiter.observe)
	defer a.cache.OffProgress(sub)

	crawl, err := a.cache.StartCrawl(ctx, baseURL)
	if err != nil {
		return CrawlReport{}, fmt.Errorf("start crawl: %w", err)
	}
	a.logger.Info("crawl started", zap.String("crawl_id", crawl.ID), zap.String("base_url", crawl.BaseURL))

	select {
	case <-waiter.wait(crawl.ID):
	case <-ctx.Done():
		return CrawlReport{}, fmt.Errorf("wait for crawl %s: %w", crawl.ID, ctx.Err())
	}

	view, err := a.cache.FindByID(crawl.ID)
	if err != nil {
		return CrawlReport{}, fmt.Errorf("load crawl: %w", err)
	}
	results, err := a.allResults(crawl.ID)
	if err != nil {
		return CrawlReport{}, err
	}
	return CrawlReport{Crawl: view, Results: results}, nil
}

func (a *App) allResults(crawlID string) ([]crawler.CrawlResult, error) {
	var all []crawler.CrawlResult
	for skip := 0; ; skip += resultsPageSize {
		page, err := a.cache.CrawlResults(crawlID, resultsPageSize, skip)
		if err != nil {
			return nil, fmt.Errorf("load results: %w", err)
		}
		all = append(all, page...)
		if len(page) < resultsPageSize {
			return all, nil
		}
	}
}

// completionWaiter remembers finished crawls so a CRAWL_DONE that lands
// before the caller knows the crawl id is not missed.
type completionWaiter struct {
	mu       sync.Mutex
	finished map[string]bool
	waiting  map[string]chan struct{}
}

func newCompletionWaiter() *completionWaiter {
	return &completionWaiter{
		finished: make(map[string]bool),
		waiting:  make(map[string]chan struct{}),
	}
}

func (w *completionWaiter) observe(p crawler.Progress) {
	if p.Stage != crawler.StageCrawlDone {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.finished[p.CrawlID] = true
	if ch, ok := w.waiting[p.CrawlID]; ok {
		close(ch)
		delete(w.waiting, p.CrawlID)
	}
}

func (w *completionWaiter) wait(crawlID string) <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch := make(chan struct{})
	if w.finished[crawlID] {
		close(ch)
		return ch
	}
	w.waiting[crawlID] = ch
	return ch
}
