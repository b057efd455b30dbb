package crawler

import (
	"context"
	"io"
	"time"
)

// Queue sequences fetch tasks between producers and workers.
type Queue interface {
	Enqueue(task Task) error
	Dequeue(ctx context.Context) (Task, error)
}

// Fetcher retrieves a page and reports its same-domain links. It never
// returns an error; failures are reported through FetchResult.
type Fetcher interface {
	Fetch(ctx context.Context, url string, domain string) FetchResult
}

// SubscriptionID identifies a registered progress callback.
type SubscriptionID uint64

// ProgressFunc receives every progress event of every crawl.
type ProgressFunc func(Progress)

// CrawlCache owns crawl state: dedup, completion detection, and progress.
type CrawlCache interface {
	StartCrawl(ctx context.Context, baseURL string) (Crawl, error)
	// VisitIfPossible marks an unseen url pending and reports true. It reports
	// false for pending or crawled URLs, and for any URL once the crawl is
	// done, so completion never reverts.
	VisitIfPossible(crawlID string, url string) (bool, error)
	NotifyURLStarted(crawlID string, url string) error
	NotifyURLDone(crawlID string, url string, success bool) error
	FindByID(crawlID string) (Crawl, error)
	CrawlResults(crawlID string, take int, skip int) ([]CrawlResult, error)
	OnProgress(fn ProgressFunc) SubscriptionID
	OffProgress(id SubscriptionID)
	Stats() CacheStats
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces crawl IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
