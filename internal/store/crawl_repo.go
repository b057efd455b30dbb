package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CrawlRunStatus mirrors the crawl_runs status column.
type CrawlRunStatus string

// Crawl run statuses persisted in crawl_runs.status.
const (
	RunRunning CrawlRunStatus = "running"
	RunDone    CrawlRunStatus = "done"
)

// URLEvent is one finished URL, stored in crawl_url_events.
type URLEvent struct {
	CrawlID    uuid.UUID
	URL        string
	Success    bool
	FinishedAt time.Time
}

// CrawlRepository records crawl history. It is write-only: live crawl state
// is always served from the in-memory cache.
type CrawlRepository interface {
	// UpsertCrawlStart inserts the run if it is not recorded yet.
	UpsertCrawlStart(ctx context.Context, crawlID uuid.UUID, site string, startedAt time.Time) error
	// RecordURLEvents appends finished URLs.
	RecordURLEvents(ctx context.Context, events []URLEvent) error
	// CompleteCrawl marks the run done with its final URL count.
	CompleteCrawl(ctx context.Context, crawlID uuid.UUID, finishedAt time.Time, totalCrawled int) error
}
