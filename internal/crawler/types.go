package crawler

import "time"

// Crawl is the public view of a crawl record.
type Crawl struct {
	ID           string     `json:"id"`
	BaseURL      string     `json:"base_url"`
	Domain       string     `json:"domain"`
	Done         bool       `json:"done"`
	TotalCrawled int        `json:"total_crawled"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// CrawlResult is the outcome of one finished URL, kept in finish order.
type CrawlResult struct {
	URL     string `json:"url"`
	Success bool   `json:"success"`
}

// Task is a unit of fetch work consumed by exactly one worker.
type Task struct {
	URL     string
	CrawlID string
	Domain  string
}

// Stage identifies which state change produced a Progress event.
type Stage string

// Progress stages emitted by the crawl cache.
const (
	StageURLStarted Stage = "URL_STARTED"
	StageURLDone    Stage = "URL_DONE"
	StageCrawlDone  Stage = "CRAWL_DONE"
)

// Progress is delivered to observers on every start and finish notification.
// CRAWL_DONE events carry no URL and always have Done set.
type Progress struct {
	CrawlID      string    `json:"crawl_id"`
	Stage        Stage     `json:"stage"`
	CurrentURL   string    `json:"current_url,omitempty"`
	TotalCrawled int       `json:"total_crawled"`
	Done         bool      `json:"done"`
	Success      bool      `json:"success"`
	At           time.Time `json:"at"`
}

// FetchResult is what a Fetcher reports for one URL. Failures are data:
// Success is false, Error describes the cause, and Children is empty.
type FetchResult struct {
	Success  bool
	URL      string
	Children []string
	Error    string
}

// CacheStats summarizes the crawl cache for readiness and metrics.
type CacheStats struct {
	Crawls int `json:"crawls"`
	Active int `json:"active"`
}
