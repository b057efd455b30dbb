package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
	"github.com/JakeFAU/sitemap-crawler/internal/metrics"
)

// Event is one crawl progress notification as seen by sinks.
type Event struct {
	// CrawlID identifies the crawl that changed.
	CrawlID string
	// TS is when the crawl cache recorded the change.
	TS time.Time
	// Stage is URL_STARTED, URL_DONE or CRAWL_DONE.
	Stage crawler.Stage
	// Site is the host label of URL; empty for CRAWL_DONE.
	Site string
	// URL is the page that started or finished; empty for CRAWL_DONE.
	URL string
	// TotalCrawled counts finished URLs of the crawl at TS.
	TotalCrawled int
	// Done reports whether the crawl has completed.
	Done bool
	// Success is the fetch outcome for URL_DONE events.
	Success bool
}

// FromProgress converts a crawl cache notification.
func FromProgress(p crawler.Progress) Event {
	evt := Event{
		CrawlID:      p.CrawlID,
		TS:           p.At,
		Stage:        p.Stage,
		URL:          p.CurrentURL,
		TotalCrawled: p.TotalCrawled,
		Done:         p.Done,
		Success:      p.Success,
	}
	if p.CurrentURL != "" {
		evt.Site = metrics.SanitizeSite(p.CurrentURL)
	}
	return evt
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.CrawlID == "" {
		return errors.New("crawl id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.TotalCrawled < 0 {
		return errors.New("total crawled must be >= 0")
	}
	switch e.Stage {
	case crawler.StageURLStarted, crawler.StageURLDone:
		if e.URL == "" {
			return fmt.Errorf("%s requires url", e.Stage)
		}
	case crawler.StageCrawlDone:
		if !e.Done {
			return errors.New("crawl done event must be done")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	return nil
}
