package crawler

import "errors"

var (
	// ErrUnknownCrawl is returned for crawl ids with no record.
	ErrUnknownCrawl = errors.New("unknown crawl")
	// ErrURLNotPending is returned when a start or done notification names a
	// URL that is not currently pending for the crawl.
	ErrURLNotPending = errors.New("url not pending")
	// ErrInvalidURL is returned when a base URL cannot be parsed or has no host.
	ErrInvalidURL = errors.New("invalid url")
	// ErrQueueClosed is returned by a queue after shutdown.
	ErrQueueClosed = errors.New("queue closed")
)
