package sinks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
	"github.com/JakeFAU/sitemap-crawler/internal/progress"
)

// PrometheusSink exports crawl progress metrics via Prometheus. It owns the
// crawl-level collectors; per-fetch latency lives in the metrics package.
type PrometheusSink struct {
	crawlsStarted   prometheus.Counter
	crawlsCompleted prometheus.Counter
	crawlsRunning   prometheus.Gauge
	crawlRuntime    prometheus.Histogram
	crawlSize       prometheus.Histogram

	urlsStarted  *prometheus.CounterVec
	urlsFinished *prometheus.CounterVec

	tracker *crawlTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		crawlsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_crawls_started_total",
			Help: "Crawls observed starting their first URL.",
		}),
		crawlsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_crawls_completed_total",
			Help: "Crawls that reached CRAWL_DONE.",
		}),
		crawlsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_crawls_running",
			Help: "Crawls started but not yet done.",
		}),
		crawlRuntime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crawler_crawl_runtime_seconds",
			Help:    "Wall time from first URL start to CRAWL_DONE.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		crawlSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crawler_crawl_size_urls",
			Help:    "Distinct URLs crawled per completed crawl.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
		urlsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_urls_started_total",
			Help: "URL_STARTED events partitioned by site.",
		}, []string{"site"}),
		urlsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_urls_finished_total",
			Help: "URL_DONE events partitioned by site and result.",
		}, []string{"site", "result"}),
		tracker: newCrawlTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.crawlsStarted,
		s.crawlsCompleted,
		s.crawlsRunning,
		s.crawlRuntime,
		s.crawlSize,
		s.urlsStarted,
		s.urlsFinished,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	site := evt.Site
	if site == "" {
		site = "unknown"
	}
	switch evt.Stage {
	case crawler.StageURLStarted:
		if s.tracker.start(evt.CrawlID, evt.TS) {
			s.crawlsStarted.Inc()
			s.crawlsRunning.Inc()
		}
		s.urlsStarted.WithLabelValues(site).Inc()
	case crawler.StageURLDone:
		result := "failure"
		if evt.Success {
			result = "success"
		}
		s.urlsFinished.WithLabelValues(site, result).Inc()
	case crawler.StageCrawlDone:
		s.crawlsCompleted.Inc()
		s.crawlSize.Observe(float64(evt.TotalCrawled))
		if startedAt, ok := s.tracker.complete(evt.CrawlID); ok {
			s.crawlsRunning.Dec()
			if d := evt.TS.Sub(startedAt); d >= 0 {
				s.crawlRuntime.Observe(d.Seconds())
			}
		}
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type crawlTracker struct {
	mu      sync.Mutex
	running map[string]time.Time
}

func newCrawlTracker() *crawlTracker {
	return &crawlTracker{running: make(map[string]time.Time)}
}

func (t *crawlTracker) start(id string, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = at
	return true
}

func (t *crawlTracker) complete(id string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.running[id]
	if ok {
		delete(t.running, id)
	}
	return at, ok
}
