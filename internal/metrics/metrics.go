// Package metrics exposes Prometheus collectors for the crawler service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerPagesTotal          *prometheus.CounterVec
	crawlerFetchDuration       *prometheus.HistogramVec
	crawlerLinksEnqueuedTotal  prometheus.Counter
	crawlerWorkerErrorsTotal   *prometheus.CounterVec
	crawlerActiveWorkers       prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once      sync.Once
	gaugeOnce sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of pages crawled, labeled by site and result.",
			},
			[]string{"site", "result"},
		)

		crawlerFetchDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_fetch_duration_seconds",
				Help:    "Histogram of page fetch latencies, labeled by result.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"result"},
		)

		crawlerLinksEnqueuedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_links_enqueued_total",
				Help: "Total number of newly discovered links enqueued for fetching.",
			},
		)

		crawlerWorkerErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_worker_errors_total",
				Help: "Tasks aborted by a crawl state or queue error, labeled by stage.",
			},
			[]string{"stage"},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of workers currently processing a task.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// RegisterStateGauges exposes queue depth and crawl counts read on scrape.
// Only the first call registers.
func RegisterStateGauges(queueDepth, activeCrawls func() float64) {
	gaugeOnce.Do(func() {
		promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "crawler_queue_depth",
			Help: "Tasks buffered in the queue and not yet taken by a worker.",
		}, queueDepth)
		promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "crawler_active_crawls",
			Help: "Crawls that still have pending URLs.",
		}, activeCrawls)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage records one finished URL and how long its fetch took.
func ObservePage(site string, success bool, duration time.Duration) {
	Init()
	result := resultLabel(success)
	crawlerPagesTotal.WithLabelValues(SanitizeSite(site), result).Inc()
	crawlerFetchDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// ObserveLinksEnqueued adds n newly accepted links.
func ObserveLinksEnqueued(n int) {
	Init()
	if n > 0 {
		crawlerLinksEnqueuedTotal.Add(float64(n))
	}
}

// ObserveWorkerError counts a task aborted at the given stage.
func ObserveWorkerError(stage string) {
	Init()
	crawlerWorkerErrorsTotal.WithLabelValues(stage).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	crawlerActiveWorkers.Dec()
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
