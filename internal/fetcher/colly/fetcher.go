// Package collyfetcher implements Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnHTML(string, colly.HTMLCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// page accumulates what the hooks observe during one visit.
type page struct {
	finalURL string
	hrefs    []string
	err      error
}

// New builds a Fetcher. Revisits are allowed because deduplication belongs
// to the crawl cache, and robots.txt is not consulted.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Fetch GETs url and returns its same-domain links resolved against the
// final (post-redirect) URL. Failures are reported in the result.
func (f *Fetcher) Fetch(ctx context.Context, url string, domain string) crawler.FetchResult {
	collector, pg := f.buildCollector()
	if err := f.runCollector(ctx, collector, url, pg); err != nil {
		return crawler.FetchResult{URL: url, Error: err.Error()}
	}

	base := pg.finalURL
	if base == "" {
		base = url
	}
	return crawler.FetchResult{
		Success:  true,
		URL:      url,
		Children: crawler.FilterAndNormalizeHrefs(pg.hrefs, domain, base),
	}
}

func (f *Fetcher) buildCollector() (*colly.Collector, *page) {
	collector := f.baseCollector.Clone()
	pg := &page{}
	f.configureCollectorHooks(collector, pg)
	return collector, pg
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, pg *page) {
	hooks.OnResponse(func(r *colly.Response) {
		pg.finalURL = r.Request.URL.String()
	})

	hooks.OnHTML("a[href]", func(e *colly.HTMLElement) {
		pg.hrefs = append(pg.hrefs, e.Attr("href"))
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			pg.err = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		pg.err = err
	})
}

// runCollector visits url with ctx bound to the HTTP request, so
// cancellation aborts the transfer instead of waiting for the request timeout.
func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, pg *page) error {
	collector.Context = ctx
	err := collector.Visit(url)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("colly fetch canceled: %w", ctxErr)
	}
	if pg.err != nil {
		return fmt.Errorf("colly response failed: %w", pg.err)
	}
	if err != nil {
		return fmt.Errorf("colly visit failed: %w", err)
	}
	return nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
