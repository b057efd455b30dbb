package sinks

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
	"github.com/JakeFAU/sitemap-crawler/internal/progress"
)

const sitemapNamespace = "http://www.sitemaps.org/schemas/sitemap/0.9"

type urlSet struct {
	XMLName xml.Name     `xml:"urlset"`
	Xmlns   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc string `xml:"loc"`
}

// ResultReader pages the finished URLs of a crawl in finish order.
// crawler.CrawlCache satisfies it.
type ResultReader interface {
	CrawlResults(crawlID string, take int, skip int) ([]crawler.CrawlResult, error)
}

const resultPageSize = 500

// SitemapSink writes, on CRAWL_DONE, the successfully crawled URLs of the
// crawl as a sitemap to <prefix>/<crawl_id>.xml. URLs are read from the crawl
// cache rather than from the event stream, which may drop per-URL events
// under backpressure.
type SitemapSink struct {
	blobs   crawler.BlobStore
	results ResultReader
	prefix  string
	logger  *zap.Logger
}

// NewSitemapSink constructs a SitemapSink writing under prefix.
func NewSitemapSink(blobs crawler.BlobStore, results ResultReader, prefix string, logger *zap.Logger) *SitemapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SitemapSink{
		blobs:   blobs,
		results: results,
		prefix:  strings.Trim(prefix, "/"),
		logger:  logger,
	}
}

// Consume writes a sitemap for every finished crawl in the batch.
func (s *SitemapSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.blobs == nil || s.results == nil {
		return nil
	}
	var errs []error
	for _, evt := range batch {
		if evt.Stage != crawler.StageCrawlDone {
			continue
		}
		urls, err := s.successfulURLs(evt.CrawlID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := s.write(ctx, evt.CrawlID, urls); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *SitemapSink) successfulURLs(crawlID string) ([]string, error) {
	var urls []string
	for skip := 0; ; skip += resultPageSize {
		page, err := s.results.CrawlResults(crawlID, resultPageSize, skip)
		if err != nil {
			return nil, fmt.Errorf("read results %s: %w", crawlID, err)
		}
		for _, r := range page {
			if r.Success {
				urls = append(urls, r.URL)
			}
		}
		if len(page) < resultPageSize {
			return urls, nil
		}
	}
}

// ObjectPath returns where the sitemap of crawlID is stored.
func (s *SitemapSink) ObjectPath(crawlID string) string {
	return path.Join(s.prefix, crawlID+".xml")
}

func (s *SitemapSink) write(ctx context.Context, crawlID string, urls []string) error {
	body, err := EncodeSitemap(urls)
	if err != nil {
		return fmt.Errorf("encode sitemap %s: %w", crawlID, err)
	}
	uri, err := s.blobs.PutObject(ctx, s.ObjectPath(crawlID), "application/xml", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("store sitemap %s: %w", crawlID, err)
	}
	s.logger.Info("sitemap written",
		zap.String("crawl_id", crawlID),
		zap.String("uri", uri),
		zap.Int("urls", len(urls)),
	)
	return nil
}

// Close is a no-op; sitemaps are written as crawls finish.
func (s *SitemapSink) Close(context.Context) error {
	return nil
}

// EncodeSitemap renders urls, sorted, as a sitemaps.org urlset.
func EncodeSitemap(urls []string) ([]byte, error) {
	sorted := append([]string(nil), urls...)
	sort.Strings(sorted)
	set := urlSet{Xmlns: sitemapNamespace, URLs: make([]sitemapURL, 0, len(sorted))}
	for _, u := range sorted {
		set.URLs = append(set.URLs, sitemapURL{Loc: u})
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(set); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
