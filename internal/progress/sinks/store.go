package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
	"github.com/JakeFAU/sitemap-crawler/internal/progress"
	"github.com/JakeFAU/sitemap-crawler/internal/store"
)

// StoreSink writes the crawl audit trail through a store.CrawlRepository.
// Each batch becomes at most one start upsert per crawl, one bulk insert of
// finished URLs, and one completion per finished crawl, in that order.
type StoreSink struct {
	repo   store.CrawlRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.CrawlRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

type crawlMark struct {
	id    uuid.UUID
	site  string
	at    time.Time
	total int
}

// Consume persists the batch. It returns the first repository error.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	var (
		starts   []crawlMark
		seen     = make(map[uuid.UUID]struct{})
		urls     []store.URLEvent
		finished []crawlMark
	)
	for _, evt := range batch {
		id, err := uuid.Parse(evt.CrawlID)
		if err != nil {
			s.logger.Warn("skipping progress event with non-uuid crawl id", zap.String("crawl_id", evt.CrawlID))
			continue
		}
		switch evt.Stage {
		case crawler.StageURLStarted:
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				starts = append(starts, crawlMark{id: id, site: evt.Site, at: evt.TS})
			}
		case crawler.StageURLDone:
			urls = append(urls, store.URLEvent{CrawlID: id, URL: evt.URL, Success: evt.Success, FinishedAt: evt.TS})
		case crawler.StageCrawlDone:
			finished = append(finished, crawlMark{id: id, at: evt.TS, total: evt.TotalCrawled})
		}
	}

	for _, st := range starts {
		if err := s.repo.UpsertCrawlStart(ctx, st.id, st.site, st.at); err != nil {
			return fmt.Errorf("upsert crawl start: %w", err)
		}
	}
	if err := s.repo.RecordURLEvents(ctx, urls); err != nil {
		return fmt.Errorf("record url events: %w", err)
	}
	for _, done := range finished {
		if err := s.repo.CompleteCrawl(ctx, done.id, done.at, done.total); err != nil {
			return fmt.Errorf("complete crawl: %w", err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
