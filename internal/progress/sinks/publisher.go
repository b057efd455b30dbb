package sinks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
	"github.com/JakeFAU/sitemap-crawler/internal/progress"
)

// CompletionMessage is published once per finished crawl.
type CompletionMessage struct {
	CrawlID      string    `json:"crawl_id"`
	TotalCrawled int       `json:"total_crawled"`
	FinishedAt   time.Time `json:"finished_at"`
}

// PublisherSink announces finished crawls on a topic.
type PublisherSink struct {
	publisher crawler.Publisher
	topic     string
	logger    *zap.Logger
}

// NewPublisherSink constructs a PublisherSink. An empty topic disables it.
func NewPublisherSink(publisher crawler.Publisher, topic string, logger *zap.Logger) *PublisherSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublisherSink{publisher: publisher, topic: topic, logger: logger}
}

// Consume publishes a CompletionMessage for every CRAWL_DONE event. A failed
// publish does not stop the rest of the batch.
func (s *PublisherSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.publisher == nil || s.topic == "" {
		return nil
	}
	var errs []error
	for _, evt := range batch {
		if evt.Stage != crawler.StageCrawlDone {
			continue
		}
		msg := CompletionMessage{
			CrawlID:      evt.CrawlID,
			TotalCrawled: evt.TotalCrawled,
			FinishedAt:   evt.TS.UTC(),
		}
		id, err := s.publisher.Publish(ctx, s.topic, msg)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish crawl %s: %w", evt.CrawlID, err))
			continue
		}
		s.logger.Info("crawl completion published",
			zap.String("crawl_id", evt.CrawlID),
			zap.String("topic", s.topic),
			zap.String("message_id", id),
		)
	}
	return errors.Join(errs...)
}

// Close implements the Sink interface; it performs no action.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}
