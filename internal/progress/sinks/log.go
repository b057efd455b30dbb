package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
	"github.com/JakeFAU/sitemap-crawler/internal/progress"
)

// LogSink writes progress events as structured logs. Per-URL events are
// logged at debug level and crawl completion at info.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("crawl_id", evt.CrawlID),
			zap.String("stage", string(evt.Stage)),
			zap.Int("total_crawled", evt.TotalCrawled),
			zap.Time("ts", evt.TS),
		}
		if evt.Stage == crawler.StageCrawlDone {
			s.logger.Info("crawl finished", fields...)
			continue
		}
		fields = append(fields, zap.String("url", evt.URL))
		if evt.Stage == crawler.StageURLDone {
			fields = append(fields, zap.Bool("success", evt.Success))
		}
		s.logger.Debug("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
