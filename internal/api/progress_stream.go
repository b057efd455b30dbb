package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

const streamBuffer = 256

// streamProgress handles GET /v1/crawls/{crawl_id}/progress as a Server-Sent
// Events stream. Each event is named after its stage and carries the JSON
// progress payload. The stream ends after CRAWL_DONE or when the client goes
// away. URL events may be dropped for slow clients; CRAWL_DONE never is.
func (s *Server) streamProgress(w http.ResponseWriter, r *http.Request) {
	crawlID := chi.URLParam(r, "crawl_id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events := make(chan crawler.Progress, streamBuffer)
	finished := make(chan crawler.Progress, 1)
	var finishOnce sync.Once
	var dropped int
	var dropMu sync.Mutex

	// Subscribe before reading the view so completion cannot slip between the two.
	subID := s.cache.OnProgress(func(p crawler.Progress) {
		if p.CrawlID != crawlID {
			return
		}
		if p.Stage == crawler.StageCrawlDone {
			finishOnce.Do(func() { finished <- p })
			return
		}
		select {
		case events <- p:
		default:
			dropMu.Lock()
			dropped++
			dropMu.Unlock()
		}
	})
	defer s.cache.OffProgress(subID)

	crawl, err := s.cache.FindByID(crawlID)
	if err != nil {
		s.writeCacheError(w, crawlID, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	logger := s.logger.With(zap.String("crawl_id", crawlID), zap.String("request_id", RequestID(r.Context())))

	if crawl.Done {
		snapshot := crawler.Progress{
			CrawlID:      crawl.ID,
			Stage:        crawler.StageCrawlDone,
			TotalCrawled: crawl.TotalCrawled,
			Done:         true,
			At:           finishedAt(crawl),
		}
		if err := writeEvent(w, snapshot); err != nil {
			logger.Debug("progress stream write failed", zap.Error(err))
		}
		flusher.Flush()
		return
	}

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			logger.Debug("progress stream client disconnected")
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case evt := <-events:
			if err := writeEvent(w, evt); err != nil {
				logger.Debug("progress stream write failed", zap.Error(err))
				return
			}
			flusher.Flush()
		case evt := <-finished:
			// Flush URL events that were queued ahead of completion.
			for drained := false; !drained; {
				select {
				case pending := <-events:
					if err := writeEvent(w, pending); err != nil {
						return
					}
				default:
					drained = true
				}
			}
			if err := writeEvent(w, evt); err != nil {
				logger.Debug("progress stream write failed", zap.Error(err))
			}
			flusher.Flush()
			dropMu.Lock()
			if dropped > 0 {
				logger.Warn("progress stream dropped events", zap.Int("dropped", dropped))
			}
			dropMu.Unlock()
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, evt crawler.Progress) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Stage, payload); err != nil {
		return fmt.Errorf("write progress: %w", err)
	}
	return nil
}

func finishedAt(crawl crawler.Crawl) time.Time {
	if crawl.FinishedAt != nil {
		return *crawl.FinishedAt
	}
	return time.Time{}
}
