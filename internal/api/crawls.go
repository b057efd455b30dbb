package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

const (
	defaultTake = 25
	maxTake     = 100
)

type startCrawlRequest struct {
	URL string `json:"url" validate:"required,url"`
}

type crawlResultsResponse struct {
	CrawlID string                `json:"crawl_id"`
	Take    int                   `json:"take"`
	Skip    int                   `json:"skip"`
	Results []crawler.CrawlResult `json:"results"`
}

// startCrawl handles POST /v1/crawls. It returns 201 with the crawl view, 400
// for malformed or non-http(s) URLs, and 503 once the queue has shut down.
func (s *Server) startCrawl(w http.ResponseWriter, r *http.Request) {
	var req startCrawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.logger.Debug("start crawl validation failed", zap.Error(err))
		writeError(w, http.StatusBadRequest, "url must be an absolute http(s) URL")
		return
	}
	baseURL, _, err := crawler.ParseBaseURL(req.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	crawl, err := s.cache.StartCrawl(r.Context(), baseURL)
	if err != nil {
		switch {
		case errors.Is(err, crawler.ErrInvalidURL):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, crawler.ErrQueueClosed):
			writeError(w, http.StatusServiceUnavailable, "crawler is shutting down")
		default:
			s.logger.Error("start crawl failed", zap.String("url", baseURL), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to start crawl")
		}
		return
	}

	s.logger.Info("crawl started",
		zap.String("crawl_id", crawl.ID),
		zap.String("base_url", crawl.BaseURL),
		zap.String("request_id", RequestID(r.Context())),
	)
	w.Header().Set("Location", "/v1/crawls/"+crawl.ID)
	writeJSON(w, http.StatusCreated, crawl)
}

// getCrawl handles GET /v1/crawls/{crawl_id}.
func (s *Server) getCrawl(w http.ResponseWriter, r *http.Request) {
	crawlID := chi.URLParam(r, "crawl_id")
	crawl, err := s.cache.FindByID(crawlID)
	if err != nil {
		s.writeCacheError(w, crawlID, err)
		return
	}
	writeJSON(w, http.StatusOK, crawl)
}

// getCrawlResults handles GET /v1/crawls/{crawl_id}/results?take=&skip=.
// Results come back in the order URLs finished.
func (s *Server) getCrawlResults(w http.ResponseWriter, r *http.Request) {
	crawlID := chi.URLParam(r, "crawl_id")
	take, skip, err := parseTakeSkip(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	results, err := s.cache.CrawlResults(crawlID, take, skip)
	if err != nil {
		s.writeCacheError(w, crawlID, err)
		return
	}
	writeJSON(w, http.StatusOK, crawlResultsResponse{
		CrawlID: crawlID,
		Take:    take,
		Skip:    skip,
		Results: results,
	})
}

func (s *Server) writeCacheError(w http.ResponseWriter, crawlID string, err error) {
	if errors.Is(err, crawler.ErrUnknownCrawl) {
		writeError(w, http.StatusNotFound, "crawl not found")
		return
	}
	s.logger.Error("crawl lookup failed", zap.String("crawl_id", crawlID), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "failed to load crawl")
}

func parseTakeSkip(r *http.Request) (int, int, error) {
	q := r.URL.Query()
	take := defaultTake
	if raw := q.Get("take"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val < 1 || val > maxTake {
			return 0, 0, fmt.Errorf("take must be between 1 and %d", maxTake)
		}
		take = val
	}
	skip := 0
	if raw := q.Get("skip"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val < 0 {
			return 0, 0, errors.New("skip must be >= 0")
		}
		skip = val
	}
	return take, skip, nil
}
