package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/sitemap-crawler/internal/clock/system"
	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
	"github.com/JakeFAU/sitemap-crawler/internal/id/uuid"
)

// CrawlStore is the in-memory crawl state cache. It owns every crawl record,
// decides which URLs may be visited, detects completion, and notifies
// progress observers.
//
// Mutations of one crawl are serialized by that crawl's lock. Observers are
// called synchronously while the lock is held, so for a given crawl they see
// events in the order the state changed. Observers must not call back into
// the store.
type CrawlStore struct {
	queue crawler.Queue
	idGen crawler.IDGenerator
	clock crawler.Clock

	mu     sync.RWMutex
	crawls map[string]*crawlRecord
	active atomic.Int64

	obsMu     sync.RWMutex
	observers []observer
	nextObsID atomic.Uint64
}

type observer struct {
	id crawler.SubscriptionID
	fn crawler.ProgressFunc
}

type crawlRecord struct {
	mu         sync.Mutex
	id         string
	baseURL    string
	domain     string
	done       bool
	startedAt  time.Time
	finishedAt *time.Time
	pending    map[string]struct{}
	crawled    map[string]struct{}
	results    []crawler.CrawlResult
}

// NewCrawlStore constructs a CrawlStore that seeds new crawls onto queue.
// A nil idGen or clock falls back to UUIDv7 ids and the system clock.
func NewCrawlStore(queue crawler.Queue, idGen crawler.IDGenerator, clock crawler.Clock) *CrawlStore {
	if idGen == nil {
		idGen = uuid.New()
	}
	if clock == nil {
		clock = system.New()
	}
	return &CrawlStore{
		queue:  queue,
		idGen:  idGen,
		clock:  clock,
		crawls: make(map[string]*crawlRecord),
	}
}

// StartCrawl creates a crawl whose only pending URL is baseURL and enqueues
// the seed task.
func (s *CrawlStore) StartCrawl(ctx context.Context, baseURL string) (crawler.Crawl, error) {
	if err := ctx.Err(); err != nil {
		return crawler.Crawl{}, fmt.Errorf("start crawl: %w", err)
	}
	domain, err := crawler.Domain(baseURL)
	if err != nil {
		return crawler.Crawl{}, fmt.Errorf("start crawl: %w", err)
	}
	id, err := s.idGen.NewID()
	if err != nil {
		return crawler.Crawl{}, fmt.Errorf("generate crawl id: %w", err)
	}
	rec := &crawlRecord{
		id:        id,
		baseURL:   baseURL,
		domain:    domain,
		startedAt: s.clock.Now(),
		pending:   map[string]struct{}{baseURL: {}},
		crawled:   make(map[string]struct{}),
	}
	view := rec.view()

	s.mu.Lock()
	if _, exists := s.crawls[id]; exists {
		s.mu.Unlock()
		return crawler.Crawl{}, fmt.Errorf("crawl %s already exists", id)
	}
	s.crawls[id] = rec
	s.mu.Unlock()
	s.active.Add(1)

	if err := s.queue.Enqueue(crawler.Task{URL: baseURL, CrawlID: id, Domain: domain}); err != nil {
		s.mu.Lock()
		delete(s.crawls, id)
		s.mu.Unlock()
		s.active.Add(-1)
		return crawler.Crawl{}, fmt.Errorf("enqueue seed task: %w", err)
	}
	return view, nil
}

// VisitIfPossible marks url pending and returns true unless it is already
// pending or crawled. A finished crawl accepts no new URLs.
func (s *CrawlStore) VisitIfPossible(crawlID string, url string) (bool, error) {
	rec, err := s.lookup(crawlID)
	if err != nil {
		return false, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.done {
		return false, nil
	}
	if _, ok := rec.pending[url]; ok {
		return false, nil
	}
	if _, ok := rec.crawled[url]; ok {
		return false, nil
	}
	rec.pending[url] = struct{}{}
	return true, nil
}

// NotifyURLStarted reports that a worker began fetching a pending URL.
func (s *CrawlStore) NotifyURLStarted(crawlID string, url string) error {
	rec, err := s.lookup(crawlID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if _, ok := rec.pending[url]; !ok {
		return fmt.Errorf("%w: %s", crawler.ErrURLNotPending, url)
	}
	s.emit(crawler.Progress{
		CrawlID:      rec.id,
		Stage:        crawler.StageURLStarted,
		CurrentURL:   url,
		TotalCrawled: len(rec.crawled),
		Done:         rec.done,
		At:           s.clock.Now(),
	})
	return nil
}

// NotifyURLDone moves url from pending to crawled and records its outcome.
// When this empties the pending set the crawl becomes done and a CRAWL_DONE
// event follows the URL_DONE event.
func (s *CrawlStore) NotifyURLDone(crawlID string, url string, success bool) error {
	rec, err := s.lookup(crawlID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if _, ok := rec.pending[url]; !ok {
		return fmt.Errorf("%w: %s", crawler.ErrURLNotPending, url)
	}
	delete(rec.pending, url)
	rec.crawled[url] = struct{}{}
	rec.results = append(rec.results, crawler.CrawlResult{URL: url, Success: success})

	now := s.clock.Now()
	s.emit(crawler.Progress{
		CrawlID:      rec.id,
		Stage:        crawler.StageURLDone,
		CurrentURL:   url,
		TotalCrawled: len(rec.crawled),
		Done:         rec.done,
		Success:      success,
		At:           now,
	})

	if len(rec.pending) == 0 && !rec.done {
		rec.done = true
		rec.finishedAt = &now
		s.active.Add(-1)
		s.emit(crawler.Progress{
			CrawlID:      rec.id,
			Stage:        crawler.StageCrawlDone,
			TotalCrawled: len(rec.crawled),
			Done:         true,
			At:           now,
		})
	}
	return nil
}

// FindByID returns the current view of a crawl.
func (s *CrawlStore) FindByID(crawlID string) (crawler.Crawl, error) {
	rec, err := s.lookup(crawlID)
	if err != nil {
		return crawler.Crawl{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.view(), nil
}

// CrawlResults returns up to take results after skipping skip, in the order
// URLs finished. Negative arguments are treated as zero.
func (s *CrawlStore) CrawlResults(crawlID string, take int, skip int) ([]crawler.CrawlResult, error) {
	rec, err := s.lookup(crawlID)
	if err != nil {
		return nil, err
	}
	take = max(take, 0)
	skip = max(skip, 0)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if skip >= len(rec.results) {
		return []crawler.CrawlResult{}, nil
	}
	end := min(skip+take, len(rec.results))
	out := make([]crawler.CrawlResult, end-skip)
	copy(out, rec.results[skip:end])
	return out, nil
}

// OnProgress registers fn for every progress event of every crawl.
func (s *CrawlStore) OnProgress(fn crawler.ProgressFunc) crawler.SubscriptionID {
	id := crawler.SubscriptionID(s.nextObsID.Add(1))
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.observers = append(s.observers, observer{id: id, fn: fn})
	return id
}

// OffProgress removes a callback registered with OnProgress. Unknown ids are
// ignored.
func (s *CrawlStore) OffProgress(id crawler.SubscriptionID) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	for i, obs := range s.observers {
		if obs.id == id {
			s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
			return
		}
	}
}

// Stats reports how many crawls exist and how many are still running.
func (s *CrawlStore) Stats() crawler.CacheStats {
	s.mu.RLock()
	total := len(s.crawls)
	s.mu.RUnlock()
	return crawler.CacheStats{Crawls: total, Active: int(s.active.Load())}
}

func (s *CrawlStore) lookup(crawlID string) (*crawlRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.crawls[crawlID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", crawler.ErrUnknownCrawl, crawlID)
	}
	return rec, nil
}

func (s *CrawlStore) emit(evt crawler.Progress) {
	s.obsMu.RLock()
	observers := s.observers
	s.obsMu.RUnlock()
	for _, obs := range observers {
		obs.fn(evt)
	}
}

func (r *crawlRecord) view() crawler.Crawl {
	c := crawler.Crawl{
		ID:           r.id,
		BaseURL:      r.baseURL,
		Domain:       r.domain,
		Done:         r.done,
		TotalCrawled: len(r.crawled),
		StartedAt:    r.startedAt,
	}
	if r.finishedAt != nil {
		finished := *r.finishedAt
		c.FinishedAt = &finished
	}
	return c
}
