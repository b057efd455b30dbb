package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

const baseURL = "https://example.com/"

func TestCrawlStoreStartCrawlSeedsQueue(t *testing.T) {
	t.Parallel()

	store, queue := newTestStore(t)
	crawl, err := store.StartCrawl(context.Background(), baseURL)
	require.NoError(t, err)
	require.Equal(t, "crawl-1", crawl.ID)
	require.Equal(t, baseURL, crawl.BaseURL)
	require.Equal(t, "example.com", crawl.Domain)
	require.False(t, crawl.Done)
	require.Nil(t, crawl.FinishedAt)

	require.Equal(t, []crawler.Task{{URL: baseURL, CrawlID: "crawl-1", Domain: "example.com"}}, queue.Tasks())

	// The seed is already pending, so it cannot be visited again.
	ok, err := store.VisitIfPossible(crawl.ID, baseURL)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, crawler.CacheStats{Crawls: 1, Active: 1}, store.Stats())
}

func TestCrawlStoreStartCrawlUsesFreshIDs(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	first, err := store.StartCrawl(context.Background(), baseURL)
	require.NoError(t, err)
	second, err := store.StartCrawl(context.Background(), baseURL)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)
}

func TestCrawlStoreStartCrawlErrors(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	_, err := store.StartCrawl(context.Background(), "/no-host")
	require.ErrorIs(t, err, crawler.ErrInvalidURL)

	failing := NewCrawlStore(&fakeQueue{err: errors.New("boom")}, &seqIDs{}, fixedClock{})
	_, err = failing.StartCrawl(context.Background(), baseURL)
	require.EqualError(t, err, "enqueue seed task: boom")
	require.Equal(t, crawler.CacheStats{}, failing.Stats())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = store.StartCrawl(ctx, baseURL)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCrawlStoreUnknownCrawl(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	_, err := store.VisitIfPossible("missing", baseURL)
	require.ErrorIs(t, err, crawler.ErrUnknownCrawl)
	require.ErrorIs(t, store.NotifyURLStarted("missing", baseURL), crawler.ErrUnknownCrawl)
	require.ErrorIs(t, store.NotifyURLDone("missing", baseURL, true), crawler.ErrUnknownCrawl)
	_, err = store.FindByID("missing")
	require.ErrorIs(t, err, crawler.ErrUnknownCrawl)
	_, err = store.CrawlResults("missing", 10, 0)
	require.ErrorIs(t, err, crawler.ErrUnknownCrawl)
}

func TestCrawlStoreVisitIfPossible(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	crawl, err := store.StartCrawl(context.Background(), baseURL)
	require.NoError(t, err)

	ok, err := store.VisitIfPossible(crawl.ID, "https://example.com/a")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = store.VisitIfPossible(crawl.ID, "https://example.com/a")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.NotifyURLDone(crawl.ID, "https://example.com/a", true))
	ok, err = store.VisitIfPossible(crawl.ID, "https://example.com/a")
	require.NoError(t, err)
	require.False(t, ok, "crawled urls are never revisited")
}

func TestCrawlStoreNotifyRequiresPending(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	crawl, err := store.StartCrawl(context.Background(), baseURL)
	require.NoError(t, err)
	events := record(store)

	require.ErrorIs(t, store.NotifyURLStarted(crawl.ID, "https://example.com/other"), crawler.ErrURLNotPending)
	require.ErrorIs(t, store.NotifyURLDone(crawl.ID, "https://example.com/other", true), crawler.ErrURLNotPending)
	require.Empty(t, events.All())

	require.NoError(t, store.NotifyURLDone(crawl.ID, baseURL, true))
	require.ErrorIs(t, store.NotifyURLDone(crawl.ID, baseURL, true), crawler.ErrURLNotPending)
	require.ErrorIs(t, store.NotifyURLStarted(crawl.ID, baseURL), crawler.ErrURLNotPending)

	results, err := store.CrawlResults(crawl.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestCrawlStoreLifecycleEvents(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	crawl, err := store.StartCrawl(context.Background(), baseURL)
	require.NoError(t, err)
	events := record(store)
	id := crawl.ID

	require.NoError(t, store.NotifyURLStarted(id, baseURL))
	for _, child := range []string{"https://example.com/a", "https://example.com/b"} {
		ok, visitErr := store.VisitIfPossible(id, child)
		require.NoError(t, visitErr)
		require.True(t, ok)
	}
	require.NoError(t, store.NotifyURLDone(id, baseURL, true))
	require.NoError(t, store.NotifyURLStarted(id, "https://example.com/a"))
	require.NoError(t, store.NotifyURLDone(id, "https://example.com/a", false))

	mid, err := store.FindByID(id)
	require.NoError(t, err)
	require.False(t, mid.Done)

	require.NoError(t, store.NotifyURLStarted(id, "https://example.com/b"))
	require.NoError(t, store.NotifyURLDone(id, "https://example.com/b", true))

	got := events.All()
	require.Len(t, got, 7)
	type step struct {
		stage   crawler.Stage
		url     string
		crawled int
		done    bool
	}
	want := []step{
		{crawler.StageURLStarted, baseURL, 0, false},
		{crawler.StageURLDone, baseURL, 1, false},
		{crawler.StageURLStarted, "https://example.com/a", 1, false},
		{crawler.StageURLDone, "https://example.com/a", 2, false},
		{crawler.StageURLStarted, "https://example.com/b", 2, false},
		{crawler.StageURLDone, "https://example.com/b", 3, false},
		{crawler.StageCrawlDone, "", 3, true},
	}
	for i, w := range want {
		require.Equal(t, id, got[i].CrawlID, i)
		require.Equal(t, w.stage, got[i].Stage, i)
		require.Equal(t, w.url, got[i].CurrentURL, i)
		require.Equal(t, w.crawled, got[i].TotalCrawled, i)
		require.Equal(t, w.done, got[i].Done, i)
	}
	require.False(t, got[3].Success)
	require.True(t, got[5].Success)

	final, err := store.FindByID(id)
	require.NoError(t, err)
	require.True(t, final.Done)
	require.NotNil(t, final.FinishedAt)
	require.Equal(t, crawler.CacheStats{Crawls: 1, Active: 0}, store.Stats())

	results, err := store.CrawlResults(id, 10, 0)
	require.NoError(t, err)
	require.Equal(t, []crawler.CrawlResult{
		{URL: baseURL, Success: true},
		{URL: "https://example.com/a", Success: false},
		{URL: "https://example.com/b", Success: true},
	}, results)

	// Done never reverts: finished crawls accept no new URLs.
	ok, err := store.VisitIfPossible(id, "https://example.com/late")
	require.NoError(t, err)
	require.False(t, ok)
	require.Len(t, events.All(), 7)
}

func TestCrawlStoreSinglePageCrawl(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	crawl, err := store.StartCrawl(context.Background(), baseURL)
	require.NoError(t, err)
	events := record(store)

	require.NoError(t, store.NotifyURLStarted(crawl.ID, baseURL))
	require.NoError(t, store.NotifyURLDone(crawl.ID, baseURL, false))

	got := events.All()
	require.Len(t, got, 3)
	require.Equal(t, crawler.StageCrawlDone, got[2].Stage)
	require.Equal(t, 1, got[2].TotalCrawled)

	view, err := store.FindByID(crawl.ID)
	require.NoError(t, err)
	require.True(t, view.Done)
	require.Equal(t, 1, view.TotalCrawled)
	require.NotNil(t, view.FinishedAt)

	results, err := store.CrawlResults(crawl.ID, 25, 0)
	require.NoError(t, err)
	require.Equal(t, []crawler.CrawlResult{{URL: baseURL, Success: false}}, results)
}

func TestCrawlStoreCrawlResultsWindow(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	crawl, err := store.StartCrawl(context.Background(), baseURL)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		ok, visitErr := store.VisitIfPossible(crawl.ID, fmt.Sprintf("https://example.com/%d", i))
		require.NoError(t, visitErr)
		require.True(t, ok)
	}
	require.NoError(t, store.NotifyURLDone(crawl.ID, baseURL, true))
	for i := 0; i < 4; i++ {
		require.NoError(t, store.NotifyURLDone(crawl.ID, fmt.Sprintf("https://example.com/%d", i), true))
	}

	cases := []struct {
		take, skip int
		want       []string
	}{
		{take: 2, skip: 0, want: []string{baseURL, "https://example.com/0"}},
		{take: 2, skip: 3, want: []string{"https://example.com/2", "https://example.com/3"}},
		{take: 10, skip: 4, want: []string{"https://example.com/3"}},
		{take: 10, skip: 5, want: []string{}},
		{take: 0, skip: 0, want: []string{}},
		{take: -1, skip: -3, want: []string{}},
		{take: 1, skip: -3, want: []string{baseURL}},
	}
	for _, tc := range cases {
		results, resErr := store.CrawlResults(crawl.ID, tc.take, tc.skip)
		require.NoError(t, resErr)
		urls := make([]string, 0, len(results))
		for _, r := range results {
			urls = append(urls, r.URL)
		}
		require.Equal(t, tc.want, urls, "take=%d skip=%d", tc.take, tc.skip)
	}
}

func TestCrawlStoreOffProgress(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	crawl, err := store.StartCrawl(context.Background(), baseURL)
	require.NoError(t, err)

	var first, second atomic.Int32
	firstID := store.OnProgress(func(crawler.Progress) { first.Add(1) })
	store.OnProgress(func(crawler.Progress) { second.Add(1) })

	require.NoError(t, store.NotifyURLStarted(crawl.ID, baseURL))
	store.OffProgress(firstID)
	store.OffProgress(firstID)
	store.OffProgress(crawler.SubscriptionID(999))
	require.NoError(t, store.NotifyURLDone(crawl.ID, baseURL, true))

	require.Equal(t, int32(1), first.Load())
	require.Equal(t, int32(3), second.Load())
}

func TestCrawlStoreConcurrentVisitAcceptsOnce(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	crawl, err := store.StartCrawl(context.Background(), baseURL)
	require.NoError(t, err)

	const goroutines = 32
	var (
		accepted atomic.Int32
		wg       sync.WaitGroup
	)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, visitErr := store.VisitIfPossible(crawl.ID, "https://example.com/contended")
			if visitErr == nil && ok {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), accepted.Load())
}

func TestCrawlStoreCompletionFiresOnceUnderConcurrency(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	crawl, err := store.StartCrawl(context.Background(), baseURL)
	require.NoError(t, err)

	var completions atomic.Int32
	store.OnProgress(func(evt crawler.Progress) {
		if evt.Stage == crawler.StageCrawlDone {
			completions.Add(1)
		}
	})

	const children = 50
	for i := 0; i < children; i++ {
		ok, visitErr := store.VisitIfPossible(crawl.ID, fmt.Sprintf("https://example.com/%d", i))
		require.NoError(t, visitErr)
		require.True(t, ok)
	}
	require.NoError(t, store.NotifyURLDone(crawl.ID, baseURL, true))

	var wg sync.WaitGroup
	for i := 0; i < children; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = store.NotifyURLDone(crawl.ID, fmt.Sprintf("https://example.com/%d", i), true)
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), completions.Load())
	results, err := store.CrawlResults(crawl.ID, 100, 0)
	require.NoError(t, err)
	require.Len(t, results, children+1)
}

func newTestStore(t *testing.T) (*CrawlStore, *fakeQueue) {
	t.Helper()
	queue := &fakeQueue{}
	return NewCrawlStore(queue, &seqIDs{}, fixedClock{now: time.Unix(1700000000, 0).UTC()}), queue
}

type fakeQueue struct {
	mu    sync.Mutex
	tasks []crawler.Task
	err   error
}

func (q *fakeQueue) Enqueue(task crawler.Task) error {
	if q.err != nil {
		return q.err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *fakeQueue) Dequeue(ctx context.Context) (crawler.Task, error) {
	<-ctx.Done()
	return crawler.Task{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
}

func (q *fakeQueue) Tasks() []crawler.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]crawler.Task(nil), q.tasks...)
}

type seqIDs struct {
	n atomic.Int64
}

func (s *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("crawl-%d", s.n.Add(1)), nil
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

type eventLog struct {
	mu     sync.Mutex
	events []crawler.Progress
}

func record(store *CrawlStore) *eventLog {
	log := &eventLog{}
	store.OnProgress(func(evt crawler.Progress) {
		log.mu.Lock()
		defer log.mu.Unlock()
		log.events = append(log.events, evt)
	})
	return log
}

func (l *eventLog) All() []crawler.Progress {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]crawler.Progress(nil), l.events...)
}
