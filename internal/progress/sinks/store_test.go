package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitemap-crawler/internal/progress"
	"github.com/JakeFAU/sitemap-crawler/internal/store"
)

// TestStoreSinkPersistsEvents ensures one start per crawl, bulk URL rows, then completion.
func TestStoreSinkPersistsEvents(t *testing.T) {
	t.Parallel()

	repo := &fakeCrawlRepo{}
	sink := NewStoreSink(repo, nil)
	id := uuid.New()
	start := time.Unix(1700000000, 0)

	require.NoError(t, sink.Consume(context.Background(), lifecycle(id.String(), start)))

	require.Equal(t, []string{"start", "urls", "complete"}, repo.calls)
	require.Equal(t, []uuid.UUID{id}, repo.starts)
	require.Equal(t, start, repo.startAt)
	require.Equal(t, []store.URLEvent{
		{CrawlID: id, URL: "https://example.com/", Success: true, FinishedAt: start.Add(time.Second)},
		{CrawlID: id, URL: "https://example.com/broken", Success: false, FinishedAt: start.Add(3 * time.Second)},
	}, repo.urls)
	require.Equal(t, []int{2}, repo.totals)
}

// TestStoreSinkSkipsForeignIDs ignores events whose crawl id is not a UUID.
func TestStoreSinkSkipsForeignIDs(t *testing.T) {
	t.Parallel()

	repo := &fakeCrawlRepo{}
	sink := NewStoreSink(repo, nil)
	require.NoError(t, sink.Consume(context.Background(), lifecycle("crawl-1", time.Now())))
	require.Empty(t, repo.starts)
	require.Empty(t, repo.urls)
	require.Empty(t, repo.totals)
}

// TestStoreSinkHandlesErrors surfaces repository failures back to the caller.
func TestStoreSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	repo := &fakeCrawlRepo{fail: true}
	sink := NewStoreSink(repo, nil)
	err := sink.Consume(context.Background(), lifecycle(uuid.NewString(), time.Now()))
	require.EqualError(t, err, "upsert crawl start: start")
}

type fakeCrawlRepo struct {
	fail    bool
	calls   []string
	starts  []uuid.UUID
	startAt time.Time
	urls    []store.URLEvent
	totals  []int
}

func (f *fakeCrawlRepo) UpsertCrawlStart(_ context.Context, crawlID uuid.UUID, _ string, startedAt time.Time) error {
	if f.fail {
		return assertErr("start")
	}
	f.calls = append(f.calls, "start")
	f.starts = append(f.starts, crawlID)
	f.startAt = startedAt
	return nil
}

func (f *fakeCrawlRepo) RecordURLEvents(_ context.Context, events []store.URLEvent) error {
	if f.fail {
		return assertErr("urls")
	}
	if len(events) > 0 {
		f.calls = append(f.calls, "urls")
	}
	f.urls = append(f.urls, events...)
	return nil
}

func (f *fakeCrawlRepo) CompleteCrawl(_ context.Context, _ uuid.UUID, _ time.Time, totalCrawled int) error {
	if f.fail {
		return assertErr("complete")
	}
	f.calls = append(f.calls, "complete")
	f.totals = append(f.totals, totalCrawled)
	return nil
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

var _ progress.Sink = (*StoreSink)(nil)
