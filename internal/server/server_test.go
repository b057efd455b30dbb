package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/config"
	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

func TestAppCrawlEndToEnd(t *testing.T) {
	t.Parallel()

	site := newTestSite(t)
	dir := t.TempDir()
	cfg := testConfig()
	cfg.Storage = config.StorageConfig{
		Backend: config.StorageLocal,
		Prefix:  "sitemaps",
		Local:   config.LocalStorageConfig{BaseDir: dir},
	}

	app, err := build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	report, err := app.Crawl(ctx, site.URL)
	require.NoError(t, err)
	require.NoError(t, app.Close(context.Background()))

	require.True(t, report.Crawl.Done)
	require.Equal(t, 4, report.Crawl.TotalCrawled)
	require.Equal(t, site.URL+"/", report.Results[0].URL)

	got := make(map[string]bool, len(report.Results))
	for _, r := range report.Results {
		got[r.URL] = r.Success
	}
	require.Equal(t, map[string]bool{
		site.URL + "/":        true,
		site.URL + "/a":       true,
		site.URL + "/b":       true,
		site.URL + "/missing": false,
	}, got)

	sitemap, err := os.ReadFile(filepath.Join(dir, "sitemaps", report.Crawl.ID+".xml"))
	require.NoError(t, err)
	require.Contains(t, string(sitemap), "<loc>"+site.URL+"/a</loc>")
	require.NotContains(t, string(sitemap), "/missing")
}

func TestAppCrawlRejectsInvalidURL(t *testing.T) {
	t.Parallel()

	app, err := build(context.Background(), testConfig(), zap.NewNop())
	require.NoError(t, err)
	defer app.Close(context.Background()) //nolint:errcheck // test cleanup

	_, err = app.Crawl(context.Background(), "ftp://example.com")
	require.ErrorIs(t, err, crawler.ErrInvalidURL)
}

func TestAppHandlerServesAPI(t *testing.T) {
	t.Parallel()

	site := newTestSite(t)
	app, err := build(context.Background(), testConfig(), zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		app.dispatch.Run(ctx)
	}()
	defer func() {
		cancel()
		<-stopped
		require.NoError(t, app.Close(context.Background()))
	}()

	rec := httptest.NewRecorder()
	body := bytes.NewBufferString(fmt.Sprintf(`{"url":%q}`, site.URL))
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/crawls", body))
	require.Equal(t, http.StatusCreated, rec.Code)

	var crawl crawler.Crawl
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &crawl))
	require.Eventually(t, func() bool {
		view, err := app.Cache().FindByID(crawl.ID)
		return err == nil && view.Done
	}, 5*time.Second, 10*time.Millisecond)

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/crawls/"+crawl.ID+"/results?take=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"take":2`)
}

func TestAppRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Server.Port = freePort(t)
	app, err := build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- app.Run(ctx) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/healthz", cfg.Server.Port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url) //nolint:noctx // readiness poll
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestBuildFailsOnBadStorage(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	cfg := testConfig()
	cfg.Storage = config.StorageConfig{Backend: config.StorageLocal, Local: config.LocalStorageConfig{BaseDir: file}}
	_, err := build(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "local blob store init failed")
}

func TestCompletionWaiterRemembersEarlyCompletion(t *testing.T) {
	t.Parallel()

	w := newCompletionWaiter()
	w.observe(crawler.Progress{CrawlID: "early", Stage: crawler.StageCrawlDone, Done: true})
	w.observe(crawler.Progress{CrawlID: "late", Stage: crawler.StageURLDone})

	select {
	case <-w.wait("early"):
	default:
		t.Fatal("expected early completion to be remembered")
	}

	late := w.wait("late")
	select {
	case <-late:
		t.Fatal("crawl is not done yet")
	default:
	}
	w.observe(crawler.Progress{CrawlID: "late", Stage: crawler.StageCrawlDone, Done: true})
	select {
	case <-late:
	case <-time.After(time.Second):
		t.Fatal("waiter not released")
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{Port: 8080, ShutdownTimeoutSeconds: 5},
		Crawler: config.CrawlerConfig{Concurrency: 2, Fetcher: config.FetcherColly, FetchTimeoutSeconds: 5},
		Progress: config.ProgressConfig{
			Enabled:       true,
			BufferSize:    256,
			Batch:         config.BatchConfig{MaxEvents: 10, MaxWaitMs: 10},
			SinkTimeoutMs: 1000,
		},
		Storage: config.StorageConfig{Backend: config.StorageMemory, Prefix: "sitemaps"},
	}
}

func newTestSite(t *testing.T) *httptest.Server {
	t.Helper()
	pages := map[string]string{
		"/":  `<a href="/a">a</a><a href="/b?x=1">b</a><a href="/missing">m</a><a href="https://elsewhere.test/">x</a>`,
		"/a": `<a href="/">home</a><a href="/b#top">b</a>`,
		"/b": `<p>leaf</p>`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<html><body>%s</body></html>", body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func freePort(t *testing.T) int {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	port := srv.Listener.Addr().(*net.TCPAddr).Port
	srv.Close()
	return port
}
