package headless

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
)

func TestNewChromedpLimiterValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewChromedp(Config{MaxParallel: -1}); err == nil {
		t.Fatal("expected error for negative max parallel")
	}
	fetcher, err := NewChromedp(Config{MaxParallel: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer fetcher.Close()
	if cap(fetcher.limiter) != 2 {
		t.Fatalf("expected limiter capacity 2, got %d", cap(fetcher.limiter))
	}
}

func TestFetcherNavTimeoutDefault(t *testing.T) {
	t.Parallel()

	fetcher := &Fetcher{}
	if got := fetcher.navTimeout(); got != defaultNavTimeout {
		t.Fatalf("expected default nav timeout, got %v", got)
	}
	fetcher.cfg.NavigationTimeout = time.Second
	if got := fetcher.navTimeout(); got != time.Second {
		t.Fatalf("expected override to be used, got %v", got)
	}
}

func TestFetchFailsWhenNoSlotFrees(t *testing.T) {
	t.Parallel()

	fetcher := &Fetcher{limiter: make(chan struct{}, 1)}
	fetcher.limiter <- struct{}{}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	res := fetcher.Fetch(ctx, "https://example.com/", "example.com")
	if res.Success || !strings.Contains(res.Error, "slot wait canceled") {
		t.Fatalf("expected slot wait failure, got %+v", res)
	}

	fetcher.release()
	if len(fetcher.limiter) != 0 {
		t.Fatal("expected slot released")
	}
	fetcher.release()
}

func TestExtractHrefs(t *testing.T) {
	t.Parallel()

	hrefs, err := extractHrefs(`<html><body>
		<a href="/a">A</a><a>no href</a><div><a href="b/c#x">B</a></div>
		<a href="">empty</a>
	</body></html>`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Join(hrefs, "|") != "/a|b/c#x|" {
		t.Fatalf("unexpected hrefs: %q", hrefs)
	}
}

func TestResponseMetaCaptureAndFallbacks(t *testing.T) {
	t.Parallel()

	meta := &responseMeta{}
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		Response: &network.Response{Status: 500, URL: "https://example.com/x.png"},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 404, URL: "https://example.com/rendered"},
	})
	status, url := meta.snapshotWithFallbacks("https://req", "")
	if status != 404 || url != "https://example.com/rendered" {
		t.Fatalf("unexpected snapshot values: status=%d url=%s", status, url)
	}

	status, url = meta.snapshotWithFallbacks("https://req", "https://example.com/final")
	if status != 404 || url != "https://example.com/final" {
		t.Fatalf("expected browser location to win, got status=%d url=%s", status, url)
	}

	meta = &responseMeta{}
	status, url = meta.snapshotWithFallbacks("https://req", "")
	if status != http.StatusOK || url != "https://req" {
		t.Fatalf("expected fallback values, got status=%d url=%s", status, url)
	}
}
