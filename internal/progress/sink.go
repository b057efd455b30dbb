package progress

import (
	"context"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

// Sink consumes batches of progress events. Implementations must be safe for
// repeated calls and honor ctx deadlines.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Hub satisfies this interface.
type Emitter interface {
	Emit(evt Event)
}

// Forward subscribes emitter to every notification of cache. The returned id
// unsubscribes via cache.OffProgress. Emit must not block because the cache
// calls observers while holding a crawl lock.
func Forward(cache crawler.CrawlCache, emitter Emitter) crawler.SubscriptionID {
	return cache.OnProgress(func(p crawler.Progress) {
		emitter.Emit(FromProgress(p))
	})
}
