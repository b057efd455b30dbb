// Package crawler defines the crawl domain shared by every subsystem: the
// crawl, task, result and progress types, the collaborator interfaces (queue,
// fetcher, crawl cache, blob store, publisher), the sentinel errors, and the
// pure helpers that resolve and filter hrefs found on a page.
package crawler
