// Package progress turns crawl cache notifications into events and fans them
// out, in batches, to pluggable sinks such as Prometheus metrics, Postgres,
// Pub/Sub, or sitemap storage. Emitting never blocks the crawl.
package progress
