// Package sinks implements concrete progress consumers: structured logging,
// Prometheus metrics, the Postgres audit trail, completion messages on
// Pub/Sub, and sitemap files in blob storage. Each sink satisfies
// progress.Sink.
package sinks
