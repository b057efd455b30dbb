// Package api hosts the HTTP server, middleware, and REST handlers for the
// crawl service. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/crawls to start a crawl from a seed URL.
//   - GET /v1/crawls/{crawl_id} and /v1/crawls/{crawl_id}/results for crawl
//     state and paged per-URL outcomes.
//   - GET /v1/crawls/{crawl_id}/progress for a Server-Sent Events stream of
//     progress notifications that ends when the crawl completes.
package api
