// Package cmd defines the CLI for the sitemap-crawler executable.
//
// Commands:
//   - serve: runs the worker pool and the HTTP API until SIGINT/SIGTERM.
//   - crawl URL: runs a single crawl in-process and prints every result.
//   - migrate [up|down|status|...]: applies the Postgres audit schema with goose.
//
// Configuration comes from an optional YAML file (--config), a .env file in
// the working directory, and CRAWLER_* environment variables, in increasing
// order of precedence.
package cmd
