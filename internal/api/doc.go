// Package api hosts the optional admin HTTP server that runs alongside a
// crawl. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/progress for a JSON snapshot of the current run.
package api
