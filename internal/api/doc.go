// Package api hosts the HTTP server, middleware, and REST handlers. Notable routes:
//   - GET /healthz and /readyz for Kubernetes health checks.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/crawl, /v1/fetch, /v1/index and /v1/query over the crawl engine and
//     the vector index.
package api
