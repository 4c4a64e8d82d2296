// Package api hosts the HTTP server, middleware, and REST handlers for crawl
// sessions. Notable routes:
//   - GET /healthz / readyz for Kubernetes health checks.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/crawls to start a crawl for the calling client.
//   - GET /v1/crawls/{id} and /v1/crawls/{id}/records for status and a
//     filtered, sorted, paginated view of the records.
//   - DELETE /v1/crawls/{id} to abandon a running crawl.
package api
