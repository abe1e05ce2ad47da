// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes health checks.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/crawls to start a run, GET /v1/crawls/{run_id} to follow it.
//   - GET /v1/postings?source_url=... to look a stored posting up.
package api
