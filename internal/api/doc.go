// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs to start a crawl, GET /v1/runs/{run_id} to poll its live
//     stats, POST /v1/runs/{run_id}/cancel to stop it.
//   - GET /v1/jobs to query stored job records and PATCH /v1/jobs/{job_id} to
//     correct one.
package api
