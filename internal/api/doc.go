// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz and /readyz for probes; readyz pings the record store.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/scrape queues a run; GET /v1/jobs/{run_id} follows it.
//   - GET /v1/runs and /v1/runs/latest read the run log.
//   - POST /v1/search runs a court name search.
//   - POST /v1/inmates/{key}/detail fetches a person's detail page.
package api
