// Package api hosts the operator HTTP server. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/runs/latest for the summary of the most recent harvest run.
package api
