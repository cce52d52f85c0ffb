// Package api hosts the read-only status server. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/progress for the ledger summary.
//   - GET /v1/progress/failed for failed entries, paged by limit and offset.
//   - GET /v1/progress/{id} for one entry.
package api
