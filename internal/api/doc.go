// Package api hosts the HTTP server, middleware, and read-only handlers for
// operator access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes; readyz pings the store.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/races/{date}/{venue}/{race}/features for the per-lane feature join.
//   - GET /v1/races/{date}/{venue}/{race}/ingestion for the bookkeeping row.
//   - GET /v1/stats for table row counts.
package api
