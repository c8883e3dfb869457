// Package api hosts the HTTP server, middleware, and REST handlers. Notable routes:
//   - POST /scrape extracts a product record from {"url": "..."}.
//   - POST /scrape/html returns the fetched document only.
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
package api
