// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/submissions for link submission.
//   - GET /v1/status and the /v1/{queue,done,failed} listings for inspection
//     and administrative clearing.
package api
