// Package server implements the HTTP webhook receiver that triggers
// deployments on GitHub pushes.
//
// Endpoints:
//   - POST /in/{target}: GitHub push webhook, HMAC-SHA256 verified
//   - GET /health: liveness and configured targets
//   - GET /status and /status/{target}: run history from the history database
//   - GET /metrics: Prometheus metrics
//
// A push to a target's branch deploys the pushed commit; a tag push deploys
// the tag when the target has deploy_tags set. Runs execute asynchronously,
// one per target. A trigger arriving while a run holds the target's lock is
// rejected with 429 and recorded as rejected.
package server
