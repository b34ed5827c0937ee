// Package http provides the demo HTTP service.
//
// The server exposes:
//   - /health and /api/hello
//   - /metrics in the text exposition format
//   - /metrics/snapshots for published snapshots
//   - /metrics/stream, when a websocket handler is attached
//
// Every request is timed into http_request_duration_seconds labelled by
// method, route template and status code.
package http
