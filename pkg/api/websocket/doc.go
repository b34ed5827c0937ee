// Package websocket streams metric snapshots to clients connected to
// /metrics/stream. Each connection gets its own event bus subscription,
// cancelled when the client disconnects.
package websocket
