// Package events provides event bus implementations.
//
// Implementations:
//   - redis: Redis Streams, every subscriber reads the whole stream
//   - memory: in-process fan-out of published snapshots to subscribers
//     such as websocket streams
package events
