// Package publisher implements the periodic snapshot loop.
//
// On every tick the publisher:
//   - renders the registry in the text exposition format, bounded by the
//     render timeout
//   - saves the result to the snapshot store
//   - publishes it on the event bus for live subscribers
//
// Failures are logged and counted by stage in snapshot_failures_total.
package publisher
