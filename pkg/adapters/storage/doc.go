// Package storage provides snapshot storage implementations.
//
// Implementations:
//   - redis: Redis with JSON serialization, TTL and a time-ordered index
//   - memory: bounded in-memory history
package storage
