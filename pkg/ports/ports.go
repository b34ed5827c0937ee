// Package ports defines the interfaces between the application layer and
// its adapters.
package ports

import (
	"context"
	"time"

	"github.com/aescanero/metricsd/pkg/domain"
)

// TopicSnapshots carries every published snapshot.
const TopicSnapshots = "metrics.snapshots"

// SnapshotStore persists rendered snapshots
type SnapshotStore interface {
	// Save persists a snapshot and marks it as the latest one.
	Save(ctx context.Context, snap *domain.Snapshot) error

	// Latest returns the most recently saved snapshot.
	Latest(ctx context.Context) (*domain.Snapshot, error)

	// Get returns the snapshot with the given ID.
	Get(ctx context.Context, id string) (*domain.Snapshot, error)

	// List returns up to limit snapshots, newest first. limit <= 0 means
	// all of them.
	List(ctx context.Context, limit int) ([]*domain.Snapshot, error)
}

// Event is a message published on the event bus
type Event struct {
	ID        string           `json:"id"`
	Type      string           `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Snapshot  *domain.Snapshot `json:"snapshot,omitempty"`
}

// EventHandler processes one event
type EventHandler func(ctx context.Context, event Event) error

// EventBus fans events out to subscribers
type EventBus interface {
	Publish(ctx context.Context, topic string, event Event) error

	// Subscribe registers handler until ctx is cancelled.
	Subscribe(ctx context.Context, topic string, handler EventHandler) error

	Close() error
}
