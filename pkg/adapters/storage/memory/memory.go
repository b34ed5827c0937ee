package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/aescanero/metricsd/pkg/domain"
)

// SnapshotStore implements ports.SnapshotStore with a bounded in-memory
// history. When full, the oldest snapshot is evicted.
type SnapshotStore struct {
	retain int

	mu      sync.RWMutex
	history []*domain.Snapshot // oldest first
	byID    map[string]*domain.Snapshot
}

// NewSnapshotStore creates a store keeping the last retain snapshots
func NewSnapshotStore(retain int) *SnapshotStore {
	if retain < 1 {
		retain = 1
	}
	return &SnapshotStore{
		retain: retain,
		byID:   make(map[string]*domain.Snapshot, retain),
	}
}

// Save persists a snapshot (ports.SnapshotStore interface)
func (s *SnapshotStore) Save(ctx context.Context, snap *domain.Snapshot) error {
	if snap == nil || snap.ID == "" {
		return fmt.Errorf("snapshot without ID")
	}

	// Copy to avoid mutations by the caller
	stored := *snap

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.byID[stored.ID]; ok {
		for i, h := range s.history {
			if h == old {
				s.history = append(s.history[:i], s.history[i+1:]...)
				break
			}
		}
	}
	s.history = append(s.history, &stored)
	s.byID[stored.ID] = &stored

	for len(s.history) > s.retain {
		delete(s.byID, s.history[0].ID)
		s.history[0] = nil
		s.history = s.history[1:]
	}

	return nil
}

// Latest returns the most recent snapshot (ports.SnapshotStore interface)
func (s *SnapshotStore) Latest(ctx context.Context) (*domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.history) == 0 {
		return nil, domain.ErrSnapshotNotFound
	}
	out := *s.history[len(s.history)-1]
	return &out, nil
}

// Get retrieves a snapshot by ID (ports.SnapshotStore interface)
func (s *SnapshotStore) Get(ctx context.Context, id string) (*domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSnapshotNotFound, id)
	}
	out := *snap
	return &out, nil
}

// List returns snapshots newest first (ports.SnapshotStore interface)
func (s *SnapshotStore) List(ctx context.Context, limit int) ([]*domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.history)
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]*domain.Snapshot, 0, n)
	for i := len(s.history) - 1; i >= 0 && len(out) < n; i-- {
		snap := *s.history[i]
		out = append(out, &snap)
	}
	return out, nil
}
