package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aescanero/metricsd/pkg/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPrefix = "metricsd:snapshot:"
	latestKey = keyPrefix + "latest"
	// indexKey is a sorted set of snapshot IDs scored by creation time
	indexKey = "metricsd:snapshots"
)

// SnapshotStore implements ports.SnapshotStore using Redis. Snapshots are
// stored as JSON with a TTL; an index keeps them ordered by time.
type SnapshotStore struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewSnapshotStore creates a new Redis snapshot store
func NewSnapshotStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *SnapshotStore {
	return &SnapshotStore{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// Save persists a snapshot and points the latest key at it (ports.SnapshotStore interface)
func (s *SnapshotStore) Save(ctx context.Context, snap *domain.Snapshot) error {
	if snap == nil || snap.ID == "" {
		return fmt.Errorf("snapshot without ID")
	}

	// Serialize snapshot
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	score := float64(snap.CreatedAt.UnixNano())
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, getSnapshotKey(snap.ID), data, s.ttl)
		pipe.Set(ctx, latestKey, snap.ID, s.ttl)
		pipe.ZAdd(ctx, indexKey, redis.Z{Score: score, Member: snap.ID})
		if s.ttl > 0 {
			// drop index entries whose snapshot has expired
			cutoff := float64(snap.CreatedAt.Add(-s.ttl).UnixNano())
			pipe.ZRemRangeByScore(ctx, indexKey, "-inf", "("+strconv.FormatFloat(cutoff, 'f', -1, 64))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	s.logger.Debug("snapshot saved",
		zap.String("snapshot_id", snap.ID),
		zap.Int("series", snap.Series))

	return nil
}

// Latest retrieves the most recently saved snapshot (ports.SnapshotStore interface)
func (s *SnapshotStore) Latest(ctx context.Context) (*domain.Snapshot, error) {
	id, err := s.client.Get(ctx, latestKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}

	return s.Get(ctx, id)
}

// Get retrieves a snapshot by ID (ports.SnapshotStore interface)
func (s *SnapshotStore) Get(ctx context.Context, id string) (*domain.Snapshot, error) {
	data, err := s.client.Get(ctx, getSnapshotKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", domain.ErrSnapshotNotFound, id)
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	// Deserialize snapshot
	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// List returns snapshots newest first (ports.SnapshotStore interface)
func (s *SnapshotStore) List(ctx context.Context, limit int) ([]*domain.Snapshot, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	ids, err := s.client.ZRevRange(ctx, indexKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	snaps := make([]*domain.Snapshot, 0, len(ids))
	for _, id := range ids {
		snap, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrSnapshotNotFound) {
				// expired between the index read and the get
				continue
			}
			return nil, err
		}
		snaps = append(snaps, snap)
	}

	return snaps, nil
}

// getSnapshotKey returns the Redis key for a snapshot
func getSnapshotKey(id string) string {
	return keyPrefix + id
}
