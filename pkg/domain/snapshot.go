package domain

import (
	"errors"
	"time"

	"github.com/aescanero/metricsd/pkg/metrics"
	"github.com/google/uuid"
)

// ErrSnapshotNotFound is returned by stores for unknown snapshot IDs or
// when nothing has been saved yet.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Snapshot is one persisted rendering of the registry
type Snapshot struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Families    int       `json:"families"`
	Series      int       `json:"series"`
	ContentType string    `json:"content_type"`
	Payload     string    `json:"payload"`
}

// NewSnapshot wraps a rendered exposition and the families it was rendered
// from.
func NewSnapshot(families []metrics.FamilySnapshot, payload []byte, now time.Time) *Snapshot {
	series := 0
	for _, f := range families {
		series += len(f.Series)
	}
	return &Snapshot{
		ID:          uuid.New().String(),
		CreatedAt:   now.UTC(),
		Families:    len(families),
		Series:      series,
		ContentType: metrics.ContentType,
		Payload:     string(payload),
	}
}
