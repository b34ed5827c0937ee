package publisher

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	eventsmemory "github.com/aescanero/metricsd/pkg/adapters/events/memory"
	storagememory "github.com/aescanero/metricsd/pkg/adapters/storage/memory"
	"github.com/aescanero/metricsd/pkg/domain"
	"github.com/aescanero/metricsd/pkg/metrics"
	"github.com/aescanero/metricsd/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type failingStore struct {
	ports.SnapshotStore
}

func (failingStore) Save(context.Context, *domain.Snapshot) error {
	return errors.New("disk full")
}

func newRegistry(t *testing.T) *metrics.Registry {
	t.Helper()
	reg, err := metrics.NewRegistry(metrics.Options{Prefix: "demo"})
	require.NoError(t, err)
	latency := reg.MustRegister(metrics.Descriptor{
		Name:       "http_request_duration_seconds",
		Help:       "Latency.",
		Kind:       metrics.KindHistogram,
		LabelNames: []string{"route"},
		Buckets:    []float64{0.1, 0.5, 1},
	})
	require.NoError(t, latency.Observe(metrics.Labels{"route": "/health"}, 0.05))
	return reg
}

func counterValue(t *testing.T, reg *metrics.Registry, name string, labels ...metrics.LabelPair) float64 {
	t.Helper()
	for _, f := range reg.Snapshot() {
		if f.Name != name {
			continue
		}
		for _, s := range f.Series {
			if len(labels) == 0 || assert.ObjectsAreEqual(labels, s.Labels) {
				return s.Value
			}
		}
	}
	return 0
}

func TestNewValidatesConfig(t *testing.T) {
	reg := newRegistry(t)
	store := storagememory.NewSnapshotStore(5)

	_, err := New(&Config{Store: store, Interval: time.Second})
	assert.Error(t, err)
	_, err = New(&Config{Registry: reg, Interval: time.Second})
	assert.Error(t, err)
	_, err = New(&Config{Registry: reg, Store: store})
	assert.Error(t, err)
}

func TestNewTwiceOnSameRegistryFails(t *testing.T) {
	reg := newRegistry(t)
	store := storagememory.NewSnapshotStore(5)

	_, err := New(&Config{Registry: reg, Store: store, Interval: time.Second})
	require.NoError(t, err)
	_, err = New(&Config{Registry: reg, Store: store, Interval: time.Second})
	require.ErrorIs(t, err, metrics.ErrDuplicateMetric)
}

func TestPublishOnceStoresAndPublishes(t *testing.T) {
	reg := newRegistry(t)
	store := storagememory.NewSnapshotStore(5)
	bus := eventsmemory.NewInMemoryEventBus(zaptest.NewLogger(t))
	defer bus.Close()

	got := make(chan ports.Event, 1)
	require.NoError(t, bus.Subscribe(context.Background(), ports.TopicSnapshots, func(_ context.Context, ev ports.Event) error {
		got <- ev
		return nil
	}))

	p, err := New(&Config{
		Registry:      reg,
		Store:         store,
		Bus:           bus,
		Interval:      time.Minute,
		RenderTimeout: time.Second,
		Logger:        zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	snap, err := p.PublishOnce(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, snap.ID)
	assert.True(t, strings.Contains(snap.Payload, `demo_http_request_duration_seconds_bucket{route="/health",le="0.1"} 1`))
	assert.Equal(t, metrics.ContentType, snap.ContentType)
	assert.GreaterOrEqual(t, snap.Series, 1)

	latest, err := store.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snap.ID, latest.ID)

	select {
	case ev := <-got:
		assert.Equal(t, EventTypeSnapshot, ev.Type)
		require.NotNil(t, ev.Snapshot)
		assert.Equal(t, snap.ID, ev.Snapshot.ID)
	case <-time.After(time.Second):
		t.Fatal("snapshot event not delivered")
	}

	assert.Equal(t, float64(1), counterValue(t, reg, "demo_snapshots_published_total"))
}

func TestPublishOnceCountsStoreFailures(t *testing.T) {
	reg := newRegistry(t)
	p, err := New(&Config{Registry: reg, Store: failingStore{}, Interval: time.Minute})
	require.NoError(t, err)

	_, err = p.PublishOnce(context.Background())
	require.Error(t, err)

	assert.Equal(t, float64(1), counterValue(t, reg, "demo_snapshot_failures_total", metrics.LabelPair{Name: "stage", Value: StageStore}))
	assert.Equal(t, float64(0), counterValue(t, reg, "demo_snapshots_published_total"))
}

func TestPublishOnceCountsRenderFailures(t *testing.T) {
	reg := newRegistry(t)
	p, err := New(&Config{Registry: reg, Store: storagememory.NewSnapshotStore(1), Interval: time.Minute})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = p.PublishOnce(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, float64(1), counterValue(t, reg, "demo_snapshot_failures_total", metrics.LabelPair{Name: "stage", Value: StageRender}))
}

func TestPublishOnceCountsBusFailures(t *testing.T) {
	reg := newRegistry(t)
	bus := eventsmemory.NewInMemoryEventBus(nil)
	require.NoError(t, bus.Close())

	store := storagememory.NewSnapshotStore(1)
	p, err := New(&Config{Registry: reg, Store: store, Bus: bus, Interval: time.Minute})
	require.NoError(t, err)

	_, err = p.PublishOnce(context.Background())
	require.ErrorIs(t, err, eventsmemory.ErrBusClosed)
	assert.Equal(t, float64(1), counterValue(t, reg, "demo_snapshot_failures_total", metrics.LabelPair{Name: "stage", Value: StagePublish}))

	// the snapshot was still stored
	_, err = store.Latest(context.Background())
	require.NoError(t, err)
}

func TestStartStop(t *testing.T) {
	reg := newRegistry(t)
	store := storagememory.NewSnapshotStore(100)
	p, err := New(&Config{Registry: reg, Store: store, Interval: 10 * time.Millisecond, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	p.Start()
	p.Start() // no-op while running

	assert.Eventually(t, func() bool {
		list, _ := store.List(context.Background(), 0)
		return len(list) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	p.Stop()
	p.Stop() // no-op when stopped

	list, err := store.List(context.Background(), 0)
	require.NoError(t, err)
	count := len(list)
	time.Sleep(50 * time.Millisecond)
	list, err = store.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, count, len(list))
}
