package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	eventsmemory "github.com/aescanero/metricsd/pkg/adapters/events/memory"
	storagememory "github.com/aescanero/metricsd/pkg/adapters/storage/memory"
	"github.com/aescanero/metricsd/pkg/domain"
	"github.com/aescanero/metricsd/pkg/ports"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newStreamServer(t *testing.T, store ports.SnapshotStore) (*eventsmemory.InMemoryEventBus, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	bus := eventsmemory.NewInMemoryEventBus(zaptest.NewLogger(t))
	t.Cleanup(func() { _ = bus.Close() })

	router := gin.New()
	router.GET("/metrics/stream", NewHandler(bus, store, zaptest.NewLogger(t)).HandleMetricsStream)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return bus, "ws" + strings.TrimPrefix(srv.URL, "http") + "/metrics/stream"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func publish(t *testing.T, bus ports.EventBus, snap *domain.Snapshot) {
	t.Helper()
	require.NoError(t, bus.Publish(context.Background(), ports.TopicSnapshots, ports.Event{
		ID:        "evt-" + snap.ID,
		Type:      "snapshot.published",
		Timestamp: snap.CreatedAt,
		Snapshot:  snap,
	}))
}

func TestStreamSendsLatestThenPublished(t *testing.T) {
	store := storagememory.NewSnapshotStore(5)
	first := domain.NewSnapshot(nil, []byte("up 1\n"), time.Now())
	require.NoError(t, store.Save(context.Background(), first))

	bus, url := newStreamServer(t, store)
	conn := dial(t, url)

	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "up 1\n", string(msg))

	publish(t, bus, domain.NewSnapshot(nil, []byte("up 2\n"), time.Now()))

	_, msg, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "up 2\n", string(msg))
}

func TestStreamJSONFormat(t *testing.T) {
	bus, url := newStreamServer(t, nil)
	conn := dial(t, url+"?format=json")

	require.Eventually(t, func() bool {
		return bus.Subscribers(ports.TopicSnapshots) == 1
	}, 2*time.Second, 10*time.Millisecond)

	snap := domain.NewSnapshot(nil, []byte("up 1\n"), time.Now())
	publish(t, bus, snap)

	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var got domain.Snapshot
	require.NoError(t, json.Unmarshal(msg, &got))
	assert.Equal(t, snap.ID, got.ID)
	assert.Equal(t, "up 1\n", got.Payload)
}

func TestStreamRejectsUnknownFormat(t *testing.T) {
	_, url := newStreamServer(t, nil)

	_, resp, err := websocket.DefaultDialer.Dial(url+"?format=xml", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestStreamUnsubscribesOnDisconnect(t *testing.T) {
	bus, url := newStreamServer(t, nil)
	conn := dial(t, url)

	require.Eventually(t, func() bool {
		return bus.Subscribers(ports.TopicSnapshots) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		return bus.Subscribers(ports.TopicSnapshots) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStreamClosedBus(t *testing.T) {
	bus, url := newStreamServer(t, nil)
	require.NoError(t, bus.Close())

	conn := dial(t, url)
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseInternalServerErr))
}
