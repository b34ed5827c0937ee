package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/aescanero/metricsd/pkg/domain"
	"github.com/aescanero/metricsd/pkg/ports"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// FormatText streams the exposition payload of each snapshot
	FormatText = "text"
	// FormatJSON streams each snapshot record as JSON
	FormatJSON = "json"

	bufferSize   = 10
	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler streams published snapshots over WebSocket connections
type Handler struct {
	eventBus ports.EventBus
	store    ports.SnapshotStore
	logger   *zap.Logger
}

// NewHandler creates a new WebSocket handler. store may be nil, in which
// case clients only receive snapshots published after they connect.
func NewHandler(eventBus ports.EventBus, store ports.SnapshotStore, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		eventBus: eventBus,
		store:    store,
		logger:   logger,
	}
}

// HandleMetricsStream sends the latest snapshot, then every snapshot
// published while the client stays connected.
func (h *Handler) HandleMetricsStream(c *gin.Context) {
	format := c.DefaultQuery("format", FormatText)
	if format != FormatText && format != FormatJSON {
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be text or json"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("WebSocket connection established",
		zap.String("format", format),
		zap.String("client", c.ClientIP()))

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// The read loop only detects the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	snapshots := make(chan *domain.Snapshot, bufferSize)
	if err := h.eventBus.Subscribe(ctx, ports.TopicSnapshots, h.forward(ctx, snapshots)); err != nil {
		h.logger.Error("failed to subscribe to snapshots", zap.Error(err))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscription failed"),
			time.Now().Add(writeTimeout))
		return
	}

	if h.store != nil {
		latest, err := h.store.Latest(ctx)
		switch {
		case err == nil:
			if err := h.write(conn, format, latest); err != nil {
				return
			}
		case !errors.Is(err, domain.ErrSnapshotNotFound):
			h.logger.Warn("failed to load latest snapshot", zap.Error(err))
		}
	}

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("WebSocket connection closed", zap.String("client", c.ClientIP()))
			return
		case snap := <-snapshots:
			if err := h.write(conn, format, snap); err != nil {
				return
			}
		}
	}
}

// forward hands snapshots to the connection loop without blocking the bus
func (h *Handler) forward(ctx context.Context, ch chan<- *domain.Snapshot) ports.EventHandler {
	return func(_ context.Context, event ports.Event) error {
		if event.Snapshot == nil {
			return nil
		}
		select {
		case ch <- event.Snapshot:
		case <-ctx.Done():
		default:
			h.logger.Warn("snapshot channel full, dropping snapshot",
				zap.String("event_id", event.ID),
				zap.String("snapshot_id", event.Snapshot.ID))
		}
		return nil
	}
}

func (h *Handler) write(conn *websocket.Conn, format string, snap *domain.Snapshot) error {
	var data []byte
	if format == FormatJSON {
		var err error
		if data, err = json.Marshal(snap); err != nil {
			h.logger.Error("failed to marshal snapshot", zap.Error(err))
			return nil
		}
	} else {
		data = []byte(snap.Payload)
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		h.logger.Warn("failed to write message", zap.Error(err))
		return err
	}
	return nil
}
