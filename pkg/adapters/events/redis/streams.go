package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aescanero/metricsd/pkg/ports"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StreamsEventBus implements EventBus using Redis Streams. Every
// subscriber reads the stream on its own from the entry that was newest
// when it subscribed, so all subscribers of all replicas see every event.
type StreamsEventBus struct {
	client *redis.Client
	logger *zap.Logger
	maxLen int64
	block  time.Duration
}

// Config holds Redis Streams event bus configuration
type Config struct {
	// MaxLen caps each stream (approximate trimming). Zero keeps everything.
	MaxLen int64
	// Block is how long a read waits for new entries.
	Block  time.Duration
	Logger *zap.Logger
}

// NewStreamsEventBus creates a new Redis Streams event bus
func NewStreamsEventBus(client *redis.Client, cfg Config) *StreamsEventBus {
	block := cfg.Block
	if block <= 0 {
		block = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamsEventBus{
		client: client,
		logger: logger,
		maxLen: cfg.MaxLen,
		block:  block,
	}
}

// Publish publishes an event to the appropriate stream topic
func (e *StreamsEventBus) Publish(ctx context.Context, topic string, event ports.Event) error {
	streamKey := getStreamKey(topic)

	// Serialize event
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// Add to stream
	args := &redis.XAddArgs{
		Stream: streamKey,
		MaxLen: e.maxLen,
		Approx: e.maxLen > 0,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}

	if _, err := e.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}

	e.logger.Debug("event published",
		zap.String("event_id", event.ID),
		zap.String("type", event.Type),
		zap.String("topic", topic),
		zap.String("stream", streamKey))

	return nil
}

// Subscribe subscribes to events on a specific topic until ctx is done
func (e *StreamsEventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	streamKey := getStreamKey(topic)

	// Start after the newest entry so only later events are delivered
	lastID := "0-0"
	latest, err := e.client.XRevRangeN(ctx, streamKey, "+", "-", 1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to read stream position: %w", err)
	}
	if len(latest) > 0 {
		lastID = latest[0].ID
	}

	e.logger.Debug("subscribed to event stream",
		zap.String("stream", streamKey),
		zap.String("topic", topic),
		zap.String("from_id", lastID))

	// Start reading from stream
	go e.readStream(ctx, streamKey, lastID, handler)

	return nil
}

// readStream reads events from a stream
func (e *StreamsEventBus) readStream(ctx context.Context, streamKey, lastID string, handler ports.EventHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Read from stream
		streams, err := e.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{streamKey, lastID},
			Count:   10,
			Block:   e.block,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) {
				// No new messages
				continue
			}
			if ctx.Err() != nil {
				return
			}
			e.logger.Error("failed to read from stream",
				zap.String("stream", streamKey),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		// Process messages
		for _, stream := range streams {
			for _, message := range stream.Messages {
				e.processMessage(ctx, streamKey, message, handler)
				lastID = message.ID
			}
		}
	}
}

// processMessage processes a single message from the stream
func (e *StreamsEventBus) processMessage(ctx context.Context, streamKey string, message redis.XMessage, handler ports.EventHandler) {
	// Extract event data
	data, ok := message.Values["data"].(string)
	if !ok {
		e.logger.Error("invalid message format",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID))
		return
	}

	// Deserialize event
	var event ports.Event
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		e.logger.Error("failed to unmarshal event",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
		return
	}

	// Call handler
	if err := handler(ctx, event); err != nil {
		e.logger.Warn("handler error",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
	}
}

// Close closes the event bus. Readers stop with their subscription
// contexts; the Redis client is closed by the caller.
func (e *StreamsEventBus) Close() error {
	return nil
}

// getStreamKey returns the Redis stream key for a topic
func getStreamKey(topic string) string {
	return fmt.Sprintf("metricsd:events:%s", topic)
}
