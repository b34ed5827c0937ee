package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/aescanero/metricsd/pkg/ports"
	"go.uber.org/zap"
)

// ErrBusClosed is returned by Publish and Subscribe after Close.
var ErrBusClosed = errors.New("event bus closed")

type subscription struct {
	id      uint64
	handler ports.EventHandler
}

// InMemoryEventBus implements EventBus using in-memory handlers.
// Handlers run asynchronously, one goroutine per delivery.
type InMemoryEventBus struct {
	logger *zap.Logger

	mu          sync.RWMutex
	subscribers map[string][]subscription
	nextID      uint64
	closed      bool
	inflight    sync.WaitGroup
}

// NewInMemoryEventBus creates a new in-memory event bus
func NewInMemoryEventBus(logger *zap.Logger) *InMemoryEventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryEventBus{
		logger:      logger,
		subscribers: make(map[string][]subscription),
	}
}

// Publish publishes an event to all subscribers of a topic
func (e *InMemoryEventBus) Publish(ctx context.Context, topic string, event ports.Event) error {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return ErrBusClosed
	}
	subs := make([]subscription, len(e.subscribers[topic]))
	copy(subs, e.subscribers[topic])
	e.inflight.Add(len(subs))
	e.mu.RUnlock()

	// Call all handlers asynchronously
	for _, sub := range subs {
		go func(sub subscription) {
			defer e.inflight.Done()
			if err := sub.handler(ctx, event); err != nil {
				e.logger.Warn("event handler failed",
					zap.String("topic", topic),
					zap.String("event_id", event.ID),
					zap.Error(err))
			}
		}(sub)
	}

	return nil
}

// Subscribe subscribes to events on a specific topic until ctx is done
func (e *InMemoryEventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrBusClosed
	}

	e.nextID++
	id := e.nextID
	e.subscribers[topic] = append(e.subscribers[topic], subscription{id: id, handler: handler})

	// Clean up subscription on context cancellation
	go func() {
		<-ctx.Done()
		e.unsubscribe(topic, id)
	}()

	return nil
}

// Subscribers returns the number of handlers subscribed to topic
func (e *InMemoryEventBus) Subscribers(topic string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subscribers[topic])
}

// Close stops accepting events, drops all subscribers and waits for
// in-flight deliveries.
func (e *InMemoryEventBus) Close() error {
	e.mu.Lock()
	e.closed = true
	e.subscribers = make(map[string][]subscription)
	e.mu.Unlock()

	e.inflight.Wait()
	return nil
}

// unsubscribe removes a handler from a topic
func (e *InMemoryEventBus) unsubscribe(topic string, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	subs := e.subscribers[topic]
	for i, sub := range subs {
		if sub.id == id {
			e.subscribers[topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(e.subscribers[topic]) == 0 {
		delete(e.subscribers, topic)
	}
}
