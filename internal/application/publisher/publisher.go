package publisher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aescanero/metricsd/pkg/domain"
	"github.com/aescanero/metricsd/pkg/metrics"
	"github.com/aescanero/metricsd/pkg/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventTypeSnapshot is the type of events carrying a snapshot.
const EventTypeSnapshot = "snapshot.published"

// Failure stages reported in the failures counter.
const (
	StageRender  = "render"
	StageStore   = "store"
	StagePublish = "publish"
)

// Publisher periodically renders the registry, persists the result and
// publishes it on the event bus
type Publisher struct {
	registry      *metrics.Registry
	store         ports.SnapshotStore
	bus           ports.EventBus
	interval      time.Duration
	renderTimeout time.Duration
	logger        *zap.Logger

	published *metrics.Handle
	failures  *metrics.Handle

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

// Config holds publisher configuration
type Config struct {
	Registry      *metrics.Registry
	Store         ports.SnapshotStore
	Bus           ports.EventBus // optional
	Interval      time.Duration
	RenderTimeout time.Duration
	Logger        *zap.Logger
}

// New creates a publisher and registers its own metrics in the registry
func New(cfg *Config) (*Publisher, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("snapshot store is required")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("invalid snapshot interval: %s", cfg.Interval)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	published, err := cfg.Registry.Register(metrics.Descriptor{
		Name: "snapshots_published_total",
		Help: "Snapshots rendered and persisted by the publisher.",
		Kind: metrics.KindCounter,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register publisher metrics: %w", err)
	}
	failures, err := cfg.Registry.Register(metrics.Descriptor{
		Name:       "snapshot_failures_total",
		Help:       "Snapshot publishing failures by stage.",
		Kind:       metrics.KindCounter,
		LabelNames: []string{"stage"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register publisher metrics: %w", err)
	}

	return &Publisher{
		registry:      cfg.Registry,
		store:         cfg.Store,
		bus:           cfg.Bus,
		interval:      cfg.Interval,
		renderTimeout: cfg.RenderTimeout,
		logger:        logger,
		published:     published,
		failures:      failures,
	}, nil
}

// Start starts the publishing loop
func (p *Publisher) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.done = make(chan struct{})

	go p.run(p.stopCh, p.done)
}

// Stop stops the publishing loop and waits for an in-progress tick
func (p *Publisher) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	stopCh, done := p.stopCh, p.done
	p.mu.Unlock()

	close(stopCh)
	<-done
}

// run is the main publishing loop
func (p *Publisher) run(stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				select {
				case <-stopCh:
					cancel()
				case <-ctx.Done():
				}
			}()
			if _, err := p.PublishOnce(ctx); err != nil {
				p.logger.Warn("snapshot publishing failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// PublishOnce renders, stores and publishes one snapshot
func (p *Publisher) PublishOnce(ctx context.Context) (*domain.Snapshot, error) {
	renderCtx := ctx
	if p.renderTimeout > 0 {
		var cancel context.CancelFunc
		renderCtx, cancel = context.WithTimeout(ctx, p.renderTimeout)
		defer cancel()
	}

	families, err := p.registry.SnapshotContext(renderCtx)
	if err != nil {
		p.fail(StageRender)
		return nil, fmt.Errorf("failed to render snapshot: %w", err)
	}
	var buf bytes.Buffer
	if err := metrics.WriteText(&buf, families); err != nil {
		p.fail(StageRender)
		return nil, fmt.Errorf("failed to render snapshot: %w", err)
	}
	snap := domain.NewSnapshot(families, buf.Bytes(), time.Now())

	if err := p.store.Save(ctx, snap); err != nil {
		p.fail(StageStore)
		return nil, fmt.Errorf("failed to save snapshot: %w", err)
	}

	if p.bus != nil {
		event := ports.Event{
			ID:        uuid.New().String(),
			Type:      EventTypeSnapshot,
			Timestamp: snap.CreatedAt,
			Snapshot:  snap,
		}
		if err := p.bus.Publish(ctx, ports.TopicSnapshots, event); err != nil {
			p.fail(StagePublish)
			return snap, fmt.Errorf("failed to publish snapshot: %w", err)
		}
	}

	if err := p.published.Inc(nil); err != nil {
		p.logger.Warn("failed to count published snapshot", zap.Error(err))
	}

	p.logger.Debug("snapshot published",
		zap.String("snapshot_id", snap.ID),
		zap.Int("families", snap.Families),
		zap.Int("series", snap.Series))

	return snap, nil
}

func (p *Publisher) fail(stage string) {
	if err := p.failures.Inc(metrics.Labels{"stage": stage}); err != nil {
		p.logger.Warn("failed to count snapshot failure",
			zap.String("stage", stage),
			zap.Error(err))
	}
}
