package metrics

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// DefaultMaxCardinality is the label set ceiling used when Options leaves
// MaxCardinality at zero.
const DefaultMaxCardinality = 1000

// droppedMetricName is the meta-metric counting observations dropped by
// the cardinality ceiling, labelled by the metric that dropped them.
const droppedMetricName = "metrics_cardinality_dropped_total"

// Options configures a Registry.
type Options struct {
	// Prefix is joined to every registered name with "_".
	Prefix string

	// DefaultBuckets apply to histograms registered without buckets.
	// Empty means DefBuckets.
	DefaultBuckets []float64

	// MaxCardinality caps the distinct label sets per metric. Zero means
	// DefaultMaxCardinality, negative disables the cap.
	MaxCardinality int
}

// Registry owns the set of named metrics. Metrics are never removed, so
// handles stay valid for the lifetime of the registry.
type Registry struct {
	prefix         string
	defaultBuckets []float64
	maxCardinality int

	mu      sync.RWMutex
	metrics map[string]*metric

	dropped *metric
}

type metric struct {
	desc  *Descriptor
	index *labelIndex
}

// NewRegistry creates a registry and registers its cardinality meta-metric.
func NewRegistry(opts Options) (*Registry, error) {
	buckets := opts.DefaultBuckets
	if len(buckets) == 0 {
		buckets = DefBuckets
	}
	buckets, err := normalizeBuckets(buckets)
	if err != nil {
		return nil, fmt.Errorf("invalid default buckets: %w", err)
	}

	limit := opts.MaxCardinality
	if limit == 0 {
		limit = DefaultMaxCardinality
	}

	r := &Registry{
		prefix:         opts.Prefix,
		defaultBuckets: buckets,
		maxCardinality: limit,
		metrics:        make(map[string]*metric),
	}

	// One series per registered metric, so no ceiling is needed.
	dropped, err := r.register(Descriptor{
		Name:           droppedMetricName,
		Help:           "Observations dropped because the metric reached its label set ceiling.",
		Kind:           KindCounter,
		LabelNames:     []string{"metric"},
		MaxCardinality: -1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register meta-metric: %w", err)
	}
	r.dropped = dropped.m

	return r, nil
}

// Register adds a metric and returns its handle. It fails with
// ErrDuplicateMetric if the fully-qualified name exists, leaving the
// existing metric untouched.
func (r *Registry) Register(d Descriptor) (*Handle, error) {
	return r.register(d)
}

// MustRegister is Register that panics on error. Intended for startup.
func (r *Registry) MustRegister(d Descriptor) *Handle {
	h, err := r.Register(d)
	if err != nil {
		panic(err)
	}
	return h
}

func (r *Registry) register(d Descriptor) (*Handle, error) {
	desc := d.clone()
	desc.Name = buildFQName(r.prefix, desc.Name)
	if err := desc.validate(r.defaultBuckets); err != nil {
		return nil, err
	}

	limit := r.maxCardinality
	switch {
	case desc.MaxCardinality > 0:
		limit = desc.MaxCardinality
	case desc.MaxCardinality < 0:
		limit = 0
	}

	m := &metric{desc: &desc}
	m.index = newLabelIndex(m.desc, limit)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.metrics[desc.Name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateMetric, desc.Name)
	}
	r.metrics[desc.Name] = m
	return &Handle{registry: r, m: m}, nil
}

// Handle returns the handle of a registered metric. name may be given with
// or without the registry prefix; an exact match on the full name wins, so
// with prefix "demo" the name "demo_x" resolves to demo_x even when
// demo_demo_x is also registered.
func (r *Registry) Handle(name string) (*Handle, error) {
	r.mu.RLock()
	m, ok := r.metrics[name]
	if !ok {
		m, ok = r.metrics[buildFQName(r.prefix, name)]
	}
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMetric, name)
	}
	return &Handle{registry: r, m: m}, nil
}

// Prefix returns the process-wide name prefix.
func (r *Registry) Prefix() string {
	return r.prefix
}

// DefaultBuckets returns a copy of the default histogram buckets.
func (r *Registry) DefaultBuckets() []float64 {
	return append([]float64(nil), r.defaultBuckets...)
}

// Dropped returns how many observations of the named metric were dropped
// by the cardinality ceiling.
func (r *Registry) Dropped(name string) float64 {
	h, err := r.Handle(name)
	if err != nil {
		return 0
	}
	s := r.dropped.index.get([]string{h.Name()})
	if s == nil {
		return 0
	}
	return s.acc.(*counterAccumulator).Value()
}

// recordDrop increments the meta-metric for the metric named name.
func (r *Registry) recordDrop(name string) {
	s, err := r.dropped.index.getOrCreateValues([]string{name})
	if err != nil {
		// Unbounded index with a fixed label arity.
		return
	}
	_ = s.acc.(*counterAccumulator).Add(1)
}

// families returns the registered metrics ordered by name.
func (r *Registry) families() []*metric {
	r.mu.RLock()
	out := make([]*metric, 0, len(r.metrics))
	for _, m := range r.metrics {
		out = append(out, m)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].desc.Name < out[j].desc.Name
	})
	return out
}

// Snapshot returns the state of every metric ordered by name.
func (r *Registry) Snapshot() []FamilySnapshot {
	fs, _ := r.SnapshotContext(context.Background())
	return fs
}

// SnapshotContext is Snapshot with a deadline checked between metrics. A
// metric that has started copying is always finished.
func (r *Registry) SnapshotContext(ctx context.Context) ([]FamilySnapshot, error) {
	ms := r.families()
	out := make([]FamilySnapshot, 0, len(ms))
	for _, m := range ms {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("snapshot interrupted after %d of %d metrics: %w", len(out), len(ms), err)
		}
		out = append(out, snapshotFamily(m))
	}
	return out, nil
}
