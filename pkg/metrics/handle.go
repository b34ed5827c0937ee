package metrics

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Handle is the entry point for recording values of one registered metric.
// Handles are cheap to copy and safe for concurrent use.
type Handle struct {
	registry *Registry
	m        *metric
}

// Name returns the fully-qualified metric name.
func (h *Handle) Name() string {
	return h.m.desc.Name
}

// Kind returns the metric kind.
func (h *Handle) Kind() Kind {
	return h.m.desc.Kind
}

// Descriptor returns a copy of the registered descriptor, with the prefix
// applied and buckets normalized.
func (h *Handle) Descriptor() Descriptor {
	return h.m.desc.clone()
}

// Cardinality returns the number of distinct label sets seen so far.
func (h *Handle) Cardinality() int {
	return h.m.index.len()
}

// With resolves the series for labels, creating it on first use. Callers
// on hot paths can keep the Series and skip the label lookup.
func (h *Handle) With(labels Labels) (Series, error) {
	s, err := h.m.index.getOrCreate(labels)
	if err != nil {
		if errors.Is(err, ErrCardinalityExceeded) {
			h.registry.recordDrop(h.m.desc.Name)
		}
		return Series{}, err
	}
	return Series{desc: h.m.desc, s: s}, nil
}

// Observe records v in a histogram.
func (h *Handle) Observe(labels Labels, v float64) error {
	if err := h.expect(KindHistogram); err != nil {
		return err
	}
	s, err := h.With(labels)
	if err != nil {
		return err
	}
	return s.Observe(v)
}

// Inc adds 1 to a counter or gauge.
func (h *Handle) Inc(labels Labels) error {
	return h.Add(labels, 1)
}

// Add adds v to a counter (v >= 0) or gauge.
func (h *Handle) Add(labels Labels, v float64) error {
	if err := h.expect(KindCounter, KindGauge); err != nil {
		return err
	}
	s, err := h.With(labels)
	if err != nil {
		return err
	}
	return s.Add(v)
}

// Set replaces the value of a gauge.
func (h *Handle) Set(labels Labels, v float64) error {
	if err := h.expect(KindGauge); err != nil {
		return err
	}
	s, err := h.With(labels)
	if err != nil {
		return err
	}
	return s.Set(v)
}

// StartTimer starts timing an operation for a histogram. Labels known only
// at the end, such as a status code, are passed to ObserveDuration.
func (h *Handle) StartTimer(labels Labels) *Timer {
	return &Timer{
		handle: h,
		labels: labels,
		start:  time.Now(),
	}
}

func (h *Handle) expect(kinds ...Kind) error {
	for _, k := range kinds {
		if h.m.desc.Kind == k {
			return nil
		}
	}
	return fmt.Errorf("%w: %s is a %s", ErrKindMismatch, h.m.desc.Name, h.m.desc.Kind)
}

// Series is one resolved label set of a metric.
type Series struct {
	desc *Descriptor
	s    *series
}

// Observe records v. Only valid for histograms.
func (s Series) Observe(v float64) error {
	hist, ok := s.acc().(*histogramAccumulator)
	if !ok {
		return s.mismatch("Observe")
	}
	return hist.Observe(v)
}

// Inc adds 1. Valid for counters and gauges.
func (s Series) Inc() error {
	return s.Add(1)
}

// Add adds v. Counters reject negative values.
func (s Series) Add(v float64) error {
	switch acc := s.acc().(type) {
	case *counterAccumulator:
		return acc.Add(v)
	case *gaugeAccumulator:
		return acc.Add(v)
	default:
		return s.mismatch("Add")
	}
}

// Set replaces the value. Only valid for gauges.
func (s Series) Set(v float64) error {
	g, ok := s.acc().(*gaugeAccumulator)
	if !ok {
		return s.mismatch("Set")
	}
	if math.IsNaN(v) {
		return fmt.Errorf("%w: NaN gauge value", ErrInvalidValue)
	}
	g.Set(v)
	return nil
}

// Labels returns the canonical label pairs of the series.
func (s Series) Labels() []LabelPair {
	if s.s == nil {
		return nil
	}
	return labelPairs(s.desc.LabelNames, s.s.values)
}

func (s Series) acc() accumulator {
	if s.s == nil {
		return nil
	}
	return s.s.acc
}

func (s Series) mismatch(op string) error {
	if s.desc == nil {
		return fmt.Errorf("%w: %s on unresolved series", ErrKindMismatch, op)
	}
	return fmt.Errorf("%w: %s on %s %s", ErrKindMismatch, op, s.desc.Kind, s.desc.Name)
}

// Timer measures the duration of one operation.
type Timer struct {
	handle *Handle
	labels Labels
	start  time.Time
}

// ObserveDuration records the seconds elapsed since StartTimer under the
// start labels merged with extra, and returns the elapsed time.
func (t *Timer) ObserveDuration(extra Labels) (time.Duration, error) {
	elapsed := time.Since(t.start)
	labels := t.labels
	if len(extra) > 0 {
		labels = merge(t.labels, extra)
	}
	return elapsed, t.handle.Observe(labels, elapsed.Seconds())
}
