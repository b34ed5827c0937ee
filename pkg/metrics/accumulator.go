package metrics

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
)

// accumulator holds the values of one label set.
type accumulator interface {
	snapshot(out *SeriesSnapshot)
}

// histogramAccumulator counts observations into fixed buckets. counts are
// kept cumulative: counts[i] is the number of observations <= bounds[i].
// The +Inf bucket is the total count.
type histogramAccumulator struct {
	bounds []float64 // shared with the descriptor, never written

	mu     sync.Mutex
	counts []uint64
	sum    float64
	count  uint64
}

func newHistogramAccumulator(bounds []float64) *histogramAccumulator {
	return &histogramAccumulator{
		bounds: bounds,
		counts: make([]uint64, len(bounds)),
	}
}

// Observe increments every bucket whose upper bound is >= v, the sum and
// the count. Values above the largest bound only land in +Inf.
func (h *histogramAccumulator) Observe(v float64) error {
	if math.IsNaN(v) {
		return fmt.Errorf("%w: NaN observation", ErrInvalidValue)
	}
	first := sort.SearchFloat64s(h.bounds, v)

	h.mu.Lock()
	defer h.mu.Unlock()

	for i := first; i < len(h.counts); i++ {
		h.counts[i]++
	}
	h.sum += v
	h.count++
	return nil
}

// Snapshot returns a copy of the histogram state at the time of call.
func (h *histogramAccumulator) Snapshot() HistogramSnapshot {
	buckets := make([]Bucket, len(h.bounds))

	h.mu.Lock()
	for i, upper := range h.bounds {
		buckets[i] = Bucket{UpperBound: upper, CumulativeCount: h.counts[i]}
	}
	sum, count := h.sum, h.count
	h.mu.Unlock()

	return HistogramSnapshot{Buckets: buckets, Sum: sum, Count: count}
}

func (h *histogramAccumulator) snapshot(out *SeriesSnapshot) {
	hs := h.Snapshot()
	out.Histogram = &hs
}

// counterAccumulator is a monotonic float counter stored as float64 bits.
type counterAccumulator struct {
	bits atomic.Uint64
}

// Add increases the counter by v. Negative and NaN values are rejected.
func (c *counterAccumulator) Add(v float64) error {
	if math.IsNaN(v) || v < 0 {
		return fmt.Errorf("%w: counter increment %g", ErrInvalidValue, v)
	}
	addFloat(&c.bits, v)
	return nil
}

// Value returns the current value.
func (c *counterAccumulator) Value() float64 {
	return math.Float64frombits(c.bits.Load())
}

func (c *counterAccumulator) snapshot(out *SeriesSnapshot) {
	out.Value = c.Value()
}

// gaugeAccumulator holds the last value set, which may go up or down.
type gaugeAccumulator struct {
	bits atomic.Uint64
}

// Set replaces the value.
func (g *gaugeAccumulator) Set(v float64) {
	g.bits.Store(math.Float64bits(v))
}

// Add moves the value by v (negative allowed).
func (g *gaugeAccumulator) Add(v float64) error {
	if math.IsNaN(v) {
		return fmt.Errorf("%w: NaN gauge delta", ErrInvalidValue)
	}
	addFloat(&g.bits, v)
	return nil
}

// Value returns the current value.
func (g *gaugeAccumulator) Value() float64 {
	return math.Float64frombits(g.bits.Load())
}

func (g *gaugeAccumulator) snapshot(out *SeriesSnapshot) {
	out.Value = g.Value()
}

func addFloat(bits *atomic.Uint64, v float64) {
	for {
		oldBits := bits.Load()
		newBits := math.Float64bits(math.Float64frombits(oldBits) + v)
		if bits.CompareAndSwap(oldBits, newBits) {
			return
		}
	}
}

func newAccumulator(d *Descriptor) accumulator {
	switch d.Kind {
	case KindHistogram:
		return newHistogramAccumulator(d.Buckets)
	case KindGauge:
		return &gaugeAccumulator{}
	default:
		return &counterAccumulator{}
	}
}
