package metrics

import (
	"fmt"
	"sort"
	"sync"
)

// series is one label set of a metric and its accumulator.
type series struct {
	values []string
	acc    accumulator
}

// labelIndex maps canonical label sets to accumulators for one metric.
// Lookups of existing label sets take the read lock only; creation takes
// the write lock and re-checks before inserting.
type labelIndex struct {
	desc  *Descriptor
	limit int // <= 0 means unbounded

	mu      sync.RWMutex
	buckets map[uint64][]*series
	size    int
}

func newLabelIndex(desc *Descriptor, limit int) *labelIndex {
	return &labelIndex{
		desc:    desc,
		limit:   limit,
		buckets: make(map[uint64][]*series),
	}
}

// getOrCreate returns the series for labels, creating it on first use.
func (ix *labelIndex) getOrCreate(labels Labels) (*series, error) {
	values, err := canonicalValues(ix.desc.LabelNames, labels)
	if err != nil {
		return nil, err
	}
	return ix.getOrCreateValues(values)
}

// getOrCreateValues is getOrCreate for values already in descriptor order.
func (ix *labelIndex) getOrCreateValues(values []string) (*series, error) {
	h := hashValues(values)

	// fast path: existing series
	ix.mu.RLock()
	s := ix.find(h, values)
	ix.mu.RUnlock()
	if s != nil {
		return s, nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	// re-check after acquiring the write lock
	if s := ix.find(h, values); s != nil {
		return s, nil
	}
	if ix.limit > 0 && ix.size >= ix.limit {
		return nil, fmt.Errorf("%w: %s has reached %d label sets", ErrCardinalityExceeded, ix.desc.Name, ix.limit)
	}

	s = &series{
		values: append([]string(nil), values...),
		acc:    newAccumulator(ix.desc),
	}
	ix.buckets[h] = append(ix.buckets[h], s)
	ix.size++
	return s, nil
}

// get returns the series for values without creating it.
func (ix *labelIndex) get(values []string) *series {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.find(hashValues(values), values)
}

// find must be called with ix.mu held.
func (ix *labelIndex) find(h uint64, values []string) *series {
	for _, s := range ix.buckets[h] {
		if equalValues(s.values, values) {
			return s
		}
	}
	return nil
}

// all returns every series ordered by label values.
func (ix *labelIndex) all() []*series {
	ix.mu.RLock()
	out := make([]*series, 0, ix.size)
	for _, bucket := range ix.buckets {
		out = append(out, bucket...)
	}
	ix.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return lessValues(out[i].values, out[j].values)
	})
	return out
}

// len returns the number of distinct label sets.
func (ix *labelIndex) len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.size
}
