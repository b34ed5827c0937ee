package metrics

// FamilySnapshot is the immutable state of one metric and all its series.
type FamilySnapshot struct {
	Name       string           `json:"name"`
	Help       string           `json:"help"`
	Kind       Kind             `json:"kind"`
	LabelNames []string         `json:"label_names,omitempty"`
	Buckets    []float64        `json:"buckets,omitempty"`
	Series     []SeriesSnapshot `json:"series"`
}

// SeriesSnapshot is the state of one label set. Value is set for counters
// and gauges, Histogram for histograms.
type SeriesSnapshot struct {
	Labels    []LabelPair        `json:"labels,omitempty"`
	Value     float64            `json:"value"`
	Histogram *HistogramSnapshot `json:"histogram,omitempty"`
}

// HistogramSnapshot holds cumulative bucket counts in ascending bound
// order. The +Inf bucket is not listed; its count equals Count.
type HistogramSnapshot struct {
	Buckets []Bucket `json:"buckets"`
	Sum     float64  `json:"sum"`
	Count   uint64   `json:"count"`
}

// Bucket is one cumulative histogram bucket.
type Bucket struct {
	UpperBound      float64 `json:"upper_bound"`
	CumulativeCount uint64  `json:"cumulative_count"`
}

// snapshotFamily copies every series of m. Each accumulator is copied
// atomically; series of the same metric are copied one after another.
func snapshotFamily(m *metric) FamilySnapshot {
	d := m.desc
	fs := FamilySnapshot{
		Name:       d.Name,
		Help:       d.Help,
		Kind:       d.Kind,
		LabelNames: append([]string(nil), d.LabelNames...),
	}
	if d.Kind == KindHistogram {
		fs.Buckets = append([]float64(nil), d.Buckets...)
	}

	all := m.index.all()
	fs.Series = make([]SeriesSnapshot, len(all))
	for i, s := range all {
		fs.Series[i].Labels = labelPairs(d.LabelNames, s.values)
		s.acc.snapshot(&fs.Series[i])
	}
	return fs
}
