package prometheus

import (
	"net/http"

	"github.com/aescanero/metricsd/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector exposes a metrics.Registry as a prometheus.Collector. Every
// scrape takes a fresh snapshot and converts it into const metrics.
type Collector struct {
	registry *metrics.Registry
}

// NewCollector creates a collector reading from registry
func NewCollector(registry *metrics.Registry) *Collector {
	return &Collector{registry: registry}
}

// Describe sends nothing, which makes this an unchecked collector. The set
// of metrics grows as the registry does.
func (c *Collector) Describe(chan<- *prometheus.Desc) {}

// Collect converts the current registry snapshot
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, f := range c.registry.Snapshot() {
		desc := prometheus.NewDesc(f.Name, f.Help, f.LabelNames, nil)
		for _, s := range f.Series {
			values := labelValues(s.Labels)

			var (
				m   prometheus.Metric
				err error
			)
			switch f.Kind {
			case metrics.KindCounter:
				m, err = prometheus.NewConstMetric(desc, prometheus.CounterValue, s.Value, values...)
			case metrics.KindGauge:
				m, err = prometheus.NewConstMetric(desc, prometheus.GaugeValue, s.Value, values...)
			case metrics.KindHistogram:
				if s.Histogram == nil {
					continue
				}
				buckets := make(map[float64]uint64, len(s.Histogram.Buckets))
				for _, b := range s.Histogram.Buckets {
					buckets[b.UpperBound] = b.CumulativeCount
				}
				m, err = prometheus.NewConstHistogram(desc, s.Histogram.Count, s.Histogram.Sum, buckets, values...)
			default:
				continue
			}
			if err != nil {
				ch <- prometheus.NewInvalidMetric(desc, err)
				continue
			}
			ch <- m
		}
	}
}

// NewGatherer returns a client_golang registry holding the bridged
// collector plus the Go runtime and process collectors.
func NewGatherer(registry *metrics.Registry) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	for _, c := range []prometheus.Collector{
		NewCollector(registry),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Handler serves the gatherer through promhttp
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

func labelValues(pairs []metrics.LabelPair) []string {
	values := make([]string, len(pairs))
	for i, p := range pairs {
		values[i] = p.Value
	}
	return values
}
