// Package metrics implements an in-process metrics registry with bounded
// label cardinality and a Prometheus text exposition renderer.
//
// A Registry owns named metrics of three kinds:
//   - counter: monotonically increasing value
//   - gauge: last-set value, may go down
//   - histogram: fixed upper-bound buckets plus sum and count
//
// Each metric keeps one accumulator per distinct label set. The number of
// label sets per metric is capped; observations beyond the cap fail with
// ErrCardinalityExceeded and are counted in the
// metrics_cardinality_dropped_total meta-metric.
//
// Example usage:
//
//	reg, err := metrics.NewRegistry(metrics.Options{Prefix: "demo"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	latency := reg.MustRegister(metrics.Descriptor{
//	    Name:       "http_request_duration_seconds",
//	    Help:       "HTTP request latency",
//	    Kind:       metrics.KindHistogram,
//	    LabelNames: []string{"route"},
//	    Buckets:    []float64{0.1, 0.5, 1},
//	})
//	_ = latency.Observe(metrics.Labels{"route": "/health"}, 0.05)
//
//	os.Stdout.Write(metrics.Render(reg))
package metrics
