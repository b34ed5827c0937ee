package otel

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aescanero/metricsd/pkg/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter    = errors.New("nil meter")
	ErrNilRegistry = errors.New("nil metrics registry")
)

type observedFamily struct {
	kind metrics.Kind

	value metric.Float64Observable // counter, gauge

	count  metric.Int64ObservableCounter   // histogram
	sum    metric.Float64ObservableCounter // histogram
	bucket metric.Int64ObservableGauge     // histogram, attribute le
}

// Bridge exports the metrics of a registry as OpenTelemetry observable
// instruments. Metrics registered after NewBridge are not exported.
type Bridge struct {
	registry     *metrics.Registry
	registration metric.Registration
	families     map[string]*observedFamily
}

// NewBridge creates one instrument per registered metric (three for
// histograms: _count, _sum and _bucket) and a callback observing them.
func NewBridge(meter metric.Meter, registry *metrics.Registry) (*Bridge, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if registry == nil {
		return nil, ErrNilRegistry
	}

	snapshot := registry.Snapshot()
	b := &Bridge{
		registry: registry,
		families: make(map[string]*observedFamily, len(snapshot)),
	}
	observables := make([]metric.Observable, 0, len(snapshot)*3)

	for _, f := range snapshot {
		of := &observedFamily{kind: f.Kind}
		name := instrumentName(f.Name)
		switch f.Kind {
		case metrics.KindCounter:
			ins, err := meter.Float64ObservableCounter(name, metric.WithDescription(f.Help))
			if err != nil {
				return nil, fmt.Errorf("create observable counter %s: %w", f.Name, err)
			}
			of.value = ins
			observables = append(observables, ins)
		case metrics.KindGauge:
			ins, err := meter.Float64ObservableGauge(name, metric.WithDescription(f.Help))
			if err != nil {
				return nil, fmt.Errorf("create observable gauge %s: %w", f.Name, err)
			}
			of.value = ins
			observables = append(observables, ins)
		case metrics.KindHistogram:
			count, err := meter.Int64ObservableCounter(name+"_count", metric.WithDescription(f.Help))
			if err != nil {
				return nil, fmt.Errorf("create histogram count %s: %w", f.Name, err)
			}
			sum, err := meter.Float64ObservableCounter(name+"_sum", metric.WithDescription(f.Help))
			if err != nil {
				return nil, fmt.Errorf("create histogram sum %s: %w", f.Name, err)
			}
			bucket, err := meter.Int64ObservableGauge(name+"_bucket", metric.WithDescription("Cumulative histogram bucket count."))
			if err != nil {
				return nil, fmt.Errorf("create histogram bucket gauge %s: %w", f.Name, err)
			}
			of.count, of.sum, of.bucket = count, sum, bucket
			observables = append(observables, count, sum, bucket)
		default:
			continue
		}
		b.families[f.Name] = of
	}

	registration, err := meter.RegisterCallback(b.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	b.registration = registration
	return b, nil
}

func (b *Bridge) observe(_ context.Context, observer metric.Observer) error {
	for _, f := range b.registry.Snapshot() {
		of, ok := b.families[f.Name]
		if !ok {
			continue
		}
		for _, s := range f.Series {
			attrs := attributes(s.Labels)
			switch of.kind {
			case metrics.KindCounter, metrics.KindGauge:
				observer.ObserveFloat64(of.value, s.Value, metric.WithAttributes(attrs...))
			case metrics.KindHistogram:
				if s.Histogram == nil {
					continue
				}
				observer.ObserveInt64(of.count, int64(s.Histogram.Count), metric.WithAttributes(attrs...))
				observer.ObserveFloat64(of.sum, s.Histogram.Sum, metric.WithAttributes(attrs...))
				for _, bk := range s.Histogram.Buckets {
					le := attribute.String("le", strconv.FormatFloat(bk.UpperBound, 'g', -1, 64))
					observer.ObserveInt64(of.bucket, int64(bk.CumulativeCount), metric.WithAttributes(append(attrs, le)...))
				}
				inf := attribute.String("le", "+Inf")
				observer.ObserveInt64(of.bucket, int64(s.Histogram.Count), metric.WithAttributes(append(attrs, inf)...))
			}
		}
	}
	return nil
}

// Close unregisters the callback
func (b *Bridge) Close() error {
	if b == nil || b.registration == nil {
		return nil
	}
	return b.registration.Unregister()
}

// instrumentName maps a registry name onto the OpenTelemetry instrument
// name syntax, which has no ':' and must start with a letter.
func instrumentName(name string) string {
	name = strings.ReplaceAll(name, ":", "_")
	if c := name[0]; (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') {
		name = "m" + name
	}
	return name
}

func attributes(pairs []metrics.LabelPair) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, len(pairs), len(pairs)+1)
	for i, p := range pairs {
		attrs[i] = attribute.String(p.Name, p.Value)
	}
	return attrs
}
