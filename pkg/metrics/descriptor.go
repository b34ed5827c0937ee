package metrics

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// Kind is the type of a metric.
type Kind string

const (
	KindCounter   Kind = "counter"
	KindGauge     Kind = "gauge"
	KindHistogram Kind = "histogram"
)

// bucketLabel is the label carrying the upper bound of a histogram bucket.
const bucketLabel = "le"

var (
	// DefBuckets are used when neither the descriptor nor the registry
	// options provide buckets. They are tailored to network service
	// response times in seconds.
	DefBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

	metricNameRE = regexp.MustCompile(`^[a-zA-Z_:][a-zA-Z0-9_:]*$`)
	labelNameRE  = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
)

// Descriptor describes a metric. It is copied on registration and never
// changes afterwards.
type Descriptor struct {
	Name       string
	Help       string
	Kind       Kind
	LabelNames []string

	// Buckets are the inclusive upper bounds of a histogram's buckets, in
	// strictly increasing order. The +Inf bucket is implicit. Only valid
	// for histograms; empty means the registry default.
	Buckets []float64

	// MaxCardinality overrides the registry ceiling on distinct label sets.
	// Zero uses the registry value, a negative value disables the ceiling.
	MaxCardinality int
}

// clone returns a deep copy so callers cannot mutate registered state.
func (d Descriptor) clone() Descriptor {
	out := d
	out.LabelNames = append([]string(nil), d.LabelNames...)
	out.Buckets = append([]float64(nil), d.Buckets...)
	return out
}

// validate checks the descriptor and normalizes its buckets. defaults are
// used for histograms declared without buckets.
func (d *Descriptor) validate(defaults []float64) error {
	if !metricNameRE.MatchString(d.Name) {
		return fmt.Errorf("%w: invalid metric name %q", ErrInvalidDescriptor, d.Name)
	}
	if strings.TrimSpace(d.Help) == "" {
		return fmt.Errorf("%w: help text is required for %s", ErrInvalidDescriptor, d.Name)
	}

	switch d.Kind {
	case KindCounter, KindGauge:
		if len(d.Buckets) > 0 {
			return fmt.Errorf("%w: buckets are only valid for histograms (%s is a %s)", ErrInvalidDescriptor, d.Name, d.Kind)
		}
	case KindHistogram:
	default:
		return fmt.Errorf("%w: unknown kind %q for %s", ErrInvalidDescriptor, d.Kind, d.Name)
	}

	seen := make(map[string]bool, len(d.LabelNames))
	for _, name := range d.LabelNames {
		if !labelNameRE.MatchString(name) || strings.HasPrefix(name, "__") {
			return fmt.Errorf("%w: invalid label name %q for %s", ErrInvalidDescriptor, name, d.Name)
		}
		if d.Kind == KindHistogram && name == bucketLabel {
			return fmt.Errorf("%w: %q is not allowed as label name in histograms", ErrInvalidDescriptor, bucketLabel)
		}
		if seen[name] {
			return fmt.Errorf("%w: duplicate label name %q for %s", ErrInvalidDescriptor, name, d.Name)
		}
		seen[name] = true
	}

	if d.Kind != KindHistogram {
		return nil
	}

	if len(d.Buckets) == 0 {
		d.Buckets = append([]float64(nil), defaults...)
	}
	bounds, err := normalizeBuckets(d.Buckets)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidDescriptor, d.Name, err)
	}
	d.Buckets = bounds
	return nil
}

// normalizeBuckets verifies strict ordering and strips a trailing +Inf.
func normalizeBuckets(b []float64) ([]float64, error) {
	out := append([]float64(nil), b...)
	for i, upper := range out {
		if math.IsNaN(upper) {
			return nil, fmt.Errorf("bucket %d is NaN", i)
		}
		if i < len(out)-1 {
			if upper >= out[i+1] {
				return nil, fmt.Errorf("histogram buckets must be in increasing order: %g >= %g", upper, out[i+1])
			}
			continue
		}
		if math.IsInf(upper, +1) {
			out = out[:i]
		}
	}
	return out, nil
}

// buildFQName joins the prefix and the name with "_".
func buildFQName(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "_" + name
}
