package metrics

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
)

// Labels maps label names to values for a single observation, e.g.
//
//	latency.Observe(metrics.Labels{"route": "/health", "method": "GET"}, 0.12)
//
// Key order is irrelevant; values compare as exact strings.
type Labels map[string]string

// LabelPair is one name/value pair of a canonical label set.
type LabelPair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// separator never appears in valid UTF-8 and keeps "a"+"bc" and "ab"+"c"
// from hashing alike.
const separator byte = 0xff

// canonicalValues orders the values of labels by names. It fails with
// ErrInvalidLabelSet unless the keys of labels are exactly names and every
// value is valid UTF-8.
func canonicalValues(names []string, labels Labels) ([]string, error) {
	if len(labels) != len(names) {
		return nil, fmt.Errorf("%w: expected labels %v, got %v", ErrInvalidLabelSet, names, labelKeys(labels))
	}
	values := make([]string, len(names))
	for i, name := range names {
		v, ok := labels[name]
		if !ok {
			return nil, fmt.Errorf("%w: missing label %q (expected %v, got %v)", ErrInvalidLabelSet, name, names, labelKeys(labels))
		}
		if !utf8.ValidString(v) {
			return nil, fmt.Errorf("%w: value of label %q is not valid UTF-8", ErrInvalidLabelSet, name)
		}
		values[i] = v
	}
	return values, nil
}

// hashValues returns the xxhash of the ordered values.
func hashValues(values []string) uint64 {
	d := xxhash.New()
	for _, v := range values {
		_, _ = d.WriteString(v)
		_, _ = d.Write([]byte{separator})
	}
	return d.Sum64()
}

func equalValues(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// lessValues orders label sets for deterministic output.
func lessValues(a, b []string) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

func labelPairs(names, values []string) []LabelPair {
	pairs := make([]LabelPair, len(names))
	for i := range names {
		pairs[i] = LabelPair{Name: names[i], Value: values[i]}
	}
	return pairs
}

func labelKeys(labels Labels) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return "[" + strings.Join(keys, " ") + "]"
}

// merge returns a copy of base overlaid with extra.
func merge(base, extra Labels) Labels {
	out := make(Labels, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
