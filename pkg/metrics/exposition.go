package metrics

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/common/expfmt"
)

// ContentType is the media type of the text exposition format.
var ContentType = string(expfmt.FmtText)

var (
	helpEscaper  = strings.NewReplacer(`\`, `\\`, "\n", `\n`)
	valueEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`, `"`, `\"`)
)

// Render returns the text exposition of every metric in r. The output is
// byte-identical across calls when no observation happened in between.
func Render(r *Registry) []byte {
	out, _ := RenderContext(context.Background(), r)
	return out
}

// RenderContext is Render with a deadline. The deadline is checked between
// metrics; on expiry nothing is returned.
func RenderContext(ctx context.Context, r *Registry) ([]byte, error) {
	families, err := r.SnapshotContext(ctx)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := WriteText(&buf, families); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteText writes families in the text exposition format, in the order
// given.
func WriteText(w io.Writer, families []FamilySnapshot) error {
	bw := bufio.NewWriter(w)
	for i := range families {
		writeFamily(bw, &families[i])
	}
	return bw.Flush()
}

func writeFamily(w *bufio.Writer, fs *FamilySnapshot) {
	w.WriteString("# HELP ")
	w.WriteString(fs.Name)
	w.WriteByte(' ')
	w.WriteString(helpEscaper.Replace(fs.Help))
	w.WriteByte('\n')

	w.WriteString("# TYPE ")
	w.WriteString(fs.Name)
	w.WriteByte(' ')
	w.WriteString(string(fs.Kind))
	w.WriteByte('\n')

	for i := range fs.Series {
		s := &fs.Series[i]
		if fs.Kind != KindHistogram || s.Histogram == nil {
			writeSample(w, fs.Name, "", s.Labels, "", "", formatFloat(s.Value))
			continue
		}
		for _, b := range s.Histogram.Buckets {
			writeSample(w, fs.Name, "_bucket", s.Labels, bucketLabel, formatFloat(b.UpperBound), formatUint(b.CumulativeCount))
		}
		writeSample(w, fs.Name, "_bucket", s.Labels, bucketLabel, "+Inf", formatUint(s.Histogram.Count))
		writeSample(w, fs.Name, "_sum", s.Labels, "", "", formatFloat(s.Histogram.Sum))
		writeSample(w, fs.Name, "_count", s.Labels, "", "", formatUint(s.Histogram.Count))
	}
}

// writeSample writes one line. extraName/extraValue add a trailing label,
// used for "le".
func writeSample(w *bufio.Writer, name, suffix string, labels []LabelPair, extraName, extraValue, value string) {
	w.WriteString(name)
	w.WriteString(suffix)
	if len(labels) > 0 || extraName != "" {
		w.WriteByte('{')
		sep := ""
		for _, lp := range labels {
			w.WriteString(sep)
			w.WriteString(lp.Name)
			w.WriteString(`="`)
			w.WriteString(valueEscaper.Replace(lp.Value))
			w.WriteByte('"')
			sep = ","
		}
		if extraName != "" {
			w.WriteString(sep)
			w.WriteString(extraName)
			w.WriteString(`="`)
			w.WriteString(extraValue)
			w.WriteByte('"')
		}
		w.WriteByte('}')
	}
	w.WriteByte(' ')
	w.WriteString(value)
	w.WriteByte('\n')
}

func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, +1):
		return "+Inf"
	case math.IsInf(f, -1):
		return "-Inf"
	case math.IsNaN(f):
		return "NaN"
	default:
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
}

func formatUint(u uint64) string {
	return strconv.FormatUint(u, 10)
}

// Handler serves the rendering of r. A render that does not finish within
// timeout fails with 503; zero disables the timeout.
func Handler(r *Registry, timeout time.Duration) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ctx := req.Context()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		body, err := RenderContext(ctx, r)
		if err != nil {
			http.Error(w, fmt.Sprintf("rendering metrics: %v", err), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", ContentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	})
}
