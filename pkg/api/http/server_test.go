package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	storagememory "github.com/aescanero/metricsd/pkg/adapters/storage/memory"
	"github.com/aescanero/metricsd/pkg/domain"
	"github.com/aescanero/metricsd/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"
)

type testServer struct {
	server   *Server
	registry *metrics.Registry
	store    *storagememory.SnapshotStore
}

func newTestServer(t *testing.T, mutate func(*Config)) *testServer {
	t.Helper()
	reg, err := metrics.NewRegistry(metrics.Options{})
	require.NoError(t, err)
	store := storagememory.NewSnapshotStore(10)

	cfg := &Config{
		Registry:      reg,
		RenderTimeout: time.Second,
		Store:         store,
		Logger:        zaptest.NewLogger(t),
	}
	if mutate != nil {
		mutate(cfg)
	}
	s, err := NewServer(cfg)
	require.NoError(t, err)
	return &testServer{server: s, registry: reg, store: store}
}

func (ts *testServer) do(method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) latencySeries(t *testing.T) map[string]uint64 {
	t.Helper()
	out := make(map[string]uint64)
	for _, f := range ts.registry.Snapshot() {
		if f.Name != RequestDurationMetric {
			continue
		}
		for _, s := range f.Series {
			parts := make([]string, 0, len(s.Labels))
			for _, l := range s.Labels {
				parts = append(parts, l.Name+"="+l.Value)
			}
			out[strings.Join(parts, ",")] = s.Histogram.Count
		}
	}
	return out
}

func TestNewServerRequiresRegistry(t *testing.T) {
	_, err := NewServer(&Config{})
	assert.ErrorIs(t, err, ErrNilRegistry)
}

func TestNewServerTwiceOnOneRegistry(t *testing.T) {
	ts := newTestServer(t, nil)
	_, err := NewServer(&Config{Registry: ts.registry})
	assert.ErrorIs(t, err, metrics.ErrDuplicateMetric)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
}

func TestHello(t *testing.T) {
	ts := newTestServer(t, func(c *Config) { c.HelloMaxDelay = 5 * time.Millisecond })

	rec := ts.do(http.MethodGet, "/api/hello", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Hello Observability!"}`, rec.Body.String())
}

func TestRequestDurationLabels(t *testing.T) {
	ts := newTestServer(t, nil)

	ts.do(http.MethodGet, "/health", nil)
	ts.do(http.MethodGet, "/health", nil)
	ts.do(http.MethodGet, "/api/hello", nil)
	ts.do(http.MethodGet, "/does/not/exist", nil)
	ts.do(http.MethodGet, "/another/missing/path", nil)

	assert.Equal(t, map[string]uint64{
		"method=GET,route=/health,status_code=200":    2,
		"method=GET,route=/api/hello,status_code=200": 1,
		"method=GET,route=unmatched,status_code=404":  2,
	}, ts.latencySeries(t))
}

func TestRequestDurationCollapsesUnknownMethods(t *testing.T) {
	ts := newTestServer(t, nil)

	for i := 0; i < 10; i++ {
		ts.do(fmt.Sprintf("JUNK%d", i), "/nope", nil)
	}
	ts.do(http.MethodGet, "/health", nil)

	assert.Equal(t, map[string]uint64{
		"method=other,route=unmatched,status_code=404": 10,
		"method=GET,route=/health,status_code=200":     1,
	}, ts.latencySeries(t))
}

func TestRequestDurationSurvivesMethodFlood(t *testing.T) {
	reg, err := metrics.NewRegistry(metrics.Options{MaxCardinality: 10})
	require.NoError(t, err)
	s, err := NewServer(&Config{Registry: reg, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	ts := &testServer{server: s, registry: reg}

	for i := 0; i < 10; i++ {
		ts.do(fmt.Sprintf("JUNK%d", i), "/nope", nil)
	}
	ts.do(http.MethodGet, "/health", nil)

	assert.Equal(t, uint64(1), ts.latencySeries(t)["method=GET,route=/health,status_code=200"])
	assert.Zero(t, reg.Dropped(RequestDurationMetric))
}

func TestRequestDurationUsesRouteTemplate(t *testing.T) {
	ts := newTestServer(t, nil)

	ts.do(http.MethodGet, "/metrics/snapshots/abc", nil)
	ts.do(http.MethodGet, "/metrics/snapshots/def", nil)

	assert.Equal(t, map[string]uint64{
		"method=GET,route=/metrics/snapshots/:id,status_code=404": 2,
	}, ts.latencySeries(t))
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.do(http.MethodGet, "/health", nil)

	rec := ts.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, metrics.ContentType, rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "# TYPE http_request_duration_seconds histogram\n")
	assert.Contains(t, body, `http_request_duration_seconds_bucket{method="GET",route="/health",status_code="200",le="5"} 1`)
	assert.Contains(t, body, `http_request_duration_seconds_bucket{method="GET",route="/health",status_code="200",le="+Inf"} 1`)
	assert.Contains(t, body, `http_request_duration_seconds_count{method="GET",route="/health",status_code="200"} 1`)
}

func TestMetricsEndpointCustomHandler(t *testing.T) {
	custom := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("custom\n"))
	})
	ts := newTestServer(t, func(c *Config) { c.MetricsHandler = custom })

	rec := ts.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, "custom\n", rec.Body.String())
}

func TestRequestID(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodGet, "/health", http.Header{RequestIDHeader: {"abc-123"}})
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))

	rec = ts.do(http.MethodGet, "/health", nil)
	assert.Len(t, rec.Header().Get(RequestIDHeader), 36)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodOptions, "/api/hello", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestLatestSnapshot(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodGet, "/metrics/snapshots/latest", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "NOT_FOUND", errResp.Error.Code)

	snap := domain.NewSnapshot(ts.registry.Snapshot(), metrics.Render(ts.registry), time.Now())
	require.NoError(t, ts.store.Save(context.Background(), snap))

	rec = ts.do(http.MethodGet, "/metrics/snapshots/latest", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, snap.ID, got.ID)
	assert.Equal(t, snap.Payload, got.Payload)
}

func TestGetSnapshotAsText(t *testing.T) {
	ts := newTestServer(t, nil)
	snap := domain.NewSnapshot(ts.registry.Snapshot(), metrics.Render(ts.registry), time.Now())
	require.NoError(t, ts.store.Save(context.Background(), snap))

	rec := ts.do(http.MethodGet, "/metrics/snapshots/"+snap.ID+"?format=text", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, metrics.ContentType, rec.Header().Get("Content-Type"))
	assert.Equal(t, snap.Payload, rec.Body.String())
}

func TestListSnapshots(t *testing.T) {
	ts := newTestServer(t, nil)
	for i := 0; i < 3; i++ {
		snap := domain.NewSnapshot(nil, []byte("x\n"), time.Now().Add(time.Duration(i)*time.Second))
		require.NoError(t, ts.store.Save(context.Background(), snap))
	}

	rec := ts.do(http.MethodGet, "/metrics/snapshots?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page SnapshotListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 2, page.Total)
	assert.Len(t, page.Snapshots, 2)

	rec = ts.do(http.MethodGet, "/metrics/snapshots?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSnapshotRoutesDisabledWithoutStore(t *testing.T) {
	ts := newTestServer(t, func(c *Config) { c.Store = nil })

	rec := ts.do(http.MethodGet, "/metrics/snapshots/latest", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTracingSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTextMapPropagator(propagation.TraceContext{})

	ts := newTestServer(t, func(c *Config) { c.Tracer = provider.Tracer("test") })

	parent := "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
	ts.do(http.MethodGet, "/health", http.Header{"Traceparent": {parent}})
	ts.do(http.MethodGet, "/missing", nil)

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "GET /health", spans[0].Name())
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", spans[0].SpanContext().TraceID().String())
	assert.True(t, spans[0].Parent().IsRemote())
	assert.Contains(t, spans[0].Attributes(), attribute.Int("http.response.status_code", 200))

	assert.Equal(t, "GET unmatched", spans[1].Name())
	assert.False(t, spans[1].Parent().IsValid())
}
