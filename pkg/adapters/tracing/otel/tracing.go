package otel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrNilConfig indicates that nil config was provided to Setup
var ErrNilConfig = errors.New("tracing config cannot be nil")

// Config holds trace export configuration
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	// Endpoint is host:port, or a full URL including the path
	Endpoint string
	Insecure bool
	Logger   *zap.Logger
}

// Provider owns the tracer provider installed as the global one
type Provider struct {
	tp     *sdktrace.TracerProvider
	logger *zap.Logger
}

// newResource creates a resource naming the service
func (c *Config) newResource() *sdkresource.Resource {
	return sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(c.ServiceName),
		semconv.ServiceVersion(c.ServiceVersion),
		semconv.TelemetrySDKLanguageGo,
	)
}

// newExporter creates an OTLP/HTTP span exporter
func (c *Config) newExporter(ctx context.Context) (sdktrace.SpanExporter, error) {
	var opts []otlptracehttp.Option
	if strings.Contains(c.Endpoint, "://") {
		opts = append(opts, otlptracehttp.WithEndpointURL(c.Endpoint))
	} else {
		opts = append(opts, otlptracehttp.WithEndpoint(c.Endpoint))
	}
	if c.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return otlptracehttp.New(ctx, opts...)
}

// Setup installs a global tracer provider and the W3C trace context and
// baggage propagators. With tracing disabled the provider records nothing.
func Setup(ctx context.Context, cfg *Config) (*Provider, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	if !cfg.Enabled {
		logger.Warn("tracing disabled")
		tp := sdktrace.NewTracerProvider(sdktrace.WithResource(cfg.newResource()))
		otel.SetTracerProvider(tp)
		return &Provider{tp: tp, logger: logger}, nil
	}

	exp, err := cfg.newExporter(ctx)
	if err != nil {
		return nil, fmt.Errorf("can't initialize tracer exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(cfg.newResource()),
	)
	otel.SetTracerProvider(tp)

	logger.Info("tracing initialized",
		zap.String("service", cfg.ServiceName),
		zap.String("endpoint", cfg.Endpoint))

	return &Provider{tp: tp, logger: logger}, nil
}

// Tracer returns a named tracer of the installed provider
func (p *Provider) Tracer(name string) trace.Tracer {
	return p.tp.Tracer(name)
}

// Shutdown flushes pending spans and stops the exporter
func (p *Provider) Shutdown(ctx context.Context) error {
	if err := p.tp.Shutdown(ctx); err != nil {
		p.logger.Error("can't shutdown tracer provider", zap.Error(err))
		return err
	}
	return nil
}
