package otel

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
)

// ExporterConfig configures OTLP/HTTP push of a registry
type ExporterConfig struct {
	ServiceName    string
	ServiceVersion string
	// Endpoint is host:port, or a full URL including the path
	Endpoint string
	Insecure bool
	Interval time.Duration
}

// NewMeterProvider creates a meter provider that pushes every Interval to
// an OTLP/HTTP collector.
func NewMeterProvider(ctx context.Context, cfg ExporterConfig) (*sdkmetric.MeterProvider, error) {
	var opts []otlpmetrichttp.Option
	if strings.Contains(cfg.Endpoint, "://") {
		opts = append(opts, otlpmetrichttp.WithEndpointURL(cfg.Endpoint))
	} else {
		opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.Endpoint))
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exp, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("can't initialize metric exporter: %w", err)
	}

	var readerOpts []sdkmetric.PeriodicReaderOption
	if cfg.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(cfg.Interval))
	}

	res := sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	)

	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, readerOpts...)),
	), nil
}
