// Package otel installs the global OpenTelemetry tracer provider with an
// OTLP/HTTP exporter and the W3C propagators.
package otel
