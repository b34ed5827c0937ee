// Package otel exports a metrics.Registry through an OpenTelemetry meter
// using observable instruments and a single callback. NewMeterProvider
// builds the OTLP/HTTP push pipeline the bridge is usually attached to.
package otel
