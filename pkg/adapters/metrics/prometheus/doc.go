// Package prometheus bridges a metrics.Registry into client_golang so the
// registry can be served by promhttp next to the Go runtime and process
// collectors.
package prometheus
