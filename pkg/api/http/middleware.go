package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/aescanero/metricsd/pkg/metrics"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	// RequestIDHeader carries the request id in both directions.
	RequestIDHeader = "X-Request-ID"

	requestIDKey = "request_id"

	// unmatchedRoute labels requests that matched no route, so unknown
	// paths cannot grow the label space.
	unmatchedRoute = "unmatched"

	// otherMethod labels requests with a non-standard method.
	otherMethod = "other"
)

var knownMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodPatch:   true,
	http.MethodDelete:  true,
	http.MethodConnect: true,
	http.MethodOptions: true,
	http.MethodTrace:   true,
}

// methodOf collapses methods outside the standard verbs into "other"
func methodOf(c *gin.Context) string {
	if knownMethods[c.Request.Method] {
		return c.Request.Method
	}
	return otherMethod
}

// routeOf returns the route template of the matched handler
func routeOf(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return unmatchedRoute
}

// requestID reuses the caller's X-Request-ID or generates one
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Writer.Header().Set(RequestIDHeader, id)
		c.Next()
	}
}

// tracing extracts the caller's trace context and wraps the request in a
// server span named after the route.
func tracing(tracer trace.Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := routeOf(c)
		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		method := methodOf(c)
		ctx, span := tracer.Start(ctx, method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(method),
				semconv.HTTPRoute(route),
				semconv.URLPath(c.Request.URL.Path),
			))
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(semconv.HTTPResponseStatusCode(status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}

// requestDuration observes the request latency under method, route and
// status code. Observation failures are logged, never returned to the
// client.
func requestDuration(h *metrics.Handle, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		method := methodOf(c)
		timer := h.StartTimer(metrics.Labels{"method": method})

		c.Next()

		_, err := timer.ObserveDuration(metrics.Labels{
			"route":       routeOf(c),
			"status_code": strconv.Itoa(c.Writer.Status()),
		})
		if err != nil {
			logger.Warn("failed to observe request duration",
				zap.String("method", method),
				zap.String("route", routeOf(c)),
				zap.Error(err))
		}
	}
}

// requestLogger is a middleware for request logging
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("request_id", c.GetString(requestIDKey)))
	}
}

// corsMiddleware allows read-only cross-origin access to the demo routes
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Origin, Cache-Control, X-Request-ID, traceparent, tracestate")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
