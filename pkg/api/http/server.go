package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aescanero/metricsd/pkg/metrics"
	"github.com/aescanero/metricsd/pkg/ports"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// RequestDurationMetric is the histogram observed for every request.
const RequestDurationMetric = "http_request_duration_seconds"

// RequestDurationBuckets are the bucket bounds of RequestDurationMetric.
var RequestDurationBuckets = []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}

// ErrNilRegistry indicates that no metrics registry was configured
var ErrNilRegistry = errors.New("http server requires a metrics registry")

// Server represents the HTTP API server
type Server struct {
	router        *gin.Engine
	server        *http.Server
	store         ports.SnapshotStore
	helloMaxDelay time.Duration
	logger        *zap.Logger
}

// Config holds HTTP server configuration
type Config struct {
	Port     int
	Registry *metrics.Registry

	// MetricsHandler serves /metrics. Nil means the native renderer of
	// Registry bounded by RenderTimeout.
	MetricsHandler http.Handler
	RenderTimeout  time.Duration

	// Store backs the snapshot routes; nil disables them.
	Store ports.SnapshotStore

	// Tracer starts one server span per request; nil disables tracing.
	Tracer trace.Tracer

	HelloMaxDelay time.Duration
	Logger        *zap.Logger
}

// NewServer creates a new HTTP server and registers its request duration
// histogram on the registry.
func NewServer(cfg *Config) (*Server, error) {
	if cfg.Registry == nil {
		return nil, ErrNilRegistry
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	latency, err := cfg.Registry.Register(metrics.Descriptor{
		Name:       RequestDurationMetric,
		Help:       "Duration of HTTP requests in seconds",
		Kind:       metrics.KindHistogram,
		LabelNames: []string{"method", "route", "status_code"},
		Buckets:    RequestDurationBuckets,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register request duration histogram: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	if cfg.Tracer != nil {
		router.Use(tracing(cfg.Tracer))
	}
	router.Use(requestDuration(latency, logger))
	router.Use(requestLogger(logger))
	router.Use(corsMiddleware())

	metricsHandler := cfg.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = metrics.Handler(cfg.Registry, cfg.RenderTimeout)
	}

	s := &Server{
		router:        router,
		store:         cfg.Store,
		helloMaxDelay: cfg.HelloMaxDelay,
		logger:        logger,
	}

	s.setupRoutes(metricsHandler)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// setupRoutes configures API routes
func (s *Server) setupRoutes(metricsHandler http.Handler) {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/api/hello", s.handleHello)

	s.router.GET("/metrics", gin.WrapH(metricsHandler))

	if s.store != nil {
		snapshots := s.router.Group("/metrics/snapshots")
		{
			snapshots.GET("", s.handleListSnapshots)
			snapshots.GET("/latest", s.handleLatestSnapshot)
			snapshots.GET("/:id", s.handleGetSnapshot)
		}
	}
}

// SetupWebSocket adds the live snapshot stream
func (s *Server) SetupWebSocket(handler interface {
	HandleMetricsStream(*gin.Context)
}) {
	s.router.GET("/metrics/stream", handler.HandleMetricsStream)
}

// Handler returns the router, for embedding and tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("HTTP server shut down complete")
	return nil
}
