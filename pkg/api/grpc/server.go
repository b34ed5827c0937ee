package grpc

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported next to the overall
// ("") status.
const ServiceName = "metricsd"

// Server represents the gRPC server exposing grpc.health.v1.Health
type Server struct {
	server   *grpc.Server
	listener net.Listener
	health   *health.Server
	logger   *zap.Logger
}

// Config holds gRPC server configuration
type Config struct {
	Port int
	// Listener overrides Port when set
	Listener net.Listener
	Logger   *zap.Logger
}

// NewServer creates a new gRPC server. Both the overall and the metricsd
// service report SERVING until Shutdown.
func NewServer(cfg *Config) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	listener := cfg.Listener
	if listener == nil {
		var err error
		listener, err = net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
		if err != nil {
			return nil, fmt.Errorf("failed to create listener: %w", err)
		}
	}

	grpcServer := grpc.NewServer()

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, hs)
	reflection.Register(grpcServer)

	return &Server{
		server:   grpcServer,
		listener: listener,
		health:   hs,
		logger:   logger,
	}, nil
}

// SetServing flips the status of both health entries
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Start starts the gRPC server
func (s *Server) Start() error {
	s.logger.Info("starting gRPC server", zap.String("addr", s.listener.Addr().String()))

	if err := s.server.Serve(s.listener); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("failed to serve gRPC: %w", err)
	}

	return nil
}

// Shutdown marks the service NOT_SERVING, then stops gracefully. If ctx
// ends first the remaining RPCs are cut off.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down gRPC server")

	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.server.Stop()
		<-done
		s.logger.Warn("gRPC server forced to stop", zap.Error(ctx.Err()))
	}

	s.logger.Info("gRPC server shut down complete")
	return nil
}
