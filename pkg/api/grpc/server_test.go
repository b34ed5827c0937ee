package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func startServer(t *testing.T) (*Server, healthpb.HealthClient) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)

	s, err := NewServer(&Config{Listener: lis, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
		assert.NoError(t, <-errCh)
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return s, healthpb.NewHealthClient(conn)
}

func check(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestHealthServing(t *testing.T) {
	_, client := startServer(t)

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ServiceName))
}

func TestSetServing(t *testing.T) {
	s, client := startServer(t)

	s.SetServing(false)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, ""))

	s.SetServing(true)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ServiceName))
}

func TestShutdownReportsNotServing(t *testing.T) {
	s, client := startServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, err := client.Watch(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)

	resp, err := stream.Recv()
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	go func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer shutdownCancel()
		_ = s.Shutdown(shutdownCtx)
	}()

	resp, err = stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
}
