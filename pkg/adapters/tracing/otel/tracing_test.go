package otel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap/zaptest"
)

func TestSetupNilConfig(t *testing.T) {
	_, err := Setup(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNilConfig)
}

func TestSetupDisabled(t *testing.T) {
	p, err := Setup(context.Background(), &Config{
		Enabled:     false,
		ServiceName: "node-demo-api",
		Logger:      zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	require.NotNil(t, p)

	_, span := p.Tracer("test").Start(context.Background(), "noop")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	require.NoError(t, p.Shutdown(context.Background()))
}

func TestSetupEnabledInstallsPropagators(t *testing.T) {
	for _, endpoint := range []string{"localhost:4318", "http://localhost:4318/v1/traces"} {
		t.Run(endpoint, func(t *testing.T) {
			p, err := Setup(context.Background(), &Config{
				Enabled:     true,
				ServiceName: "node-demo-api",
				Endpoint:    endpoint,
				Insecure:    true,
			})
			require.NoError(t, err)

			fields := otel.GetTextMapPropagator().Fields()
			assert.Contains(t, fields, "traceparent")
			assert.Contains(t, fields, "baggage")

			carrier := propagation.MapCarrier{}
			ctx, span := p.Tracer("test").Start(context.Background(), "inject")
			otel.GetTextMapPropagator().Inject(ctx, carrier)
			span.End()
			assert.NotEmpty(t, carrier.Get("traceparent"))

			// nothing listens on the endpoint; shutdown must still return
			ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
			defer cancel()
			_ = p.Shutdown(ctx)
		})
	}
}
