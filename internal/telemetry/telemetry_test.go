package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"k8s.io/utils/ptr"

	"github.com/chameleoncloud/doni/internal/config"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name             string
		cfg              *config.TelemetryConfig
		expectNoOpTracer bool
		expectNoOpMeter  bool
		expectHandler    bool
	}{
		{
			name:             "nil config",
			expectNoOpTracer: true,
			expectNoOpMeter:  true,
		},
		{
			name:             "everything disabled",
			cfg:              &config.TelemetryConfig{},
			expectNoOpTracer: true,
			expectNoOpMeter:  true,
		},
		{
			name: "prometheus metrics only",
			cfg: &config.TelemetryConfig{
				Metrics: config.MetricsConfig{Enabled: true},
			},
			expectNoOpTracer: true,
			expectHandler:    true,
		},
		{
			name: "tracing and otlp metrics",
			cfg: &config.TelemetryConfig{
				ServiceName: "doni-test",
				Tracing: config.TracingConfig{
					Enabled:  true,
					Endpoint: "localhost:4318",
					Insecure: true,
					Sampling: ptr.To(0.5),
				},
				Metrics: config.MetricsConfig{
					Enabled:  true,
					Exporter: config.MetricsExporterOTLP,
					Endpoint: "localhost:4318",
					Insecure: true,
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			tel, err := New(ctx, tt.cfg, "v0.0.1")
			require.NoError(t, err)
			require.NotNil(t, tel)
			defer func() { _ = tel.Shutdown(ctx) }()

			_, noopTracer := tel.TracerProvider().(tracenoop.TracerProvider)
			assert.Equal(t, tt.expectNoOpTracer, noopTracer)
			if !tt.expectNoOpTracer {
				assert.IsType(t, &sdktrace.TracerProvider{}, tel.TracerProvider())
			}

			_, noopMeter := tel.MeterProvider().(noop.MeterProvider)
			assert.Equal(t, tt.expectNoOpMeter, noopMeter)
			if !tt.expectNoOpMeter {
				assert.IsType(t, &sdkmetric.MeterProvider{}, tel.MeterProvider())
			}

			assert.Equal(t, tt.expectHandler, tel.MetricsHandler() != nil)
			assert.NotNil(t, tel.Tracer("test"))
			assert.NotNil(t, tel.Meter("test"))
		})
	}
}

func TestTelemetry_Shutdown(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("no-op telemetry shuts down repeatedly", func(t *testing.T) {
		t.Parallel()

		tel, err := New(ctx, nil, "")
		require.NoError(t, err)
		require.NoError(t, tel.Shutdown(ctx))
		require.NoError(t, tel.Shutdown(ctx))
	})

	t.Run("SDK providers shut down", func(t *testing.T) {
		t.Parallel()

		tel := &Telemetry{
			tracerProvider: sdktrace.NewTracerProvider(),
			meterProvider:  sdkmetric.NewMeterProvider(),
		}
		assert.NoError(t, tel.Shutdown(ctx))
	})
}
