package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func statusHandler(code int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(code)
	})
}

func TestHTTPMetrics_Middleware(t *testing.T) {
	t.Parallel()

	t.Run("passes through when metrics is nil", func(t *testing.T) {
		t.Parallel()

		var metrics *HTTPMetrics
		rr := httptest.NewRecorder()
		metrics.Middleware(statusHandler(http.StatusTeapot)).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusTeapot, rr.Code)
	})

	t.Run("records route pattern and status", func(t *testing.T) {
		t.Parallel()

		reader := sdkmetric.NewManualReader()
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		defer func() { _ = mp.Shutdown(context.Background()) }()

		metrics, err := NewHTTPMetrics(mp)
		require.NoError(t, err)

		r := chi.NewRouter()
		r.Use(metrics.Middleware)
		r.Method(http.MethodGet, "/v1/hardware/{id}", statusHandler(http.StatusNotFound))

		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/hardware/abc", nil))
		require.Equal(t, http.StatusNotFound, rr.Code)

		var rm metricdata.ResourceMetrics
		require.NoError(t, reader.Collect(context.Background(), &rm))

		var found bool
		for _, scope := range rm.ScopeMetrics {
			for _, m := range scope.Metrics {
				if m.Name != "doni_http_requests_total" {
					continue
				}
				sum, ok := m.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				require.Len(t, sum.DataPoints, 1)
				route, _ := sum.DataPoints[0].Attributes.Value(attribute.Key("route"))
				status, _ := sum.DataPoints[0].Attributes.Value(attribute.Key("status_code"))
				assert.Equal(t, "/v1/hardware/{id}", route.AsString())
				assert.Equal(t, "404", status.AsString())
				found = true
			}
		}
		assert.True(t, found, "expected doni_http_requests_total")
	})
}

func TestTracingMiddleware(t *testing.T) {
	t.Parallel()

	t.Run("passes through when provider is nil", func(t *testing.T) {
		t.Parallel()

		rr := httptest.NewRecorder()
		TracingMiddleware(nil)(statusHandler(http.StatusOK)).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	tests := []struct {
		name       string
		status     int
		wantStatus codes.Code
	}{
		{name: "success", status: http.StatusOK, wantStatus: codes.Unset},
		{name: "client error", status: http.StatusBadRequest, wantStatus: codes.Unset},
		{name: "server error", status: http.StatusBadGateway, wantStatus: codes.Error},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			exporter := tracetest.NewInMemoryExporter()
			tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
			defer func() { _ = tp.Shutdown(context.Background()) }()

			r := chi.NewRouter()
			r.Use(TracingMiddleware(tp))
			r.Method(http.MethodPost, "/v1/hardware/{id}/workers/{worker}/reset", statusHandler(tt.status))

			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/hardware/h1/workers/ironic/reset", nil))

			spans := exporter.GetSpans()
			require.Len(t, spans, 1)
			assert.Equal(t, "POST /v1/hardware/{id}/workers/{worker}/reset", spans[0].Name)
			assert.Equal(t, tt.wantStatus, spans[0].Status.Code)
		})
	}
}

func TestRoutePattern(t *testing.T) {
	t.Parallel()

	assert.Equal(t, unknownRoute, routePattern(httptest.NewRequest(http.MethodGet, "/x", nil)))

	var got string
	r := chi.NewRouter()
	r.Get("/v1/hardware/{id}", func(_ http.ResponseWriter, req *http.Request) {
		got = routePattern(req)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/hardware/1", nil))
	assert.Equal(t, "/v1/hardware/{id}", got)
}
