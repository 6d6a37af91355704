package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// ReconcileMetricsMeterName is the name used for the reconcile metrics meter
	ReconcileMetricsMeterName = "github.com/chameleoncloud/doni/reconcile"
)

// ReconcileMetrics holds the instruments recorded by the reconcile loop.
type ReconcileMetrics struct {
	invocations        metric.Int64Counter
	invocationDuration metric.Float64Histogram
	cycleDuration      metric.Float64Histogram
	saturated          metric.Int64Counter
	states             metric.Int64Gauge
	inFlight           metric.Int64Gauge
	transitions        metric.Int64Counter
	claimConflicts     metric.Int64Counter
}

// NewReconcileMetrics creates a new ReconcileMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewReconcileMetrics(provider metric.MeterProvider) (*ReconcileMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(ReconcileMetricsMeterName)

	invocations, err := meter.Int64Counter(
		"doni_worker_invocations_total",
		metric.WithDescription("Number of worker invocations by outcome"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		return nil, err
	}

	invocationDuration, err := meter.Float64Histogram(
		"doni_worker_invocation_duration_seconds",
		metric.WithDescription("Duration of worker invocations in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, err
	}

	cycleDuration, err := meter.Float64Histogram(
		"doni_reconcile_cycle_duration_seconds",
		metric.WithDescription("Duration of scheduler cycles in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, err
	}

	saturated, err := meter.Int64Counter(
		"doni_executor_saturated_total",
		metric.WithDescription("Number of claims released because the executor was full"),
		metric.WithUnit("{claim}"),
	)
	if err != nil {
		return nil, err
	}

	states, err := meter.Int64Gauge(
		"doni_worker_states",
		metric.WithDescription("Number of worker state records by worker type and state"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	inFlight, err := meter.Int64Gauge(
		"doni_executor_in_flight",
		metric.WithDescription("Number of worker invocations holding an executor slot"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		return nil, err
	}

	transitions, err := meter.Int64Counter(
		"doni_worker_transitions_total",
		metric.WithDescription("Number of committed worker state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	claimConflicts, err := meter.Int64Counter(
		"doni_claim_conflicts_total",
		metric.WithDescription("Number of claims lost to another process or a concurrent update"),
		metric.WithUnit("{claim}"),
	)
	if err != nil {
		return nil, err
	}

	return &ReconcileMetrics{
		invocations:        invocations,
		invocationDuration: invocationDuration,
		cycleDuration:      cycleDuration,
		saturated:          saturated,
		states:             states,
		inFlight:           inFlight,
		transitions:        transitions,
		claimConflicts:     claimConflicts,
	}, nil
}

// RecordInvocation records one finished worker invocation.
func (m *ReconcileMetrics) RecordInvocation(ctx context.Context, workerType, outcome string, duration time.Duration) {
	if m == nil {
		return
	}

	m.invocations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("worker", workerType),
		attribute.String("outcome", outcome),
	))
	m.invocationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("worker", workerType),
	))
}

// RecordCycle records the duration of one scheduler cycle.
func (m *ReconcileMetrics) RecordCycle(ctx context.Context, duration time.Duration, success bool) {
	if m == nil {
		return
	}
	m.cycleDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.Bool("success", success)))
}

// RecordSaturated counts a claim given back because no executor slot was free.
func (m *ReconcileMetrics) RecordSaturated(ctx context.Context, workerType string) {
	if m == nil {
		return
	}
	m.saturated.Add(ctx, 1, metric.WithAttributes(attribute.String("worker", workerType)))
}

// RecordStates records the record count per worker type and state.
func (m *ReconcileMetrics) RecordStates(ctx context.Context, counts map[string]map[string]int64) {
	if m == nil {
		return
	}
	for workerType, byState := range counts {
		for state, n := range byState {
			m.states.Record(ctx, n, metric.WithAttributes(
				attribute.String("worker", workerType),
				attribute.String("state", state),
			))
		}
	}
}

// RecordInFlight records the number of occupied executor slots.
func (m *ReconcileMetrics) RecordInFlight(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.inFlight.Record(ctx, int64(n))
}

// RecordTransition counts one committed state change.
func (m *ReconcileMetrics) RecordTransition(ctx context.Context, workerType, from, to string) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("worker", workerType),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordClaimConflict counts a claim attempt that lost the compare-and-swap.
func (m *ReconcileMetrics) RecordClaimConflict(ctx context.Context, workerType string) {
	if m == nil {
		return
	}
	m.claimConflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("worker", workerType)))
}
