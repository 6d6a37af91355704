package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/chameleoncloud/doni/internal/executor"
	"github.com/chameleoncloud/doni/internal/hardware"
	"github.com/chameleoncloud/doni/internal/state"
	"github.com/chameleoncloud/doni/internal/telemetry"
	"github.com/chameleoncloud/doni/internal/worker"
)

// dispatch claims ws if it is eligible and submits the invocation.
func (c *defaultCoordinator) dispatch(
	ctx context.Context,
	hw *hardware.Hardware,
	w worker.Worker,
	ws *state.WorkerState,
	summary *Summary,
) {
	if !state.Eligible(ws, c.states.Now()) {
		return
	}

	claim, err := c.states.Claim(ctx, ws, c.owner)
	if errors.Is(err, state.ErrClaimNotAcquired) {
		c.metrics.RecordClaimConflict(ctx, ws.WorkerType)
		slog.Debug("Claim not acquired", "key", ws.Key().String())
		return
	}
	if err != nil {
		slog.Error("Failed to claim worker state", "key", ws.Key().String(), "error", err)
		return
	}
	summary.Claimed++

	snapshot := hw.Clone()
	current := claim.Clone()
	link := trace.LinkFromContext(ctx)
	// commits outlive the cycle that submitted them
	commitCtx := context.WithoutCancel(ctx)

	run := func(runCtx context.Context) (worker.Result, error) {
		runCtx, span := telemetry.StartSpan(runCtx, c.tracer, "reconcile.invoke",
			trace.WithLinks(link),
			trace.WithAttributes(
				telemetry.AttrHardwareID.String(snapshot.ID.String()),
				telemetry.AttrHardwareType.String(snapshot.Type),
				telemetry.AttrWorkerType.String(w.Name()),
				telemetry.AttrGeneration.Int64(current.Generation),
			),
		)
		defer span.End()

		res, err := w.Process(runCtx, snapshot, current)
		telemetry.RecordError(span, err)
		span.SetAttributes(telemetry.AttrOutcome.String(string(res.Outcome)))
		return res, err
	}
	done := func(out executor.Outcome) {
		c.complete(commitCtx, claim, out)
	}

	err = c.submitter.TrySubmit(claim.Key().String(), run, done)
	if err == nil {
		summary.Submitted++
		return
	}

	summary.Saturated++
	c.metrics.RecordSaturated(ctx, claim.WorkerType)
	if !errors.Is(err, executor.ErrSaturated) {
		slog.Warn("Invocation rejected", "key", claim.Key().String(), "error", err)
	}
	if _, err := c.states.Release(commitCtx, claim); err != nil {
		slog.Warn("Failed to release claim", "key", claim.Key().String(), "error", err)
	}
}

// complete commits the outcome of an invocation.
func (c *defaultCoordinator) complete(ctx context.Context, claim *state.WorkerState, out executor.Outcome) {
	var lease time.Time
	if claim.LeaseExpiresAt != nil {
		lease = *claim.LeaseExpiresAt
	}
	completion := worker.Completion(out.Result, out.Err, out.TimedOut, lease)
	c.metrics.RecordInvocation(ctx, claim.WorkerType, string(completion.Outcome), out.Elapsed)

	logger := slog.With(
		"hardware_id", claim.HardwareID,
		"worker_type", claim.WorkerType,
		"outcome", completion.Outcome,
		"elapsed", out.Elapsed,
	)
	if out.Err != nil {
		logger = logger.With("error", out.Err)
	}

	next, err := c.states.Complete(ctx, claim, completion)
	switch {
	case errors.Is(err, state.ErrStaleClaim):
		logger.Info("Discarded result of superseded claim")
		return
	case err != nil:
		// the lease expires and another cycle reclaims the record
		logger.Error("Failed to commit worker result", "commit_error", err)
		return
	}

	switch next.State {
	case state.StateError:
		logger.Warn("Worker failed", "reason", completion.Reason)
	case state.StateRetrying:
		logger.Info("Worker deferred",
			"reason", completion.Reason,
			"attempt", next.AttemptCount,
			"backoff", next.BackoffDelay)
	default:
		logger.Debug("Worker completed")
	}
}
