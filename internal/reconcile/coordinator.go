package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/chameleoncloud/doni/internal/executor"
	"github.com/chameleoncloud/doni/internal/hardware"
	"github.com/chameleoncloud/doni/internal/state"
	"github.com/chameleoncloud/doni/internal/telemetry"
	"github.com/chameleoncloud/doni/internal/worker"
)

const (
	// DefaultInterval is the cycle period used when none is configured
	DefaultInterval = time.Minute
	// DefaultJitter is the fraction of the interval randomly added or removed
	DefaultJitter = 0.1
	// DefaultRemovedRetention is how long tombstones are kept
	DefaultRemovedRetention = 7 * 24 * time.Hour
)

// Coordinator runs the reconciliation loop.
type Coordinator interface {
	// Start runs cycles until ctx is cancelled or Stop is called.
	Start(ctx context.Context) error

	// Stop ends the loop and waits for the current cycle to return. It does
	// not wait for submitted invocations.
	Stop() error

	// RunOnce runs a single cycle synchronously.
	RunOnce(ctx context.Context) (Summary, error)
}

// Resolver maps hardware to the workers that should track it.
type Resolver interface {
	Resolve(hw *hardware.Hardware) ([]string, error)
	Worker(name string) (worker.Worker, bool)
}

// Submitter accepts invocations without blocking.
type Submitter interface {
	TrySubmit(key string, run executor.RunFunc, done executor.DoneFunc) error
	InFlight() int
}

// Summary counts what one cycle did.
type Summary struct {
	Hardware   int `json:"hardware"`
	Created    int `json:"created"`
	Revived    int `json:"revived"`
	Claimed    int `json:"claimed"`
	Submitted  int `json:"submitted"`
	Saturated  int `json:"saturated"`
	Tombstoned int `json:"tombstoned"`
	Purged     int `json:"purged"`
}

type defaultCoordinator struct {
	hardware  hardware.Store
	states    *state.Service
	resolver  Resolver
	submitter Submitter
	owner     string

	interval  time.Duration
	jitter    float64
	retention time.Duration

	metrics *telemetry.ReconcileMetrics
	tracer  trace.Tracer

	// cycleMu keeps RunOnce and the loop from overlapping.
	cycleMu sync.Mutex

	mu         sync.Mutex
	cancelFunc context.CancelFunc
	done       chan struct{}
}

// Option configures the coordinator
type Option func(*defaultCoordinator)

// WithInterval sets the cycle period and its jitter fraction.
func WithInterval(interval time.Duration, jitter float64) Option {
	return func(c *defaultCoordinator) {
		if interval > 0 {
			c.interval = interval
		}
		if jitter >= 0 && jitter < 1 {
			c.jitter = jitter
		}
	}
}

// WithRemovedRetention sets how long REMOVED records are kept.
func WithRemovedRetention(d time.Duration) Option {
	return func(c *defaultCoordinator) {
		if d > 0 {
			c.retention = d
		}
	}
}

// WithMetrics sets the reconcile metrics
func WithMetrics(m *telemetry.ReconcileMetrics) Option {
	return func(c *defaultCoordinator) {
		c.metrics = m
	}
}

// WithTracer sets the tracer for cycle and invocation spans
func WithTracer(t trace.Tracer) Option {
	return func(c *defaultCoordinator) {
		c.tracer = t
	}
}

// New creates a coordinator. owner identifies this process in claims.
func New(
	hw hardware.Store,
	states *state.Service,
	resolver Resolver,
	submitter Submitter,
	owner string,
	opts ...Option,
) Coordinator {
	c := &defaultCoordinator{
		hardware:  hw,
		states:    states,
		resolver:  resolver,
		submitter: submitter,
		owner:     owner,
		interval:  DefaultInterval,
		jitter:    DefaultJitter,
		retention: DefaultRemovedRetention,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tracer == nil {
		c.tracer = tracenoop.NewTracerProvider().Tracer("")
	}
	return c
}

// nextInterval applies a random offset of up to ±jitter to the interval.
func (c *defaultCoordinator) nextInterval() time.Duration {
	if c.jitter == 0 {
		return c.interval
	}
	spread := int64(float64(c.interval) * c.jitter)
	if spread <= 0 {
		return c.interval
	}
	//nolint:gosec // G404: non-cryptographic randomness is fine for jitter
	return c.interval + time.Duration(rand.Int64N(2*spread)-spread)
}

// Start runs the loop. It performs a cycle immediately.
func (c *defaultCoordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.done != nil {
		c.mu.Unlock()
		return errors.New("coordinator already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	defer close(done)

	slog.Info("Starting reconciliation loop",
		"owner", c.owner,
		"interval", c.interval,
		"jitter", c.jitter)

	c.cycle(loopCtx)

	timer := time.NewTimer(c.nextInterval())
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			c.cycle(loopCtx)
			timer.Reset(c.nextInterval())
		case <-loopCtx.Done():
			slog.Info("Reconciliation loop stopping")
			return nil
		}
	}
}

// Stop cancels the loop and waits for it to exit.
func (c *defaultCoordinator) Stop() error {
	c.mu.Lock()
	cancel, done := c.cancelFunc, c.done
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (c *defaultCoordinator) cycle(ctx context.Context) {
	summary, err := c.RunOnce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("Reconciliation cycle failed", "error", err)
		}
		return
	}
	slog.Debug("Reconciliation cycle complete",
		"hardware", summary.Hardware,
		"claimed", summary.Claimed,
		"submitted", summary.Submitted,
		"saturated", summary.Saturated,
		"tombstoned", summary.Tombstoned,
		"purged", summary.Purged)
}

// RunOnce runs one cycle. Errors on individual records are logged and do not
// fail the cycle; an error is returned only when the inventory or the state
// records cannot be listed.
func (c *defaultCoordinator) RunOnce(ctx context.Context) (summary Summary, err error) {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, c.tracer, "reconcile.cycle")
	defer func() {
		telemetry.RecordError(span, err)
		span.SetAttributes(telemetry.AttrClaimed.Int(summary.Claimed))
		span.End()
		c.metrics.RecordCycle(ctx, time.Since(start), err == nil)
		c.metrics.RecordInFlight(ctx, c.submitter.InFlight())
	}()

	all, err := c.hardware.List(ctx, hardware.ListOptions{IncludeDeleted: true})
	if err != nil {
		return summary, fmt.Errorf("failed to list hardware: %w", err)
	}
	records, err := c.states.List(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to list worker states: %w", err)
	}
	c.recordStates(ctx, records)

	byHardware := make(map[uuid.UUID]map[string]*state.WorkerState)
	for _, ws := range records {
		if byHardware[ws.HardwareID] == nil {
			byHardware[ws.HardwareID] = map[string]*state.WorkerState{}
		}
		byHardware[ws.HardwareID][ws.WorkerType] = ws
	}

	summary.Hardware = len(all)
	for _, hw := range all {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		existing := byHardware[hw.ID]
		delete(byHardware, hw.ID)
		c.reconcileHardware(ctx, hw, existing, &summary)
	}

	// whatever is left belongs to hardware that no longer exists
	for _, orphans := range byHardware {
		for _, ws := range orphans {
			c.tombstone(ctx, ws, "hardware not found", &summary)
		}
	}

	cutoff := c.states.Now().Add(-c.retention)
	purged, err := c.states.Purge(ctx, cutoff)
	if err != nil {
		slog.Warn("Failed to purge removed worker states", "error", err)
	}
	summary.Purged = purged

	return summary, nil
}

func (c *defaultCoordinator) reconcileHardware(
	ctx context.Context,
	hw *hardware.Hardware,
	existing map[string]*state.WorkerState,
	summary *Summary,
) {
	if hw.Deleted() {
		for _, ws := range existing {
			c.tombstone(ctx, ws, "hardware deleted", summary)
		}
		return
	}

	names, err := c.resolver.Resolve(hw)
	if err != nil {
		// leave existing records alone; the type may come back with the config
		slog.Warn("Cannot resolve workers for hardware",
			"hardware_id", hw.ID,
			"hardware_type", hw.Type,
			"error", err)
		return
	}

	applicable := make(map[string]bool, len(names))
	for _, name := range names {
		applicable[name] = true
	}
	for name, ws := range existing {
		if !applicable[name] {
			c.tombstone(ctx, ws, "worker no longer applies", summary)
		}
	}

	for _, name := range names {
		w, ok := c.resolver.Worker(name)
		if !ok {
			continue
		}
		ws, err := c.track(ctx, hw, name, existing[name], summary)
		if err != nil {
			slog.Error("Failed to track worker state",
				"hardware_id", hw.ID,
				"worker_type", name,
				"error", err)
			continue
		}
		if ws != nil {
			c.dispatch(ctx, hw, w, ws, summary)
		}
	}
}

// track returns the live record for the pair, creating or reviving it as
// needed. It returns nil when the record changed concurrently.
func (c *defaultCoordinator) track(
	ctx context.Context,
	hw *hardware.Hardware,
	name string,
	ws *state.WorkerState,
	summary *Summary,
) (*state.WorkerState, error) {
	switch {
	case ws == nil:
		created, err := c.states.Ensure(ctx, state.Key{HardwareID: hw.ID, WorkerType: name})
		if err != nil {
			return nil, err
		}
		summary.Created++
		return created, nil
	case ws.State == state.StateRemoved:
		revived, err := c.states.Revive(ctx, ws)
		if errors.Is(err, state.ErrConflict) || errors.Is(err, state.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		summary.Revived++
		return revived, nil
	default:
		return ws, nil
	}
}

func (c *defaultCoordinator) tombstone(ctx context.Context, ws *state.WorkerState, reason string, summary *Summary) {
	if ws.State == state.StateRemoved {
		return
	}
	if err := c.states.Tombstone(ctx, ws.Key()); err != nil {
		slog.Error("Failed to tombstone worker state",
			"hardware_id", ws.HardwareID,
			"worker_type", ws.WorkerType,
			"error", err)
		return
	}
	slog.Info("Tombstoned worker state",
		"hardware_id", ws.HardwareID,
		"worker_type", ws.WorkerType,
		"reason", reason)
	summary.Tombstoned++
}

func (c *defaultCoordinator) recordStates(ctx context.Context, records []*state.WorkerState) {
	if c.metrics == nil {
		return
	}
	counts := map[string]map[string]int64{}
	for _, ws := range records {
		if counts[ws.WorkerType] == nil {
			counts[ws.WorkerType] = map[string]int64{}
			for _, s := range state.States {
				counts[ws.WorkerType][string(s)] = 0
			}
		}
		counts[ws.WorkerType][string(ws.State)]++
	}
	c.metrics.RecordStates(ctx, counts)
}
