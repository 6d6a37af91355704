package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chameleoncloud/doni/internal/worker"
)

// collector gathers outcomes delivered by the executor.
type collector struct {
	mu       sync.Mutex
	outcomes []Outcome
	ch       chan Outcome
}

func newCollector() *collector {
	return &collector{ch: make(chan Outcome, 16)}
}

func (c *collector) done(o Outcome) {
	c.mu.Lock()
	c.outcomes = append(c.outcomes, o)
	c.mu.Unlock()
	c.ch <- o
}

func (c *collector) wait(t *testing.T) Outcome {
	t.Helper()
	select {
	case o := <-c.ch:
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for outcome")
		return Outcome{}
	}
}

func TestTrySubmit_Result(t *testing.T) {
	t.Parallel()

	e := New(2, time.Second)
	t.Cleanup(func() { _ = e.Stop(context.Background()) })
	c := newCollector()

	require.NoError(t, e.TrySubmit("a", func(context.Context) (worker.Result, error) {
		return worker.Success(map[string]any{"k": "v"}), nil
	}, c.done))

	o := c.wait(t)
	assert.Equal(t, "a", o.Key)
	assert.NoError(t, o.Err)
	assert.False(t, o.TimedOut)
	assert.Equal(t, "v", o.Result.Details["k"])
}

func TestTrySubmit_Saturated(t *testing.T) {
	t.Parallel()

	e := New(1, time.Minute)
	t.Cleanup(func() { _ = e.Stop(context.Background()) })
	c := newCollector()
	release := make(chan struct{})

	require.NoError(t, e.TrySubmit("busy", func(context.Context) (worker.Result, error) {
		<-release
		return worker.Steady(), nil
	}, c.done))
	assert.Equal(t, 1, e.InFlight())

	err := e.TrySubmit("rejected", func(context.Context) (worker.Result, error) {
		t.Error("rejected task must not run")
		return worker.Result{}, nil
	}, c.done)
	assert.ErrorIs(t, err, ErrSaturated)

	close(release)
	c.wait(t)
	require.Eventually(t, func() bool { return e.InFlight() == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.NoError(t, e.TrySubmit("next", func(context.Context) (worker.Result, error) {
		return worker.Steady(), nil
	}, c.done))
	c.wait(t)
}

func TestTrySubmit_TimeoutHoldsSlot(t *testing.T) {
	t.Parallel()

	e := New(1, 50*time.Millisecond)
	t.Cleanup(func() { _ = e.Stop(context.Background()) })
	c := newCollector()
	release := make(chan struct{})

	require.NoError(t, e.TrySubmit("slow", func(context.Context) (worker.Result, error) {
		// Ignores cancellation on purpose.
		<-release
		return worker.Success(nil), nil
	}, c.done))

	o := c.wait(t)
	assert.True(t, o.TimedOut)
	assert.ErrorIs(t, o.Err, context.DeadlineExceeded)

	// The abandoned invocation still owns the slot.
	assert.ErrorIs(t, e.TrySubmit("other", func(context.Context) (worker.Result, error) {
		return worker.Steady(), nil
	}, c.done), ErrSaturated)

	close(release)
	require.Eventually(t, func() bool { return e.InFlight() == 0 }, 5*time.Second, 10*time.Millisecond)

	// The late result was discarded.
	c.mu.Lock()
	assert.Len(t, c.outcomes, 1)
	c.mu.Unlock()
}

func TestTrySubmit_CooperativeTimeout(t *testing.T) {
	t.Parallel()

	e := New(1, 20*time.Millisecond)
	t.Cleanup(func() { _ = e.Stop(context.Background()) })
	c := newCollector()

	require.NoError(t, e.TrySubmit("polite", func(ctx context.Context) (worker.Result, error) {
		<-ctx.Done()
		return worker.Result{}, ctx.Err()
	}, c.done))

	o := c.wait(t)
	assert.True(t, o.TimedOut)
	assert.ErrorIs(t, o.Err, context.DeadlineExceeded)
}

func TestTrySubmit_Panic(t *testing.T) {
	t.Parallel()

	e := New(1, time.Second)
	t.Cleanup(func() { _ = e.Stop(context.Background()) })
	c := newCollector()

	require.NoError(t, e.TrySubmit("boom", func(context.Context) (worker.Result, error) {
		panic("kaboom")
	}, c.done))

	o := c.wait(t)
	require.Error(t, o.Err)
	assert.Contains(t, o.Err.Error(), "kaboom")
	_, classified := worker.KindOf(o.Err)
	assert.False(t, classified)
	require.Eventually(t, func() bool { return e.InFlight() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestStop(t *testing.T) {
	t.Parallel()

	e := New(2, time.Minute)
	c := newCollector()
	started := make(chan struct{})

	require.NoError(t, e.TrySubmit("running", func(ctx context.Context) (worker.Result, error) {
		close(started)
		<-ctx.Done()
		return worker.Result{}, ctx.Err()
	}, c.done))
	<-started

	require.NoError(t, e.Stop(context.Background()))
	o := c.wait(t)
	assert.True(t, errors.Is(o.Err, context.Canceled))
	assert.False(t, o.TimedOut)

	assert.ErrorIs(t, e.TrySubmit("late", func(context.Context) (worker.Result, error) {
		return worker.Steady(), nil
	}, c.done), ErrStopped)
}

func TestStop_Deadline(t *testing.T) {
	t.Parallel()

	e := New(1, time.Minute)
	c := newCollector()
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	require.NoError(t, e.TrySubmit("stuck", func(context.Context) (worker.Result, error) {
		<-release
		return worker.Steady(), nil
	}, c.done))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := e.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWait(t *testing.T) {
	t.Parallel()

	e := New(2, time.Minute)
	t.Cleanup(func() { _ = e.Stop(context.Background()) })
	c := newCollector()
	release := make(chan struct{})

	require.NoError(t, e.TrySubmit("slow", func(ctx context.Context) (worker.Result, error) {
		select {
		case <-release:
			return worker.Steady(), nil
		case <-ctx.Done():
			return worker.Result{}, ctx.Err()
		}
	}, c.done))

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, e.Wait(short), context.DeadlineExceeded)

	close(release)
	require.NoError(t, e.Wait(context.Background()))

	// Wait delivered the outcome and did not cancel the invocation.
	o := c.wait(t)
	assert.NoError(t, o.Err)
	assert.Zero(t, e.InFlight())

	require.NoError(t, e.TrySubmit("after", func(context.Context) (worker.Result, error) {
		return worker.Steady(), nil
	}, c.done))
}
