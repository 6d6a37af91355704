// Package executor runs worker invocations on a bounded pool.
//
// Submission never blocks: when every slot is busy TrySubmit fails with
// ErrSaturated and the caller decides what to do with the work. Each
// invocation runs under its own timeout. An invocation that overruns is
// abandoned and reported as timed out, but its slot stays taken until the
// goroutine actually returns, so a misbehaving backend cannot grow the number
// of live goroutines past the pool size.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/chameleoncloud/doni/internal/worker"
)

var (
	// ErrSaturated is returned by TrySubmit when no slot is free.
	ErrSaturated = errors.New("executor saturated")
	// ErrStopped is returned by TrySubmit after Stop.
	ErrStopped = errors.New("executor stopped")
)

// RunFunc is one invocation.
type RunFunc func(ctx context.Context) (worker.Result, error)

// Outcome reports how an invocation ended.
type Outcome struct {
	Key    string
	Result worker.Result
	Err    error
	// TimedOut is set when the invocation was abandoned at its deadline.
	TimedOut bool
	Elapsed  time.Duration
}

// DoneFunc receives the outcome of an invocation. It is called exactly once
// per accepted submission, from the executor's goroutine.
type DoneFunc func(Outcome)

// Executor is a bounded invocation pool.
type Executor struct {
	sem     *semaphore.Weighted
	size    int64
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	stopped bool
	// waiters tracks supervising goroutines, running tracks invocations.
	waiters  sync.WaitGroup
	running  sync.WaitGroup
	inFlight atomic.Int64
}

// New creates an executor with size slots and a per-invocation timeout.
func New(size int, timeout time.Duration) *Executor {
	if size < 1 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		sem:     semaphore.NewWeighted(int64(size)),
		size:    int64(size),
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Size returns the number of slots.
func (e *Executor) Size() int {
	return int(e.size)
}

// InFlight returns the number of occupied slots, including those held by
// abandoned invocations that have not returned yet.
func (e *Executor) InFlight() int {
	return int(e.inFlight.Load())
}

// TrySubmit starts run if a slot is free. done is called with the outcome.
func (e *Executor) TrySubmit(key string, run RunFunc, done DoneFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return ErrStopped
	}
	if !e.sem.TryAcquire(1) {
		return ErrSaturated
	}
	e.inFlight.Add(1)
	e.waiters.Add(1)
	e.running.Add(1)
	go e.supervise(key, run, done)
	return nil
}

type result struct {
	res worker.Result
	err error
}

func (e *Executor) supervise(key string, run RunFunc, done DoneFunc) {
	defer e.waiters.Done()

	start := time.Now()
	ctx, cancel := context.WithTimeout(e.ctx, e.timeout)
	defer cancel()

	results := make(chan result, 1)
	go func() {
		defer e.running.Done()
		defer e.sem.Release(1)
		defer e.inFlight.Add(-1)
		results <- invoke(ctx, key, run)
	}()

	out := Outcome{Key: key}
	select {
	case r := <-results:
		out.Result, out.Err = r.res, r.err
	case <-ctx.Done():
		// Prefer a result that raced the deadline.
		select {
		case r := <-results:
			out.Result, out.Err = r.res, r.err
		default:
			out.Err = ctx.Err()
			out.TimedOut = errors.Is(out.Err, context.DeadlineExceeded)
			slog.Warn("Abandoned worker invocation", "key", key, "timeout", e.timeout, "error", out.Err)
		}
	}
	if !out.TimedOut && errors.Is(out.Err, context.DeadlineExceeded) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		out.TimedOut = true
	}
	out.Elapsed = time.Since(start)
	done(out)
}

// invoke runs fn and turns a panic into an unclassified error.
func invoke(ctx context.Context, key string, fn RunFunc) (r result) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("Worker invocation panicked", "key", key, "panic", p, "stack", string(debug.Stack()))
			r = result{err: fmt.Errorf("worker panicked: %v", p)}
		}
	}()
	res, err := fn(ctx)
	return result{res: res, err: err}
}

// Wait blocks until every accepted invocation has returned and its DoneFunc
// has run, or ctx is done. It does not cancel anything.
func (e *Executor) Wait(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		e.waiters.Wait()
		e.running.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%d invocations still running: %w", e.InFlight(), ctx.Err())
	}
}

// Stop rejects new submissions, cancels running invocations and waits until
// they return or ctx is done.
func (e *Executor) Stop(ctx context.Context) error {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	e.cancel()

	if err := e.Wait(ctx); err != nil {
		return fmt.Errorf("executor stop: %w", err)
	}
	return nil
}
