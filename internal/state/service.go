package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// maxTombstoneAttempts bounds how often Tombstone re-reads a record that keeps
// changing under it. The scheduler retries on its next cycle anyway.
const maxTombstoneAttempts = 3

// Observer is notified after every committed transition.
type Observer interface {
	OnTransition(ctx context.Context, t Transition)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, t Transition)

// OnTransition implements Observer.
func (f ObserverFunc) OnTransition(ctx context.Context, t Transition) {
	f(ctx, t)
}

// Service implements the claim protocol and the lifecycle state machine on top
// of a Store.
type Service struct {
	store     Store
	policy    Policy
	now       func() time.Time
	observers []Observer
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithObserver registers an observer for committed transitions.
func WithObserver(o Observer) ServiceOption {
	return func(s *Service) {
		s.observers = append(s.observers, o)
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a Service.
func NewService(store Store, policy Policy, opts ...ServiceOption) *Service {
	s := &Service{
		store:  store,
		policy: policy,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the timing policy.
func (s *Service) Policy() Policy {
	return s.policy
}

// Now returns the service clock's current time.
func (s *Service) Now() time.Time {
	return s.now()
}

// Get returns one record.
func (s *Service) Get(ctx context.Context, key Key) (*WorkerState, error) {
	return s.store.Get(ctx, key)
}

// List returns every record.
func (s *Service) List(ctx context.Context) ([]*WorkerState, error) {
	return s.store.List(ctx)
}

// ListByHardware returns the records of one hardware resource.
func (s *Service) ListByHardware(ctx context.Context, hardwareID uuid.UUID) ([]*WorkerState, error) {
	return s.store.ListByHardware(ctx, hardwareID)
}

// Ensure returns the record for key, creating it as PENDING if it does not exist.
func (s *Service) Ensure(ctx context.Context, key Key) (*WorkerState, error) {
	ws := newRecord(key, s.now())
	err := s.store.Create(ctx, ws)
	if errors.Is(err, ErrConflict) {
		return s.store.Get(ctx, key)
	}
	if err != nil {
		return nil, err
	}
	s.notify(ctx, "", ws)
	return ws, nil
}

// Claim moves an eligible record to SYNCING on behalf of owner. It returns
// ErrClaimNotAcquired if the record is not eligible or the snapshot is stale.
func (s *Service) Claim(ctx context.Context, current *WorkerState, owner string) (*WorkerState, error) {
	now := s.now()
	if !Eligible(current, now) {
		return nil, ErrClaimNotAcquired
	}
	next := claimed(current, owner, now, s.policy.LeaseTimeout)
	if err := s.store.CompareAndSwap(ctx, next, current.Generation); err != nil {
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
			return nil, ErrClaimNotAcquired
		}
		return nil, fmt.Errorf("failed to claim %s: %w", current.Key(), err)
	}
	if current.State == StateSyncing {
		slog.Info("Reclaimed expired worker claim",
			"hardware_id", current.HardwareID,
			"worker", current.WorkerType,
			"previous_owner", current.ClaimedBy,
			"owner", owner)
	}
	s.notify(ctx, current.State, next)
	return next, nil
}

// Complete commits the outcome of the invocation that holds claim. It returns
// ErrStaleClaim if the claim no longer holds.
func (s *Service) Complete(ctx context.Context, claim *WorkerState, c Completion) (*WorkerState, error) {
	next := completed(claim, c, s.now(), s.policy)
	return next, s.commitClaim(ctx, claim, next)
}

// Release returns a claimed record to the state it was claimed from without
// recording an attempt.
func (s *Service) Release(ctx context.Context, claim *WorkerState) (*WorkerState, error) {
	next := released(claim, s.now())
	return next, s.commitClaim(ctx, claim, next)
}

func (s *Service) commitClaim(ctx context.Context, claim, next *WorkerState) error {
	if claim.State != StateSyncing || !claim.InProgress {
		return ErrStaleClaim
	}
	if err := s.store.CompareAndSwap(ctx, next, claim.Generation); err != nil {
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
			return ErrStaleClaim
		}
		return fmt.Errorf("failed to commit %s: %w", claim.Key(), err)
	}
	s.notify(ctx, claim.State, next)
	return nil
}

// Tombstone moves a record to REMOVED. Records already REMOVED are left alone.
func (s *Service) Tombstone(ctx context.Context, key Key) error {
	for range maxTombstoneAttempts {
		current, err := s.store.Get(ctx, key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}
		if current.State == StateRemoved {
			return nil
		}
		next := tombstoned(current, s.now())
		err = s.store.CompareAndSwap(ctx, next, current.Generation)
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to tombstone %s: %w", key, err)
		}
		s.notify(ctx, current.State, next)
		return nil
	}
	return fmt.Errorf("failed to tombstone %s: %w", key, ErrConflict)
}

// Reset returns an ERROR, RETRYING or STEADY record to PENDING and clears its
// retry bookkeeping. A PENDING record is returned unchanged.
func (s *Service) Reset(ctx context.Context, key Key) (*WorkerState, error) {
	current, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	switch current.State {
	case StatePending:
		return current, nil
	case StateError, StateRetrying, StateSteady:
	default:
		return nil, fmt.Errorf("cannot reset %s in state %s: %w", key, current.State, ErrInvalidTransition)
	}
	next := reset(current, s.now())
	if err := s.store.CompareAndSwap(ctx, next, current.Generation); err != nil {
		return nil, err
	}
	s.notify(ctx, current.State, next)
	return next, nil
}

// Revive returns a REMOVED record to PENDING when its worker applies to the
// hardware again. Details recorded before the tombstone are kept.
func (s *Service) Revive(ctx context.Context, current *WorkerState) (*WorkerState, error) {
	if current.State != StateRemoved {
		return nil, fmt.Errorf("cannot revive %s in state %s: %w", current.Key(), current.State, ErrInvalidTransition)
	}
	next := reset(current, s.now())
	if err := s.store.CompareAndSwap(ctx, next, current.Generation); err != nil {
		return nil, err
	}
	s.notify(ctx, current.State, next)
	return next, nil
}

// Invalidate re-queues the STEADY records of a hardware resource as PENDING and
// makes its RETRYING records eligible now, so its workers pick up changed
// properties on the next cycle. RETRYING records keep their attempt count and
// backoff. Records in ERROR stay put. It returns the number of records touched.
func (s *Service) Invalidate(ctx context.Context, hardwareID uuid.UUID) (int, error) {
	records, err := s.store.ListByHardware(ctx, hardwareID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, current := range records {
		var next *WorkerState
		switch current.State {
		case StateSteady:
			next = reset(current, s.now())
		case StateRetrying:
			if current.NextEligibleAt == nil || !current.NextEligibleAt.After(s.now()) {
				continue
			}
			next = expedite(current, s.now())
		default:
			continue
		}
		err := s.store.CompareAndSwap(ctx, next, current.Generation)
		if errors.Is(err, ErrConflict) {
			slog.Debug("Skipping invalidation of concurrently modified record", "key", current.Key().String())
			continue
		}
		if err != nil {
			return n, fmt.Errorf("failed to invalidate %s: %w", current.Key(), err)
		}
		s.notify(ctx, current.State, next)
		n++
	}
	return n, nil
}

// Purge deletes REMOVED records last updated before cutoff.
func (s *Service) Purge(ctx context.Context, cutoff time.Time) (int, error) {
	return s.store.DeleteRemovedBefore(ctx, cutoff)
}

func (s *Service) notify(ctx context.Context, from State, next *WorkerState) {
	if len(s.observers) == 0 {
		return
	}
	t := Transition{
		HardwareID: next.HardwareID,
		WorkerType: next.WorkerType,
		From:       from,
		To:         next.State,
		Details:    cloneDetails(next.Details),
		Generation: next.Generation,
		At:         next.LastUpdatedAt,
	}
	for _, o := range s.observers {
		o.OnTransition(ctx, t)
	}
}
