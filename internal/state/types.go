// Package state holds the per-(hardware, worker) reconciliation records and the
// claim protocol that serializes worker invocations across processes.
//
// Every mutation goes through a single-record compare-and-swap on the record's
// generation. A Store only has to provide that primitive; Service layers the
// lifecycle state machine on top of it.
package state

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a worker state record.
type State string

const (
	// StatePending marks a record that has never been processed, or was reset.
	StatePending State = "PENDING"
	// StateSyncing marks a record whose claim is held by a running invocation.
	StateSyncing State = "SYNCING"
	// StateSteady marks a record whose last invocation succeeded.
	StateSteady State = "STEADY"
	// StateRetrying marks a record waiting out a backoff after a transient failure.
	StateRetrying State = "RETRYING"
	// StateError marks a terminal failure that needs an explicit reset.
	StateError State = "ERROR"
	// StateRemoved marks a tombstoned record awaiting purge.
	StateRemoved State = "REMOVED"
)

// States lists every lifecycle state.
var States = []State{StatePending, StateSyncing, StateSteady, StateRetrying, StateError, StateRemoved}

// ParseState converts a stored string into a State.
func ParseState(s string) (State, error) {
	for _, st := range States {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown worker state %q", s)
}

// Well-known state_details keys.
const (
	DetailLastError    = "last_error"
	DetailDeferReason  = "defer_reason"
	DetailAttemptCount = "attempt_count"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("worker state not found")
	// ErrConflict is returned by a Store when a compare-and-swap loses a race.
	ErrConflict = errors.New("worker state generation conflict")
	// ErrClaimNotAcquired is returned when a record could not be claimed.
	// Callers skip the pair for the current cycle.
	ErrClaimNotAcquired = errors.New("claim not acquired")
	// ErrStaleClaim is returned when committing a result for a claim that was
	// reclaimed, released or tombstoned in the meantime.
	ErrStaleClaim = errors.New("stale claim")
	// ErrInvalidTransition is returned when an operator action does not apply
	// to the record's current state.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Key identifies a worker state record.
type Key struct {
	HardwareID uuid.UUID `json:"hardware_id"`
	WorkerType string    `json:"worker_type"`
}

func (k Key) String() string {
	return k.HardwareID.String() + "/" + k.WorkerType
}

// WorkerState is the persisted reconciliation record for one (hardware, worker) pair.
type WorkerState struct {
	HardwareID    uuid.UUID      `json:"hardware_id"`
	WorkerType    string         `json:"worker_type"`
	State         State          `json:"state"`
	Details       map[string]any `json:"state_details"`
	Generation    int64          `json:"generation"`
	CreatedAt     time.Time      `json:"created_at"`
	LastUpdatedAt time.Time      `json:"last_updated_at"`

	InProgress     bool       `json:"in_progress"`
	ClaimedBy      string     `json:"claimed_by,omitempty"`
	ClaimedFrom    State      `json:"claimed_from,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`

	AttemptCount   int           `json:"attempt_count"`
	NextEligibleAt *time.Time    `json:"next_eligible_at,omitempty"`
	BackoffDelay   time.Duration `json:"backoff_delay"`
}

// Key returns the record's identity.
func (w *WorkerState) Key() Key {
	return Key{HardwareID: w.HardwareID, WorkerType: w.WorkerType}
}

// LastError returns the recorded last_error detail, if any.
func (w *WorkerState) LastError() string {
	s, _ := w.Details[DetailLastError].(string)
	return s
}

// Clone returns a deep copy of the record.
func (w *WorkerState) Clone() *WorkerState {
	if w == nil {
		return nil
	}
	out := *w
	out.Details = cloneDetails(w.Details)
	out.LeaseExpiresAt = cloneTime(w.LeaseExpiresAt)
	out.NextEligibleAt = cloneTime(w.NextEligibleAt)
	return &out
}

// Outcome is the kind of result a worker invocation produced.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeSteady  Outcome = "STEADY"
	OutcomeRetry   Outcome = "RETRY"
	OutcomeFailed  Outcome = "FAILED"
)

// Completion is what gets committed when a claimed invocation finishes.
type Completion struct {
	Outcome Outcome
	// Details are merged into the record's state_details.
	Details map[string]any
	// RetryAfter is a lower bound on the next retry delay.
	RetryAfter time.Duration
	// NotBefore is a lower bound on the next eligible time.
	NotBefore time.Time
	// Reason is recorded as defer_reason for retries.
	Reason string
	// Err is recorded as last_error.
	Err error
}

// Transition describes one committed state change.
type Transition struct {
	HardwareID uuid.UUID
	WorkerType string
	From       State
	To         State
	Details    map[string]any
	Generation int64
	At         time.Time
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneDetails(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneDetails(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
