// Package worker defines the contract between the reconciliation core and the
// backend integrations that bring hardware into its desired state.
//
// A Worker reads a hardware record and its own worker state, talks to one
// external system, and reports what happened as a Result. Workers never write
// storage: the state service persists whatever they return.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/chameleoncloud/doni/internal/hardware"
	"github.com/chameleoncloud/doni/internal/state"
)

//go:generate mockgen -destination=mocks/mock_worker.go -package=mocks -source=worker.go Worker,Importer,DetailMasker

// Worker reconciles one backend for the hardware it applies to.
type Worker interface {
	// Name is the worker type, unique within a registry.
	Name() string
	// Fields are the hardware properties this worker reads.
	Fields() []Field
	// AppliesTo reports whether the worker should track hw. It must be cheap
	// and free of I/O.
	AppliesTo(hw *hardware.Hardware) bool
	// Process performs one idempotent synchronization step.
	Process(ctx context.Context, hw *hardware.Hardware, current *state.WorkerState) (Result, error)
}

// Importer is implemented by workers that can list backend resources not yet
// enrolled.
type Importer interface {
	ImportExisting(ctx context.Context) ([]Imported, error)
}

// DetailMasker is implemented by workers that keep secrets in their state
// details. The named keys are masked for readers who are not admins.
type DetailMasker interface {
	SensitiveDetails() []string
}

// Masked replaces sensitive values in API responses.
const Masked = "************"

// Imported describes a backend resource that can be enrolled as hardware.
type Imported struct {
	// ID is the backend's identifier for the resource, reused as hardware ID.
	ID           string         `json:"uuid"`
	Name         string         `json:"name"`
	HardwareType string         `json:"hardware_type"`
	ProjectID    string         `json:"project_id,omitempty"`
	Properties   map[string]any `json:"properties"`
}

// Field describes one hardware property a worker consumes.
type Field struct {
	Name string
	// Schema is a JSON schema fragment for the property value.
	Schema      map[string]any
	Default     any
	Required    bool
	Private     bool
	Sensitive   bool
	Description string
}

// Result is the outcome of a Process call.
type Result struct {
	Outcome state.Outcome
	// Details are merged into the worker state. A nil value removes a key.
	Details map[string]any
	// RetryAfter is a lower bound on the next attempt for RETRY results.
	RetryAfter time.Duration
	Reason     string
}

// Success reports that the backend now matches the hardware.
func Success(details map[string]any) Result {
	return Result{Outcome: state.OutcomeSuccess, Details: details}
}

// Steady reports that nothing needed to change.
func Steady() Result {
	return Result{Outcome: state.OutcomeSteady}
}

// Retry reports that the backend is not ready yet.
func Retry(reason string, details map[string]any) Result {
	return Result{Outcome: state.OutcomeRetry, Reason: reason, Details: details}
}

// Failed reports a condition that needs an operator.
func Failed(reason string) Result {
	return Result{Outcome: state.OutcomeFailed, Reason: reason}
}

// After sets the retry hint.
func (r Result) After(d time.Duration) Result {
	r.RetryAfter = d
	return r
}

// Completion turns the outcome of an invocation into the state transition
// the service should commit. timedOut invocations are retried no earlier
// than lease, so an abandoned call cannot overlap its successor.
func Completion(res Result, err error, timedOut bool, lease time.Time) state.Completion {
	switch {
	case timedOut:
		return state.Completion{
			Outcome:   state.OutcomeRetry,
			Reason:    "invocation timed out",
			Err:       err,
			NotBefore: lease,
		}
	case err != nil:
		kind, classified := KindOf(err)
		if !classified && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			// cancelled by the executor, not by the backend
			kind, classified = KindTransient, true
		}
		if classified && kind == KindTransient {
			return state.Completion{
				Outcome:    state.OutcomeRetry,
				Err:        err,
				Details:    res.Details,
				RetryAfter: res.RetryAfter,
				Reason:     res.Reason,
			}
		}
		return state.Completion{Outcome: state.OutcomeFailed, Err: err, Reason: res.Reason}
	case res.Outcome == "":
		return state.Completion{Outcome: state.OutcomeFailed, Reason: "worker returned an empty result"}
	default:
		return state.Completion{
			Outcome:    res.Outcome,
			Details:    res.Details,
			RetryAfter: res.RetryAfter,
			Reason:     res.Reason,
		}
	}
}
