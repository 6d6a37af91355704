// Package events publishes worker state transitions to external sinks.
package events

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chameleoncloud/doni/internal/state"
)

// Event is the payload published for every committed worker transition.
type Event struct {
	HardwareID uuid.UUID      `json:"hardware_id"`
	WorkerType string         `json:"worker_type"`
	OldState   state.State    `json:"old_state"`
	NewState   state.State    `json:"new_state"`
	Details    map[string]any `json:"details,omitempty"`
	Generation int64          `json:"generation"`
	Timestamp  time.Time      `json:"timestamp"`
}

// FromTransition builds the event for t.
func FromTransition(t state.Transition) Event {
	return Event{
		HardwareID: t.HardwareID,
		WorkerType: t.WorkerType,
		OldState:   t.From,
		NewState:   t.To,
		Details:    t.Details,
		Generation: t.Generation,
		Timestamp:  t.At,
	}
}

// Emitter delivers events to one sink.
type Emitter interface {
	Emit(ctx context.Context, e Event) error
}

// Multi fans an event out to every emitter and joins their errors.
type Multi []Emitter

// Emit implements Emitter.
func (m Multi) Emit(ctx context.Context, e Event) error {
	var errs []error
	for _, em := range m {
		if err := em.Emit(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Observer adapts an Emitter to state.Observer. Delivery failures are logged
// and never affect the committed transition.
func Observer(em Emitter) state.Observer {
	return state.ObserverFunc(func(ctx context.Context, t state.Transition) {
		e := FromTransition(t)
		if err := em.Emit(ctx, e); err != nil {
			slog.Warn("Failed to emit worker transition",
				"hardware_id", e.HardwareID,
				"worker_type", e.WorkerType,
				"new_state", e.NewState,
				"error", err,
			)
		}
	})
}
