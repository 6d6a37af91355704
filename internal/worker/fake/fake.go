// Package fake provides a worker that touches no backend. It is used in
// development and tests.
package fake

import (
	"context"

	"github.com/chameleoncloud/doni/internal/config"
	"github.com/chameleoncloud/doni/internal/hardware"
	"github.com/chameleoncloud/doni/internal/state"
	"github.com/chameleoncloud/doni/internal/worker"
)

// Name is the worker type.
const Name = "fake"

// ResultKey is the state detail the worker writes.
const ResultKey = "fake-result"

// Worker always succeeds with a payload derived from the hardware ID.
type Worker struct{}

// New creates the worker.
func New() *Worker {
	return &Worker{}
}

// Factory adapts New to worker.Factory.
func Factory(*config.Config) (worker.Worker, error) {
	return New(), nil
}

// Name implements worker.Worker.
func (*Worker) Name() string {
	return Name
}

// Fields implements worker.Worker.
func (*Worker) Fields() []worker.Field {
	return []worker.Field{
		{Name: "private-field", Private: true},
		{Name: "private-and-sensitive-field", Private: true, Sensitive: true},
		{Name: "sensitive-field", Sensitive: true},
	}
}

// AppliesTo implements worker.Worker.
func (*Worker) AppliesTo(*hardware.Hardware) bool {
	return true
}

// Process implements worker.Worker.
func (*Worker) Process(ctx context.Context, hw *hardware.Hardware, _ *state.WorkerState) (worker.Result, error) {
	if err := ctx.Err(); err != nil {
		return worker.Result{}, worker.Transient(err)
	}
	return worker.Success(map[string]any{
		ResultKey: "fake-worker-prefix-" + hw.ID.String(),
	}), nil
}
