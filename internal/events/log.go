package events

import (
	"context"
	"log/slog"
)

// LogEmitter writes events to a structured logger.
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter returns a LogEmitter; a nil logger means slog.Default().
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger}
}

// Emit implements Emitter.
func (l *LogEmitter) Emit(ctx context.Context, e Event) error {
	l.logger.InfoContext(ctx, "Worker state changed",
		"hardware_id", e.HardwareID,
		"worker_type", e.WorkerType,
		"old_state", e.OldState,
		"new_state", e.NewState,
		"generation", e.Generation,
	)
	return nil
}
