package storage

import (
	"context"
	"log/slog"

	"github.com/chameleoncloud/doni/internal/hardware"
	"github.com/chameleoncloud/doni/internal/state"
)

// MemoryFactory creates in-process stores. Nothing survives a restart.
type MemoryFactory struct {
	hardware hardware.Store
	states   state.Store
}

var _ Factory = (*MemoryFactory)(nil)

// NewMemoryFactory creates a new memory-backed storage factory.
func NewMemoryFactory() *MemoryFactory {
	slog.Info("Creating memory-backed storage factory")
	return &MemoryFactory{
		hardware: hardware.NewMemoryStore(),
		states:   state.NewMemoryStore(),
	}
}

// CreateHardwareStore returns the shared in-memory hardware store.
func (m *MemoryFactory) CreateHardwareStore(_ context.Context) (hardware.Store, error) {
	return m.hardware, nil
}

// CreateStateStore returns the shared in-memory state store.
func (m *MemoryFactory) CreateStateStore(_ context.Context) (state.Store, error) {
	return m.states, nil
}

// ReadinessCheck always succeeds.
func (*MemoryFactory) ReadinessCheck(_ context.Context) error {
	return nil
}

// Cleanup is a no-op.
func (*MemoryFactory) Cleanup() {}
