// Package storage provides factory functions for creating storage-dependent components.
// Each factory creates the hardware store and the worker state store from the same
// backend so both share a single lifecycle.
package storage

import (
	"context"
	"fmt"

	"github.com/chameleoncloud/doni/internal/config"
	"github.com/chameleoncloud/doni/internal/hardware"
	"github.com/chameleoncloud/doni/internal/state"
)

// Factory creates storage-dependent components as a family.
//
// It also manages the lifecycle of storage resources (e.g., database connections).
type Factory interface {
	// CreateHardwareStore creates the store holding hardware records.
	CreateHardwareStore(ctx context.Context) (hardware.Store, error)

	// CreateStateStore creates the store holding worker state records.
	CreateStateStore(ctx context.Context) (state.Store, error)

	// ReadinessCheck reports whether the backend is able to serve requests.
	ReadinessCheck(ctx context.Context) error

	// Cleanup releases any resources held by this factory.
	// Should be called when the application shuts down.
	Cleanup()
}

// NewStorageFactory creates a storage factory based on the configured storage type.
func NewStorageFactory(ctx context.Context, cfg *config.Config) (Factory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	switch cfg.GetStorageType() {
	case config.StorageTypeMemory:
		return NewMemoryFactory(), nil
	case config.StorageTypeBadger:
		return NewBadgerFactory(cfg)
	case config.StorageTypeDatabase:
		return NewDatabaseFactory(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.GetStorageType())
	}
}
