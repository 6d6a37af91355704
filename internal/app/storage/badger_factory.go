package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/chameleoncloud/doni/internal/config"
	"github.com/chameleoncloud/doni/internal/hardware"
	"github.com/chameleoncloud/doni/internal/state"
)

// BadgerFactory creates stores backed by an embedded Badger database.
type BadgerFactory struct {
	db *badger.DB
}

var _ Factory = (*BadgerFactory)(nil)

// NewBadgerFactory opens the Badger database at the configured path.
func NewBadgerFactory(cfg *config.Config) (*BadgerFactory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Storage.Badger == nil || cfg.Storage.Badger.Path == "" {
		return nil, fmt.Errorf("badger path is required for badger storage type")
	}

	slog.Info("Creating badger-backed storage factory", "path", cfg.Storage.Badger.Path)

	opts := badger.DefaultOptions(cfg.Storage.Badger.Path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return NewBadgerFactoryFromDB(db), nil
}

// NewBadgerFactoryFromDB wraps an already opened database. Cleanup closes it.
func NewBadgerFactoryFromDB(db *badger.DB) *BadgerFactory {
	return &BadgerFactory{db: db}
}

// CreateHardwareStore creates a badger-backed hardware store.
func (b *BadgerFactory) CreateHardwareStore(_ context.Context) (hardware.Store, error) {
	slog.Debug("Creating badger-backed hardware store")
	return hardware.NewBadgerStore(b.db), nil
}

// CreateStateStore creates a badger-backed worker state store.
func (b *BadgerFactory) CreateStateStore(_ context.Context) (state.Store, error) {
	slog.Debug("Creating badger-backed state store")
	return state.NewBadgerStore(b.db), nil
}

// ReadinessCheck fails once the database has been closed.
func (b *BadgerFactory) ReadinessCheck(_ context.Context) error {
	if b.db.IsClosed() {
		return fmt.Errorf("badger database is closed")
	}
	return nil
}

// Cleanup closes the badger database.
func (b *BadgerFactory) Cleanup() {
	if b.db == nil || b.db.IsClosed() {
		return
	}
	slog.Info("Closing badger database")
	if err := b.db.Close(); err != nil {
		slog.Error("Failed to close badger database", "error", err)
	}
}
