package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chameleoncloud/doni/internal/config"
	"github.com/chameleoncloud/doni/internal/db"
	"github.com/chameleoncloud/doni/internal/hardware"
	"github.com/chameleoncloud/doni/internal/state"
)

// DatabaseFactory creates database-backed storage components.
// All components created by this factory use PostgreSQL for persistence.
type DatabaseFactory struct {
	pool *pgxpool.Pool
}

var _ Factory = (*DatabaseFactory)(nil)

// NewDatabaseFactory creates a new database-backed storage factory.
// It establishes a connection pool to the configured PostgreSQL database.
func NewDatabaseFactory(ctx context.Context, cfg *config.Config) (*DatabaseFactory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if cfg.Database == nil {
		return nil, fmt.Errorf("database configuration is required for database storage type")
	}

	slog.Info("Creating database-backed storage factory")

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection pool: %w", err)
	}

	return NewDatabaseFactoryFromPool(pool), nil
}

// NewDatabaseFactoryFromPool wraps an existing pool. Cleanup closes it.
func NewDatabaseFactoryFromPool(pool *pgxpool.Pool) *DatabaseFactory {
	return &DatabaseFactory{pool: pool}
}

// CreateHardwareStore creates a database-backed hardware store.
func (d *DatabaseFactory) CreateHardwareStore(_ context.Context) (hardware.Store, error) {
	slog.Debug("Creating database-backed hardware store")
	return hardware.NewDBStore(d.pool), nil
}

// CreateStateStore creates a database-backed worker state store.
func (d *DatabaseFactory) CreateStateStore(_ context.Context) (state.Store, error) {
	slog.Debug("Creating database-backed state store")
	return state.NewDBStore(d.pool), nil
}

// ReadinessCheck pings the database.
func (d *DatabaseFactory) ReadinessCheck(ctx context.Context) error {
	if err := d.pool.Ping(ctx); err != nil {
		return fmt.Errorf("database not reachable: %w", err)
	}
	return nil
}

// Cleanup releases resources held by the database factory.
// This closes the database connection pool and any active connections.
func (d *DatabaseFactory) Cleanup() {
	if d.pool != nil {
		slog.Info("Closing database connection pool")
		d.pool.Close()
	}
}
