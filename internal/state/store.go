package state

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists worker state records. Implementations must make
// CompareAndSwap linearizable per key: it is the only primitive that
// serializes invocations across processes.
//
//go:generate mockgen -destination=mocks/mock_store.go -package=mocks -source=store.go Store
type Store interface {
	// Get returns a record or ErrNotFound.
	Get(ctx context.Context, key Key) (*WorkerState, error)
	// List returns every record, including REMOVED ones.
	List(ctx context.Context) ([]*WorkerState, error)
	// ListByHardware returns the records of one hardware resource.
	ListByHardware(ctx context.Context, hardwareID uuid.UUID) ([]*WorkerState, error)
	// Create inserts a new record. It returns ErrConflict if the key exists.
	Create(ctx context.Context, ws *WorkerState) error
	// CompareAndSwap replaces the record with next if the stored generation
	// equals expected. It returns ErrConflict on mismatch and ErrNotFound if
	// the record is gone.
	CompareAndSwap(ctx context.Context, next *WorkerState, expected int64) error
	// Delete removes a record.
	Delete(ctx context.Context, key Key) error
	// DeleteRemovedBefore purges REMOVED records last updated before cutoff.
	DeleteRemovedBefore(ctx context.Context, cutoff time.Time) (int, error)
}
