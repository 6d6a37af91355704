// Package hardware defines the hardware inventory that workers reconcile against.
//
// Hardware records are created and mutated by the API layer only. Workers read
// them but never write them back; their progress lives in worker state records.
package hardware

import (
	"context"
	"errors"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a hardware record does not exist.
	ErrNotFound = errors.New("hardware not found")
	// ErrAlreadyExists is returned when creating a hardware record whose ID is taken.
	ErrAlreadyExists = errors.New("hardware already exists")
	// ErrDuplicateName is returned when another live hardware record has the same name.
	ErrDuplicateName = errors.New("hardware name already in use")
)

// Hardware is an enrolled hardware resource.
type Hardware struct {
	ID         uuid.UUID      `json:"uuid"`
	Name       string         `json:"name"`
	Type       string         `json:"hardware_type"`
	ProjectID  string         `json:"project_id"`
	Properties map[string]any `json:"properties"`
	// Workers optionally restricts the hardware type's default worker list.
	Workers   []string   `json:"workers,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Deleted reports whether the hardware has been soft-deleted.
func (h *Hardware) Deleted() bool {
	return h.DeletedAt != nil
}

// StringProperty returns the named property if it is a non-empty string.
func (h *Hardware) StringProperty(key string) string {
	if h.Properties == nil {
		return ""
	}
	s, _ := h.Properties[key].(string)
	return s
}

// Clone returns a copy that can be mutated without affecting the receiver.
// Property values are copied one level deep.
func (h *Hardware) Clone() *Hardware {
	if h == nil {
		return nil
	}
	out := *h
	out.Properties = maps.Clone(h.Properties)
	out.Workers = slices.Clone(h.Workers)
	if h.DeletedAt != nil {
		t := *h.DeletedAt
		out.DeletedAt = &t
	}
	return &out
}

// ListOptions filters List results.
type ListOptions struct {
	// IncludeDeleted returns soft-deleted records too.
	IncludeDeleted bool
	// ProjectID restricts results to one owner when set.
	ProjectID string
}

// Store persists hardware records.
//
//go:generate mockgen -destination=mocks/mock_store.go -package=mocks -source=types.go Store
type Store interface {
	// Create inserts a new record. It returns ErrAlreadyExists if the ID is taken.
	Create(ctx context.Context, hw *Hardware) error
	// Get returns the record with the given ID, including soft-deleted ones.
	Get(ctx context.Context, id uuid.UUID) (*Hardware, error)
	// List returns records ordered by creation time.
	List(ctx context.Context, opts ListOptions) ([]*Hardware, error)
	// Update replaces the mutable fields of an existing record.
	Update(ctx context.Context, hw *Hardware) error
	// Delete soft-deletes a record.
	Delete(ctx context.Context, id uuid.UUID, at time.Time) error
}

func matches(hw *Hardware, opts ListOptions) bool {
	if hw.Deleted() && !opts.IncludeDeleted {
		return false
	}
	if opts.ProjectID != "" && hw.ProjectID != opts.ProjectID {
		return false
	}
	return true
}
