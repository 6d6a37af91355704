package hardware

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*Hardware
}

// NewMemoryStore creates a process-local hardware store.
func NewMemoryStore() Store {
	return &memoryStore{records: make(map[uuid.UUID]*Hardware)}
}

func (m *memoryStore) Create(_ context.Context, hw *Hardware) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[hw.ID]; ok {
		return ErrAlreadyExists
	}
	if hw.DeletedAt == nil && m.nameTaken(hw.ID, hw.Name) {
		return ErrDuplicateName
	}
	m.records[hw.ID] = hw.Clone()
	return nil
}

func (m *memoryStore) Get(_ context.Context, id uuid.UUID) (*Hardware, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hw, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return hw.Clone(), nil
}

func (m *memoryStore) List(_ context.Context, opts ListOptions) ([]*Hardware, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Hardware, 0, len(m.records))
	for _, hw := range m.records {
		if matches(hw, opts) {
			out = append(out, hw.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *Hardware) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
	return out, nil
}

func (m *memoryStore) Update(_ context.Context, hw *Hardware) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.records[hw.ID]
	if !ok {
		return ErrNotFound
	}
	if existing.DeletedAt == nil && m.nameTaken(hw.ID, hw.Name) {
		return ErrDuplicateName
	}
	updated := hw.Clone()
	updated.Type = existing.Type
	updated.CreatedAt = existing.CreatedAt
	updated.DeletedAt = existing.DeletedAt
	m.records[hw.ID] = updated
	return nil
}

func (m *memoryStore) Delete(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	hw, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	if hw.DeletedAt == nil {
		t := at
		hw.DeletedAt = &t
		hw.UpdatedAt = at
	}
	return nil
}

// nameTaken reports whether a live record other than id is called name.
func (m *memoryStore) nameTaken(id uuid.UUID, name string) bool {
	for other, hw := range m.records {
		if other != id && hw.DeletedAt == nil && hw.Name == name {
			return true
		}
	}
	return false
}
