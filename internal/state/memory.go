package state

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryStore struct {
	mu      sync.Mutex
	records map[Key]*WorkerState
}

// NewMemoryStore creates a process-local Store.
func NewMemoryStore() Store {
	return &memoryStore{records: make(map[Key]*WorkerState)}
}

func (m *memoryStore) Get(_ context.Context, key Key) (*WorkerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ws, ok := m.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	return ws.Clone(), nil
}

func (m *memoryStore) List(_ context.Context) ([]*WorkerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*WorkerState, 0, len(m.records))
	for _, ws := range m.records {
		out = append(out, ws.Clone())
	}
	sortRecords(out)
	return out, nil
}

func (m *memoryStore) ListByHardware(_ context.Context, hardwareID uuid.UUID) ([]*WorkerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*WorkerState
	for key, ws := range m.records {
		if key.HardwareID == hardwareID {
			out = append(out, ws.Clone())
		}
	}
	sortRecords(out)
	return out, nil
}

func (m *memoryStore) Create(_ context.Context, ws *WorkerState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[ws.Key()]; ok {
		return ErrConflict
	}
	m.records[ws.Key()] = ws.Clone()
	return nil
}

func (m *memoryStore) CompareAndSwap(_ context.Context, next *WorkerState, expected int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.records[next.Key()]
	if !ok {
		return ErrNotFound
	}
	if current.Generation != expected {
		return ErrConflict
	}
	m.records[next.Key()] = next.Clone()
	return nil
}

func (m *memoryStore) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[key]; !ok {
		return ErrNotFound
	}
	delete(m.records, key)
	return nil
}

func (m *memoryStore) DeleteRemovedBefore(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key, ws := range m.records {
		if ws.State == StateRemoved && ws.LastUpdatedAt.Before(cutoff) {
			delete(m.records, key)
			n++
		}
	}
	return n, nil
}

func sortRecords(records []*WorkerState) {
	slices.SortFunc(records, func(a, b *WorkerState) int {
		if c := strings.Compare(a.HardwareID.String(), b.HardwareID.String()); c != 0 {
			return c
		}
		return strings.Compare(a.WorkerType, b.WorkerType)
	})
}
