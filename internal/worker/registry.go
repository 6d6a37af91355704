package worker

import (
	"fmt"
	"slices"
	"sync"

	"github.com/chameleoncloud/doni/internal/config"
)

// Factory builds a worker from the process configuration.
type Factory func(cfg *config.Config) (Worker, error)

// Registry maps worker names to factories. It is populated once at startup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory. Registering a name twice is an error.
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" {
		return fmt.Errorf("worker name is required")
	}
	if factory == nil {
		return fmt.Errorf("worker %s: factory is required", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("worker %s is already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// Names returns the registered worker names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Build instantiates the named workers. An unknown name fails with
// ErrUnknownWorker.
func (r *Registry) Build(cfg *config.Config, names []string) (*Set, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := &Set{workers: make(map[string]Worker, len(names))}
	for _, name := range names {
		factory, ok := r.factories[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownWorker, name)
		}
		if _, dup := set.workers[name]; dup {
			continue
		}
		w, err := factory(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to build worker %s: %w", name, err)
		}
		set.workers[name] = w
		set.order = append(set.order, name)
	}
	return set, nil
}

// Set is the immutable collection of workers enabled in this process.
type Set struct {
	workers map[string]Worker
	order   []string
}

// NewSet builds a Set from already constructed workers.
func NewSet(workers ...Worker) *Set {
	set := &Set{workers: make(map[string]Worker, len(workers))}
	for _, w := range workers {
		if _, dup := set.workers[w.Name()]; dup {
			continue
		}
		set.workers[w.Name()] = w
		set.order = append(set.order, w.Name())
	}
	return set
}

// Get returns the named worker.
func (s *Set) Get(name string) (Worker, bool) {
	w, ok := s.workers[name]
	return w, ok
}

// Has reports whether the named worker is enabled.
func (s *Set) Has(name string) bool {
	_, ok := s.workers[name]
	return ok
}

// Names returns enabled worker names in build order.
func (s *Set) Names() []string {
	return slices.Clone(s.order)
}
