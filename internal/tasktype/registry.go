package tasktype

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps type names to task type implementations
type Registry struct {
	types map[string]TaskType
	mu    sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]TaskType)}
}

// Register adds a task type under name
func (r *Registry) Register(name string, t TaskType) error {
	if name == "" {
		return fmt.Errorf("task type name is required")
	}
	if t == nil {
		return fmt.Errorf("task type %q: nil implementation", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.types[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	r.types[name] = t
	return nil
}

// MustRegister is Register for init-time wiring; it panics on error
func (r *Registry) MustRegister(name string, t TaskType) {
	if err := r.Register(name, t); err != nil {
		panic(err)
	}
}

// Lookup returns the task type registered under name
func (r *Registry) Lookup(name string) (TaskType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.types[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return t, nil
}

// Names returns all registered type names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
