package target

import (
	"fmt"
	"sort"
	"sync"
)

// Registry manages the collection of loaded targets
type Registry struct {
	mu      sync.RWMutex
	targets map[Environment]*Target
}

// NewRegistry creates a new target registry
func NewRegistry(targets map[Environment]*Target) *Registry {
	return &Registry{
		targets: targets,
	}
}

// Get retrieves a target by name
func (r *Registry) Get(name string) (*Target, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, exists := r.targets[Environment(name)]
	if !exists {
		return nil, fmt.Errorf("target '%s' not found", name)
	}

	return t, nil
}

// List returns all target names, sorted
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.targets))
	for name := range r.targets {
		names = append(names, string(name))
	}
	sort.Strings(names)

	return names
}

// Count returns the number of targets
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.targets)
}
