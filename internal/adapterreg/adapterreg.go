// Package adapterreg maps a source id to the adapter.Adapter instance that
// serves it, satisfying internal/executor's AdapterResolver. It is
// deliberately separate from internal/sourcereg: the registry owns source
// metadata and capability tags (replicated across nodes via Pulse), while
// this package owns live adapter handles (database pools, HTTP clients)
// that are process-local and never serialized.
package adapterreg

import (
	"fmt"
	"sync"

	"github.com/queryorch/orchestrator/internal/adapter"
)

// Registry is a concurrency-safe map of source id to adapter.Adapter.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]adapter.Adapter
}

// New constructs a Registry from an initial set of adapters.
func New(adapters map[string]adapter.Adapter) *Registry {
	cloned := make(map[string]adapter.Adapter, len(adapters))
	for id, a := range adapters {
		cloned[id] = a
	}
	return &Registry{adapters: cloned}
}

// Get implements executor.AdapterResolver.
func (r *Registry) Get(sourceID string) (adapter.Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[sourceID]
	if !ok {
		return nil, fmt.Errorf("adapterreg: no adapter registered for source %q", sourceID)
	}
	return a, nil
}

// Set installs or replaces the adapter for sourceID.
func (r *Registry) Set(sourceID string, a adapter.Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[sourceID] = a
}

// Remove deletes the adapter registered for sourceID, if any.
func (r *Registry) Remove(sourceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.adapters, sourceID)
}
