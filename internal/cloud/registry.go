package cloud

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Factory constructs a Source for a run.
type Factory func(ctx context.Context) (Source, error)

// Registry maps provider names to factories. It is built once by the caller
// and passed explicitly; there is no package-level registry.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a provider factory.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Open constructs the named provider.
func (r *Registry) Open(ctx context.Context, name string) (Source, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (available: %v)", name, r.Names())
	}
	return f(ctx)
}

// Names returns registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
