package dialect

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps driver names to dialects.
type Registry struct {
	mu       sync.RWMutex
	dialects map[string]Dialect
}

// NewRegistry creates a registry holding the given dialects.
func NewRegistry(dialects ...Dialect) *Registry {
	r := &Registry{dialects: make(map[string]Dialect)}
	for _, d := range dialects {
		r.Register(d)
	}
	return r
}

// Register adds d under d.Name(), replacing any dialect of the same name.
func (r *Registry) Register(d Dialect) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dialects[d.Name()] = d
}

// Lookup returns the dialect registered for driver.
func (r *Registry) Lookup(driver string) (Dialect, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported driver: %s (available: %v)", driver, r.names())
	}
	return d, nil
}

// Names returns the registered driver names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.names()
}

func (r *Registry) names() []string {
	names := make([]string, 0, len(r.dialects))
	for n := range r.dialects {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
