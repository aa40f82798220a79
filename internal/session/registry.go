// Package session maps logical session names to the host objects that
// represent running units of work.
package session

import (
	"sort"
	"sync"
)

// Handle is an opaque host-owned session object. This package never creates
// or destroys handles; it only remembers them.
type Handle any

// Registry is a goroutine-safe name -> Handle map.
// Registering an existing name replaces the previous handle.
type Registry struct {
	mu      sync.Mutex
	handles map[string]Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handles: make(map[string]Handle),
	}
}

// Register maps name to h, replacing any earlier mapping.
func (r *Registry) Register(name string, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[name] = h
}

// Get returns the handle registered under name.
func (r *Registry) Get(name string) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[name]
	return h, ok
}

// Remove evicts name. It returns false if name was not registered.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handles[name]; !ok {
		return false
	}
	delete(r.handles, name)
	return true
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	names := make([]string, 0, len(r.handles))
	for name := range r.handles {
		names = append(names, name)
	}
	r.mu.Unlock()

	sort.Strings(names)
	return names
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
