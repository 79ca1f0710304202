package infospace

import (
	"sort"
	"sync"
)

// Registry owns the namespaces of all cards, keyed by URN.
type Registry struct {
	mu        sync.RWMutex
	spaces    map[string]*Namespace
	listeners []Listener
}

func NewRegistry() *Registry {
	return &Registry{
		spaces: make(map[string]*Namespace),
	}
}

// OnChange registers a listener for every namespace created afterwards.
func (r *Registry) OnChange(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// GetOrCreate returns the namespace for urn, creating it if needed. The
// boolean reports whether it was created by this call.
func (r *Registry) GetOrCreate(urn string) (*Namespace, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ns, ok := r.spaces[urn]; ok {
		return ns, false
	}
	listeners := make([]Listener, len(r.listeners))
	copy(listeners, r.listeners)
	ns := newNamespace(urn, listeners)
	r.spaces[urn] = ns
	return ns, true
}

func (r *Registry) Get(urn string) (*Namespace, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ns, ok := r.spaces[urn]
	return ns, ok
}

func (r *Registry) Has(urn string) bool {
	_, ok := r.Get(urn)
	return ok
}

// Remove drops the namespace and reports whether it existed.
func (r *Registry) Remove(urn string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.spaces[urn]; !ok {
		return false
	}
	delete(r.spaces, urn)
	return true
}

func (r *Registry) URNs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	urns := make([]string, 0, len(r.spaces))
	for urn := range r.spaces {
		urns = append(urns, urn)
	}
	sort.Strings(urns)
	return urns
}
