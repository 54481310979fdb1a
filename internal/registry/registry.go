// Package registry provides the authoritative name → script mapping.
// Names resolve case-insensitively, so "Helper" and "helper" share one slot.
//
// Registry is not synchronized: the manager that owns it holds its lock around
// every call, so iteration never observes a half-applied add or remove.
package registry

import (
	"sort"

	"github.com/leapstack-labs/leapscript/internal/script"
)

// Registry maps script names to their Script entries.
type Registry struct {
	// entries is keyed by script.Key(name)
	entries map[string]*script.Script
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[string]*script.Script),
	}
}

// Add registers a script under its name, replacing any entry with the same key.
func (r *Registry) Add(s *script.Script) {
	r.entries[script.Key(s.Name())] = s
}

// Get resolves a name to its script.
func (r *Registry) Get(name string) (*script.Script, bool) {
	s, ok := r.entries[script.Key(name)]
	return s, ok
}

// Remove drops a script from the registry and returns it.
func (r *Registry) Remove(name string) (*script.Script, bool) {
	key := script.Key(name)
	s, ok := r.entries[key]
	if ok {
		delete(r.entries, key)
	}
	return s, ok
}

// Each calls fn for every registered script in unspecified order.
// fn must not add or remove entries.
func (r *Registry) Each(fn func(*script.Script)) {
	for _, s := range r.entries {
		fn(s)
	}
}

// Names returns the registered script names, sorted for display.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for _, s := range r.entries {
		names = append(names, s.Name())
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered scripts.
func (r *Registry) Len() int {
	return len(r.entries)
}
