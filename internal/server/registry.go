// Package server tracks which usernames are currently online. The Registry is
// the single source of truth for the roster and is mutated only by the Hub.
package server

import (
	"sync"

	"github.com/samber/lo"
)

// Registry holds the ordered roster of joined usernames. Insertion order is
// join order and is preserved across removals, so roster broadcasts always
// list participants oldest-first.
//
// Registry is safe for concurrent use, though in practice all mutation is
// funneled through the hub's single event loop.
type Registry struct {
	mu    sync.RWMutex
	names []string
}

// NewRegistry returns an empty roster.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add appends username to the roster unless it is already present
// (case-sensitive exact match) and reports whether it was appended.
// A skipped duplicate is not an error; the caller's session stays bound
// to the name either way.
func (r *Registry) Add(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if lo.Contains(r.names, username) {
		return false
	}
	r.names = append(r.names, username)
	return true
}

// Remove deletes the first occurrence of username from the roster.
// Removing an absent name is a no-op.
func (r *Registry) Remove(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := lo.IndexOf(r.names, username)
	if idx < 0 {
		return
	}
	r.names = append(r.names[:idx], r.names[idx+1:]...)
}

// Snapshot returns a copy of the roster in join order. Mutating the returned
// slice does not affect the registry.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Never nil so an empty roster still serializes as a JSON array.
	return append([]string{}, r.names...)
}

// Len reports how many usernames are currently online.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.names)
}
