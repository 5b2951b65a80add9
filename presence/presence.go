// Package presence tracks which users hold at least one live connection.
package presence

import (
	"sort"
	"sync"
)

// Registry maps users to their open connection handles. The zero value is not
// usable; create one with New.
type Registry[H comparable] struct {
	mu     sync.Mutex
	conns  map[string]map[H]struct{}
	closed bool
}

// New returns an empty registry.
func New[H comparable]() *Registry[H] {
	return &Registry[H]{conns: make(map[string]map[H]struct{})}
}

// Register records h as a connection of userID. It reports whether the user
// went from offline to online.
func (r *Registry[H]) Register(userID string, h H) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	set, ok := r.conns[userID]
	if !ok {
		set = make(map[H]struct{})
		r.conns[userID] = set
	}
	set[h] = struct{}{}
	return !ok
}

// Unregister forgets h. It reports whether it was the last connection of
// userID, that is whether the user went offline.
func (r *Registry[H]) Unregister(userID string, h H) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.conns[userID]
	if !ok {
		return false
	}
	if _, ok := set[h]; !ok {
		return false
	}
	delete(set, h)
	if len(set) > 0 {
		return false
	}
	delete(r.conns, userID)
	return true
}

// Online reports whether userID has a registered connection.
func (r *Registry[H]) Online(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[userID]
	return ok
}

// Handles returns the connections of userID.
func (r *Registry[H]) Handles(userID string) []H {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]H, 0, len(r.conns[userID]))
	for h := range r.conns[userID] {
		out = append(out, h)
	}
	return out
}

// Users returns the online users in sorted order.
func (r *Registry[H]) Users() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.conns))
	for id := range r.conns {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of online users.
func (r *Registry[H]) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Close drops every entry and makes later registrations no-ops. It returns the
// users that were online.
func (r *Registry[H]) Close() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.conns))
	for id := range r.conns {
		out = append(out, id)
	}
	sort.Strings(out)
	r.conns = make(map[string]map[H]struct{})
	r.closed = true
	return out
}
