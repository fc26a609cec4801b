// Package tracker assigns stable integer ids to DOM nodes.
//
// A Registry is an arena: its lifetime is tied to one document. Recording
// and replay each hold their own instance, and Reset ends the arena when the
// document navigates.
package tracker

// Registry maps nodes to ids and back.
type Registry[N comparable] struct {
	next  int
	ids   map[N]int
	nodes map[int]N
}

// New returns an empty registry whose first id is 1.
func New[N comparable]() *Registry[N] {
	r := &Registry[N]{}
	r.Reset()
	return r
}

// Track returns n's id, assigning the next id if n is unknown.
func (r *Registry[N]) Track(n N) int {
	if id, ok := r.ids[n]; ok {
		return id
	}
	id := r.next
	r.next++
	r.ids[n] = id
	r.nodes[id] = n
	return id
}

// ID returns n's id and whether n is tracked.
func (r *Registry[N]) ID(n N) (int, bool) {
	id, ok := r.ids[n]
	return id, ok
}

// Has reports whether n is tracked.
func (r *Registry[N]) Has(n N) bool {
	_, ok := r.ids[n]
	return ok
}

// Node returns the node bound to id.
func (r *Registry[N]) Node(id int) (N, bool) {
	n, ok := r.nodes[id]
	return n, ok
}

// Bind associates an externally assigned id with n. Previous bindings of id
// and of n are dropped. Ids bound this way never collide with Track: the
// counter moves past them.
func (r *Registry[N]) Bind(id int, n N) {
	if old, ok := r.nodes[id]; ok {
		delete(r.ids, old)
	}
	if oldID, ok := r.ids[n]; ok {
		delete(r.nodes, oldID)
	}
	r.ids[n] = id
	r.nodes[id] = n
	if id >= r.next {
		r.next = id + 1
	}
}

// Len returns the number of tracked nodes.
func (r *Registry[N]) Len() int { return len(r.ids) }

// Reset drops every binding and restarts ids at 1.
func (r *Registry[N]) Reset() {
	r.next = 1
	r.ids = make(map[N]int)
	r.nodes = make(map[int]N)
}
