// Package objset provides an insertion-ordered set of arbitrary values.
//
// Membership uses value equality: comparable values (including pointers,
// which compare by address) are hashed directly, while values whose dynamic
// type is not comparable (slices, maps, funcs, structs holding them) fall
// back to reflect.DeepEqual against a small side list.
//
// Iteration order is the order of first insertion. This keeps involvement
// sets and traces deterministic for a fixed mapper registration order.
package objset

import (
	"reflect"
	"sync"
)

// Set is a set of values. The zero value is not usable; call New.
//
// Thread-safety: Set is safe for concurrent use.
type Set struct {
	mu     sync.RWMutex
	index  map[any]struct{}
	others []any // non-comparable members, matched with reflect.DeepEqual
	order  []any
}

// New creates a set holding the given values.
func New(values ...any) *Set {
	s := &Set{index: make(map[any]struct{}, len(values))}
	for _, v := range values {
		s.Add(v)
	}
	return s
}

// Add inserts v and reports whether it was not already present.
// Nil values are ignored.
func (s *Set) Add(v any) bool {
	if v == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.containsLocked(v) {
		return false
	}
	if hashable(v) {
		s.index[v] = struct{}{}
	} else {
		s.others = append(s.others, v)
	}
	s.order = append(s.order, v)
	return true
}

// Contains reports whether v is a member.
func (s *Set) Contains(v any) bool {
	if v == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.containsLocked(v)
}

// ContainsAll reports whether every member of other is a member of s.
// An empty or nil other is always contained.
func (s *Set) ContainsAll(other *Set) bool {
	if other == nil {
		return true
	}
	for _, v := range other.Items() {
		if !s.Contains(v) {
			return false
		}
	}
	return true
}

// Len returns the number of members.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Items returns the members in insertion order.
// The returned slice is a copy.
func (s *Set) Items() []any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]any, len(s.order))
	copy(out, s.order)
	return out
}

func (s *Set) containsLocked(v any) bool {
	if hashable(v) {
		_, ok := s.index[v]
		return ok
	}
	for _, o := range s.others {
		if reflect.DeepEqual(o, v) {
			return true
		}
	}
	return false
}

// hashable reports whether v can be used as a map key without panicking.
// reflect.Value.Comparable inspects interface fields dynamically, so a struct
// holding a slice behind an interface is correctly reported as unhashable.
func hashable(v any) bool {
	return reflect.ValueOf(v).Comparable()
}
