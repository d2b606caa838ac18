package fn

import "golang.org/x/exp/maps"

// Set is a generic set backed by a map.
type Set[T comparable] map[T]struct{}

// NewSet returns a set holding the given items.
func NewSet[T comparable](items ...T) Set[T] {
	s := make(Set[T], len(items))
	for _, item := range items {
		s.Add(item)
	}

	return s
}

// Add inserts item into the set.
func (s Set[T]) Add(item T) {
	s[item] = struct{}{}
}

// Remove deletes item from the set.
func (s Set[T]) Remove(item T) {
	delete(s, item)
}

// Contains reports whether item is in the set.
func (s Set[T]) Contains(item T) bool {
	_, ok := s[item]
	return ok
}

// Union returns a new set with the items of both sets.
func (s Set[T]) Union(other Set[T]) Set[T] {
	out := NewSet(maps.Keys(s)...)
	for item := range other {
		out.Add(item)
	}

	return out
}

// ToSlice returns the items of the set in unspecified order.
func (s Set[T]) ToSlice() []T {
	return maps.Keys(s)
}
