package reconcile

import "slices"

// Entity is anything kept in a Snapshot.
type Entity interface {
	EntityID() string
}

// Snapshot is an insertion-ordered collection holding at most one entity per id.
// It is not safe for concurrent use.
type Snapshot[T Entity] struct {
	items []T
	index map[string]int
}

// NewSnapshot returns a Snapshot of items. A later item replaces an earlier one with the same id.
func NewSnapshot[T Entity](items []T) *Snapshot[T] {
	s := &Snapshot[T]{index: make(map[string]int, len(items))}
	for _, it := range items {
		s.Replace(it)
	}
	return s
}

// Len returns the number of entities.
func (s *Snapshot[T]) Len() int { return len(s.items) }

// Get returns the entity with id.
func (s *Snapshot[T]) Get(id string) (T, bool) {
	i, ok := s.index[id]
	if !ok {
		var zero T
		return zero, false
	}
	return s.items[i], true
}

// Replace removes any entity with the same id and appends v. Fields are never merged.
func (s *Snapshot[T]) Replace(v T) {
	s.Remove(v.EntityID())
	s.index[v.EntityID()] = len(s.items)
	s.items = append(s.items, v)
}

// Remove deletes the entity with id and reports whether it existed.
func (s *Snapshot[T]) Remove(id string) bool {
	i, ok := s.index[id]
	if !ok {
		return false
	}
	s.items = slices.Delete(s.items, i, i+1)
	delete(s.index, id)
	for j := i; j < len(s.items); j++ {
		s.index[s.items[j].EntityID()] = j
	}
	return true
}

// Update applies fn to the entity with id in place and reports whether it existed.
func (s *Snapshot[T]) Update(id string, fn func(*T)) bool {
	i, ok := s.index[id]
	if !ok {
		return false
	}
	fn(&s.items[i])
	return true
}

// Items returns a copy of the entities in order.
func (s *Snapshot[T]) Items() []T {
	return slices.Clone(s.items)
}
