// Package listener provides callback registries whose registrations return
// an unsubscribe handle.
package listener

import (
	"sort"
	"sync"
)

// Set holds callbacks of one kind. The zero value is ready to use.
type Set[T any] struct {
	mu     sync.Mutex
	nextID uint64
	fns    map[uint64]func(T)
}

// Add registers fn and returns a func that removes it. Calling the returned
// func more than once is harmless.
func (s *Set[T]) Add(fn func(T)) (remove func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fns == nil {
		s.fns = make(map[uint64]func(T))
	}
	id := s.nextID
	s.nextID++
	s.fns[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.fns, id)
	}
}

// Emit calls every registered callback in registration order. Callbacks run
// outside the lock, so they may add or remove registrations.
func (s *Set[T]) Emit(v T) {
	for _, fn := range s.snapshot() {
		fn(v)
	}
}

// Len reports the number of registered callbacks.
func (s *Set[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fns)
}

// Reset drops every registration.
func (s *Set[T]) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fns = nil
}

func (s *Set[T]) snapshot() []func(T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]uint64, 0, len(s.fns))
	for id := range s.fns {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]func(T), len(ids))
	for i, id := range ids {
		out[i] = s.fns[id]
	}
	return out
}
