// Package store provides a minimal generic state container.
//
// Store satisfies the container contract consumed by pkg/persist: a
// synchronous Get, an updating Set, a wholesale Replace and an initial
// state slot. Subscribers are notified after every write.
package store

import "sync"

// Listener receives the new and previous state after a write.
type Listener[S any] func(state, previous S)

// Store holds a single value of type S.
type Store[S any] struct {
	mu      sync.RWMutex
	state   S
	initial S

	listenersMu sync.Mutex
	listeners   []subscription[S]
	nextID      uint64
}

type subscription[S any] struct {
	id uint64
	fn Listener[S]
}

// New creates a Store holding initial. The initial state slot is set to initial.
func New[S any](initial S) *Store[S] {
	return &Store[S]{state: initial, initial: initial}
}

// Get returns the current state.
func (s *Store[S]) Get() S {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Set replaces the state with update(current). update runs under the write
// lock and must not call back into the Store.
func (s *Store[S]) Set(update func(S) S) {
	if update == nil {
		return
	}
	s.mu.Lock()
	prev := s.state
	s.state = update(prev)
	next := s.state
	s.mu.Unlock()

	s.notify(next, prev)
}

// Replace swaps the whole state for next.
func (s *Store[S]) Replace(next S) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()

	s.notify(next, prev)
}

// InitialState returns the value held in the initial state slot.
func (s *Store[S]) InitialState() S {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initial
}

// SetInitialState overwrites the initial state slot. The current state is
// not affected.
func (s *Store[S]) SetInitialState(initial S) {
	s.mu.Lock()
	s.initial = initial
	s.mu.Unlock()
}

// Subscribe registers fn to run after every write, in registration order.
// The returned func removes the registration; calling it more than once is safe.
func (s *Store[S]) Subscribe(fn Listener[S]) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	s.listenersMu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, subscription[S]{id: id, fn: fn})
	s.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenersMu.Lock()
			defer s.listenersMu.Unlock()
			for i, l := range s.listeners {
				if l.id == id {
					s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *Store[S]) notify(state, previous S) {
	s.listenersMu.Lock()
	listeners := make([]subscription[S], len(s.listeners))
	copy(listeners, s.listeners)
	s.listenersMu.Unlock()

	for _, l := range listeners {
		l.fn(state, previous)
	}
}
