package pipeline

import "sync"

// Store holds the data and state of one pipeline. Updates replace the stored
// value with a modified shallow copy, readers never see a partial update.
// Observers are called synchronously after the lock is released.
type Store[D any, S any] struct {
	mu        sync.RWMutex
	data      D
	state     S
	observers map[int]func(D, S)
	nextID    int
}

func NewStore[D any, S any](data D, state S) *Store[D, S] {
	return &Store[D, S]{data: data, state: state, observers: map[int]func(D, S){}}
}

func (s *Store[D, S]) Data() D {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data
}

func (s *Store[D, S]) State() S {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Snapshot returns data and state read under one lock.
func (s *Store[D, S]) Snapshot() (D, S) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data, s.state
}

func (s *Store[D, S]) SetData(fn func(D) D) {
	s.mu.Lock()
	s.data = fn(s.data)
	s.mu.Unlock()
	s.notify()
}

// SetState returns the state fn produced.
func (s *Store[D, S]) SetState(fn func(S) S) S {
	s.mu.Lock()
	next := fn(s.state)
	s.state = next
	s.mu.Unlock()
	s.notify()
	return next
}

// TrySetState applies fn only when it returns true, and reports whether it did.
// Used for check-and-set guards.
func (s *Store[D, S]) TrySetState(fn func(S) (S, bool)) bool {
	s.mu.Lock()
	next, ok := fn(s.state)
	if ok {
		s.state = next
	}
	s.mu.Unlock()
	if ok {
		s.notify()
	}
	return ok
}

// Subscribe registers fn for every change and returns its unsubscribe func.
func (s *Store[D, S]) Subscribe(fn func(D, S)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.observers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store[D, S]) notify() {
	s.mu.RLock()
	data, state := s.data, s.state
	observers := make([]func(D, S), 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.mu.RUnlock()

	for _, fn := range observers {
		fn(data, state)
	}
}
