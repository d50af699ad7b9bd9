package agent

import (
	"maps"
	"sync"
)

// Store is a minimal reactive key-value state holder implementing Source.
// It stands in for the application's local data store in the agent binary.
type Store struct {
	mu   sync.RWMutex
	data map[string]any
	subs []func()
}

func NewStore(initial map[string]any) *Store {
	if initial == nil {
		initial = make(map[string]any)
	}
	return &Store{data: maps.Clone(initial)}
}

// Set writes one key and notifies subscribers.
func (s *Store) Set(key string, value any) {
	s.mu.Lock()
	s.data[key] = value
	s.mu.Unlock()
	s.notify()
}

// Merge writes several keys at once and notifies subscribers once.
func (s *Store) Merge(fields map[string]any) {
	s.mu.Lock()
	for k, v := range fields {
		s.data[k] = v
	}
	s.mu.Unlock()
	s.notify()
}

// Snapshot returns a shallow copy of the current state.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.data)
}

// OnChange registers a subscriber invoked synchronously after each mutation.
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

func (s *Store) notify() {
	s.mu.RLock()
	subs := make([]func(), len(s.subs))
	copy(subs, s.subs)
	s.mu.RUnlock()

	for _, fn := range subs {
		fn()
	}
}
