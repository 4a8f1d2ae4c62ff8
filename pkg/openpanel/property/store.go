package property

import "sync"

// Store holds the global properties attached to every tracked event.
// It is safe for concurrent use.
//
// The held map is replaced rather than mutated on every write, so a reader
// always sees either the whole of a Set or none of it.
type Store struct {
	mu    sync.RWMutex
	props Map // nil means absent
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

// Set merges props into the stored map, last write wins per key.
// When nothing is stored yet, props is adopted as-is (an empty Map still
// counts as present).
func (s *Store) Set(props Map) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.props == nil {
		next := props.Clone()
		if next == nil {
			next = Map{}
		}
		s.props = next
		return
	}
	s.props = s.props.Merge(props)
}

// Read returns a snapshot of the stored map and whether one is present.
// The snapshot is owned by the caller.
func (s *Store) Read() (Map, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.props == nil {
		return nil, false
	}
	return s.props.Clone(), true
}

// Clear resets the store to absent.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.props = nil
}
