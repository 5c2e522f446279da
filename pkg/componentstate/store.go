package componentstate

import (
	"sync"
	"time"
)

// Store holds the canonical id -> component map and the per-user session
// index. An id is in the index if and only if it is in the map. Every
// method runs under a single lock, so each call is atomic with respect to
// every other call.
type Store struct {
	mu     sync.RWMutex
	states map[string]*ComponentState
	byUser map[string]map[string]struct{}
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		states: make(map[string]*ComponentState),
		byUser: make(map[string]map[string]struct{}),
	}
}

// Insert adds a component. It fails with ErrDuplicateID if the id exists.
func (s *Store) Insert(st *ComponentState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.states[st.ID]; ok {
		return ErrDuplicateID
	}
	s.states[st.ID] = st

	ids, ok := s.byUser[st.UserID]
	if !ok {
		ids = make(map[string]struct{})
		s.byUser[st.UserID] = ids
	}
	ids[st.ID] = struct{}{}
	return nil
}

// Get returns a copy of the component with the given id.
func (s *Store) Get(id string) (ComponentState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[id]
	if !ok {
		return ComponentState{}, false
	}
	return st.clone(), true
}

// Remove deletes a component and its index entry. Removing an absent id
// is a no-op. The removed component is returned so its owner can release
// the collector.
func (s *Store) Remove(id string) (*ComponentState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[id]
	if !ok {
		return nil, false
	}
	s.removeLocked(st)
	return st, true
}

// ByUser returns copies of every component currently indexed for userID.
func (s *Store) ByUser(userID string) []ComponentState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byUser[userID]
	out := make([]ComponentState, 0, len(ids))
	for id := range ids {
		out = append(out, s.states[id].clone())
	}
	return out
}

// All returns copies of every component.
func (s *Store) All() []ComponentState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ComponentState, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, st.clone())
	}
	return out
}

// Len returns the number of tracked components.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}

// Mutate runs fn against the live component with the given id while
// holding the write lock and returns a copy of the result. If the id is
// absent fn is not called and a *NotFoundError is returned. If fn returns
// an error the component must be left untouched by fn.
func (s *Store) Mutate(id string, fn func(*ComponentState) error) (ComponentState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[id]
	if !ok {
		return ComponentState{}, &NotFoundError{ID: id}
	}
	if err := fn(st); err != nil {
		return ComponentState{}, err
	}
	return st.clone(), nil
}

// RemoveExpired evicts every component with now >= ExpiresAt and returns
// them. Live components are not touched.
func (s *Store) RemoveExpired(now time.Time) []*ComponentState {
	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []*ComponentState
	for _, st := range s.states {
		if st.Expired(now) {
			evicted = append(evicted, st)
		}
	}
	for _, st := range evicted {
		s.removeLocked(st)
	}
	return evicted
}

// Clear empties the store and returns everything it held.
func (s *Store) Clear() []*ComponentState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*ComponentState, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, st)
	}
	s.states = make(map[string]*ComponentState)
	s.byUser = make(map[string]map[string]struct{})
	return out
}

// removeLocked drops st from the map and the index. Caller must hold the
// write lock.
func (s *Store) removeLocked(st *ComponentState) {
	delete(s.states, st.ID)
	if ids, ok := s.byUser[st.UserID]; ok {
		delete(ids, st.ID)
		if len(ids) == 0 {
			delete(s.byUser, st.UserID)
		}
	}
}
