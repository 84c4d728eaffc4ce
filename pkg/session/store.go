package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a session id is unknown to the store.
var ErrNotFound = errors.New("session: not found")

// ErrAlreadyExists reports a session id that is already stored. No Store
// in this module returns it; Save on a session that was never created
// returns ErrNotFound.
var ErrAlreadyExists = errors.New("session: already exists")

// Store is the collaborator contract for session persistence, named
// SessionStore in the specification. Create/Get/Save/Delete map directly
// onto spec.md's collaborator contract; Save fails if the session does not
// already exist, matching the "either the entire turn commits or none of
// it does" invariant upstream in the engine.
type Store interface {
	Create(ctx context.Context) (*State, error)
	Get(ctx context.Context, id string) (*State, error)
	Save(ctx context.Context, state *State) error
	Delete(ctx context.Context, id string) (bool, error)
	// List returns every session currently known to the store. Used by the
	// chat service's session-listing operation; the spec's minimal
	// contract does not require it, but the HTTP surface does.
	List(ctx context.Context) ([]*State, error)
}

// memoryStore is an in-memory Store, grounded directly on the teacher's
// inMemoryService: a map guarded by sync.RWMutex, uuid.NewString for ids.
type memoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*State
}

// NewMemoryStore returns an in-memory session Store. Useful for tests and
// single-process development; production deployments use the SQL-backed
// store in pkg/store.
func NewMemoryStore() Store {
	return &memoryStore{sessions: make(map[string]*State)}
}

func (s *memoryStore) Create(ctx context.Context) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	state := New(id)
	s.sessions[id] = state
	return state, nil
}

func (s *memoryStore) Get(ctx context.Context, id string) (*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return deepCloneState(state), nil
}

func (s *memoryStore) Save(ctx context.Context, state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[state.SessionID]; !ok {
		return ErrNotFound
	}
	clone := deepCloneState(state)
	clone.UpdatedAt = time.Now()
	s.sessions[state.SessionID] = clone
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return false, nil
	}
	delete(s.sessions, id)
	return true, nil
}

func (s *memoryStore) List(ctx context.Context) ([]*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*State, 0, len(s.sessions))
	for _, state := range s.sessions {
		out = append(out, deepCloneState(state))
	}
	return out, nil
}

var _ Store = (*memoryStore)(nil)

// deepCloneState copies state along with its Stack, History, and Slots so
// that the caller's mutations (notably the engine's in-place
// frame.CurrentStepID writes) never leak back into the store's copy
// before an explicit Save — preserving the "either the entire turn
// commits or none of it does" invariant under concurrent readers.
func deepCloneState(state *State) *State {
	clone := *state

	if state.Stack != nil {
		clone.Stack = make([]Frame, len(state.Stack))
		for i, f := range state.Stack {
			fc := f
			if f.PendingChildResult != nil {
				rc := *f.PendingChildResult
				fc.PendingChildResult = &rc
			}
			clone.Stack[i] = fc
		}
	}

	if state.History != nil {
		clone.History = make([]Message, len(state.History))
		copy(clone.History, state.History)
	}

	if state.Slots != nil {
		clone.Slots = make(map[string]any, len(state.Slots))
		for k, v := range state.Slots {
			clone.Slots[k] = v
		}
	}

	return &clone
}
