// Package inmem implements the keyed state store in process memory, for
// tests and fake-Redis deployments.
package inmem

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/earth2dfm/dfm/api"
	"github.com/earth2dfm/dfm/store"
)

// Store is the in-memory store implementation.
type Store struct {
	mu       sync.RWMutex
	requests map[uuid.UUID]*api.RequestState
	keys     map[string]string
}

// New constructs an empty in-memory store.
func New() *Store {
	return &Store{
		requests: make(map[uuid.UUID]*api.RequestState),
		keys:     make(map[string]string),
	}
}

// CreateRequest persists a deep copy of the request document.
func (s *Store) CreateRequest(ctx context.Context, state *api.RequestState) error {
	copied, err := copyState(state)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[state.RequestID] = copied
	return nil
}

// AppendResponse appends a copy of the response to the stored document.
func (s *Store) AppendResponse(ctx context.Context, id uuid.UUID, r *api.Response) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	var copied api.Response
	if err := json.Unmarshal(raw, &copied); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.requests[id]
	if !ok {
		return store.ErrNotFound
	}
	state.Responses = append(state.Responses, &copied)
	return nil
}

// Responses returns the requested window of the response array.
func (s *Store) Responses(ctx context.Context, id uuid.UUID, index, size int) ([]*api.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.requests[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	window := store.SliceResponses(state.Responses, index, size)
	out := make([]*api.Response, len(window))
	copy(out, window)
	return out, nil
}

// Put stores a plain key.
func (s *Store) Put(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key] = value
	return nil
}

// Get reads a plain key.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.keys[key]
	return v, ok, nil
}

func copyState(state *api.RequestState) (*api.RequestState, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	var copied api.RequestState
	if err := json.Unmarshal(raw, &copied); err != nil {
		return nil, err
	}
	return &copied, nil
}
