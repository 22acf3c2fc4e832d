package tools

import (
	"context"
	"maps"
	"sync"
)

// State is a per-session key/value store tool handlers can share.
type State struct {
	mu     sync.Mutex
	values map[string]any
}

// NewState returns a State seeded with the session id.
func NewState(sessionID string) *State {
	return &State{values: map[string]any{"session_id": sessionID}}
}

func (s *State) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// Update merges kv into the state.
func (s *State) Update(kv map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	maps.Copy(s.values, kv)
}

func (s *State) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// Clear removes everything except the session id.
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.values["session_id"]
	clear(s.values)
	s.values["session_id"] = id
}

// Dump returns a copy of the state.
func (s *State) Dump() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.values)
}

type stateKey struct{}

// WithState attaches s to ctx for handlers.
func WithState(ctx context.Context, s *State) context.Context {
	return context.WithValue(ctx, stateKey{}, s)
}

// StateFrom returns the session State, or nil outside a session.
func StateFrom(ctx context.Context) *State {
	s, _ := ctx.Value(stateKey{}).(*State)
	return s
}
