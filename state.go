package toolscope

import (
	"context"
	"maps"
	"sync"
)

// State is a mutable key/value bag shared between the caller and the tools of one
// DispatchTool call (e.g. agent scratchpad). Safe for concurrent use.
type State struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewState returns a State seeded with a copy of initial.
func NewState(initial map[string]any) *State {
	s := &State{values: make(map[string]any, len(initial))}
	maps.Copy(s.values, initial)
	return s
}

func (s *State) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *State) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values == nil {
		s.values = make(map[string]any)
	}
	s.values[key] = value
}

func (s *State) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// Snapshot returns a shallow copy of all values.
func (s *State) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.values)
}

type stateKey struct{}
type runIDKey struct{}

func contextWithState(ctx context.Context, s *State, runID string) context.Context {
	ctx = context.WithValue(ctx, stateKey{}, s)
	return context.WithValue(ctx, runIDKey{}, runID)
}

// StateFromContext returns the State passed to DispatchTool, or nil for plain Dispatch calls.
func StateFromContext(ctx context.Context) *State {
	s, _ := ctx.Value(stateKey{}).(*State)
	return s
}

// RunIDFromContext returns the run id passed to Engine.ExecuteWithState.
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
