package control

import (
	"sync"

	"github.com/dokzlo13/lightcontrol/internal/light"
)

// Store is the authoritative local light state. The lock is never held
// across a bridge call.
type Store struct {
	mu    sync.Mutex
	state light.State
}

// NewStore creates a store starting off at 0% brightness.
func NewStore() *Store {
	return &Store{}
}

// Read returns a copy of the current state.
func (s *Store) Read() light.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetOn writes the power field optimistically and returns the combined state.
func (s *Store) SetOn(on bool) light.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.On = on
	return s.state
}

// SetBrightness writes the brightness field optimistically and returns the
// combined state. pct is clamped to 0..100.
func (s *Store) SetBrightness(pct float64) light.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Brightness = light.ClampPercentage(pct)
	return s.state
}

// Reconcile replaces both fields with bridge truth.
func (s *Store) Reconcile(state light.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}
