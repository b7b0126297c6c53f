package tracker

import "sync"

// AppState is the host application's lifecycle state as reported by the
// embedding layer.
type AppState int

const (
	StateForeground AppState = iota
	StateBackground
)

// AppStateSource receives foreground/background transitions from the host
// and notifies listeners on actual changes only.
type AppStateSource struct {
	mu        sync.Mutex
	state     AppState
	listeners []func(AppState)
}

func NewAppStateSource() *AppStateSource {
	return &AppStateSource{state: StateForeground}
}

func (s *AppStateSource) OnChange(fn func(AppState)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *AppStateSource) State() AppState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *AppStateSource) SetForeground() {
	s.set(StateForeground)
}

func (s *AppStateSource) SetBackground() {
	s.set(StateBackground)
}

func (s *AppStateSource) set(state AppState) {
	s.mu.Lock()
	if s.state == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	listeners := make([]func(AppState), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(state)
	}
}
