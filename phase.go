package session

import "sync"

// Phase is the coarse session state tracked by Service.
type Phase string

const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseInitializing  Phase = "initializing"
	PhaseAuthenticated Phase = "authenticated"
	PhaseAnonymous     Phase = "anonymous"
	PhaseRefreshing    Phase = "refreshing"
	PhaseLoggedOut     Phase = "logged_out"
)

// IsAnonymous is true for both anonymous and logged out phases.
func (p Phase) IsAnonymous() bool {
	return p == PhaseAnonymous || p == PhaseLoggedOut
}

type phaseMachine struct {
	mu          sync.RWMutex
	current     Phase
	transitions map[Phase]map[Phase]struct{}
	logger      Logger
}

func newPhaseMachine(logger Logger) *phaseMachine {
	return &phaseMachine{
		current: PhaseUninitialized,
		logger:  normalizeLogger(logger),
		transitions: map[Phase]map[Phase]struct{}{
			PhaseUninitialized: {
				PhaseInitializing: {},
			},
			PhaseInitializing: {
				PhaseAuthenticated: {},
				PhaseAnonymous:     {},
			},
			PhaseAuthenticated: {
				PhaseRefreshing: {},
				PhaseLoggedOut:  {},
			},
			PhaseRefreshing: {
				PhaseAuthenticated: {},
				PhaseLoggedOut:     {},
			},
			PhaseAnonymous: {
				PhaseAuthenticated: {},
			},
			PhaseLoggedOut: {
				PhaseAuthenticated: {},
			},
		},
	}
}

func (m *phaseMachine) Current() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// transition moves to target when the edge exists. Same-phase moves are no-ops.
func (m *phaseMachine) transition(target Phase) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.current
	if from == target {
		return true
	}

	if !m.canTransition(from, target) {
		m.logger.Debug("session phase transition %s -> %s ignored", from, target)
		return false
	}

	m.current = target
	return true
}

// signedOut picks the terminal phase: logged_out only when a session existed.
func (m *phaseMachine) signedOut() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.current {
	case PhaseAuthenticated, PhaseRefreshing:
		m.current = PhaseLoggedOut
	case PhaseInitializing, PhaseUninitialized:
		m.current = PhaseAnonymous
	}
	return m.current
}

func (m *phaseMachine) canTransition(from, to Phase) bool {
	if allowed, ok := m.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}
