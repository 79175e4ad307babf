package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"promptsmith/pkg/logx"
)

// State is one node of a transition table.
type State string

// String returns the state name.
func (s State) String() string { return string(s) }

// StateTransition represents a transition between states.
type StateTransition struct {
	FromState State          `json:"from_state"`
	ToState   State          `json:"to_state"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// TransitionTable represents valid state transitions for a state machine instance.
type TransitionTable map[State][]State

// Allows reports whether from -> to is in the table.
func (t TransitionTable) Allows(from, to State) bool {
	for _, s := range t[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionObserver is called after every accepted transition, outside the lock.
type TransitionObserver func(StateTransition)

// BaseStateMachine provides common state machine functionality.
type BaseStateMachine struct {
	id           string
	currentState State
	transitions  []StateTransition
	table        TransitionTable
	observer     TransitionObserver
	mu           sync.Mutex
	logger       *logx.Logger
}

// NewBaseStateMachine creates a state machine starting at initialState and validated against table.
func NewBaseStateMachine(id string, initialState State, table TransitionTable) *BaseStateMachine {
	return &BaseStateMachine{
		id:           id,
		currentState: initialState,
		transitions:  make([]StateTransition, 0),
		table:        table,
		logger:       logx.NewLogger(id),
	}
}

// SetObserver installs fn as the transition observer.
func (sm *BaseStateMachine) SetObserver(fn TransitionObserver) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.observer = fn
}

// GetCurrentState returns the current state.
func (sm *BaseStateMachine) GetCurrentState() State {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.currentState
}

// IsValidTransition checks the instance table.
func (sm *BaseStateMachine) IsValidTransition(from, to State) bool {
	return sm.table.Allows(from, to)
}

// TransitionTo moves to a new state and records the transition.
func (sm *BaseStateMachine) TransitionTo(ctx context.Context, newState State, metadata map[string]any) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("state transition cancelled: %w", ctx.Err())
	default:
	}
	return sm.ForceTransition(newState, metadata)
}

// ForceTransition is TransitionTo without the cancellation check, for moving into a terminal
// state after the context is already done. The table is still enforced.
func (sm *BaseStateMachine) ForceTransition(newState State, metadata map[string]any) error {
	sm.mu.Lock()
	oldState := sm.currentState
	if !sm.IsValidTransition(oldState, newState) {
		sm.mu.Unlock()
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, oldState, newState)
	}

	transition := StateTransition{
		FromState: oldState,
		ToState:   newState,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}
	sm.transitions = append(sm.transitions, transition)
	sm.currentState = newState
	observer := sm.observer
	sm.mu.Unlock()

	sm.logger.Debug("🔄 State machine transition: %s → %s", oldState, newState)
	if observer != nil {
		observer(transition)
	}
	return nil
}

// GetTransitions returns the state transition history.
func (sm *BaseStateMachine) GetTransitions() []StateTransition {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return append([]StateTransition{}, sm.transitions...)
}

// GetID returns the machine ID.
func (sm *BaseStateMachine) GetID() string {
	return sm.id
}
