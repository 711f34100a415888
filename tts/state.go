package tts

import "fmt"

// StateMachine guards transitions between states of type S.
// It is not safe for concurrent use; owners serialize access.
type StateMachine[S comparable] struct {
	current     S
	transitions map[S][]S
	onEnter     map[S]func(from S)
}

// NewStateMachine creates a state machine starting at initial with the given
// transition table.
func NewStateMachine[S comparable](initial S, transitions map[S][]S) *StateMachine[S] {
	return &StateMachine[S]{
		current:     initial,
		transitions: transitions,
		onEnter:     make(map[S]func(from S)),
	}
}

// Can reports whether moving to the given state is allowed.
func (sm *StateMachine[S]) Can(to S) bool {
	for _, s := range sm.transitions[sm.current] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves to the given state or returns an error naming the
// rejected transition.
func (sm *StateMachine[S]) Transition(to S) error {
	if !sm.Can(to) {
		return fmt.Errorf("invalid transition %v -> %v", sm.current, to)
	}
	from := sm.current
	sm.current = to
	if fn, ok := sm.onEnter[to]; ok && fn != nil {
		fn(from)
	}
	return nil
}

// Force sets the state without consulting the transition table.
func (sm *StateMachine[S]) Force(to S) {
	sm.current = to
}

// Current returns the current state.
func (sm *StateMachine[S]) Current() S {
	return sm.current
}

// OnEnter registers a callback for entering a state.
func (sm *StateMachine[S]) OnEnter(state S, fn func(from S)) {
	sm.onEnter[state] = fn
}
