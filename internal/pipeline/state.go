package pipeline

import "fmt"

// State is one step of a submission's lifecycle.
type State string

const (
	StatePending      State = "PENDING"
	StateInterpreting State = "INTERPRETING"
	StateValidating   State = "VALIDATING"
	StateRefining     State = "REFINING"
	StateReady        State = "READY"
	StateBlocked      State = "BLOCKED"
	StateError        State = "ERROR"
)

// Terminal reports whether no further transitions are accepted from s.
func (s State) Terminal() bool {
	return s == StateReady || s == StateBlocked || s == StateError
}

// Transition describes one accepted state change.
type Transition struct {
	From State
	To   State
	Note string
}

// Observer receives every accepted transition, in order. Used by the
// session protocol to emit status frames.
type Observer func(Transition)

var allowedTransitions = map[State][]State{
	StatePending:      {StateInterpreting, StateError},
	StateInterpreting: {StateValidating, StateError},
	StateValidating:   {StateRefining, StateReady, StateBlocked, StateError},
	StateRefining:     {StateReady, StateBlocked, StateError},
}

// machine enforces the submission lifecycle. A terminal state is reported
// once; any transition attempted afterwards is a programming error.
type machine struct {
	state    State
	observer Observer
}

func newMachine(observer Observer) *machine {
	return &machine{state: StatePending, observer: observer}
}

func (m *machine) current() State {
	return m.state
}

func (m *machine) to(next State, note string) error {
	if m.state.Terminal() {
		return fmt.Errorf("submission already terminal in state %s", m.state)
	}

	ok := false
	for _, candidate := range allowedTransitions[m.state] {
		if candidate == next {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("illegal transition %s -> %s", m.state, next)
	}

	t := Transition{From: m.state, To: next, Note: note}
	m.state = next
	if m.observer != nil {
		m.observer(t)
	}
	return nil
}
