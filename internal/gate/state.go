package gate

import "fmt"

// State is a node of the admission state machine.
type State string

const (
	StatePending     State = "PENDING"
	StateBlockSender State = "BLOCK_SENDER"
	StateRequeue     State = "REQUEUE"
	StateValidate    State = "VALIDATE"
	StateEnqueue     State = "ENQUEUE"
	StateBlock       State = "BLOCK"
	StateUnlock      State = "UNLOCK"
)

// transitions lists the legal successors of every state. Requeue returns to
// Pending through a fresh delivery.
var transitions = map[State][]State{
	StatePending:     {StateBlockSender, StateRequeue, StateValidate},
	StateValidate:    {StateEnqueue, StateBlock},
	StateBlockSender: {StateUnlock},
	StateEnqueue:     {StateUnlock},
	StateBlock:       {StateUnlock},
	StateUnlock:      {StatePending},
	StateRequeue:     {StatePending},
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// machine tracks one request's walk through the states.
type machine struct {
	state State
	trail []State
}

func newMachine() *machine {
	return &machine{state: StatePending, trail: []State{StatePending}}
}

func (m *machine) to(next State) error {
	if !canTransition(m.state, next) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, m.state, next)
	}
	m.state = next
	m.trail = append(m.trail, next)
	return nil
}

// mustTo is used for transitions that are fixed by the code path itself.
func (m *machine) mustTo(next State) {
	if err := m.to(next); err != nil {
		panic(err)
	}
}
