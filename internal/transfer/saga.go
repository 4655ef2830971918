package transfer

import "fmt"

// State is a step in the money-movement saga.
type State string

const (
	StateValidating          State = "VALIDATING"
	StateDebitingSender      State = "DEBITING_SENDER"
	StateCreditingRecipient  State = "CREDITING_RECIPIENT"
	StateCreditingCommission State = "CREDITING_COMMISSION"
	StateRecording           State = "RECORDING"
	StateCompleted           State = "COMPLETED"
	StateFailed              State = "FAILED"
)

// InvalidStateTransitionError reports a saga step running out of order.
type InvalidStateTransitionError struct {
	FromState  State
	ToState    State
	TransferID string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition from %s to %s for transfer %s",
		e.FromState, e.ToState, e.TransferID)
}

// AllowedTransitions defines the valid saga transitions: a strict
// forward pipeline, with FAILED reachable from every non-terminal state.
func AllowedTransitions() map[State][]State {
	return map[State][]State{
		StateValidating:          {StateDebitingSender, StateFailed},
		StateDebitingSender:      {StateCreditingRecipient, StateFailed},
		StateCreditingRecipient:  {StateCreditingCommission, StateFailed},
		StateCreditingCommission: {StateRecording, StateFailed},
		StateRecording:           {StateCompleted, StateFailed},
		StateCompleted:           {},
		StateFailed:              {},
	}
}

// Saga tracks the state of one orchestration call. It is not shared
// between goroutines; persistence of progress lives in the transfer row
// and the audit trail.
type Saga struct {
	transferID string
	state      State
}

// NewSaga starts a saga in VALIDATING.
func NewSaga(transferID string) *Saga {
	return &Saga{transferID: transferID, state: StateValidating}
}

func (s *Saga) State() State { return s.state }

// Advance moves the saga forward, rejecting out-of-order transitions.
func (s *Saga) Advance(to State) error {
	for _, allowed := range AllowedTransitions()[s.state] {
		if allowed == to {
			s.state = to
			return nil
		}
	}
	return &InvalidStateTransitionError{FromState: s.state, ToState: to, TransferID: s.transferID}
}

// Fail marks the saga failed. Failing a terminal saga is a no-op.
func (s *Saga) Fail() {
	if s.state == StateCompleted || s.state == StateFailed {
		return
	}
	s.state = StateFailed
}
