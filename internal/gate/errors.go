package gate

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest is returned for requests rejected before any state is entered.
	ErrInvalidRequest = errors.New("invalid transaction request")
	// ErrPersistenceFailed marks a decision that could not be written to the wallet registry.
	ErrPersistenceFailed = errors.New("persistence failed")
	// ErrIllegalTransition indicates a bug in the state machine wiring.
	ErrIllegalTransition = errors.New("illegal state transition")
	// ErrNothingToResume is returned by ResumePersistence for outcomes with no pending writes.
	ErrNothingToResume = errors.New("outcome has no pending writes")
)

// PersistenceError carries a decision whose registry writes did not all complete.
// The decision stays valid; Pending lists the writes still to apply.
type PersistenceError struct {
	Decision Decision
	Pending  []Write
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %s decision has %d pending writes: %v", ErrPersistenceFailed, e.Decision, len(e.Pending), e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistenceFailed, e.Err}
}
