package verification

import (
	"errors"
	"fmt"

	"gudam/marketplace/verification-backend/pkg/workflows"
)

// ErrInvalidTransition is returned for any status change outside the
// transition table. The offending states ride along in the wrapped message.
var ErrInvalidTransition = errors.New("invalid verification transition")

// newStateMachine builds the closed transition table for verification
// requests. Anything not listed here is rejected by construction.
func newStateMachine() *workflows.StateMachine {
	return workflows.NewStateMachine(map[string][]string{
		StatusRequested:          {StatusAssigned},
		StatusAssigned:           {StatusInProgress},
		StatusInProgress:         {StatusVerified, StatusRejected, StatusAdjustmentProposed},
		StatusAdjustmentProposed: {StatusInProgress, StatusRejected},
		StatusVerified:           {},
		StatusRejected:           {},
	})
}

// validateTransition checks one transition against the table
func validateTransition(sm *workflows.StateMachine, from, to string) error {
	if !sm.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
