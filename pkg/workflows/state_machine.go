package workflows

// StateMachine enforces status transitions against a closed transition table
type StateMachine struct {
	allowedTransitions map[string][]string
}

// NewStateMachine creates a new state machine with the given allowed transitions.
// States that map to an empty slice are terminal.
func NewStateMachine(transitions map[string][]string) *StateMachine {
	return &StateMachine{
		allowedTransitions: transitions,
	}
}

// CanTransition checks if a status transition is allowed
func (sm *StateMachine) CanTransition(from, to string) bool {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return false
	}
	for _, allowedTo := range allowed {
		if allowedTo == to {
			return true
		}
	}
	return false
}

// GetAllowedTransitions returns the allowed next statuses for a given status
func (sm *StateMachine) GetAllowedTransitions(from string) []string {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return []string{}
	}
	return allowed
}

// IsTerminal reports whether a status has no outgoing transitions
func (sm *StateMachine) IsTerminal(status string) bool {
	allowed, exists := sm.allowedTransitions[status]
	return exists && len(allowed) == 0
}

// States returns every status known to the machine
func (sm *StateMachine) States() []string {
	states := make([]string, 0, len(sm.allowedTransitions))
	for s := range sm.allowedTransitions {
		states = append(states, s)
	}
	return states
}
