package types

// FlowType names the business flow a session belongs to.
type FlowType string

const (
	FlowNone          FlowType = "none"
	FlowTimeOff       FlowType = "time_off"
	FlowOvertime      FlowType = "overtime"
	FlowLogHours      FlowType = "log_hours"
	FlowNewUser       FlowType = "new_user"
	FlowReimbursement FlowType = "reimbursement"
)

// Label returns the human wording used in chat replies.
func (f FlowType) Label() string {
	switch f {
	case FlowTimeOff:
		return "time-off"
	case FlowOvertime:
		return "overtime"
	case FlowLogHours:
		return "log hours"
	case FlowNewUser:
		return "new user"
	case FlowReimbursement:
		return "reimbursement"
	default:
		return "another"
	}
}

// Valid reports whether f is one of the known flows.
func (f FlowType) Valid() bool {
	switch f {
	case FlowTimeOff, FlowOvertime, FlowLogHours, FlowNewUser, FlowReimbursement:
		return true
	}
	return false
}

// AllFlows lists the flows in routing priority order.
func AllFlows() []FlowType {
	return []FlowType{FlowTimeOff, FlowOvertime, FlowLogHours, FlowNewUser, FlowReimbursement}
}

// State is the lifecycle state of a session.
type State string

const (
	StateStarted   State = "started"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
)

// IsTerminal reports whether no further steps may run.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// IsOpen reports whether the session is still collecting input.
func (s State) IsOpen() bool {
	return s == StateStarted || s == StateActive
}
