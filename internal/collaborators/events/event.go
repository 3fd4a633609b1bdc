// Package events records flow lifecycle transitions. A Dispatcher receives
// them from the session manager and hands them, off the request path, to
// the configured sinks: the flow_events audit table and an AMQP exchange.
package events

import (
	"time"

	"github.com/prezlab/nasma/backend/internal/shared/id"
	"github.com/prezlab/nasma/backend/internal/shared/types"
)

// Kind names a lifecycle transition. It doubles as the AMQP routing key.
type Kind string

const (
	KindStarted   Kind = "flow.started"
	KindCompleted Kind = "flow.completed"
	KindCancelled Kind = "flow.cancelled"
	KindSwept     Kind = "sessions.swept"
)

// Event is one lifecycle transition.
type Event struct {
	ID           string         `json:"id"`
	Kind         Kind           `json:"kind"`
	ThreadID     string         `json:"thread_id,omitempty"`
	FlowType     types.FlowType `json:"flow_type,omitempty"`
	State        types.State    `json:"state,omitempty"`
	Step         int            `json:"step,omitempty"`
	EmployeeID   int64          `json:"employee_id,omitempty"`
	Submitted    bool           `json:"submitted,omitempty"`
	RecordID     int64          `json:"record_id,omitempty"`
	Error        string         `json:"error,omitempty"`
	CancelReason string         `json:"cancel_reason,omitempty"`
	Removed      int            `json:"removed,omitempty"`
	Duration     time.Duration  `json:"duration_ns,omitempty"`
	At           time.Time      `json:"at"`
}

// FromSession builds the event for a session transition at now.
func FromSession(kind Kind, s *types.Session, now time.Time) Event {
	ev := Event{
		ID:         id.NewEventID().String(),
		Kind:       kind,
		ThreadID:   s.ThreadID,
		FlowType:   s.FlowType,
		State:      s.State,
		Step:       s.Step,
		EmployeeID: s.EmployeeID(),
		At:         now.UTC(),
	}
	if s.Result != nil {
		ev.Submitted = s.Result.Submitted
		ev.RecordID = s.Result.RecordID
		ev.Error = s.Result.Error
		ev.CancelReason = s.Result.CancelReason
	}
	end := now
	if s.FinishedAt != nil {
		end = *s.FinishedAt
	}
	if !s.CreatedAt.IsZero() && kind != KindStarted {
		ev.Duration = end.Sub(s.CreatedAt)
	}
	return ev
}

// finishedKind maps a terminal state onto its event kind.
func finishedKind(s *types.Session) Kind {
	if s.State == types.StateCancelled {
		return KindCancelled
	}
	return KindCompleted
}
