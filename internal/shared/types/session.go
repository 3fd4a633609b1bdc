package types

import (
	"fmt"
	"time"

	"github.com/bytedance/sonic"
)

// Session is one in-progress (or recently finished) flow bound to a thread.
type Session struct {
	ThreadID       string     `json:"thread_id"`
	FlowType       FlowType   `json:"flow_type"`
	State          State      `json:"state"`
	Step           int        `json:"step"`
	Context        Context    `json:"context"`
	CompletedSteps []int      `json:"completed_steps,omitempty"`
	Result         *Result    `json:"result,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// Result records how a flow ended.
type Result struct {
	Submitted    bool           `json:"submitted"`
	RecordID     int64          `json:"record_id,omitempty"`
	Message      string         `json:"message,omitempty"`
	Error        string         `json:"error,omitempty"`
	CancelReason string         `json:"cancel_reason,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// Expired reports whether the sliding TTL has lapsed at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// IsActive reports whether the session is open and unexpired.
func (s *Session) IsActive(now time.Time) bool {
	return s.State.IsOpen() && !s.Expired(now)
}

// EmployeeID returns the employee that owns the session, or 0 if unknown.
func (s *Session) EmployeeID() int64 {
	if s.Context.Employee == nil {
		return 0
	}
	return s.Context.Employee.ID
}

// Clone returns a deep copy that shares no memory with s.
func (s *Session) Clone() (*Session, error) {
	data, err := sonic.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to copy session %s: %w", s.ThreadID, err)
	}
	var out Session
	if err := sonic.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to copy session %s: %w", s.ThreadID, err)
	}
	return &out, nil
}

// Validate checks the structural invariants of a persisted record.
func (s *Session) Validate() error {
	if s.ThreadID == "" {
		return fmt.Errorf("session has no thread id")
	}
	if !s.FlowType.Valid() {
		return fmt.Errorf("session %s has unknown flow type %q", s.ThreadID, s.FlowType)
	}
	switch s.State {
	case StateStarted, StateActive, StateCompleted, StateCancelled:
	default:
		return fmt.Errorf("session %s has unknown state %q", s.ThreadID, s.State)
	}
	if s.Step < 1 {
		return fmt.Errorf("session %s has invalid step %d", s.ThreadID, s.Step)
	}
	if s.CreatedAt.IsZero() || s.ExpiresAt.IsZero() {
		return fmt.Errorf("session %s has no timestamps", s.ThreadID)
	}
	return nil
}
