package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prezlab/nasma/backend/internal/domain/session"
	"github.com/prezlab/nasma/backend/internal/shared/types"
)

// Request is one inbound chat turn.
type Request struct {
	ThreadID string
	Message  string
	Identity types.Identity
}

// Text returns the trimmed message.
func (r Request) Text() string {
	return strings.TrimSpace(r.Message)
}

// Employee returns the caller's employee snapshot, or nil.
func (r Request) Employee() *types.Employee {
	return r.Identity.Employee
}

// Flow is a multi-step conversational transaction.
type Flow interface {
	Type() types.FlowType
	DetectStart(message string) bool
	DetectContinuation(message string, s *types.Session) bool
	Start(ctx context.Context, req Request) (*types.Response, error)
	Step(ctx context.Context, req Request, s *types.Session) (*types.Response, error)
	Restart(ctx context.Context, req Request, s *types.Session) (*types.Response, error)
}

// Restart clears every open session of flow owned by the caller, including
// the current thread, then runs start.
func Restart(ctx context.Context, sessions *session.Manager, f Flow, req Request) (*types.Response, error) {
	sessions.ClearForIdentity(ctx, f.Type(), req.Identity.EmployeeID(), req.ThreadID)
	sessions.Clear(ctx, req.ThreadID)
	return f.Start(ctx, req)
}

// Begin starts a session for f, turning a persistence failure into an
// error the router reports as a generic apology.
func Begin(ctx context.Context, sessions *session.Manager, req Request, flow types.FlowType, initial types.Context) (*types.Session, error) {
	if initial.Employee == nil && req.Employee() != nil {
		emp := *req.Employee()
		initial.Employee = &emp
	}
	s, err := sessions.Start(ctx, req.ThreadID, flow, initial)
	if err != nil {
		return nil, fmt.Errorf("failed to start %s session: %w", flow, err)
	}
	return s, nil
}

// Cancelled cancels the session and returns the fixed acknowledgement.
func Cancelled(ctx context.Context, sessions *session.Manager, threadID, reason string) *types.Response {
	sessions.Cancel(ctx, threadID, reason)
	return Reply(threadID, CancelAck)
}

// ErrSessionLost is returned when a session vanishes between reading and
// writing it inside one turn.
var ErrSessionLost = errors.New("session disappeared mid-step")

// Advance moves the thread's session forward to step (0 keeps it), merges
// patch, records the step it left and returns the refreshed session.
func Advance(ctx context.Context, sessions *session.Manager, threadID string, step int, patch *types.Context) (*types.Session, error) {
	cur, ok := sessions.GetActive(ctx, threadID)
	if !ok {
		return nil, ErrSessionLost
	}
	from := cur.Step
	ok = sessions.Update(ctx, threadID, session.Patch{
		Step:    step,
		Context: patch,
		Mutate: func(s *types.Session) {
			if step > from {
				s.CompletedSteps = append(s.CompletedSteps, from)
			}
		},
	})
	if !ok {
		return nil, ErrSessionLost
	}
	s, ok := sessions.GetActive(ctx, threadID)
	if !ok {
		return nil, ErrSessionLost
	}
	return s, nil
}
