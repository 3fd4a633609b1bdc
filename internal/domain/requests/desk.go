// Package requests shows the caller's pending time-off and overtime
// requests and withdraws the ones they cancel.
package requests

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/prezlab/nasma/backend/internal/domain/flow"
	"github.com/prezlab/nasma/backend/internal/shared/dates"
	"github.com/prezlab/nasma/backend/internal/shared/types"
)

// Widget keys and button values the chat client sends back.
const (
	WidgetTimeOff  = "timeoff_requests_table"
	WidgetOvertime = "overtime_requests_table"

	cmdCancelTimeOff  = "cancel_timeoff_request"
	cmdCancelOvertime = "cancel_overtime_request"

	buttonType = "action_requests"
)

const (
	msgNone           = "You don't have any pending requests at the moment.\n\n*What would you like to do next?*"
	msgNext           = "*What would you like to do next?*"
	msgVerify         = "I need to verify your employee information before I can look up your requests. Please try logging out and logging back in, or contact HR for assistance."
	msgListFailed     = "I couldn't load your requests right now. Please try again in a moment."
	msgStarted        = "Cannot cancel a time off request that has already started. Please contact a Time Off Manager to cancel this request."
	msgNotOwner       = "You can only cancel your own requests."
	msgNotPending     = "This request has already been actioned and can no longer be cancelled."
	msgCancelFailed   = "Failed to cancel request: %s"
	msgCancelledLeave = "Your time off request has been cancelled."
	msgCancelledOT    = "Your overtime request has been cancelled."
	erpTimestamp      = "2006-01-02 15:04:05"
)

var phrases = []string{
	"my requests", "pending requests", "my time off requests", "my leave requests",
	"my overtime requests", "my open requests", "request status", "requests status",
}

// ERP is the slice of the HR system the desk needs.
type ERP interface {
	PendingLeaves(ctx context.Context, employeeID int64) ([]types.PendingRequest, error)
	PendingOvertime(ctx context.Context, employeeID int64) ([]types.PendingRequest, error)
	CancelLeave(ctx context.Context, employeeID, leaveID int64) error
	CancelOvertime(ctx context.Context, employeeID, requestID int64) error
}

// Desk answers "my requests" messages and cancel buttons.
type Desk struct {
	erp ERP
	log *zap.Logger
}

// Option configures a Desk.
type Option func(*Desk)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(d *Desk) {
		if log != nil {
			d.log = log
		}
	}
}

// New creates a desk backed by erp.
func New(erp ERP, opts ...Option) *Desk {
	d := &Desk{erp: erp, log: zap.NewNop()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect reports a message asking to see one's own requests.
func Detect(message string) bool {
	return flow.Mentions(message, phrases...)
}

// Match reports cancel buttons and requests to list pending requests.
func (d *Desk) Match(req flow.Request) bool {
	msg := req.Text()
	if _, ok := cancelTarget(msg); ok {
		return true
	}
	return Detect(msg)
}

// Handle answers a message Match accepted.
func (d *Desk) Handle(ctx context.Context, req flow.Request) (*types.Response, error) {
	employeeID := req.Identity.EmployeeID()
	if employeeID == 0 {
		return flow.Reply(req.ThreadID, msgVerify), nil
	}
	if t, ok := cancelTarget(req.Text()); ok {
		return d.cancel(ctx, req.ThreadID, employeeID, t), nil
	}
	return d.list(ctx, req, employeeID), nil
}

func (d *Desk) list(ctx context.Context, req flow.Request, employeeID int64) *types.Response {
	var leaves, overtime []types.PendingRequest
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		leaves, err = d.erp.PendingLeaves(gctx, employeeID)
		return err
	})
	g.Go(func() error {
		var err error
		overtime, err = d.erp.PendingOvertime(gctx, employeeID)
		return err
	})
	if err := g.Wait(); err != nil {
		d.log.Warn("listing requests failed",
			zap.String("thread_id", req.ThreadID),
			zap.Int64("employee_id", employeeID),
			zap.Error(err))
		return flow.Reply(req.ThreadID, msgListFailed)
	}

	resp := flow.Reply(req.ThreadID, Summary(len(overtime), len(leaves)))
	if len(leaves) > 0 {
		resp.WithWidget(WidgetTimeOff, timeOffTable(leaves))
	}
	if len(overtime) > 0 {
		resp.WithWidget(WidgetOvertime, overtimeTable(overtime, location(req.Identity)))
	}
	for _, r := range leaves {
		if r.Started {
			continue
		}
		resp.WithButtons(types.Button{
			Text:  fmt.Sprintf("Cancel %s (%s)", r.Title, dates.DisplayISO(r.From)),
			Value: fmt.Sprintf("%s=%d", cmdCancelTimeOff, r.ID),
			Type:  buttonType,
		})
	}
	for _, r := range overtime {
		resp.WithButtons(types.Button{
			Text:  fmt.Sprintf("Cancel overtime #%d", r.ID),
			Value: fmt.Sprintf("%s=%d", cmdCancelOvertime, r.ID),
			Type:  buttonType,
		})
	}
	return resp
}

// Summary describes how many requests wait for approval.
func Summary(overtime, timeOff int) string {
	if overtime == 0 && timeOff == 0 {
		return msgNone
	}
	var parts []string
	if overtime > 0 {
		parts = append(parts, plural(overtime, "overtime request"))
	}
	if timeOff > 0 {
		parts = append(parts, plural(timeOff, "time off request"))
	}
	return fmt.Sprintf("Here are your pending requests:\n\nYou have %s waiting for approval.\n\n%s",
		strings.Join(parts, ", and "), msgNext)
}

func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

type target struct {
	kind string
	id   int64
}

func cancelTarget(msg string) (target, bool) {
	for kind, cmd := range map[string]string{
		types.RequestTimeOff:  cmdCancelTimeOff,
		types.RequestOvertime: cmdCancelOvertime,
	} {
		v, ok := flow.Payload(msg, cmd)
		if !ok {
			continue
		}
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return target{}, false
		}
		return target{kind: kind, id: id}, true
	}
	return target{}, false
}

func (d *Desk) cancel(ctx context.Context, threadID string, employeeID int64, t target) *types.Response {
	var err error
	done := msgCancelledLeave
	if t.kind == types.RequestOvertime {
		err = d.erp.CancelOvertime(ctx, employeeID, t.id)
		done = msgCancelledOT
	} else {
		err = d.erp.CancelLeave(ctx, employeeID, t.id)
	}

	switch {
	case err == nil:
		d.log.Info("request cancelled",
			zap.String("kind", t.kind),
			zap.Int64("request_id", t.id),
			zap.Int64("employee_id", employeeID))
		return flow.Reply(threadID, done)
	case errors.Is(err, types.ErrLeaveStarted):
		return flow.Reply(threadID, msgStarted)
	case errors.Is(err, types.ErrNotOwner):
		d.log.Warn("cancel refused for foreign request",
			zap.String("kind", t.kind),
			zap.Int64("request_id", t.id),
			zap.Int64("employee_id", employeeID))
		return flow.Reply(threadID, msgNotOwner)
	case errors.Is(err, types.ErrNotPending):
		return flow.Reply(threadID, msgNotPending)
	}
	d.log.Error("cancel failed",
		zap.String("kind", t.kind),
		zap.Int64("request_id", t.id),
		zap.Error(err))
	return flow.Replyf(threadID, msgCancelFailed, err.Error())
}

func timeOffTable(rows []types.PendingRequest) map[string]any {
	out := make([]map[string]string, 0, len(rows))
	for _, r := range rows {
		span := "—"
		if r.From != "" && r.To != "" {
			span = fmt.Sprintf("%s to %s", dates.DisplayISO(r.From), dates.DisplayISO(r.To))
		}
		duration := r.Duration
		if duration == "" {
			duration = "—"
		}
		out = append(out, map[string]string{
			"id":       strconv.FormatInt(r.ID, 10),
			"type":     r.Title,
			"dates":    span,
			"duration": duration,
			"status":   r.Status,
		})
	}
	return table([]column{
		{"type", "Type"}, {"dates", "Dates"}, {"duration", "Duration"}, {"status", "Status"},
	}, out)
}

func overtimeTable(rows []types.PendingRequest, loc *time.Location) map[string]any {
	out := make([]map[string]string, 0, len(rows))
	for _, r := range rows {
		day, hours := overtimeWindow(r.From, r.To, loc)
		out = append(out, map[string]string{
			"id":     strconv.FormatInt(r.ID, 10),
			"type":   r.Title,
			"date":   day,
			"hours":  hours,
			"status": r.Status,
		})
	}
	return table([]column{
		{"type", "Type"}, {"date", "Date"}, {"hours", "Hours"}, {"status", "Status"},
	}, out)
}

type column struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

func table(columns []column, rows []map[string]string) map[string]any {
	return map[string]any{"columns": columns, "rows": rows}
}

// overtimeWindow renders ERP UTC timestamps in the employee's zone.
func overtimeWindow(from, to string, loc *time.Location) (string, string) {
	start, err1 := time.Parse(erpTimestamp, from)
	end, err2 := time.Parse(erpTimestamp, to)
	if err1 != nil || err2 != nil {
		return "—", "—"
	}
	start, end = start.In(loc), end.In(loc)
	return dates.Display(start), fmt.Sprintf("%s - %s", clock(start), clock(end))
}

func clock(t time.Time) string {
	return t.Format("3:04 PM")
}

func location(id types.Identity) *time.Location {
	if id.Employee == nil || id.Employee.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(id.Employee.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}
