package odoo

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/prezlab/nasma/backend/internal/shared/types"
)

var leaveStates = map[string]string{
	"draft":     "To Submit",
	"confirm":   "To Approve",
	"refuse":    "Refused",
	"validate1": "Second Approval",
	"validate":  "Approved",
}

var approvalStates = map[string]string{
	"new":      "To Submit",
	"pending":  "Submitted",
	"approved": "Approved",
	"refused":  "Refused",
	"cancel":   "Cancelled",
}

type leaveRow struct {
	ID       flexInt    `json:"id"`
	Employee many2one   `json:"employee_id"`
	Type     many2one   `json:"holiday_status_id"`
	From     flexString `json:"request_date_from"`
	To       flexString `json:"request_date_to"`
	Duration flexString `json:"duration_display"`
	State    flexString `json:"state"`
}

type approvalRow struct {
	ID       flexInt    `json:"id"`
	Name     flexString `json:"name"`
	Owner    many2one   `json:"request_owner_id"`
	Category many2one   `json:"category_id"`
	Start    flexString `json:"date_start"`
	End      flexString `json:"date_end"`
	Status   flexString `json:"request_status"`
}

var (
	leaveFields    = []string{"id", "employee_id", "holiday_status_id", "request_date_from", "request_date_to", "duration_display", "state"}
	approvalFields = []string{"id", "name", "request_owner_id", "category_id", "date_start", "date_end", "request_status"}
)

// PendingLeaves lists the employee's leaves waiting for approval, latest
// first.
func (c *Client) PendingLeaves(ctx context.Context, employeeID int64) ([]types.PendingRequest, error) {
	var rows []leaveRow
	err := c.searchRead(ctx, "hr.leave",
		[][]any{
			cond("employee_id", "=", employeeID),
			cond("state", "=", "confirm"),
		},
		leaveFields,
		map[string]any{"limit": 500, "order": "request_date_from desc"}, &rows)
	if err != nil {
		return nil, err
	}

	today := c.now().UTC().Format(odooDate)
	out := make([]types.PendingRequest, 0, len(rows))
	for _, r := range rows {
		title := r.Type.Name
		if title == "" {
			title = "Time off"
		}
		out = append(out, types.PendingRequest{
			ID:       int64(r.ID),
			Kind:     types.RequestTimeOff,
			Title:    title,
			From:     string(r.From),
			To:       string(r.To),
			Duration: string(r.Duration),
			Status:   stateLabel(leaveStates, string(r.State)),
			Started:  r.From != "" && string(r.From) <= today,
		})
	}
	return out, nil
}

// PendingOvertime lists the submitted approval requests owned by the
// employee's linked user. Employees without a user have none.
func (c *Client) PendingOvertime(ctx context.Context, employeeID int64) ([]types.PendingRequest, error) {
	userID, err := c.employeeUser(ctx, employeeID)
	if err != nil || userID == 0 {
		return nil, err
	}

	var rows []approvalRow
	err = c.searchRead(ctx, "approval.request",
		[][]any{
			cond("request_owner_id", "=", userID),
			cond("request_status", "=", "pending"),
		},
		approvalFields,
		map[string]any{"limit": 500, "order": "date_start desc"}, &rows)
	if err != nil {
		return nil, err
	}

	out := make([]types.PendingRequest, 0, len(rows))
	for _, r := range rows {
		title := r.Category.Name
		if title == "" {
			title = string(r.Name)
		}
		out = append(out, types.PendingRequest{
			ID:     int64(r.ID),
			Kind:   types.RequestOvertime,
			Title:  title,
			From:   string(r.Start),
			To:     string(r.End),
			Status: stateLabel(approvalStates, string(r.Status)),
		})
	}
	return out, nil
}

// CancelLeave withdraws one of the employee's leaves that has not started.
// It deletes the leave and, when Odoo refuses the deletion, resets it to
// draft instead.
func (c *Client) CancelLeave(ctx context.Context, employeeID, leaveID int64) error {
	var rows []leaveRow
	err := c.searchRead(ctx, "hr.leave",
		[][]any{cond("id", "=", leaveID)},
		leaveFields, map[string]any{"limit": 1}, &rows)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("%w: leave %d", ErrNotFound, leaveID)
	}
	leave := rows[0]
	if leave.Employee.ID != employeeID {
		return types.ErrNotOwner
	}
	if leave.From != "" && string(leave.From) <= c.now().UTC().Format(odooDate) {
		return types.ErrLeaveStarted
	}

	err = c.Call(ctx, "hr.leave", "unlink", []any{[]int64{leaveID}}, nil, nil)
	if err == nil {
		return nil
	}
	c.log.Info("leave delete refused, resetting to draft",
		zap.Int64("leave_id", leaveID),
		zap.Error(err))
	return c.write(ctx, "hr.leave", []int64{leaveID}, map[string]any{"state": "draft"})
}

// CancelOvertime cancels one of the employee's pending approval requests.
func (c *Client) CancelOvertime(ctx context.Context, employeeID, requestID int64) error {
	userID, err := c.employeeUser(ctx, employeeID)
	if err != nil {
		return err
	}

	var rows []approvalRow
	err = c.searchRead(ctx, "approval.request",
		[][]any{cond("id", "=", requestID)},
		approvalFields, map[string]any{"limit": 1}, &rows)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("%w: approval request %d", ErrNotFound, requestID)
	}
	req := rows[0]
	if userID == 0 || req.Owner.ID != userID {
		return types.ErrNotOwner
	}
	if req.Status != "pending" {
		return types.ErrNotPending
	}
	return c.write(ctx, "approval.request", []int64{requestID}, map[string]any{"request_status": "cancel"})
}

// employeeUser returns the res.users id linked to the employee, or 0.
func (c *Client) employeeUser(ctx context.Context, employeeID int64) (int64, error) {
	return cached(c, "employee_user:"+strconv.FormatInt(employeeID, 10), func() (int64, error) {
		var rows []struct {
			User many2one `json:"user_id"`
		}
		err := c.searchRead(ctx, "hr.employee",
			[][]any{cond("id", "=", employeeID)},
			[]string{"user_id"}, map[string]any{"limit": 1}, &rows)
		if err != nil {
			return 0, err
		}
		if len(rows) == 0 {
			return 0, fmt.Errorf("%w: employee %d", ErrNotFound, employeeID)
		}
		return rows[0].User.ID, nil
	})
}

func stateLabel(labels map[string]string, state string) string {
	if l, ok := labels[state]; ok {
		return l
	}
	if state == "" {
		return "—"
	}
	return "Pending"
}
