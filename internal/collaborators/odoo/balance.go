package odoo

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/prezlab/nasma/backend/internal/shared/types"
)

// Leave states that count against an allowance.
var takenStates = []string{"validate", "validate1", "confirm"}

// balanceWindow returns the first and last day an allowance of leaveType
// may be drawn from. Annual leave and rest days carry over two years.
func balanceWindow(leaveType string, now time.Time) (time.Time, time.Time) {
	back := 1
	if leaveType == "Annual Leave" || leaveType == "Rest Days" {
		back = 2
	}
	year := now.Year()
	return time.Date(year-back, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(year, 12, 31, 0, 0, 0, 0, time.UTC)
}

// LeaveBalance sums the validated allocations and the approved or pending
// leaves of lt for the employee over the leave type's balance window.
func (c *Client) LeaveBalance(ctx context.Context, employeeID int64, lt types.LeaveType) (types.LeaveBalance, error) {
	start, end := balanceWindow(lt.Name, c.now())
	bal := types.LeaveBalance{LeaveType: lt.Name}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		days, err := c.allocatedDays(ctx, employeeID, lt.ID, start, end)
		bal.Allocated = days
		return err
	})
	g.Go(func() error {
		days, err := c.takenDays(ctx, employeeID, lt.ID, start, end)
		bal.Taken = days
		return err
	})
	if err := g.Wait(); err != nil {
		return types.LeaveBalance{}, err
	}
	return bal, nil
}

func (c *Client) allocatedDays(ctx context.Context, employeeID, leaveTypeID int64, start, end time.Time) (float64, error) {
	var rows []struct {
		Days     float64    `json:"number_of_days"`
		DateFrom flexString `json:"date_from"`
		DateTo   flexString `json:"date_to"`
	}
	err := c.searchRead(ctx, "hr.leave.allocation",
		[][]any{
			cond("employee_id", "=", employeeID),
			cond("holiday_status_id", "=", leaveTypeID),
			cond("state", "=", "validate"),
		},
		[]string{"number_of_days", "date_from", "date_to"},
		map[string]any{"limit": 500}, &rows)
	if err != nil {
		return 0, err
	}

	var total float64
	for _, r := range rows {
		if r.Days <= 0 {
			continue
		}
		// A missing bound is open ended.
		if from, ok := parseDay(string(r.DateFrom)); ok && from.After(end) {
			continue
		}
		if to, ok := parseDay(string(r.DateTo)); ok && to.Before(start) {
			continue
		}
		total += r.Days
	}
	return total, nil
}

func (c *Client) takenDays(ctx context.Context, employeeID, leaveTypeID int64, start, end time.Time) (float64, error) {
	var rows []struct {
		Days     float64    `json:"number_of_days"`
		DateFrom flexString `json:"date_from"`
		DateTo   flexString `json:"date_to"`
	}
	err := c.searchRead(ctx, "hr.leave",
		[][]any{
			cond("employee_id", "=", employeeID),
			cond("holiday_status_id", "=", leaveTypeID),
			cond("state", "in", takenStates),
			cond("date_from", "<=", end.Format(odooDate)+" 23:59:59"),
			cond("date_to", ">=", start.Format(odooDate)+" 00:00:00"),
		},
		[]string{"number_of_days", "date_from", "date_to"},
		map[string]any{"limit": 500}, &rows)
	if err != nil {
		return 0, err
	}

	var total float64
	for _, r := range rows {
		if r.Days <= 0 {
			continue
		}
		from, ok1 := parseDay(string(r.DateFrom))
		to, ok2 := parseDay(string(r.DateTo))
		if !ok1 || !ok2 || to.Before(from) {
			total += r.Days
			continue
		}
		total += apportion(r.Days, from, to, start, end)
	}
	return total, nil
}

// apportion scales days by the share of calendar days of [from, to] that
// fall inside [start, end].
func apportion(days float64, from, to, start, end time.Time) float64 {
	span := to.Sub(from).Hours()/24 + 1
	if from.Before(start) {
		from = start
	}
	if to.After(end) {
		to = end
	}
	if to.Before(from) {
		return 0
	}
	inside := to.Sub(from).Hours()/24 + 1
	return days * inside / span
}

// parseDay reads the date part of an Odoo date or datetime.
func parseDay(s string) (time.Time, bool) {
	if len(s) < len(odooDate) {
		return time.Time{}, false
	}
	t, err := time.Parse(odooDate, s[:len(odooDate)])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
