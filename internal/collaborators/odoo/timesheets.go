package odoo

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/prezlab/nasma/backend/internal/shared/types"
)

const (
	odooDateTime = "2006-01-02 15:04:05"
	odooDate     = "2006-01-02"
	noSubtask    = "—"
	defaultLog   = "Hours logged by Nasma"
)

type slotRow struct {
	ID             flexInt    `json:"id"`
	Name           flexString `json:"name"`
	Subtask        many2one   `json:"x_studio_sub_task_1"`
	Start          flexString `json:"start_datetime"`
	End            flexString `json:"end_datetime"`
	AllocatedHours float64    `json:"allocated_hours"`
	Project        many2one   `json:"project_id"`
}

// PlanningSlots returns one task per planned day between from and to that
// has no timesheet line yet. Slots are matched to the employee by resource
// name, which in planning carries the employee's name.
func (c *Client) PlanningSlots(ctx context.Context, employee types.Employee, from, to time.Time) ([]types.PlanningTask, error) {
	first := truncateDay(from)
	last := truncateDay(to)

	var slots []slotRow
	err := c.searchRead(ctx, "planning.slot",
		[][]any{
			cond("resource_id", "ilike", strings.TrimSpace(employee.Name)),
			cond("start_datetime", "<=", last.Format(odooDate)+" 23:59:59"),
			cond("end_datetime", ">=", first.Format(odooDate)+" 00:00:00"),
		},
		[]string{"id", "name", "x_studio_sub_task_1", "start_datetime", "end_datetime", "allocated_hours", "project_id"},
		map[string]any{"limit": 500, "order": "start_datetime desc"}, &slots)
	if err != nil {
		return nil, err
	}

	var tasks []types.PlanningTask
	for _, s := range slots {
		start, err1 := time.Parse(odooDateTime, string(s.Start))
		end, err2 := time.Parse(odooDateTime, string(s.End))
		if err1 != nil || err2 != nil {
			continue
		}
		startDay, endDay := truncateDay(start), truncateDay(end)
		if startDay.Before(first) {
			startDay = first
		}
		if endDay.After(last) {
			endDay = last
		}
		if endDay.Before(startDay) {
			continue
		}

		logged := map[string]bool{}
		if employee.ID != 0 {
			logged, err = c.loggedDays(ctx, employee.ID, s.Subtask.ID, startDay, endDay)
			if err != nil {
				// Offer every day rather than hide the task.
				c.log.Warn("timesheet lookup failed", zap.Int64("slot_id", int64(s.ID)), zap.Error(err))
				logged = map[string]bool{}
			}
		}

		name := strings.TrimSpace(s.Subtask.Name)
		if name == "" {
			name = noSubtask
		}
		project := s.Project.Name
		if project == "" {
			project = "No Project"
		}
		for day := startDay; !day.After(endDay); day = day.AddDate(0, 0, 1) {
			date := day.Format(odooDate)
			if logged[date] {
				continue
			}
			tasks = append(tasks, types.PlanningTask{
				SlotID:         int64(s.ID),
				SubtaskID:      s.Subtask.ID,
				Name:           name,
				Project:        project,
				Date:           date,
				AllocatedHours: s.AllocatedHours,
			})
		}
	}
	return tasks, nil
}

// loggedDays returns the dates with a timesheet line for the employee,
// restricted to one task when taskID is set.
func (c *Client) loggedDays(ctx context.Context, employeeID, taskID int64, from, to time.Time) (map[string]bool, error) {
	conds := [][]any{
		cond("employee_id", "=", employeeID),
		cond("date", ">=", from.Format(odooDate)),
		cond("date", "<=", to.Format(odooDate)),
	}
	if taskID != 0 {
		conds = append(conds, cond("task_id", "=", taskID))
	}
	var rows []struct {
		Date flexString `json:"date"`
	}
	if err := c.searchRead(ctx, "account.analytic.line", conds,
		[]string{"id", "date"}, map[string]any{"limit": 1000}, &rows); err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(rows))
	for _, r := range rows {
		if d := string(r.Date); len(d) >= 10 {
			out[d[:10]] = true
		}
	}
	return out, nil
}

// TaskActivities lists the activity kinds a timesheet line can carry.
func (c *Client) TaskActivities(ctx context.Context) ([]types.Option, error) {
	return cached(c, "task_activities", func() ([]types.Option, error) {
		var rows []struct {
			ID   flexInt    `json:"id"`
			Name flexString `json:"x_name"`
		}
		if err := c.searchRead(ctx, "x_task_activity", nil, []string{"id", "x_name"},
			map[string]any{"limit": 1000, "order": "x_name asc"}, &rows); err != nil {
			return nil, err
		}
		out := make([]types.Option, len(rows))
		for i, r := range rows {
			label := string(r.Name)
			if label == "" {
				label = "Activity " + strconv.FormatInt(int64(r.ID), 10)
			}
			out[i] = types.Option{Value: strconv.FormatInt(int64(r.ID), 10), Label: label}
		}
		return out, nil
	})
}

// LogTimesheet creates an analytic line against the planning subtask.
func (c *Client) LogTimesheet(ctx context.Context, entry types.TimesheetEntry) (int64, error) {
	desc := entry.Description
	if desc == "" {
		desc = defaultLog
	}
	values := map[string]any{
		"date":        entry.Date,
		"employee_id": entry.EmployeeID,
		"task_id":     entry.TaskID,
		"unit_amount": entry.Hours,
		"name":        desc,
	}
	if id, err := strconv.ParseInt(entry.ActivityID, 10, 64); err == nil && id > 0 {
		values["x_studio_task_activity"] = id
	}
	return c.create(ctx, "account.analytic.line", values)
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
