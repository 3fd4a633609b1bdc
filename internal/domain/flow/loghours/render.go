package loghours

import (
	"fmt"
	"strings"
	"time"

	"github.com/prezlab/nasma/backend/internal/domain/flow"
	"github.com/prezlab/nasma/backend/internal/shared/dates"
	"github.com/prezlab/nasma/backend/internal/shared/types"
)

const (
	taskKey        = "log_hours_task"
	activityKey    = "log_hours_task_activity"
	hoursKey       = "log_hours_hours"
	skipValue      = "log_hours_skip_description"
	confirmValue   = "log_hours_confirm"
	cancelValue    = "log_hours_cancel"
	tableWidget    = "tasks_table"
	defaultSummary = "Hours logged by Nasma"
	maxHours       = 24

	msgNoProfile      = "Unable to identify your employee profile. Please contact support."
	msgPickTask       = "Please pick a task from the table using its Log Hours button."
	msgHoursFirst     = "It looks like you're entering hours. Please first select the task activity, then enter the hours."
	msgAskHours       = `How many hours did you spend on this task? (e.g., "five", "five hours", "five hours and 30 minutes", "5.5")`
	msgBadHours       = `I couldn't understand the hours format. Please enter hours like: "five", "five hours", "five hours and 30 minutes", or "5.5"`
	msgAskDescription = "What did you work on? (optional)"
)

var tableColumns = []map[string]string{
	{"key": "task_name", "label": "Sub Task", "align": "center"},
	{"key": "project", "label": "Project", "align": "center"},
	{"key": "dates", "label": "Dates", "align": "center"},
	{"key": "hours", "label": "Allocated Hours", "align": "center"},
	{"key": "log_hours", "label": "Action", "align": "center"},
}

// taskValue is the payload a table row's Log Hours action sends back.
func taskValue(t types.PlanningTask) string {
	return fmt.Sprintf("%d:%s", t.SubtaskID, t.Date)
}

func tasksTable(tasks []types.PlanningTask, today time.Time) map[string]any {
	rows := make([]map[string]string, 0, len(tasks))
	for _, t := range tasks {
		name := t.Name
		if name == "" {
			name = "—"
		}
		project := t.Project
		if project == "" {
			project = "No Project"
		}
		hours := "—"
		if t.AllocatedHours > 0 {
			hours = fmt.Sprintf("%.1fh", t.AllocatedHours)
		}
		action := ""
		if t.SubtaskID != 0 {
			action = taskKey + "=" + taskValue(t)
		}
		day, err := time.Parse("2006-01-02", t.Date)
		display := t.Date
		if err == nil {
			display = ordinalDate(day, day.Year() != today.Year())
		}
		rows = append(rows, map[string]string{
			"task_name": name,
			"project":   project,
			"dates":     display,
			"hours":     hours,
			"log_hours": action,
		})
	}
	return map[string]any{"columns": tableColumns, "rows": rows}
}

func tasksReply(threadID, message string, tasks []types.PlanningTask, today time.Time) *types.Response {
	return flow.Reply(threadID, message).WithWidget(tableWidget, tasksTable(tasks, today))
}

func activityPrompt(threadID, message string, activities []types.Option) *types.Response {
	return flow.Dropdown(flow.Reply(threadID, message), activityKey, "Select task activity", activities)
}

func hoursPrompt(threadID, message string) *types.Response {
	var options []types.Option
	for _, o := range dates.DurationOptions(maxHours) {
		options = append(options, types.Option{Value: o.Value, Label: o.Label})
	}
	return flow.Dropdown(flow.Reply(threadID, message), hoursKey, "Select hours", options)
}

func descriptionPrompt(threadID string) *types.Response {
	return flow.Reply(threadID, msgAskDescription).
		WithButtons(types.Button{Text: "Skip", Value: skipValue, Type: "action"})
}

func summary(threadID string, lc *types.LogHoursContext) *types.Response {
	task, day := "", ""
	if lc.Task != nil {
		task = lc.Task.Name
		day = dates.DisplayISO(lc.Task.Date)
	}
	description := lc.Description
	if description == "" {
		description = "None"
	}

	var b strings.Builder
	b.WriteString("Great! Here's a summary of your timesheet entry:\n\n")
	fmt.Fprintf(&b, "📋 **Task:** %s\n", task)
	fmt.Fprintf(&b, "📅 **Date:** %s\n", day)
	fmt.Fprintf(&b, "📝 **Activity:** %s\n", lc.ActivityName)
	fmt.Fprintf(&b, "⏰ **Hours:** %.1f\n", lc.Hours)
	fmt.Fprintf(&b, "💬 **Description:** %s\n\n", description)
	b.WriteString(flow.ConfirmPrompt)
	return flow.ConfirmButtons(flow.Reply(threadID, b.String()))
}

// ordinalDate renders "Oct 30th", with the year when asked.
func ordinalDate(t time.Time, withYear bool) string {
	day := t.Day()
	suffix := "th"
	if day%100 < 10 || day%100 > 20 {
		switch day % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	out := fmt.Sprintf("%s %d%s", t.Format("Jan"), day, suffix)
	if withYear {
		out += fmt.Sprintf(", %d", t.Year())
	}
	return out
}
