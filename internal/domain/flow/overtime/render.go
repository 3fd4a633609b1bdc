package overtime

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/prezlab/nasma/backend/internal/domain/flow"
	"github.com/prezlab/nasma/backend/internal/shared/dates"
	"github.com/prezlab/nasma/backend/internal/shared/types"
)

const (
	dateContextKey    = "overtime_date_range"
	projectContextKey = "overtime_project_id"

	msgPickDate     = "Please select the overtime date."
	msgOneDay       = "Overtime must be submitted for a single day. Please pick one date."
	msgBadDate      = "Please pick a single overtime date."
	msgPickHours    = "Please choose your overtime hours (from/to)."
	msgBadHours     = "Please choose a valid hours range (end must be after start)."
	msgPickProject  = "Select the related project."
	msgBadProject   = "Please select a project from the list."
	projectHint     = "Select a project"
	noProject       = "-"
	msgNoCategory   = "Sorry, I couldn't find the overtime category for %s. Please contact HR."
	msgSubmitted    = "✅ Overtime request #%d submitted for approval."
	msgSubmitFailed = "❌ Failed to submit overtime request: %s"
)

func datePrompt(threadID, message string) *types.Response {
	return flow.SingleDatePicker(flow.Reply(threadID, message), dateContextKey)
}

func hoursPrompt(threadID, message string) *types.Response {
	return flow.HourPicker(flow.Reply(threadID, message))
}

func projectPrompt(threadID, message string, projects []types.Project) *types.Response {
	options := make([]types.Option, 0, len(projects))
	for _, p := range projects {
		options = append(options, types.Option{Value: strconv.FormatInt(p.ID, 10), Label: p.Name})
	}
	return flow.Dropdown(flow.Reply(threadID, message), projectContextKey, projectHint, options)
}

// confirmation renders the request card with Yes/No buttons.
func confirmation(threadID string, oc *types.OvertimeContext) *types.Response {
	from, _ := dates.ParseHourKey(oc.HourFrom)
	to, _ := dates.ParseHourKey(oc.HourTo)
	day := dates.DisplayISO(oc.Date)
	project := oc.ProjectName
	if project == "" {
		project = noProject
	}

	var b strings.Builder
	b.WriteString("Here are the details for your overtime request:\n\n")
	fmt.Fprintf(&b, "📂 **Category:** %s\n", oc.CategoryName)
	fmt.Fprintf(&b, "📅 **Period:** %s → %s\n", day, day)
	fmt.Fprintf(&b, "⏰ **Hours:** %s → %s\n", dates.Format12(from), dates.Format12(to))
	fmt.Fprintf(&b, "🕒 **Time Requested:** %s\n", duration(to-from))
	fmt.Fprintf(&b, "📁 **Project:** %s\n\n", project)
	b.WriteString(flow.ConfirmPrompt)
	return flow.ConfirmButtons(flow.Reply(threadID, b.String()))
}

// duration renders decimal hours as "2 hours", "30 minutes" or
// "1 hour 30 minutes".
func duration(hours float64) string {
	total := int(math.Round(hours * 60))
	h, m := total/60, total%60
	var parts []string
	if h > 0 {
		parts = append(parts, plural(h, "hour"))
	}
	if m > 0 || h == 0 {
		parts = append(parts, plural(m, "minute"))
	}
	return strings.Join(parts, " ")
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
