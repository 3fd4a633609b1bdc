package timeoff

import (
	"fmt"
	"strings"

	"github.com/prezlab/nasma/backend/internal/domain/flow"
	"github.com/prezlab/nasma/backend/internal/infrastructure/config"
	"github.com/prezlab/nasma/backend/internal/shared/dates"
	"github.com/prezlab/nasma/backend/internal/shared/types"
)

const (
	dateContextKey     = "timeoff_date_range"
	documentContextKey = "timeoff_support_document"
	buttonLeaveType    = "leave_type_selection"

	dateExamples = "Examples:\n" +
		"- 23/9 to 24/9\n" +
		"- 23/09/2025 to 24/09/2025\n" +
		"- 23-9-2025 till 24-9-2025\n" +
		"- 23rd of September till the 24th\n" +
		"- next Monday to Wednesday\n\n" +
		"Defaults: I assume DD/MM, current month and year unless you specify otherwise."
	singleDateExamples = "Pick your date from the calendar below or type it (single day only). Examples:\n" +
		"- 23/9\n" +
		"- 23/09/2025\n" +
		"- next Monday\n\n" +
		"Defaults: I assume DD/MM, current month and year unless you specify otherwise."

	msgSelectType      = "I'll help you request time off! Please select the type of leave you need:"
	msgLostType        = "I lost track of which leave type you picked. Please choose it again:"
	msgDatesNoType     = "I have your dates. Please choose a leave type to continue:"
	msgUnknownType     = "I didn't quite catch that. Please choose one of the leave types below:"
	msgNeedBothDates   = "I still need both the start and end date before I can submit the request. Please send them in one message, for example '15/10/2025 to 16/10/2025'."
	msgSendBothDates   = "Please send both dates in one message, for example '15/10/2025 to 16/10/2025'."
	msgEmptyWidget     = "Please select a start and end date."
	msgBadRange        = "I couldn't parse the date range. Please send both dates in one message. " + dateExamples
	msgBadSingleDate   = "I couldn't read that date. " + singleDateExamples
	msgChooseHours     = "Great, got your date. Please choose your hours (from/to)."
	msgBadHours        = "Please choose a valid hours range (end must be after start)."
	msgDocumentNeeded  = "Sick Leave full days require a medical certificate or supporting document. Please upload the document now so I can submit your request."
	msgNoDocumentYet   = "I still don't see a document attached. Please use the upload button above to share your medical certificate."
	msgDocumentWaiting = "Please upload your supporting document using the button above. Once it's uploaded, click the Upload button and I'll continue."
	msgDocAtSubmit     = "I still need your supporting document before I can submit this Sick Leave request. Please upload it using the button above."

	msgCatalogDown    = "I'd like to help with your time-off request, but I'm unable to connect to the HR system right now. Please try again later or contact HR directly for assistance."
	msgCatalogEmpty   = "I'm having trouble accessing the available leave types. Please contact HR for assistance with your time-off request."
	msgCatalogCorrupt = "The leave types data from HR system appears to be corrupted. Please contact HR directly for assistance with your time-off request."

	summaryNoted       = "Great, noted your dates. "
	summaryNotedSingle = "Great, noted your date. "
	summaryHours       = "Great, noted your hours. "
	summaryReady       = "Great, I have everything I need. "
	summaryRepeat      = "Perfect! "
)

// leaveTypeReply renders message with one button per offered leave type.
func leaveTypeReply(threadID, message string, offered []types.LeaveType) *types.Response {
	r := flow.Reply(threadID, message)
	for _, lt := range offered {
		r.WithButtons(types.Button{Text: lt.Name, Value: lt.Name, Type: buttonLeaveType})
	}
	return r
}

func modeReply(threadID string, m config.LeaveMode) *types.Response {
	label := m.PromptLabel
	if label == "" {
		label = m.LeaveType
	}
	r := flow.Replyf(threadID, "For %s, do you want to take Full Days or Custom Hours?", label)
	buttonType := strings.ToLower(m.ButtonPrefix) + "_mode"
	return r.WithButtons(
		types.Button{Text: "Full Days", Value: m.ButtonPrefix + "_FULL_DAYS", Type: buttonType},
		types.Button{Text: "Custom Hours", Value: m.ButtonPrefix + "_CUSTOM_HOURS", Type: buttonType},
	)
}

func rangePrompt(threadID, message string) *types.Response {
	return flow.DateRangePicker(flow.Reply(threadID, message), dateContextKey)
}

func singlePrompt(threadID, message string) *types.Response {
	return flow.SingleDatePicker(flow.Reply(threadID, message), dateContextKey)
}

func hoursPrompt(threadID, message string) *types.Response {
	return flow.HourPicker(flow.Reply(threadID, message))
}

func documentPrompt(threadID, message, accept string) *types.Response {
	r := flow.Reply(threadID, message)
	return r.WithWidget(flow.WidgetDocument, map[string]any{
		"context_key": documentContextKey,
		"accept":      accept,
		"max_files":   1,
	})
}

// selectedPrompt is shown right after a leave type is chosen.
func selectedPrompt(threadID, opener string, lt types.LeaveType, single bool) *types.Response {
	if single {
		return singlePrompt(threadID, fmt.Sprintf("%s You've selected %s. \n\n%s", opener, lt.Name, singleDateExamples))
	}
	return rangePrompt(threadID, fmt.Sprintf(
		"%s You've selected %s. \n\nYou can pick dates from the calendar below or type them. %s",
		opener, lt.Name, dateExamples))
}

func modeChosenPrompt(threadID, label string, custom bool) *types.Response {
	if custom {
		return singlePrompt(threadID, fmt.Sprintf("Great, we will request %s for custom hours. \n\n%s", label, singleDateExamples))
	}
	return rangePrompt(threadID, fmt.Sprintf(
		"Great, we will request %s for full days. Please send both dates in one message, for example '15/10/2025 to 16/10/2025'.", label))
}

// summary renders the confirmation card for tc.
func summary(threadID, prefix string, tc *types.TimeOffContext, single bool, employee *types.Employee, balance string) *types.Response {
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString("Here's your time-off request summary:\n\n")

	name := ""
	if tc.Selected != nil {
		name = tc.Selected.Name
		if single && !tc.Selected.IsHalfday() {
			name += " (Custom Hours)"
		}
	}
	fmt.Fprintf(&b, "📋 **Leave Type:** %s\n", name)

	if single {
		fmt.Fprintf(&b, "📅 **Date:** %s\n", dates.DisplayISO(tc.StartDate))
		if from, to, ok := hoursOf(tc); ok {
			fmt.Fprintf(&b, "⏰ **Hours:** from %s to %s\n", dates.Format12(from), dates.Format12(to))
		}
	} else {
		fmt.Fprintf(&b, "📅 **Start Date:** %s\n", dates.DisplayISO(tc.StartDate))
		fmt.Fprintf(&b, "📅 **End Date:** %s\n", dates.DisplayISO(tc.EndDate))
	}
	if employee != nil && employee.Name != "" {
		fmt.Fprintf(&b, "👤 **Employee:** %s\n", employee.Name)
	}
	if doc := firstDocument(tc); doc != "" {
		fmt.Fprintf(&b, "📎 **Supporting Document:** %s\n", doc)
	}
	if balance != "" {
		fmt.Fprintf(&b, "📊 **Balance:** %s\n", balance)
	}
	b.WriteString("\n")
	b.WriteString(flow.ConfirmPrompt)

	return flow.ConfirmButtons(flow.Reply(threadID, b.String()))
}

func firstDocument(tc *types.TimeOffContext) string {
	for _, d := range tc.Documents {
		if d.Data != "" {
			return d.Name
		}
	}
	return ""
}

func hoursOf(tc *types.TimeOffContext) (float64, float64, bool) {
	if tc.HourFrom == "" || tc.HourTo == "" {
		return 0, 0, false
	}
	from, ok1 := dates.ParseHourKey(tc.HourFrom)
	to, ok2 := dates.ParseHourKey(tc.HourTo)
	if !ok1 || !ok2 || to <= from {
		return 0, 0, false
	}
	return from, to, true
}
