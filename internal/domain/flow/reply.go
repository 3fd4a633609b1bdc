package flow

import (
	"fmt"

	"github.com/prezlab/nasma/backend/internal/shared/dates"
	"github.com/prezlab/nasma/backend/internal/shared/types"
)

// Fixed replies shared by every flow.
const (
	CancelAck     = "request cancelled, can i help you with anything else"
	ConfirmPrompt = "Do you want to submit this request? reply or click 'yes' to confirm or 'no' to cancel"
)

// Widget keys understood by the chat client.
const (
	WidgetDateRange  = "date_range_picker"
	WidgetSingleDate = "single_date_picker"
	WidgetHourRange  = "hour_range_picker"
	WidgetDropdown   = "select_dropdown"
	WidgetDocument   = "supporting_document_upload"
	WidgetSheet      = "new_user_upload"
)

// ButtonConfirmation is the button type of yes/no answers.
const ButtonConfirmation = "confirmation_choice"

// Reply builds a handled response.
func Reply(threadID, message string) *types.Response {
	return &types.Response{
		Message:        message,
		ThreadID:       threadID,
		SessionHandled: true,
	}
}

// Replyf is Reply with formatting.
func Replyf(threadID, format string, args ...any) *types.Response {
	return Reply(threadID, fmt.Sprintf(format, args...))
}

// DateRangePicker attaches the two-date calendar.
func DateRangePicker(r *types.Response, contextKey string) *types.Response {
	r.WithWidget(WidgetDateRange, true)
	if contextKey != "" {
		r.WithWidget("context_key", contextKey)
	}
	return r
}

// SingleDatePicker attaches the one-date calendar.
func SingleDatePicker(r *types.Response, contextKey string) *types.Response {
	r.WithWidget(WidgetSingleDate, true)
	if contextKey != "" {
		r.WithWidget("context_key", contextKey)
	}
	return r
}

// HourPicker attaches the from/to hour selector.
func HourPicker(r *types.Response) *types.Response {
	return r.WithWidget(WidgetHourRange, true).WithWidget("hour_options", dates.HourOptions())
}

// Dropdown attaches a select list whose answer comes back as
// "contextKey=value".
func Dropdown(r *types.Response, contextKey, placeholder string, options []types.Option) *types.Response {
	if options == nil {
		options = []types.Option{}
	}
	return r.WithWidget(WidgetDropdown, true).
		WithWidget("options", options).
		WithWidget("context_key", contextKey).
		WithWidget("placeholder", placeholder)
}

// ConfirmButtons attaches Yes/No.
func ConfirmButtons(r *types.Response) *types.Response {
	return r.WithButtons(
		types.Button{Text: "Yes", Value: "yes", Type: ButtonConfirmation},
		types.Button{Text: "No", Value: "no", Type: ButtonConfirmation},
	)
}

// VerifyEmployee is returned when a flow starts without a known employee.
func VerifyEmployee(threadID string, flow types.FlowType) *types.Response {
	return Replyf(threadID,
		"I'd like to help with your %s request, but I need to verify your employee information first. "+
			"Please try logging out and logging back in, or contact HR for assistance.", flow.Label())
}

// Busy is returned when another flow already owns the thread.
func Busy(threadID string, active, requested types.FlowType) *types.Response {
	return Replyf(threadID,
		"You're currently in an active %s request. Please complete it or type 'cancel' before starting a new %s request.",
		active.Label(), requested.Label())
}

// Failure reports an unexpected error and tells the user it was logged.
func Failure(threadID string, flow types.FlowType) *types.Response {
	return Replyf(threadID,
		"I tried to help with your %s request but encountered a technical issue. "+
			"Please try again or contact HR for assistance. Error details have been logged for troubleshooting.", flow.Label())
}
