package reimbursement

import (
	"fmt"
	"strings"

	"github.com/prezlab/nasma/backend/internal/domain/flow"
	"github.com/prezlab/nasma/backend/internal/shared/dates"
	"github.com/prezlab/nasma/backend/internal/shared/types"
)

// Stages inside the numbered steps.
const (
	stageCategory        = "category"
	stageAmount          = "amount"
	stageDate            = "date"
	stagePerDiemDates    = "per_diem_dates"
	stageDestination     = "destination"
	stageDestinationText = "destination_text"
	stageMenu            = "additions"
	stageAddDescription  = "additions_description"
	stageAddLink         = "additions_link"
	stageConfirmation    = "confirmation"
)

const (
	buttonType     = "action_reimbursement"
	dateKey        = "reimbursement_expense_date"
	perDiemKey     = "per_diem_date_range"
	destinationKey = "per_diem_destination"

	addDescription = "support_add_desc"
	addLink        = "support_add_link"
	addNext        = "support_next"
	confirmSubmit  = "confirm_submit"
	cancelSubmit   = "cancel_submit"

	msgStart           = "I'll help you create a reimbursement request! Please select the expense category:"
	msgBadCategory     = "Please select a valid category from the options above."
	msgMiscAmount      = "Please enter the amount you paid (e.g., 50.00):"
	msgTravelAmount    = "Please enter the total amount for Travel & Accommodation (e.g., 150.00):"
	msgBadMiscAmount   = "Please enter a valid amount (numbers only, e.g., 50.00)."
	msgBadTravelAmount = "Please enter a valid amount (numbers only, e.g., 150.00)."
	msgPickDate        = "Please select the expense date:"
	msgPickRange       = "Please select your Per Diem date range:"
	msgBadRange        = "Please select a full date range using the calendar."
	msgPickDestination = "Select your Destination:"
	msgTypeDestination = "Please type your Destination (state/region name):"
	msgBadDestination  = "Invalid selection. Please choose a destination again."
	msgNoDestination   = "Please provide a destination name."
	msgAdditions       = "Would you like to add any supporting additions?"
	msgAskDescription  = "Please type a description to add:"
	msgAskLink         = "Please paste a link (receipt or supporting doc)."
	msgBadLink         = "Please provide a valid URL starting with http:// or https://, or type 'skip' to skip."
	msgNoProfile       = "I couldn't verify your employee profile (session may have expired). Please log in again and resubmit your reimbursement."
)

func categoryButtons(r *types.Response) *types.Response {
	for _, c := range types.ExpenseCategories {
		r.WithButtons(types.Button{Text: c.Label, Value: c.Key, Type: buttonType})
	}
	return r
}

func categoryPrompt(threadID, message string) *types.Response {
	return categoryButtons(flow.Reply(threadID, message))
}

func datePrompt(threadID, message string) *types.Response {
	return flow.SingleDatePicker(flow.Reply(threadID, message), dateKey)
}

func rangePrompt(threadID, message string) *types.Response {
	return flow.DateRangePicker(flow.Reply(threadID, message), perDiemKey)
}

func destinationPrompt(threadID string, options []types.Option) *types.Response {
	return flow.Dropdown(flow.Reply(threadID, msgPickDestination), destinationKey, "Choose destination state", options)
}

func additionsMenu(threadID string) *types.Response {
	return flow.Reply(threadID, msgAdditions).WithButtons(
		types.Button{Text: "Descriptions", Value: addDescription, Type: buttonType},
		types.Button{Text: "Links", Value: addLink, Type: buttonType},
		types.Button{Text: "Next", Value: addNext, Type: buttonType},
	)
}

// defaultDescription is what the claim is filed under when the employee
// adds no description of their own.
func defaultDescription(rc *types.ReimbursementContext) string {
	if d := strings.TrimSpace(rc.Description); d != "" {
		return d
	}
	cat, _ := types.LookupExpenseCategory(rc.Category)
	return cat.Label
}

func orNone(s string) string {
	if s == "" {
		return "None"
	}
	return s
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func summary(threadID string, rc *types.ReimbursementContext) *types.Response {
	cat, _ := types.LookupExpenseCategory(rc.Category)
	var b strings.Builder
	switch rc.Category {
	case types.ExpensePerDiem:
		description := strings.TrimSpace(rc.Description)
		if description == "" {
			description = "[PER_DIEM] Per Diem flow"
		}
		b.WriteString("Great! Here's a summary of your Per Diem request:\n\n")
		fmt.Fprintf(&b, "📂 **Category:** %s\n", cat.Label)
		fmt.Fprintf(&b, "📝 **Description:** %s\n", description)
		fmt.Fprintf(&b, "📅 **From:** %s\n", orDash(dates.DisplayISO(rc.PerDiemFrom)))
		fmt.Fprintf(&b, "📅 **To:** %s\n", orDash(dates.DisplayISO(rc.PerDiemTo)))
		fmt.Fprintf(&b, "🗺️ **Destination:** %s\n", orDash(rc.DestinationName))
	case types.ExpenseTravel:
		b.WriteString("Great! Here's a summary of your Travel & Accommodation request:\n\n")
		fmt.Fprintf(&b, "📂 **Category:** %s\n", cat.Label)
		fmt.Fprintf(&b, "📝 **Description:** %s\n", defaultDescription(rc))
		fmt.Fprintf(&b, "💰 **Amount:** $%.2f\n", rc.Amount)
		fmt.Fprintf(&b, "📅 **Date:** %s\n", dates.DisplayISO(rc.ExpenseDate))
	default:
		b.WriteString("Almost there! Let's review your reimbursement request:\n\n")
		fmt.Fprintf(&b, "📂 **Category:** %s\n", cat.Label)
		fmt.Fprintf(&b, "📝 **Description:** %s\n", defaultDescription(rc))
		fmt.Fprintf(&b, "💰 **Amount:** $%.2f\n", rc.Amount)
		fmt.Fprintf(&b, "📅 **Date:** %s\n", dates.DisplayISO(rc.ExpenseDate))
	}
	fmt.Fprintf(&b, "🔗 **Receipt Link:** %s\n\n", orNone(rc.AttachedLink))
	b.WriteString(flow.ConfirmPrompt)

	return flow.Reply(threadID, b.String()).WithButtons(
		types.Button{Text: "Yes", Value: confirmSubmit, Type: buttonType},
		types.Button{Text: "No", Value: cancelSubmit, Type: buttonType},
	)
}

func submittedMessage(category string, id int64) string {
	switch category {
	case types.ExpensePerDiem:
		return fmt.Sprintf("✅ Your [PER_DIEM] request has been submitted! Expense ID: %d", id)
	case types.ExpenseTravel:
		return fmt.Sprintf("✅ Your Travel & Accommodation request has been submitted! Expense ID: %d", id)
	default:
		return fmt.Sprintf("✅ Your reimbursement request has been submitted successfully! Expense ID: %d", id)
	}
}

func failedMessage(category string, err error) string {
	if category == types.ExpenseMiscellaneous {
		return "❌ There was an error submitting your reimbursement request: " + err.Error()
	}
	return "❌ There was an error submitting your request: " + err.Error()
}
