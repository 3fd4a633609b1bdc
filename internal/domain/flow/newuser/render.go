package newuser

import (
	"fmt"
	"strings"

	"github.com/prezlab/nasma/backend/internal/domain/flow"
	"github.com/prezlab/nasma/backend/internal/shared/types"
)

const (
	uploadValue   = "new_user_upload"
	confirmValue  = "new_user_upload_confirm"
	cancelValue   = "new_user_upload_cancel"
	assignPrefix  = "assign_company:"
	reviewWidget  = "new_user_review"
	agreementsKey = "attachments"

	msgDenied       = "sorry this flow is restricted to members of the People & Culture Department"
	msgUploadFirst  = "Please upload the onboarding sheet using the upload widget."
	msgNothingToAdd = "No pending new users to create."
)

func uploadPrompt(threadID, message string) *types.Response {
	if message == "" {
		message = " "
	}
	return flow.Reply(threadID, message).WithWidget(flow.WidgetSheet, true)
}

// review renders the parsed batch with duplicates listed first and
// attaches the per-row company picker.
func review(threadID, lead string, nc *types.NewUserContext, companies []string) *types.Response {
	var b strings.Builder
	if lead != "" {
		b.WriteString(lead)
		b.WriteString("\n\n")
	}
	b.WriteString(confirmation(nc.Records))

	rows := make([]map[string]any, 0, len(nc.Records))
	for i, rec := range nc.Records {
		rows = append(rows, map[string]any{
			"index":     i,
			"name":      rec.Name(),
			"duplicate": rec.Duplicate,
			"company":   rec.CompanyName,
		})
	}
	return flow.Reply(threadID, b.String()).
		WithWidget(reviewWidget, map[string]any{"rows": rows, "companies": companies}).
		WithButtons(
			types.Button{Text: "Confirm", Value: confirmValue, Type: "action"},
			types.Button{Text: "Cancel", Value: cancelValue, Type: "action"},
		)
}

func confirmation(records []types.NewUserRecord) string {
	var valid, duplicates []types.NewUserRecord
	for _, rec := range records {
		if rec.Duplicate {
			duplicates = append(duplicates, rec)
		} else {
			valid = append(valid, rec)
		}
	}

	var lines []string
	if len(duplicates) > 0 {
		lines = append(lines, "⚠️ **INVALID USERS - DUPLICATE NAMES:**")
		for _, rec := range duplicates {
			reason := rec.Error
			if reason == "" {
				reason = "Duplicate name"
			}
			lines = append(lines, fmt.Sprintf("❌ %s: %s", nameOr(rec), reason))
		}
		lines = append(lines, "")
	}

	if len(valid) > 0 {
		lines = append(lines, "Please confirm the following new user records:")
		for i, rec := range valid {
			lines = append(lines, fmt.Sprintf("\n%d)", i+1))
			for _, c := range Columns {
				if v := displayValue(c.Field, rec.Fields[c.Field]); v != "" {
					lines = append(lines, fmt.Sprintf("- **%s**: %s", c.Label, v))
				}
			}
			if rec.CompanyName != "" {
				lines = append(lines, fmt.Sprintf("- **Company**: %s", rec.CompanyName))
			}
		}
	}

	switch {
	case len(duplicates) > 0 && len(valid) == 0:
		lines = append(lines, "\nAll users have duplicate names. Please fix the issues and try again.")
	case len(duplicates) > 0:
		lines = append(lines,
			"\n⚠️ Only valid users will be created if you confirm. Flagged users will be skipped.",
			"\nClick Confirm to create valid users or Cancel to abort.")
	case len(valid) > 0:
		lines = append(lines, "\nClick Confirm to create users or Cancel to abort.")
	}
	return strings.Join(lines, "\n")
}

func nameOr(rec types.NewUserRecord) string {
	if n := strings.TrimSpace(rec.Name()); n != "" {
		return n
	}
	return "Unknown"
}
