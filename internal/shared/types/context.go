package types

import (
	"fmt"

	"dario.cat/mergo"
)

// Context is the flow payload carried by a session. Exactly one of the
// per-flow pointers is set for a given session; Employee is the snapshot
// taken when the flow started and scopes cross-thread cleanup.
type Context struct {
	Employee      *Employee             `json:"employee,omitempty"`
	TimeOff       *TimeOffContext       `json:"time_off,omitempty"`
	Overtime      *OvertimeContext      `json:"overtime,omitempty"`
	LogHours      *LogHoursContext      `json:"log_hours,omitempty"`
	NewUser       *NewUserContext       `json:"new_user,omitempty"`
	Reimbursement *ReimbursementContext `json:"reimbursement,omitempty"`
	Extra         map[string]any        `json:"extra,omitempty"`
}

// Merge folds patch into c. Non-empty values in patch override, empty values
// never erase what c already holds.
// Maps merge key by key, so an empty entry in patch leaves the existing
// entry alone.
func (c *Context) Merge(patch Context) error {
	patch.Extra = withoutEmpty(SanitizeMap(patch.Extra))
	if patch.TimeOff != nil && patch.TimeOff.Modes != nil {
		to := *patch.TimeOff
		to.Modes = withoutEmptyStrings(to.Modes)
		patch.TimeOff = &to
	}
	if patch.NewUser != nil && len(patch.NewUser.Records) > 0 {
		nu := *patch.NewUser
		nu.Records = make([]NewUserRecord, len(patch.NewUser.Records))
		for i, r := range patch.NewUser.Records {
			r.Fields = withoutEmptyStrings(r.Fields)
			nu.Records[i] = r
		}
		patch.NewUser = &nu
	}
	if err := mergo.Merge(c, patch, mergo.WithOverride); err != nil {
		return fmt.Errorf("failed to merge context: %w", err)
	}
	return nil
}

func withoutEmptyStrings(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if v != "" {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func withoutEmpty(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			if val == "" {
				continue
			}
		case map[string]any:
			if val = withoutEmpty(val); val == nil {
				continue
			}
			v = val
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Option is a value/label pair rendered in dropdown widgets.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Attachment is a document uploaded while a flow is running, or one
// generated for the user, in which case URL says where to fetch it.
type Attachment struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mimetype,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Data     string `json:"data,omitempty"`
	URL      string `json:"url,omitempty"`
	Checksum string `json:"checksum,omitempty"`
}

// ============================================================================
// Time off
// ============================================================================

// LeaveType is an ERP leave type, or the synthetic half-day entry.
type LeaveType struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	SpecialCode     string `json:"special_code,omitempty"`
	BaseLeaveTypeID int64  `json:"base_leave_type_id,omitempty"`
}

// Halfday marks the synthetic Custom Hours type.
const Halfday = "halfday"

// IsHalfday reports whether lt is the synthetic Custom Hours type.
func (lt LeaveType) IsHalfday() bool {
	return lt.SpecialCode == Halfday
}

// Key returns a stable identifier, distinguishing the synthetic type from
// the annual leave it is based on.
func (lt LeaveType) Key() string {
	if lt.IsHalfday() {
		return fmt.Sprintf("%s_%d", Halfday, lt.BaseLeaveTypeID)
	}
	return fmt.Sprintf("%d", lt.ID)
}

// TimeOffContext collects a leave request.
type TimeOffContext struct {
	LeaveTypes       []LeaveType       `json:"leave_types,omitempty"`
	Selected         *LeaveType        `json:"selected_leave_type,omitempty"`
	Modes            map[string]string `json:"modes,omitempty"`
	StartDate        string            `json:"start_date,omitempty"`
	EndDate          string            `json:"end_date,omitempty"`
	HourFrom         string            `json:"hour_from,omitempty"`
	HourTo           string            `json:"hour_to,omitempty"`
	DocumentRequired bool              `json:"document_required,omitempty"`
	DocumentUploaded bool              `json:"document_uploaded,omitempty"`
	Documents        []Attachment      `json:"documents,omitempty"`
}

// HasDocument reports whether an attachment with content was recorded.
func (t *TimeOffContext) HasDocument() bool {
	for _, d := range t.Documents {
		if d.Data != "" {
			return true
		}
	}
	return false
}

// ============================================================================
// Overtime
// ============================================================================

// Project is an ERP project an overtime request can be charged to.
type Project struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// OvertimeContext collects an overtime approval request.
type OvertimeContext struct {
	CategoryID   int64     `json:"category_id,omitempty"`
	CategoryName string    `json:"category_name,omitempty"`
	Company      string    `json:"company,omitempty"`
	TimeZone     string    `json:"user_tz,omitempty"`
	Projects     []Project `json:"projects,omitempty"`
	Date         string    `json:"date,omitempty"`
	HourFrom     string    `json:"hour_from,omitempty"`
	HourTo       string    `json:"hour_to,omitempty"`
	ProjectID    int64     `json:"project_id,omitempty"`
	ProjectName  string    `json:"project_name,omitempty"`
}

// ============================================================================
// Log hours
// ============================================================================

// PlanningTask is one day of a planning slot the employee can log against.
type PlanningTask struct {
	SlotID         int64   `json:"slot_id"`
	SubtaskID      int64   `json:"subtask_id"`
	Name           string  `json:"name"`
	Project        string  `json:"project,omitempty"`
	Date           string  `json:"date"`
	AllocatedHours float64 `json:"allocated_hours,omitempty"`
}

// LogHoursContext collects a timesheet entry.
type LogHoursContext struct {
	Tasks        []PlanningTask `json:"tasks,omitempty"`
	Task         *PlanningTask  `json:"task,omitempty"`
	Activities   []Option       `json:"activities,omitempty"`
	ActivityID   string         `json:"activity_id,omitempty"`
	ActivityName string         `json:"activity_name,omitempty"`
	Hours        float64        `json:"hours,omitempty"`
	Description  string         `json:"description,omitempty"`
}

// ============================================================================
// New user
// ============================================================================

// NewUserRecord is one employee row parsed from an onboarding sheet.
type NewUserRecord struct {
	Fields      map[string]string `json:"fields"`
	Duplicate   bool              `json:"duplicate,omitempty"`
	Error       string            `json:"error,omitempty"`
	CompanyID   int64             `json:"company_id,omitempty"`
	CompanyName string            `json:"company_name,omitempty"`
}

// Name returns the record's employee name.
func (r NewUserRecord) Name() string {
	return r.Fields["name"]
}

// NewUserContext holds the parsed batch awaiting confirmation.
type NewUserContext struct {
	SheetName string          `json:"sheet_name,omitempty"`
	Checksum  string          `json:"checksum,omitempty"`
	Records   []NewUserRecord `json:"records,omitempty"`
}

// ============================================================================
// Reimbursement
// ============================================================================

// ReimbursementContext collects an expense claim. Stage tracks the
// sub-step inside the numbered step, since the supporting additions menu
// loops back on itself.
type ReimbursementContext struct {
	Stage           string  `json:"stage,omitempty"`
	Category        string  `json:"category,omitempty"`
	Amount          float64 `json:"amount,omitempty"`
	ExpenseDate     string  `json:"expense_date,omitempty"`
	Description     string  `json:"description,omitempty"`
	AttachedLink    string  `json:"attached_link,omitempty"`
	PerDiemFrom     string  `json:"per_diem_from,omitempty"`
	PerDiemTo       string  `json:"per_diem_to,omitempty"`
	DestinationID   int64   `json:"destination_id,omitempty"`
	DestinationName string  `json:"destination_name,omitempty"`
}
