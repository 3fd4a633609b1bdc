package types

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// LeaveRequest is a time-off submission.
type LeaveRequest struct {
	EmployeeID  int64        `json:"employee_id"`
	LeaveTypeID int64        `json:"holiday_status_id"`
	DateFrom    string       `json:"request_date_from"`
	DateTo      string       `json:"request_date_to"`
	UnitHours   bool         `json:"request_unit_hours,omitempty"`
	HourFrom    string       `json:"request_hour_from,omitempty"`
	HourTo      string       `json:"request_hour_to,omitempty"`
	Hours       float64      `json:"number_of_hours,omitempty"`
	Description string       `json:"name"`
	Attachments []Attachment `json:"-"`
}

// OvertimeRequest is an approval request for extra hours. Start and End
// are UTC timestamps formatted "2006-01-02 15:04:05".
type OvertimeRequest struct {
	CategoryID int64  `json:"category_id"`
	Start      string `json:"date_start"`
	End        string `json:"date_end"`
	ProjectID  int64  `json:"x_studio_project,omitempty"`
	Title      string `json:"name"`
}

// TimesheetEntry is one analytic line logged against a planning task.
type TimesheetEntry struct {
	EmployeeID  int64   `json:"employee_id"`
	TaskID      int64   `json:"task_id"`
	Date        string  `json:"date"`
	Hours       float64 `json:"unit_amount"`
	Description string  `json:"name"`
	ActivityID  string  `json:"activity_id,omitempty"`
}

// EmployeeMatch is an existing employee found by a name search.
type EmployeeMatch struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Company is an ERP company a new employee can be created in.
type Company struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Expense categories offered by the reimbursement flow.
const (
	ExpenseMiscellaneous = "miscellaneous"
	ExpensePerDiem       = "per_diem"
	ExpenseTravel        = "travel_accommodation"
)

// ExpenseCategory describes how a category maps onto an ERP expense
// product. Code is the product's internal reference.
type ExpenseCategory struct {
	Key   string
	Label string
	Code  string
}

// ExpenseCategories lists the categories in button order.
var ExpenseCategories = []ExpenseCategory{
	{ExpenseMiscellaneous, "[EXP_GEN] Miscellaneous", "EXP_GEN"},
	{ExpensePerDiem, "[PER_DIEM] Per Diem", "PER_DIEM"},
	{ExpenseTravel, "[TRANS & ACC] Travel & Accommodation", "TRANS & ACC"},
}

// LookupExpenseCategory returns the category registered under key.
func LookupExpenseCategory(key string) (ExpenseCategory, bool) {
	for _, c := range ExpenseCategories {
		if c.Key == key {
			return c, true
		}
	}
	return ExpenseCategory{}, false
}

// ExpenseClaim is a reimbursement submission. Dates are YYYY-MM-DD.
type ExpenseClaim struct {
	EmployeeID      int64   `json:"employee_id"`
	CompanyID       int64   `json:"company_id,omitempty"`
	Category        string  `json:"category"`
	Amount          float64 `json:"total_amount_currency"`
	Date            string  `json:"date"`
	Description     string  `json:"name"`
	AttachedLink    string  `json:"x_studio_attached_link,omitempty"`
	DateFrom        string  `json:"x_studio_from,omitempty"`
	DateTo          string  `json:"x_studio_to,omitempty"`
	DaysAbroad      int     `json:"x_studio_days_abroad,omitempty"`
	DestinationID   int64   `json:"x_studio_destination,omitempty"`
	DestinationName string  `json:"-"`
}

// HoursPerDay converts leave days into working hours.
const HoursPerDay = 8

// LeaveBalance is an employee's allowance for one leave type over its
// balance window. Taken counts approved and pending leaves.
type LeaveBalance struct {
	LeaveType string  `json:"leave_type"`
	Allocated float64 `json:"allocated_days"`
	Taken     float64 `json:"taken_days"`
}

// Remaining is the unused allowance, never negative.
func (b LeaveBalance) Remaining() float64 {
	return max(0, b.Allocated-b.Taken)
}

// Describe renders the remaining allowance as "12 days (96:00)".
func (b LeaveBalance) Describe() string {
	days := b.Remaining()
	var d string
	if days == math.Trunc(days) {
		d = strconv.FormatFloat(days, 'f', 0, 64)
	} else {
		d = strconv.FormatFloat(days, 'f', 1, 64)
	}
	minutes := int(math.Round(days * HoursPerDay * 60))
	unit := "days"
	if days == 1 {
		unit = "day"
	}
	return fmt.Sprintf("%s %s (%d:%02d)", d, unit, minutes/60, minutes%60)
}

// Request kinds listed by the my-requests view.
const (
	RequestTimeOff  = "timeoff"
	RequestOvertime = "overtime"
)

var (
	// ErrNotOwner is returned when a caller acts on someone else's request.
	ErrNotOwner = errors.New("request belongs to another employee")
	// ErrLeaveStarted is returned when a leave can no longer be withdrawn.
	ErrLeaveStarted = errors.New("leave has already started")
	// ErrNotPending is returned when a request was already actioned.
	ErrNotPending = errors.New("request is no longer pending")
)

// PendingRequest is one of the caller's requests awaiting approval. From
// and To are dates for leaves and local timestamps for overtime.
type PendingRequest struct {
	ID       int64  `json:"id"`
	Kind     string `json:"kind"`
	Title    string `json:"title"`
	From     string `json:"from"`
	To       string `json:"to"`
	Duration string `json:"duration,omitempty"`
	Status   string `json:"status"`
	// Started leaves can only be withdrawn by a time-off manager.
	Started bool `json:"started,omitempty"`
}
