package types

import "strconv"

// Employee is the HR profile snapshot of the person chatting.
type Employee struct {
	ID          int64  `json:"id,omitempty"`
	Name        string `json:"name,omitempty"`
	Email       string `json:"work_email,omitempty"`
	JobTitle    string `json:"job_title,omitempty"`
	Department  string `json:"department,omitempty"`
	Manager     string `json:"manager,omitempty"`
	TimeZone    string `json:"tz,omitempty"`
	CompanyID   int64  `json:"company_id,omitempty"`
	CompanyName string `json:"company_name,omitempty"`
}

// Identity is the resolved caller of a chat turn.
type Identity struct {
	UserID   string    `json:"user_id,omitempty"`
	TenantID string    `json:"tenant_id,omitempty"`
	UserName string    `json:"user_name,omitempty"`
	Employee *Employee `json:"employee,omitempty"`
}

// EmployeeID returns the numeric employee id, or 0 when unknown.
func (i Identity) EmployeeID() int64 {
	if i.Employee != nil && i.Employee.ID != 0 {
		return i.Employee.ID
	}
	id, err := strconv.ParseInt(i.UserID, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// Known reports whether the caller was matched to an employee.
func (i Identity) Known() bool {
	return i.EmployeeID() != 0
}
