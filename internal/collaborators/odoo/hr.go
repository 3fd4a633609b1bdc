package odoo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/prezlab/nasma/backend/internal/shared/types"
)

const (
	defaultLeaveTitle    = "Time off request via Nasma chatbot"
	defaultOvertimeTitle = "Overtime request via Nasma chatbot"
)

// LeaveTypes returns the active leave types.
func (c *Client) LeaveTypes(ctx context.Context) ([]types.LeaveType, error) {
	return cached(c, "leave_types", func() ([]types.LeaveType, error) {
		var rows []struct {
			ID     flexInt    `json:"id"`
			Name   flexString `json:"name"`
			Active *bool      `json:"active"`
		}
		err := c.searchRead(ctx, "hr.leave.type", nil,
			[]string{"id", "name", "active", "requires_allocation"},
			map[string]any{"limit": 50}, &rows)
		if err != nil {
			return nil, err
		}
		out := make([]types.LeaveType, 0, len(rows))
		for _, r := range rows {
			if r.Active != nil && !*r.Active {
				continue
			}
			out = append(out, types.LeaveType{ID: int64(r.ID), Name: string(r.Name)})
		}
		return out, nil
	})
}

// SubmitLeave creates a confirmed leave and uploads its supporting
// documents. Attachment failures are logged; the leave stands.
func (c *Client) SubmitLeave(ctx context.Context, req types.LeaveRequest) (int64, error) {
	title := req.Description
	if title == "" {
		title = defaultLeaveTitle
	}
	values := map[string]any{
		"employee_id":       req.EmployeeID,
		"holiday_status_id": req.LeaveTypeID,
		"request_date_from": req.DateFrom,
		"request_date_to":   req.DateTo,
		"name":              title,
		"state":             "confirm",
	}
	if req.UnitHours {
		values["request_unit_hours"] = true
		values["request_hour_from"] = req.HourFrom
		values["request_hour_to"] = req.HourTo
		if req.Hours > 0 {
			values["number_of_hours"] = req.Hours
		}
	}

	id, err := c.create(ctx, "hr.leave", values)
	if err != nil {
		return 0, err
	}
	c.attach(ctx, "hr.leave", id, req.Attachments)
	return id, nil
}

func (c *Client) attach(ctx context.Context, model string, resID int64, docs []types.Attachment) {
	var ids []int64
	for i, doc := range docs {
		if doc.Data == "" {
			continue
		}
		name := doc.Name
		if name == "" {
			name = fmt.Sprintf("supporting-document-%d", i+1)
		}
		mime := doc.MimeType
		if mime == "" {
			mime = "application/octet-stream"
		}
		attID, err := c.create(ctx, "ir.attachment", map[string]any{
			"name":      name,
			"datas":     doc.Data,
			"res_model": model,
			"res_id":    resID,
			"type":      "binary",
			"mimetype":  mime,
		})
		if err != nil {
			c.log.Warn("attachment upload failed",
				zap.String("model", model),
				zap.Int64("res_id", resID),
				zap.String("name", name),
				zap.Error(err))
			continue
		}
		ids = append(ids, attID)
	}
	if len(ids) == 0 {
		return
	}
	// (6, 0, ids) replaces the relation with exactly ids.
	link := []any{[]any{6, 0, ids}}
	if err := c.write(ctx, model, []int64{resID}, map[string]any{"supported_attachment_ids": link}); err != nil {
		c.log.Warn("linking attachments failed", zap.Int64("res_id", resID), zap.Error(err))
	}
}

// OvertimeCategory finds the approval category "Overtime - <company>".
func (c *Client) OvertimeCategory(ctx context.Context, company string) (int64, string, error) {
	name := strings.TrimSpace("Overtime - " + company)
	var rows []struct {
		ID   flexInt    `json:"id"`
		Name flexString `json:"name"`
	}
	err := c.searchRead(ctx, "approval.category",
		[][]any{cond("name", "=", name)},
		[]string{"id", "name"}, map[string]any{"limit": 1}, &rows)
	if err != nil {
		return 0, "", err
	}
	if len(rows) == 0 {
		return 0, "", fmt.Errorf("%w: approval category %q", ErrNotFound, name)
	}
	return int64(rows[0].ID), string(rows[0].Name), nil
}

// Projects lists active projects by name, falling back to every project
// when none is flagged active.
func (c *Client) Projects(ctx context.Context) ([]types.Project, error) {
	return cached(c, "projects", func() ([]types.Project, error) {
		load := func(conds [][]any) ([]types.Project, error) {
			var rows []struct {
				ID          flexInt    `json:"id"`
				Name        flexString `json:"name"`
				DisplayName flexString `json:"display_name"`
			}
			err := c.searchRead(ctx, "project.project", conds,
				[]string{"id", "name", "display_name"},
				map[string]any{"order": "name asc", "limit": 1000}, &rows)
			if err != nil {
				return nil, err
			}
			out := make([]types.Project, 0, len(rows))
			for _, r := range rows {
				name := string(r.Name)
				if name == "" {
					name = string(r.DisplayName)
				}
				out = append(out, types.Project{ID: int64(r.ID), Name: name})
			}
			return out, nil
		}
		projects, err := load([][]any{cond("active", "=", true)})
		if err != nil || len(projects) > 0 {
			return projects, err
		}
		return load(nil)
	})
}

// SubmitOvertime creates an approval request owned by the service user and
// submits it. A failed submit leaves the request in draft and is logged.
func (c *Client) SubmitOvertime(ctx context.Context, req types.OvertimeRequest) (int64, error) {
	title := req.Title
	if title == "" {
		title = defaultOvertimeTitle
	}
	if _, err := c.session(ctx); err != nil {
		return 0, err
	}
	values := map[string]any{
		"category_id":      req.CategoryID,
		"request_owner_id": c.UID(),
		"name":             title,
		"date_start":       req.Start,
		"date_end":         req.End,
	}
	if req.ProjectID != 0 {
		values["x_studio_project"] = req.ProjectID
	}
	id, err := c.create(ctx, "approval.request", values)
	if err != nil {
		return 0, err
	}
	if err := c.Call(ctx, "approval.request", "action_confirm", []any{[]int64{id}}, nil, nil); err != nil {
		c.log.Warn("approval request created but not submitted", zap.Int64("request_id", id), zap.Error(err))
	}
	return id, nil
}

var employeeFields = []string{
	"name", "job_title", "work_email", "department_id", "parent_id",
	"job_id", "tz", "company_id",
}

type employeeRow struct {
	ID         flexInt    `json:"id"`
	Name       flexString `json:"name"`
	JobTitle   flexString `json:"job_title"`
	Email      flexString `json:"work_email"`
	Department many2one   `json:"department_id"`
	Manager    many2one   `json:"parent_id"`
	Job        many2one   `json:"job_id"`
	TimeZone   flexString `json:"tz"`
	Company    many2one   `json:"company_id"`
}

// Employee reads one employee. Fields the service user may not read are
// dropped and the read retried.
func (c *Client) Employee(ctx context.Context, id int64) (*types.Employee, error) {
	fields := employeeFields
	var rows []employeeRow
	err := c.Call(ctx, "hr.employee", "read", []any{[]int64{id}}, map[string]any{"fields": fields}, &rows)

	var rpc *RPCError
	if errors.As(err, &rpc) {
		if forbidden := rpc.ForbiddenFields(); len(forbidden) > 0 {
			c.log.Debug("retrying employee read without forbidden fields", zap.Strings("fields", forbidden))
			fields = without(fields, forbidden)
			err = c.Call(ctx, "hr.employee", "read", []any{[]int64{id}}, map[string]any{"fields": fields}, &rows)
		}
	}
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: employee %d", ErrNotFound, id)
	}

	r := rows[0]
	e := &types.Employee{
		ID:          int64(r.ID),
		Name:        string(r.Name),
		Email:       string(r.Email),
		JobTitle:    string(r.JobTitle),
		Department:  r.Department.Name,
		Manager:     r.Manager.Name,
		TimeZone:    string(r.TimeZone),
		CompanyID:   r.Company.ID,
		CompanyName: r.Company.Name,
	}
	if e.ID == 0 {
		e.ID = id
	}
	if e.JobTitle == "" {
		e.JobTitle = r.Job.Name
	}
	return e, nil
}

func without(fields, drop []string) []string {
	skip := make(map[string]bool, len(drop))
	for _, f := range drop {
		skip[f] = true
	}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if !skip[f] {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return []string{"name"}
	}
	return out
}

// FindEmployeesByName returns employees whose name equals name.
func (c *Client) FindEmployeesByName(ctx context.Context, name string) ([]types.EmployeeMatch, error) {
	var rows []struct {
		ID   flexInt    `json:"id"`
		Name flexString `json:"name"`
	}
	err := c.searchRead(ctx, "hr.employee",
		[][]any{cond("name", "=", strings.TrimSpace(name))},
		[]string{"id", "name"}, map[string]any{"limit": 5}, &rows)
	if err != nil {
		return nil, err
	}
	out := make([]types.EmployeeMatch, len(rows))
	for i, r := range rows {
		out[i] = types.EmployeeMatch{ID: int64(r.ID), Name: string(r.Name)}
	}
	return out, nil
}

// Company resolves a company by exact name, then by a case-insensitive
// partial match.
func (c *Client) Company(ctx context.Context, name string) (types.Company, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return types.Company{}, fmt.Errorf("%w: empty company name", ErrNotFound)
	}
	for _, op := range []string{"=", "ilike"} {
		id, found, err := c.lookup(ctx, "res.company", "name", op, name)
		if err != nil {
			return types.Company{}, err
		}
		if id != 0 {
			return types.Company{ID: id, Name: found}, nil
		}
	}
	return types.Company{}, fmt.Errorf("%w: company %q", ErrNotFound, name)
}

// lookup returns the first record of model whose field matches value.
func (c *Client) lookup(ctx context.Context, model, field, op, value string) (int64, string, error) {
	var rows []struct {
		ID   flexInt    `json:"id"`
		Name flexString `json:"name"`
	}
	err := c.searchRead(ctx, model, [][]any{cond(field, op, value)},
		[]string{"id", "name"}, map[string]any{"limit": 1}, &rows)
	if err != nil || len(rows) == 0 {
		return 0, "", err
	}
	return int64(rows[0].ID), string(rows[0].Name), nil
}

// Plain text employee fields copied from an onboarding record.
var employeeTextFields = []string{
	"name", "work_email", "birthday", "private_phone", "private_street",
	"x_studio_contact_1_relation", "marital", "x_studio_religion",
	"emergency_contact", "emergency_phone", "x_studio_employee_arabic_name",
}

var maritalAliases = map[string]string{
	"single":     "single",
	"married":    "married",
	"cohabitant": "cohabitant",
	"widower":    "widower",
	"widowed":    "widower",
	"divorced":   "divorced",
}

// CreateEmployee creates an employee from an onboarding record. The job
// position and work country are resolved by name and left unset when no
// record matches.
func (c *Client) CreateEmployee(ctx context.Context, rec types.NewUserRecord) (int64, error) {
	if rec.CompanyID == 0 {
		return 0, errors.New("company is required")
	}
	values := map[string]any{"company_id": rec.CompanyID}
	for _, f := range employeeTextFields {
		v := strings.TrimSpace(rec.Fields[f])
		if v == "" {
			continue
		}
		if f == "marital" {
			lower := strings.ToLower(v)
			if alias, ok := maritalAliases[lower]; ok {
				v = alias
			} else {
				v = lower
			}
		}
		values[f] = v
	}

	if job := strings.TrimSpace(rec.Fields["job_id"]); job != "" {
		id, _, err := c.lookup(ctx, "hr.job", "name", "ilike", job)
		if err != nil {
			c.log.Warn("job lookup failed", zap.String("job", job), zap.Error(err))
		} else if id != 0 {
			values["job_id"] = id
		}
	}

	if place := strings.TrimSpace(rec.Fields["x_studio_work_location_country"]); place != "" {
		// "Amman, Jordan" names the country last.
		parts := strings.Split(place, ",")
		country := strings.TrimSpace(parts[len(parts)-1])
		id, _, err := c.lookup(ctx, "res.country", "name", "ilike", country)
		if err != nil {
			c.log.Warn("country lookup failed", zap.String("country", country), zap.Error(err))
		} else if id != 0 {
			values["x_studio_work_location_country"] = id
		}
	}

	return c.create(ctx, "hr.employee", values)
}
