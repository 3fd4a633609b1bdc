package odoo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prezlab/nasma/backend/internal/infrastructure/config"
	"github.com/prezlab/nasma/backend/internal/shared/types"
)

type rpcCall struct {
	Model  string
	Method string
	Args   []any
	Kwargs map[string]any
}

// fakeOdoo answers the two JSON-RPC endpoints the client uses.
type fakeOdoo struct {
	t      *testing.T
	handle func(call rpcCall) (any, *RPCError)
	uid    any

	mu      sync.Mutex
	logins  int
	session string
	calls   []rpcCall
}

func newFakeOdoo(t *testing.T, handle func(call rpcCall) (any, *RPCError)) (*fakeOdoo, *Client) {
	f := &fakeOdoo{t: t, handle: handle, uid: 2}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	c := New(config.OdooConfig{
		URL:      srv.URL,
		Database: "prezlab",
		Username: "nasma@prezlab.com",
		Password: "secret",
		Timeout:  5 * time.Second,
	})
	return f, c
}

func (f *fakeOdoo) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     string          `json:"id"`
		Params json.RawMessage `json:"params"`
	}
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
	assert.NotEmpty(f.t, req.ID)

	if r.URL.Path == "/web/session/authenticate" {
		var p map[string]any
		require.NoError(f.t, json.Unmarshal(req.Params, &p))
		assert.Equal(f.t, "prezlab", p["db"])
		f.mu.Lock()
		f.logins++
		f.session = fmt.Sprintf("sid-%d", f.logins)
		sid := f.session
		f.mu.Unlock()
		http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: sid})
		writeRPC(w, map[string]any{"uid": f.uid}, nil)
		return
	}

	ck, err := r.Cookie(sessionCookie)
	f.mu.Lock()
	live := f.session
	f.mu.Unlock()
	if err != nil || ck.Value != live {
		writeRPC(w, nil, &RPCError{Code: 100, Message: "Odoo Session Expired"})
		return
	}

	var call rpcCall
	require.NoError(f.t, json.Unmarshal(req.Params, &call))
	assert.Equal(f.t, "/web/dataset/call_kw/"+call.Model+"/"+call.Method, r.URL.Path)
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	result, rpcErr := f.handle(call)
	writeRPC(w, result, rpcErr)
}

func (f *fakeOdoo) expire() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session = ""
}

func (f *fakeOdoo) recorded(model, method string) []rpcCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []rpcCall
	for _, c := range f.calls {
		if c.Model == model && c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func writeRPC(w http.ResponseWriter, result any, rpcErr *RPCError) {
	w.Header().Set("Content-Type", "application/json")
	body := map[string]any{"jsonrpc": "2.0", "id": "1"}
	if rpcErr != nil {
		body["error"] = rpcErr
	} else {
		body["result"] = result
	}
	_ = json.NewEncoder(w).Encode(body)
}

func firstArg(call rpcCall) map[string]any {
	return call.Args[0].(map[string]any)
}

func TestCallAuthenticatesOnce(t *testing.T) {
	f, c := newFakeOdoo(t, func(call rpcCall) (any, *RPCError) {
		return []any{map[string]any{"id": 1, "name": "Annual Leave"}}, nil
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		var rows []map[string]any
		require.NoError(t, c.Call(ctx, "hr.leave.type", "search_read", nil, nil, &rows))
		assert.Len(t, rows, 1)
	}
	assert.Equal(t, 1, f.logins)
	assert.Equal(t, int64(2), c.UID())
}

func TestCallRenewsExpiredSession(t *testing.T) {
	f, c := newFakeOdoo(t, func(call rpcCall) (any, *RPCError) {
		return true, nil
	})
	ctx := context.Background()

	require.NoError(t, c.Ping(ctx))
	f.expire()
	require.NoError(t, c.Call(ctx, "hr.leave", "write", nil, nil, nil))
	assert.Equal(t, 2, f.logins)
}

func TestSessionRenewedAfterLifetime(t *testing.T) {
	now := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	f, c := newFakeOdoo(t, func(call rpcCall) (any, *RPCError) { return true, nil })
	WithClock(func() time.Time { return now })(c)
	ctx := context.Background()

	require.NoError(t, c.Ping(ctx))
	now = now.Add(sessionLifetime + time.Minute)
	require.NoError(t, c.Ping(ctx))
	assert.Equal(t, 2, f.logins)
}

func TestAuthenticateRejectsBadCredentials(t *testing.T) {
	f, c := newFakeOdoo(t, func(call rpcCall) (any, *RPCError) { return true, nil })
	f.uid = false

	err := c.Ping(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestMissingCredentials(t *testing.T) {
	c := New(config.OdooConfig{URL: "http://127.0.0.1:1"})
	assert.ErrorIs(t, c.Ping(context.Background()), ErrNotAuthenticated)
}

func TestRPCErrorSurfaces(t *testing.T) {
	_, c := newFakeOdoo(t, func(call rpcCall) (any, *RPCError) {
		e := &RPCError{Code: 200, Message: "Odoo Server Error"}
		e.Data.Name = "odoo.exceptions.ValidationError"
		e.Data.Message = "The start date must be before the end date."
		return nil, e
	})

	err := c.Call(context.Background(), "hr.leave", "create", nil, nil, nil)
	var rpc *RPCError
	require.ErrorAs(t, err, &rpc)
	assert.Equal(t, "ValidationError: The start date must be before the end date.", rpc.Error())
	assert.Contains(t, err.Error(), "odoo hr.leave.create")
	assert.False(t, rpc.AccessDenied())
}

func TestHTMLErrorPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("<html><head><title>404</title></head><body><h1>Not Found</h1><p>nothing here</p></body></html>"))
	}))
	defer srv.Close()
	c := New(config.OdooConfig{URL: srv.URL, Username: "u", Password: "p", Timeout: 5 * time.Second})

	err := c.Ping(context.Background())
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.Status)
	assert.Equal(t, "Not Found", httpErr.Message)
}

func TestPageMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"heading", "<html><body><h1> Bad   Gateway </h1></body></html>", "Bad Gateway"},
		{"paragraph", "<html><body><p>Service unavailable</p></body></html>", "Service unavailable"},
		{"title only", "<html><head><title>Maintenance</title></head></html>", "Maintenance"},
		{"plain text", "upstream timed out", "upstream timed out"},
		{"empty", "  ", ""},
		{"long", strings.Repeat("x", 300), strings.Repeat("x", maxPageMessage) + "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pageMessage([]byte(tt.body)))
		})
	}
}

func TestForbiddenFields(t *testing.T) {
	e := &RPCError{Code: 200}
	e.Data.Name = "odoo.exceptions.AccessError"
	e.Data.Message = "You do not have enough rights to access the fields \"work_email, parent_id\".\n" +
		"- work_email (allowed for groups 'Employees / Officer')\n" +
		"- parent_id (allowed for groups 'Employees / Officer')"
	assert.True(t, e.AccessDenied())
	assert.Equal(t, []string{"work_email", "parent_id"}, e.ForbiddenFields())

	e.Data.Name = "odoo.exceptions.UserError"
	assert.Nil(t, e.ForbiddenFields())
}

func TestEmployeeRetriesWithoutForbiddenFields(t *testing.T) {
	f, c := newFakeOdoo(t, func(call rpcCall) (any, *RPCError) {
		fields := fmt.Sprint(call.Kwargs["fields"])
		if strings.Contains(fields, "work_email") {
			e := &RPCError{Code: 200}
			e.Data.Name = "odoo.exceptions.AccessError"
			e.Data.Message = "No access.\n- work_email (allowed for groups 'Officer')"
			return nil, e
		}
		return []any{map[string]any{
			"id":            7,
			"name":          "Lina Haddad",
			"job_title":     false,
			"job_id":        []any{3, "Designer"},
			"department_id": []any{4, "Creative"},
			"parent_id":     []any{9, "Omar Saleh"},
			"tz":            "Asia/Amman",
			"company_id":    []any{1, "Prezlab FZ LLC"},
		}}, nil
	})

	e, err := c.Employee(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, types.Employee{
		ID:          7,
		Name:        "Lina Haddad",
		JobTitle:    "Designer",
		Department:  "Creative",
		Manager:     "Omar Saleh",
		TimeZone:    "Asia/Amman",
		CompanyID:   1,
		CompanyName: "Prezlab FZ LLC",
	}, *e)
	assert.Len(t, f.recorded("hr.employee", "read"), 2)
}

func TestEmployeeNotFound(t *testing.T) {
	_, c := newFakeOdoo(t, func(call rpcCall) (any, *RPCError) { return []any{}, nil })
	_, err := c.Employee(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLeaveTypesCached(t *testing.T) {
	f, c := newFakeOdoo(t, func(call rpcCall) (any, *RPCError) {
		return []any{
			map[string]any{"id": 1, "name": "Annual Leave", "active": true},
			map[string]any{"id": 2, "name": "Old Leave", "active": false},
			map[string]any{"id": 3, "name": "Sick Leave"},
		}, nil
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		got, err := c.LeaveTypes(ctx)
		require.NoError(t, err)
		assert.Equal(t, []types.LeaveType{{ID: 1, Name: "Annual Leave"}, {ID: 3, Name: "Sick Leave"}}, got)
	}
	assert.Len(t, f.recorded("hr.leave.type", "search_read"), 1)

	c.Invalidate()
	_, err := c.LeaveTypes(ctx)
	require.NoError(t, err)
	assert.Len(t, f.recorded("hr.leave.type", "search_read"), 2)
}

func TestSubmitLeaveAttachesDocuments(t *testing.T) {
	next := 40
	f, c := newFakeOdoo(t, func(call rpcCall) (any, *RPCError) {
		if call.Method == "create" {
			next++
			return next, nil
		}
		return true, nil
	})

	id, err := c.SubmitLeave(context.Background(), types.LeaveRequest{
		EmployeeID:  7,
		LeaveTypeID: 5,
		DateFrom:    "2025-03-10",
		DateTo:      "2025-03-11",
		Attachments: []types.Attachment{
			{Name: "note.pdf", MimeType: "application/pdf", Data: "JVBERi0="},
			{Name: "empty.pdf"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(41), id)

	leave := firstArg(f.recorded("hr.leave", "create")[0])
	assert.Equal(t, "confirm", leave["state"])
	assert.Equal(t, defaultLeaveTitle, leave["name"])
	assert.NotContains(t, leave, "request_unit_hours")

	atts := f.recorded("ir.attachment", "create")
	require.Len(t, atts, 1)
	assert.Equal(t, "note.pdf", firstArg(atts[0])["name"])
	assert.EqualValues(t, 41, firstArg(atts[0])["res_id"])

	writes := f.recorded("hr.leave", "write")
	require.Len(t, writes, 1)
	assert.Equal(t, []any{[]any{float64(6), float64(0), []any{float64(42)}}},
		writes[0].Args[1].(map[string]any)["supported_attachment_ids"])
}

func TestSubmitOvertime(t *testing.T) {
	f, c := newFakeOdoo(t, func(call rpcCall) (any, *RPCError) {
		switch call.Model + "." + call.Method {
		case "approval.category.search_read":
			return []any{map[string]any{"id": 12, "name": "Overtime - Prezlab FZ LLC"}}, nil
		case "approval.request.create":
			return 88, nil
		}
		return true, nil
	})
	ctx := context.Background()

	catID, name, err := c.OvertimeCategory(ctx, "Prezlab FZ LLC")
	require.NoError(t, err)
	assert.Equal(t, int64(12), catID)
	assert.Equal(t, "Overtime - Prezlab FZ LLC", name)

	id, err := c.SubmitOvertime(ctx, types.OvertimeRequest{
		CategoryID: catID,
		Start:      "2025-03-10 14:00:00",
		End:        "2025-03-10 17:00:00",
		ProjectID:  5,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(88), id)

	req := firstArg(f.recorded("approval.request", "create")[0])
	assert.EqualValues(t, 2, req["request_owner_id"])
	assert.EqualValues(t, 5, req["x_studio_project"])
	assert.Equal(t, defaultOvertimeTitle, req["name"])
	assert.Len(t, f.recorded("approval.request", "action_confirm"), 1)
}

func TestOvertimeCategoryMissing(t *testing.T) {
	_, c := newFakeOdoo(t, func(call rpcCall) (any, *RPCError) { return []any{}, nil })
	_, _, err := c.OvertimeCategory(context.Background(), "Nowhere")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPlanningSlotsSkipsLoggedDays(t *testing.T) {
	_, c := newFakeOdoo(t, func(call rpcCall) (any, *RPCError) {
		switch call.Model {
		case "planning.slot":
			return []any{
				map[string]any{
					"id":                  3,
					"name":                false,
					"x_studio_sub_task_1": []any{51, "Pitch deck"},
					"start_datetime":      "2025-02-27 06:00:00",
					"end_datetime":        "2025-03-03 14:00:00",
					"allocated_hours":     16.0,
					"project_id":          []any{5, "Aramco"},
				},
				map[string]any{
					"id":                  4,
					"x_studio_sub_task_1": false,
					"start_datetime":      "2025-03-05 06:00:00",
					"end_datetime":        "2025-03-05 14:00:00",
					"project_id":          false,
				},
			}, nil
		case "account.analytic.line":
			if strings.Contains(fmt.Sprint(call.Args), "51") {
				return []any{map[string]any{"id": 1, "date": "2025-03-02"}}, nil
			}
			return []any{}, nil
		}
		return nil, nil
	})

	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)
	tasks, err := c.PlanningSlots(context.Background(), types.Employee{ID: 7, Name: "Lina Haddad"}, from, to)
	require.NoError(t, err)

	assert.Equal(t, []types.PlanningTask{
		{SlotID: 3, SubtaskID: 51, Name: "Pitch deck", Project: "Aramco", Date: "2025-03-01", AllocatedHours: 16},
		{SlotID: 3, SubtaskID: 51, Name: "Pitch deck", Project: "Aramco", Date: "2025-03-03", AllocatedHours: 16},
		{SlotID: 4, Name: noSubtask, Project: "No Project", Date: "2025-03-05"},
	}, tasks)
}

func TestLogTimesheet(t *testing.T) {
	f, c := newFakeOdoo(t, func(call rpcCall) (any, *RPCError) { return 300, nil })

	id, err := c.LogTimesheet(context.Background(), types.TimesheetEntry{
		EmployeeID: 7, TaskID: 51, Date: "2025-03-03", Hours: 2.5, ActivityID: "9",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(300), id)

	line := firstArg(f.recorded("account.analytic.line", "create")[0])
	assert.Equal(t, defaultLog, line["name"])
	assert.EqualValues(t, 9, line["x_studio_task_activity"])
	assert.EqualValues(t, 2.5, line["unit_amount"])
}

func TestTaskActivities(t *testing.T) {
	_, c := newFakeOdoo(t, func(call rpcCall) (any, *RPCError) {
		return []any{map[string]any{"id": 9, "x_name": "Design"}, map[string]any{"id": 10, "x_name": false}}, nil
	})
	got, err := c.TaskActivities(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []types.Option{{Value: "9", Label: "Design"}, {Value: "10", Label: "Activity 10"}}, got)
}

func TestSubmitExpenseMiscellaneous(t *testing.T) {
	f, c := newFakeOdoo(t, func(call rpcCall) (any, *RPCError) {
		if call.Method == "create" {
			return 70, nil
		}
		return []any{map[string]any{"id": 15}}, nil
	})

	id, err := c.SubmitExpense(context.Background(), types.ExpenseClaim{
		EmployeeID:   7,
		CompanyID:    1,
		Category:     types.ExpenseMiscellaneous,
		Amount:       120,
		Date:         "2025-03-04",
		Description:  "Printing",
		AttachedLink: "https://drive.example.com/receipt",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(70), id)

	exp := firstArg(f.recorded("hr.expense", "create")[0])
	assert.EqualValues(t, 15, exp["product_id"])
	assert.EqualValues(t, 120, exp["total_amount_currency"])
	assert.Equal(t, "https://drive.example.com/receipt", exp["x_studio_attached_link"])
	assert.NotContains(t, exp, "x_studio_days_abroad")
}

func TestSubmitExpensePerDiemFallsBackToTwoPhases(t *testing.T) {
	f, c := newFakeOdoo(t, func(call rpcCall) (any, *RPCError) {
		switch call.Model + "." + call.Method {
		case "product.product.search_read":
			if strings.Contains(fmt.Sprint(call.Args), "PER_DIEM") {
				return []any{map[string]any{"id": 16}}, nil
			}
			return []any{map[string]any{"id": 15}}, nil
		case "res.country.state.search_read":
			return []any{map[string]any{"id": 30, "name": "Riyadh"}}, nil
		case "hr.expense.create":
			if _, ok := firstArg(call)["x_studio_from"]; ok {
				e := &RPCError{Code: 200}
				e.Data.Name = "odoo.exceptions.ValidationError"
				e.Data.Message = "Quantity must be positive"
				return nil, e
			}
			return 71, nil
		}
		return true, nil
	})

	id, err := c.SubmitExpense(context.Background(), types.ExpenseClaim{
		EmployeeID:      7,
		Category:        types.ExpensePerDiem,
		Amount:          300,
		Date:            "2025-03-04",
		Description:     "Client workshop",
		DateFrom:        "2025-03-01",
		DateTo:          "2025-03-03",
		DaysAbroad:      3,
		DestinationName: "riyadh",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(71), id)

	creates := f.recorded("hr.expense", "create")
	require.Len(t, creates, 2)
	assert.EqualValues(t, 30, firstArg(creates[0])["x_studio_destination"])
	assert.EqualValues(t, 15, firstArg(creates[1])["product_id"])

	writes := f.recorded("hr.expense", "write")
	require.Len(t, writes, 2)
	pre := writes[0].Args[1].(map[string]any)
	assert.EqualValues(t, 1, pre["unit_amount"])
	assert.EqualValues(t, 3, pre["x_studio_days_abroad"])
	assert.EqualValues(t, 16, writes[1].Args[1].(map[string]any)["product_id"])
}

func TestSubmitExpenseUnknownCategory(t *testing.T) {
	_, c := newFakeOdoo(t, func(call rpcCall) (any, *RPCError) { return true, nil })
	_, err := c.SubmitExpense(context.Background(), types.ExpenseClaim{Category: "gifts"})
	assert.Error(t, err)
}

func TestCreateEmployeeResolvesRelations(t *testing.T) {
	f, c := newFakeOdoo(t, func(call rpcCall) (any, *RPCError) {
		switch call.Model + "." + call.Method {
		case "hr.job.search_read":
			return []any{map[string]any{"id": 3, "name": "Designer"}}, nil
		case "res.country.search_read":
			return []any{map[string]any{"id": 110, "name": "Jordan"}}, nil
		case "hr.employee.create":
			return 501, nil
		}
		return []any{}, nil
	})

	id, err := c.CreateEmployee(context.Background(), types.NewUserRecord{
		CompanyID: 1,
		Fields: map[string]string{
			"name":                           "Sara Nabil",
			"marital":                        "Widowed",
			"job_id":                         "designer",
			"x_studio_work_location_country": "Amman, Jordan",
			"private_phone":                  " ",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(501), id)

	emp := firstArg(f.recorded("hr.employee", "create")[0])
	assert.Equal(t, "widower", emp["marital"])
	assert.EqualValues(t, 3, emp["job_id"])
	assert.EqualValues(t, 110, emp["x_studio_work_location_country"])
	assert.NotContains(t, emp, "private_phone")

	_, err = c.CreateEmployee(context.Background(), types.NewUserRecord{Fields: map[string]string{"name": "x"}})
	assert.Error(t, err)
}

func TestCompanyFallsBackToPartialMatch(t *testing.T) {
	_, c := newFakeOdoo(t, func(call rpcCall) (any, *RPCError) {
		if strings.Contains(fmt.Sprint(call.Args), "ilike") {
			return []any{map[string]any{"id": 2, "name": "Prezlab KSA"}}, nil
		}
		return []any{}, nil
	})
	got, err := c.Company(context.Background(), "prezlab ksa")
	require.NoError(t, err)
	assert.Equal(t, types.Company{ID: 2, Name: "Prezlab KSA"}, got)

	_, err = c.Company(context.Background(), "")
	assert.True(t, errors.Is(err, ErrNotFound))
}
