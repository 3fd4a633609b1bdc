package requests

import (
	"context"
	"errors"
	"fmt"
	"testing"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prezlab/nasma/backend/internal/domain/flow"
	"github.com/prezlab/nasma/backend/internal/shared/types"
)

type cancelled struct {
	kind       string
	employeeID int64
	id         int64
}

type fakeERP struct {
	leaves      []types.PendingRequest
	overtime    []types.PendingRequest
	listErr     error
	cancelErr   error
	cancelCalls []cancelled
}

func (e *fakeERP) PendingLeaves(context.Context, int64) ([]types.PendingRequest, error) {
	return e.leaves, e.listErr
}

func (e *fakeERP) PendingOvertime(context.Context, int64) ([]types.PendingRequest, error) {
	return e.overtime, nil
}

func (e *fakeERP) CancelLeave(_ context.Context, employeeID, leaveID int64) error {
	e.cancelCalls = append(e.cancelCalls, cancelled{types.RequestTimeOff, employeeID, leaveID})
	return e.cancelErr
}

func (e *fakeERP) CancelOvertime(_ context.Context, employeeID, requestID int64) error {
	e.cancelCalls = append(e.cancelCalls, cancelled{types.RequestOvertime, employeeID, requestID})
	return e.cancelErr
}

var lina = &types.Employee{ID: 7, Name: "Lina Haddad", TimeZone: "Asia/Dubai"}

func request(msg string) flow.Request {
	return flow.Request{ThreadID: "thread-requests", Message: msg, Identity: types.Identity{Employee: lina}}
}

func TestMatch(t *testing.T) {
	d := New(&fakeERP{})
	tests := []struct {
		msg  string
		want bool
	}{
		{"show my requests", true},
		{"What are my pending requests?", true},
		{"my time-off requests please", true},
		{"cancel_timeoff_request=11", true},
		{"cancel_overtime_request=30", true},
		{"cancel_timeoff_request=abc", false},
		{"I want to request time off", false},
		{"cancel", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, d.Match(request(tt.msg)))
		})
	}
}

func TestSummary(t *testing.T) {
	tests := []struct {
		overtime, timeOff int
		want              string
	}{
		{0, 0, msgNone},
		{1, 0, "You have 1 overtime request waiting for approval."},
		{0, 2, "You have 2 time off requests waiting for approval."},
		{2, 1, "You have 2 overtime requests, and 1 time off request waiting for approval."},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d-%d", tt.overtime, tt.timeOff), func(t *testing.T) {
			assert.Contains(t, Summary(tt.overtime, tt.timeOff), tt.want)
		})
	}
}

func TestListShowsTablesAndCancelButtons(t *testing.T) {
	erp := &fakeERP{
		leaves: []types.PendingRequest{
			{ID: 11, Kind: types.RequestTimeOff, Title: "Annual Leave", From: "2025-10-20", To: "2025-10-22", Duration: "3 days", Status: "To Approve"},
			{ID: 12, Kind: types.RequestTimeOff, Title: "Sick Leave", From: "2025-10-14", To: "2025-10-15", Status: "To Approve", Started: true},
		},
		overtime: []types.PendingRequest{
			{ID: 30, Kind: types.RequestOvertime, Title: "Overtime - Prezlab", From: "2025-10-10 14:00:00", To: "2025-10-10 17:00:00", Status: "Submitted"},
		},
	}
	d := New(erp)

	resp, err := d.Handle(context.Background(), request("show my requests"))
	require.NoError(t, err)
	assert.True(t, resp.SessionHandled)
	assert.Contains(t, resp.Message, "You have 1 overtime request, and 2 time off requests waiting for approval.")

	leaves := resp.Widgets[WidgetTimeOff].(map[string]any)
	rows := leaves["rows"].([]map[string]string)
	require.Len(t, rows, 2)
	assert.Equal(t, "20/10/2025 to 22/10/2025", rows[0]["dates"])
	assert.Equal(t, "3 days", rows[0]["duration"])
	assert.Equal(t, "—", rows[1]["duration"])

	overtime := resp.Widgets[WidgetOvertime].(map[string]any)
	otRows := overtime["rows"].([]map[string]string)
	require.Len(t, otRows, 1)
	assert.Equal(t, "10/10/2025", otRows[0]["date"])
	assert.Equal(t, "6:00 PM - 9:00 PM", otRows[0]["hours"])

	var values []string
	for _, b := range resp.Buttons {
		assert.Equal(t, buttonType, b.Type)
		values = append(values, b.Value)
	}
	assert.Equal(t, []string{"cancel_timeoff_request=11", "cancel_overtime_request=30"}, values)
}

func TestListNothingPending(t *testing.T) {
	resp, err := New(&fakeERP{}).Handle(context.Background(), request("my requests"))
	require.NoError(t, err)
	assert.Equal(t, msgNone, resp.Message)
	assert.Empty(t, resp.Widgets)
	assert.Empty(t, resp.Buttons)
}

func TestListFailure(t *testing.T) {
	resp, err := New(&fakeERP{listErr: errors.New("odoo down")}).Handle(context.Background(), request("my requests"))
	require.NoError(t, err)
	assert.Equal(t, msgListFailed, resp.Message)
}

func TestUnknownEmployee(t *testing.T) {
	erp := &fakeERP{}
	req := request("cancel_timeoff_request=11")
	req.Identity = types.Identity{}

	resp, err := New(erp).Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, msgVerify, resp.Message)
	assert.Empty(t, erp.cancelCalls)
}

func TestCancel(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		err  error
		want string
		call cancelled
	}{
		{"time off", "cancel_timeoff_request=11", nil, msgCancelledLeave, cancelled{types.RequestTimeOff, 7, 11}},
		{"overtime", "cancel_overtime_request=30", nil, msgCancelledOT, cancelled{types.RequestOvertime, 7, 30}},
		{"started", "cancel_timeoff_request=12", types.ErrLeaveStarted, msgStarted, cancelled{types.RequestTimeOff, 7, 12}},
		{"foreign", "cancel_overtime_request=31", fmt.Errorf("check: %w", types.ErrNotOwner), msgNotOwner, cancelled{types.RequestOvertime, 7, 31}},
		{"actioned", "cancel_overtime_request=32", types.ErrNotPending, msgNotPending, cancelled{types.RequestOvertime, 7, 32}},
		{"erp error", "cancel_timeoff_request=13", errors.New("access denied"), "Failed to cancel request: access denied", cancelled{types.RequestTimeOff, 7, 13}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			erp := &fakeERP{cancelErr: tt.err}
			resp, err := New(erp).Handle(context.Background(), request(tt.msg))
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.Message)
			assert.Equal(t, []cancelled{tt.call}, erp.cancelCalls)
		})
	}
}
