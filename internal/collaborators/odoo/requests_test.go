package odoo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prezlab/nasma/backend/internal/shared/types"
)

var requestsNow = time.Date(2025, 10, 15, 9, 0, 0, 0, time.UTC)

func TestPendingLeaves(t *testing.T) {
	f, c := newFakeOdoo(t, func(call rpcCall) (any, *RPCError) {
		return []any{
			map[string]any{
				"id": 11, "employee_id": []any{7, "Lina"}, "holiday_status_id": []any{1, "Annual Leave"},
				"request_date_from": "2025-10-20", "request_date_to": "2025-10-22",
				"duration_display": "3 days", "state": "confirm",
			},
			map[string]any{
				"id": 12, "employee_id": []any{7, "Lina"}, "holiday_status_id": false,
				"request_date_from": "2025-10-15", "request_date_to": "2025-10-15",
				"duration_display": false, "state": "confirm",
			},
		}, nil
	})
	WithClock(func() time.Time { return requestsNow })(c)

	got, err := c.PendingLeaves(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, []types.PendingRequest{
		{ID: 11, Kind: types.RequestTimeOff, Title: "Annual Leave", From: "2025-10-20", To: "2025-10-22", Duration: "3 days", Status: "To Approve"},
		{ID: 12, Kind: types.RequestTimeOff, Title: "Time off", From: "2025-10-15", To: "2025-10-15", Status: "To Approve", Started: true},
	}, got)

	calls := f.recorded("hr.leave", "search_read")
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Args[0].([]any), []any{"state", "=", "confirm"})
}

func TestPendingOvertimeUsesLinkedUser(t *testing.T) {
	tests := []struct {
		name  string
		user  any
		count int
	}{
		{"linked user", []any{9, "lina@prezlab.com"}, 1},
		{"no user", false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, c := newFakeOdoo(t, func(call rpcCall) (any, *RPCError) {
				switch call.Model {
				case "hr.employee":
					return []any{map[string]any{"user_id": tt.user}}, nil
				case "approval.request":
					return []any{map[string]any{
						"id": 30, "name": "Overtime request via Nasma chatbot",
						"request_owner_id": []any{9, "Lina"}, "category_id": []any{4, "Overtime - Prezlab"},
						"date_start": "2025-10-10 14:00:00", "date_end": "2025-10-10 17:00:00",
						"request_status": "pending",
					}}, nil
				}
				return []any{}, nil
			})

			got, err := c.PendingOvertime(context.Background(), 7)
			require.NoError(t, err)
			require.Len(t, got, tt.count)
			if tt.count == 0 {
				assert.Empty(t, f.recorded("approval.request", "search_read"))
				return
			}
			assert.Equal(t, types.PendingRequest{
				ID: 30, Kind: types.RequestOvertime, Title: "Overtime - Prezlab",
				From: "2025-10-10 14:00:00", To: "2025-10-10 17:00:00", Status: "Submitted",
			}, got[0])
			calls := f.recorded("approval.request", "search_read")
			require.Len(t, calls, 1)
			assert.Contains(t, calls[0].Args[0].([]any), []any{"request_owner_id", "=", float64(9)})
		})
	}
}

func TestCancelLeave(t *testing.T) {
	tests := []struct {
		name      string
		owner     int
		from      string
		unlinkErr bool
		wantErr   error
		unlinks   int
		drafts    int
	}{
		{name: "deleted", owner: 7, from: "2025-10-20", unlinks: 1},
		{name: "reset to draft when delete refused", owner: 7, from: "2025-10-20", unlinkErr: true, unlinks: 1, drafts: 1},
		{name: "someone else's leave", owner: 8, from: "2025-10-20", wantErr: types.ErrNotOwner},
		{name: "already started", owner: 7, from: "2025-10-15", wantErr: types.ErrLeaveStarted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, c := newFakeOdoo(t, func(call rpcCall) (any, *RPCError) {
				switch call.Method {
				case "search_read":
					return []any{map[string]any{
						"id": 11, "employee_id": []any{tt.owner, "Someone"},
						"request_date_from": tt.from, "state": "confirm",
					}}, nil
				case "unlink":
					if tt.unlinkErr {
						return nil, &RPCError{Code: 200, Message: "You cannot delete a leave that is validated"}
					}
				}
				return true, nil
			})
			WithClock(func() time.Time { return requestsNow })(c)

			err := c.CancelLeave(context.Background(), 7, 11)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Len(t, f.recorded("hr.leave", "unlink"), tt.unlinks)
			writes := f.recorded("hr.leave", "write")
			require.Len(t, writes, tt.drafts)
			if tt.drafts > 0 {
				assert.Equal(t, map[string]any{"state": "draft"}, writes[0].Args[1])
			}
		})
	}
}

func TestCancelLeaveMissing(t *testing.T) {
	_, c := newFakeOdoo(t, func(call rpcCall) (any, *RPCError) { return []any{}, nil })

	err := c.CancelLeave(context.Background(), 7, 99)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCancelOvertime(t *testing.T) {
	tests := []struct {
		name    string
		owner   int
		status  string
		wantErr error
	}{
		{name: "pending", owner: 9, status: "pending"},
		{name: "someone else's request", owner: 5, status: "pending", wantErr: types.ErrNotOwner},
		{name: "already approved", owner: 9, status: "approved", wantErr: types.ErrNotPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, c := newFakeOdoo(t, func(call rpcCall) (any, *RPCError) {
				switch call.Model {
				case "hr.employee":
					return []any{map[string]any{"user_id": []any{9, "Lina"}}}, nil
				case "approval.request":
					if call.Method == "search_read" {
						return []any{map[string]any{
							"id": 30, "request_owner_id": []any{tt.owner, "Owner"}, "request_status": tt.status,
						}}, nil
					}
				}
				return true, nil
			})

			err := c.CancelOvertime(context.Background(), 7, 30)
			writes := f.recorded("approval.request", "write")
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, writes)
				return
			}
			require.NoError(t, err)
			require.Len(t, writes, 1)
			assert.Equal(t, map[string]any{"request_status": "cancel"}, writes[0].Args[1])
		})
	}
}
