package types

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextMergeIsAdditive(t *testing.T) {
	ctx := Context{
		Employee: &Employee{ID: 7, Name: "Rana"},
		TimeOff: &TimeOffContext{
			Selected:  &LeaveType{ID: 1, Name: "Annual Leave"},
			StartDate: "2025-10-15",
		},
	}

	err := ctx.Merge(Context{
		TimeOff: &TimeOffContext{
			EndDate: "2025-10-16",
			Modes:   map[string]string{"sick_leave_mode": "full_days"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "Annual Leave", ctx.TimeOff.Selected.Name)
	assert.Equal(t, "2025-10-15", ctx.TimeOff.StartDate)
	assert.Equal(t, "2025-10-16", ctx.TimeOff.EndDate)
	assert.Equal(t, "full_days", ctx.TimeOff.Modes["sick_leave_mode"])
	assert.Equal(t, int64(7), ctx.Employee.ID)

	// Empty values never erase.
	require.NoError(t, ctx.Merge(Context{TimeOff: &TimeOffContext{StartDate: ""}}))
	assert.Equal(t, "2025-10-15", ctx.TimeOff.StartDate)
}

func TestContextMergeKeepsMapEntries(t *testing.T) {
	ctx := Context{
		TimeOff: &TimeOffContext{
			StartDate: "2025-10-15",
			Modes:     map[string]string{"sick_leave_mode": "full_days"},
		},
		NewUser: &NewUserContext{Records: []NewUserRecord{{Fields: map[string]string{"name": "Rana"}}}},
		Extra:   map[string]any{"note": "kept", "meta": map[string]any{"source": "sheet"}},
	}

	tests := []struct {
		name  string
		patch Context
	}{
		{"empty string entries", Context{
			TimeOff: &TimeOffContext{Modes: map[string]string{"sick_leave_mode": ""}},
			Extra:   map[string]any{"note": ""},
		}},
		{"nil and empty nested entries", Context{
			Extra: map[string]any{"note": nil, "meta": map[string]any{"source": ""}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, ctx.Merge(tt.patch))
			assert.Equal(t, "full_days", ctx.TimeOff.Modes["sick_leave_mode"])
			assert.Equal(t, "kept", ctx.Extra["note"])
			assert.Equal(t, map[string]any{"source": "sheet"}, ctx.Extra["meta"])
			assert.Equal(t, "2025-10-15", ctx.TimeOff.StartDate)
		})
	}

	// New entries still land next to the old ones.
	require.NoError(t, ctx.Merge(Context{
		TimeOff: &TimeOffContext{Modes: map[string]string{"custom_hours": "yes"}},
		Extra:   map[string]any{"attempts": 2},
	}))
	assert.Equal(t, map[string]string{"sick_leave_mode": "full_days", "custom_hours": "yes"}, ctx.TimeOff.Modes)
	assert.Equal(t, 2, ctx.Extra["attempts"])
	assert.Equal(t, "kept", ctx.Extra["note"])
}

func TestContextMergeDropsEmptyRecordFields(t *testing.T) {
	var ctx Context
	patch := Context{NewUser: &NewUserContext{Records: []NewUserRecord{
		{Fields: map[string]string{"name": "Rana", "phone": ""}},
	}}}
	require.NoError(t, ctx.Merge(patch))

	assert.Equal(t, map[string]string{"name": "Rana"}, ctx.NewUser.Records[0].Fields)
	// The caller's patch is not modified.
	assert.Contains(t, patch.NewUser.Records[0].Fields, "phone")
}

func TestContextMergeSanitizesExtra(t *testing.T) {
	var ctx Context
	require.NoError(t, ctx.Merge(Context{Extra: map[string]any{
		"callback": func() {},
		"count":    3,
	}}))

	assert.Equal(t, "<unserializable: func()>", ctx.Extra["callback"])
	assert.Equal(t, 3, ctx.Extra["count"])
}

func TestSanitizeDepth(t *testing.T) {
	var nested any = "leaf"
	for i := 0; i < 15; i++ {
		nested = map[string]any{"n": nested}
	}

	out := SanitizeValue(nested)

	cur := out
	found := false
	for i := 0; i < 15; i++ {
		m, ok := cur.(map[string]any)
		if !ok {
			found = cur == depthMarker
			break
		}
		cur = m["n"]
	}
	assert.True(t, found)
}

func TestSanitizeValues(t *testing.T) {
	type point struct {
		X int `json:"x"`
	}
	ts := time.Date(2025, 10, 15, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   any
		want any
	}{
		{"string", "a", "a"},
		{"time", ts, "2025-10-15T09:00:00Z"},
		{"struct", point{X: 2}, map[string]any{"x": float64(2)}},
		{"channel", make(chan int), "<unserializable: chan int>"},
		{"int keyed map", map[int]string{1: "a"}, "<unserializable: map[int]string>"},
		{"string slice", []string{"a", "b"}, []any{"a", "b"}},
		{"nil pointer", (*point)(nil), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeValue(tt.in))
		})
	}
}

func TestSessionCloneIsDeep(t *testing.T) {
	now := time.Now()
	s := &Session{
		ThreadID:  "t1",
		FlowType:  FlowTimeOff,
		State:     StateActive,
		Step:      2,
		Context:   Context{TimeOff: &TimeOffContext{StartDate: "2025-10-15"}},
		CreatedAt: now,
		ExpiresAt: now.Add(time.Minute),
	}

	c, err := s.Clone()
	require.NoError(t, err)
	c.Context.TimeOff.StartDate = "2025-11-01"

	assert.Equal(t, "2025-10-15", s.Context.TimeOff.StartDate)
	assert.True(t, c.ExpiresAt.Equal(s.ExpiresAt))
}

func TestSessionValidate(t *testing.T) {
	now := time.Now()
	valid := Session{ThreadID: "t", FlowType: FlowOvertime, State: StateStarted, Step: 1, CreatedAt: now, ExpiresAt: now}

	tests := []struct {
		name   string
		mutate func(s *Session)
		errMsg string
	}{
		{"valid", func(s *Session) {}, ""},
		{"no thread", func(s *Session) { s.ThreadID = "" }, "no thread id"},
		{"bad flow", func(s *Session) { s.FlowType = "payroll" }, "unknown flow type"},
		{"bad state", func(s *Session) { s.State = "paused" }, "unknown state"},
		{"bad step", func(s *Session) { s.Step = 0 }, "invalid step"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid
			tt.mutate(&s)
			err := s.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.errMsg))
		})
	}
}

func TestIdentityEmployeeID(t *testing.T) {
	assert.Equal(t, int64(12), Identity{UserID: "12"}.EmployeeID())
	assert.Equal(t, int64(5), Identity{UserID: "12", Employee: &Employee{ID: 5}}.EmployeeID())
	assert.False(t, Identity{UserID: "abc"}.Known())
}

func TestLeaveTypeKey(t *testing.T) {
	assert.Equal(t, "3", LeaveType{ID: 3, Name: "Annual Leave"}.Key())
	assert.Equal(t, "halfday_3", LeaveType{ID: 3, Name: "Custom Hours", SpecialCode: Halfday, BaseLeaveTypeID: 3}.Key())
}

func TestLeaveBalanceDescribe(t *testing.T) {
	tests := []struct {
		name string
		bal  LeaveBalance
		want string
	}{
		{"whole days", LeaveBalance{Allocated: 21, Taken: 5}, "16 days (128:00)"},
		{"half day", LeaveBalance{Allocated: 3, Taken: 0.5}, "2.5 days (20:00)"},
		{"single day", LeaveBalance{Allocated: 2, Taken: 1}, "1 day (8:00)"},
		{"overdrawn", LeaveBalance{Allocated: 2, Taken: 4}, "0 days (0:00)"},
		{"partial hours", LeaveBalance{Allocated: 1.3}, "1.3 days (10:24)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.bal.Describe())
		})
	}
}
