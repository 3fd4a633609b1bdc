package flow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/prezlab/nasma/backend/internal/domain/session"
	"github.com/prezlab/nasma/backend/internal/infrastructure/config"
	"github.com/prezlab/nasma/backend/internal/shared/types"
)

func TestVocabularyCancel(t *testing.T) {
	v := NewVocabulary(config.DefaultCatalog())

	tests := []struct {
		input string
		want  bool
	}{
		{"cancel", true},
		{"  Nevermind! ", true},
		{"no thanks", true},
		{"cancle", true},
		{"exitt", true},
		{"and", false},
		{"no", false},
		{"cancel my leave for tomorrow", false},
		{"annual leave", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, v.IsCancel(tt.input))
		})
	}

	assert.True(t, v.IsDecline("no"))
	assert.True(t, v.IsDecline("N"))
	assert.True(t, v.IsDecline("stop"))
	assert.False(t, v.IsDecline("yes"))
}

func TestConfirmAndWords(t *testing.T) {
	assert.True(t, IsConfirm("Yes!"))
	assert.True(t, IsConfirm("ok"))
	assert.False(t, IsConfirm("yes but change the date"))
	assert.True(t, HasWord("I need a day off", "need"))
	assert.False(t, HasWord("annual", "n"))
}

func TestPayload(t *testing.T) {
	v, ok := Payload("timeoff_date_range=15/10/2025 to 16/10/2025", "timeoff_date_range")
	require.True(t, ok)
	assert.Equal(t, "15/10/2025 to 16/10/2025", v)

	v, ok = Payload("Overtime_Project_ID= 12", "overtime_project_id")
	require.True(t, ok)
	assert.Equal(t, "12", v)

	_, ok = Payload("15/10/2025", "timeoff_date_range")
	assert.False(t, ok)
}

func TestReplies(t *testing.T) {
	r := ConfirmButtons(Reply("t1", "summary"))
	assert.True(t, r.SessionHandled)
	require.Len(t, r.Buttons, 2)
	assert.Equal(t, ButtonConfirmation, r.Buttons[0].Type)

	r = HourPicker(Reply("t1", "hours"))
	assert.Equal(t, true, r.Widgets[WidgetHourRange])
	assert.NotEmpty(t, r.Widgets["hour_options"])

	r = Busy("t1", types.FlowOvertime, types.FlowTimeOff)
	assert.Contains(t, r.Message, "active overtime request")
	assert.Contains(t, r.Message, "new time-off request")
}

type stubFlow struct {
	sessions *session.Manager
	started  int
}

func (f *stubFlow) Type() types.FlowType                           { return types.FlowOvertime }
func (f *stubFlow) DetectStart(string) bool                        { return true }
func (f *stubFlow) DetectContinuation(string, *types.Session) bool { return true }
func (f *stubFlow) Step(context.Context, Request, *types.Session) (*types.Response, error) {
	return nil, nil
}
func (f *stubFlow) Restart(ctx context.Context, req Request, _ *types.Session) (*types.Response, error) {
	return Restart(ctx, f.sessions, f, req)
}
func (f *stubFlow) Start(ctx context.Context, req Request) (*types.Response, error) {
	f.started++
	if _, err := Begin(ctx, f.sessions, req, types.FlowOvertime, types.Context{}); err != nil {
		return nil, err
	}
	return Reply(req.ThreadID, "started"), nil
}

func TestRestartIsIdentityScoped(t *testing.T) {
	ctx := context.Background()
	store, err := session.NewFileStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	mgr := session.NewManager(store, session.WithTTL(time.Hour))

	alice := types.Identity{Employee: &types.Employee{ID: 1, Name: "Alice"}}
	bob := types.Identity{Employee: &types.Employee{ID: 2, Name: "Bob"}}

	f := &stubFlow{sessions: mgr}
	_, err = f.Start(ctx, Request{ThreadID: "alice-old", Identity: alice})
	require.NoError(t, err)
	_, err = f.Start(ctx, Request{ThreadID: "bob", Identity: bob})
	require.NoError(t, err)

	_, err = f.Restart(ctx, Request{ThreadID: "alice-new", Identity: alice}, nil)
	require.NoError(t, err)

	_, ok := mgr.Get(ctx, "alice-old")
	assert.False(t, ok)
	_, ok = mgr.GetActive(ctx, "bob")
	assert.True(t, ok)
	s, ok := mgr.GetActive(ctx, "alice-new")
	require.True(t, ok)
	assert.Equal(t, int64(1), s.EmployeeID())
	assert.Equal(t, "Alice", s.Context.Employee.Name)
}
