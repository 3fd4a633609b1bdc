package overtime

import (
	"context"
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/prezlab/nasma/backend/internal/domain/flow"
	"github.com/prezlab/nasma/backend/internal/domain/session"
	"github.com/prezlab/nasma/backend/internal/infrastructure/config"
	"github.com/prezlab/nasma/backend/internal/shared/dates"
	"github.com/prezlab/nasma/backend/internal/shared/types"
)

const thread = "thread-overtime"

type fakeERP struct {
	categoryErr error
	projects    []types.Project
	submitErr   error
	companies   []string
	submitted   []types.OvertimeRequest
}

func (e *fakeERP) OvertimeCategory(_ context.Context, company string) (int64, string, error) {
	e.companies = append(e.companies, company)
	if e.categoryErr != nil {
		return 0, "", e.categoryErr
	}
	return 12, "Overtime - " + company, nil
}

func (e *fakeERP) Projects(context.Context) ([]types.Project, error) {
	return e.projects, nil
}

func (e *fakeERP) SubmitOvertime(_ context.Context, req types.OvertimeRequest) (int64, error) {
	if e.submitErr != nil {
		return 0, e.submitErr
	}
	e.submitted = append(e.submitted, req)
	return 88, nil
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	sessions *session.Manager
	erp      *fakeERP
	flow     *Flow
	employee *types.Employee
}

func newHarness(t *testing.T, erp *fakeERP) *harness {
	t.Helper()
	store, err := session.NewFileStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	mgr := session.NewManager(store, session.WithTTL(time.Hour))
	parser := dates.NewParser(time.UTC).WithClock(func() time.Time {
		return time.Date(2025, 10, 15, 9, 0, 0, 0, time.UTC)
	})
	return &harness{
		t:        t,
		ctx:      context.Background(),
		sessions: mgr,
		erp:      erp,
		flow:     New(mgr, erp, config.DefaultCatalog(), WithDateParser(parser)),
		employee: &types.Employee{ID: 42, Name: "Omar Khalil", CompanyName: "Prezlab Dubai", TimeZone: "Asia/Dubai"},
	}
}

func (h *harness) request(msg string) flow.Request {
	return flow.Request{ThreadID: thread, Message: msg, Identity: types.Identity{Employee: h.employee}}
}

func (h *harness) start() *types.Response {
	h.t.Helper()
	resp, err := h.flow.Start(h.ctx, h.request("I want to request overtime"))
	require.NoError(h.t, err)
	return resp
}

func (h *harness) send(msg string) *types.Response {
	h.t.Helper()
	s, ok := h.sessions.GetActive(h.ctx, thread)
	require.True(h.t, ok, "no open session before %q", msg)
	resp, err := h.flow.Step(h.ctx, h.request(msg), s)
	require.NoError(h.t, err)
	require.NotNil(h.t, resp)
	return resp
}

func (h *harness) session() *types.Session {
	h.t.Helper()
	s, ok := h.sessions.Get(h.ctx, thread)
	require.True(h.t, ok)
	return s
}

func projects() []types.Project {
	return []types.Project{{ID: 7, Name: "Website Revamp"}, {ID: 9, Name: "Brand Refresh"}}
}

func TestScore(t *testing.T) {
	tests := []struct {
		message string
		want    bool
	}{
		{"I want to request overtime", true},
		{"log extra hours for yesterday", true},
		{"need to claim OT", true},
		{"overtime", false},
		{"what is the overtime policy", false},
		{"tell me about overtime rules", false},
		{"I need a hotel booking", false},
		{"submit my timesheet", false},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			assert.Equal(t, tt.want, Score(tt.message) >= IntentThreshold)
		})
	}
}

func TestOvertimeSubmission(t *testing.T) {
	h := newHarness(t, &fakeERP{projects: projects()})

	resp := h.start()
	assert.Equal(t, msgPickDate, resp.Message)
	assert.Equal(t, true, resp.Widgets[flow.WidgetSingleDate])
	assert.Equal(t, []string{"Prezlab Dubai"}, h.erp.companies)
	assert.Equal(t, StepDate, h.session().Step)

	resp = h.send("20/10/2025 to 21/10/2025")
	assert.Equal(t, msgOneDay, resp.Message)

	resp = h.send("sometime soon")
	assert.Equal(t, msgBadDate, resp.Message)

	resp = h.send("overtime_date_range=20/10/2025")
	assert.Equal(t, msgPickHours, resp.Message)
	assert.Equal(t, true, resp.Widgets[flow.WidgetHourRange])

	resp = h.send("7pm to 5pm")
	assert.Equal(t, msgBadHours, resp.Message)

	resp = h.send("hour_from=17.0&hour_to=19.5")
	assert.Equal(t, msgPickProject, resp.Message)
	assert.Equal(t, projectContextKey, resp.Widgets["context_key"])
	assert.Equal(t, []types.Option{{Value: "7", Label: "Website Revamp"}, {Value: "9", Label: "Brand Refresh"}}, resp.Widgets["options"])

	resp = h.send("overtime_project_id=99")
	assert.Equal(t, msgBadProject, resp.Message)

	resp = h.send("overtime_project_id=7")
	assert.Contains(t, resp.Message, "📂 **Category:** Overtime - Prezlab Dubai")
	assert.Contains(t, resp.Message, "📅 **Period:** 20/10/2025 → 20/10/2025")
	assert.Contains(t, resp.Message, "⏰ **Hours:** 5:00 PM → 7:30 PM")
	assert.Contains(t, resp.Message, "🕒 **Time Requested:** 2 hours 30 minutes")
	assert.Contains(t, resp.Message, "📁 **Project:** Website Revamp")
	assert.Len(t, resp.Buttons, 2)
	assert.Equal(t, StepConfirmation, h.session().Step)

	resp = h.send("maybe")
	assert.Contains(t, resp.Message, "Here are the details for your overtime request")

	resp = h.send("yes")
	assert.Equal(t, "✅ Overtime request #88 submitted for approval.", resp.Message)

	require.Len(t, h.erp.submitted, 1)
	req := h.erp.submitted[0]
	assert.Equal(t, int64(12), req.CategoryID)
	assert.Equal(t, "2025-10-20 13:00:00", req.Start)
	assert.Equal(t, "2025-10-20 15:30:00", req.End)
	assert.Equal(t, int64(7), req.ProjectID)

	s := h.session()
	assert.Equal(t, types.StateCompleted, s.State)
	assert.True(t, s.Result.Submitted)
	assert.Equal(t, []int{StepDate, StepHours, StepProject}, s.CompletedSteps)
}

func TestOvertimeWithoutProjectsSkipsSelection(t *testing.T) {
	h := newHarness(t, &fakeERP{})
	h.start()
	h.send("20/10/2025")

	resp := h.send("5pm - 6pm")
	assert.Contains(t, resp.Message, "🕒 **Time Requested:** 1 hour")
	assert.Contains(t, resp.Message, "📁 **Project:** -")
	assert.Equal(t, StepConfirmation, h.session().Step)
}

func TestCategoryMissingClearsSession(t *testing.T) {
	h := newHarness(t, &fakeERP{categoryErr: errors.New("no rows")})
	h.employee.CompanyName = ""

	resp := h.start()
	assert.Equal(t, "Sorry, I couldn't find the overtime category for Prezlab. Please contact HR.", resp.Message)
	_, ok := h.sessions.Get(h.ctx, thread)
	assert.False(t, ok)
}

func TestSubmissionFailure(t *testing.T) {
	h := newHarness(t, &fakeERP{projects: projects(), submitErr: errors.New("approver not configured")})
	h.start()
	h.send("20/10/2025")
	h.send("hour_from=18.0&hour_to=20.0")
	h.send("Brand Refresh")

	resp := h.send("confirm")
	assert.Equal(t, "❌ Failed to submit overtime request: approver not configured", resp.Message)
	s := h.session()
	assert.Equal(t, types.StateCompleted, s.State)
	assert.False(t, s.Result.Submitted)
	assert.Equal(t, "approver not configured", s.Result.Error)
}

func TestDeclineAtConfirmation(t *testing.T) {
	h := newHarness(t, &fakeERP{})
	h.start()
	h.send("20/10/2025")
	h.send("hour_from=18.0&hour_to=20.0")

	resp := h.send("no")
	assert.Equal(t, flow.CancelAck, resp.Message)
	assert.Equal(t, types.StateCancelled, h.session().State)
}

func TestDetectContinuation(t *testing.T) {
	f := New(nil, nil, nil)
	s := &types.Session{Context: types.Context{Overtime: &types.OvertimeContext{Projects: projects()}}}
	for _, msg := range []string{"overtime_date_range=20/10/2025", "20/10/2025", "5pm to 7pm", "yes", "website revamp"} {
		assert.True(t, f.DetectContinuation(msg, s), msg)
	}
	for _, msg := range []string{"I need sick leave", "hello"} {
		assert.False(t, f.DetectContinuation(msg, s), msg)
	}
}

func TestDuration(t *testing.T) {
	tests := []struct {
		hours float64
		want  string
	}{
		{1, "1 hour"},
		{2, "2 hours"},
		{0.5, "30 minutes"},
		{1.5, "1 hour 30 minutes"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, duration(tt.hours))
	}
}
