package intent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/prezlab/nasma/backend/internal/domain/flow"
	"github.com/prezlab/nasma/backend/internal/domain/flow/timeoff"
	"github.com/prezlab/nasma/backend/internal/domain/session"
	"github.com/prezlab/nasma/backend/internal/infrastructure/config"
	"github.com/prezlab/nasma/backend/internal/shared/types"
)

// scripted is a flow whose detection is driven by message prefixes:
// "start <flow>" starts it and "answer" continues it.
type scripted struct {
	ft       types.FlowType
	sessions *session.Manager
	stepErr  error
	started  int
	steps    []string
}

func (f *scripted) Type() types.FlowType { return f.ft }

func (f *scripted) DetectStart(message string) bool {
	return strings.HasPrefix(message, "start "+string(f.ft)) || message == "start anything"
}

func (f *scripted) DetectContinuation(message string, _ *types.Session) bool {
	return strings.HasPrefix(message, "answer") || message == "no"
}

func (f *scripted) Start(ctx context.Context, req flow.Request) (*types.Response, error) {
	f.started++
	if _, err := flow.Begin(ctx, f.sessions, req, f.ft, types.Context{}); err != nil {
		return nil, err
	}
	return flow.Reply(req.ThreadID, "started "+string(f.ft)), nil
}

func (f *scripted) Step(ctx context.Context, req flow.Request, s *types.Session) (*types.Response, error) {
	if f.stepErr != nil {
		return nil, f.stepErr
	}
	f.steps = append(f.steps, req.Message)
	if _, err := flow.Advance(ctx, f.sessions, req.ThreadID, s.Step+1, nil); err != nil {
		return nil, err
	}
	return flow.Reply(req.ThreadID, "step "+string(f.ft)), nil
}

func (f *scripted) Restart(ctx context.Context, req flow.Request, _ *types.Session) (*types.Response, error) {
	return flow.Restart(ctx, f.sessions, f, req)
}

type stubDocuments struct {
	err    error
	resets []string
}

func (d *stubDocuments) Match(req flow.Request) bool {
	return strings.Contains(req.Text(), "letter")
}

func (d *stubDocuments) Reset(threadID string) {
	d.resets = append(d.resets, threadID)
}

func (d *stubDocuments) Handle(_ context.Context, req flow.Request) (*types.Response, error) {
	if d.err != nil {
		return nil, d.err
	}
	return &types.Response{Message: "here is your letter", ThreadID: req.ThreadID}, nil
}

type stubRequests struct {
	err   error
	calls []string
}

func (q *stubRequests) Match(req flow.Request) bool {
	return strings.Contains(req.Text(), "my requests")
}

func (q *stubRequests) Handle(_ context.Context, req flow.Request) (*types.Response, error) {
	q.calls = append(q.calls, req.Message)
	if q.err != nil {
		return nil, q.err
	}
	return &types.Response{Message: "2 pending", ThreadID: req.ThreadID}, nil
}

type stubAssistant struct {
	err   error
	calls []string
}

func (a *stubAssistant) Reply(_ context.Context, req flow.Request) (*types.Response, error) {
	a.calls = append(a.calls, req.Message)
	if a.err != nil {
		return nil, a.err
	}
	return &types.Response{Message: "assistant: " + req.Message}, nil
}

type routeLog struct {
	mu     sync.Mutex
	routes []Route
}

func (l *routeLog) Routed(route Route, _ types.FlowType, _ time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.routes = append(l.routes, route)
}

type harness struct {
	t         *testing.T
	ctx       context.Context
	sessions  *session.Manager
	timeOff   *scripted
	overtime  *scripted
	assistant *stubAssistant
	routes    *routeLog
	router    *Router
	alice     types.Identity
	bob       types.Identity
}

func newManager(t *testing.T) *session.Manager {
	t.Helper()
	store, err := session.NewFileStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return session.NewManager(store, session.WithTTL(time.Hour))
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	mgr := newManager(t)
	h := &harness{
		t:         t,
		ctx:       context.Background(),
		sessions:  mgr,
		timeOff:   &scripted{ft: types.FlowTimeOff, sessions: mgr},
		overtime:  &scripted{ft: types.FlowOvertime, sessions: mgr},
		assistant: &stubAssistant{},
		routes:    &routeLog{},
		alice:     types.Identity{Employee: &types.Employee{ID: 1, Name: "Alice"}},
		bob:       types.Identity{Employee: &types.Employee{ID: 2, Name: "Bob"}},
	}
	opts = append([]Option{WithAssistant(h.assistant), WithRecorder(h.routes)}, opts...)
	// Registered out of priority order on purpose.
	h.router = New(mgr, config.DefaultCatalog(), []flow.Flow{h.overtime, h.timeOff}, opts...)
	return h
}

func (h *harness) send(thread, msg string) *types.Response {
	h.t.Helper()
	return h.sendAs(h.alice, thread, msg)
}

func (h *harness) sendAs(identity types.Identity, thread, msg string) *types.Response {
	h.t.Helper()
	resp, err := h.router.Handle(h.ctx, flow.Request{ThreadID: thread, Message: msg, Identity: identity})
	require.NoError(h.t, err)
	require.NotNil(h.t, resp)
	return resp
}

func (h *harness) lastRoute() Route {
	h.routes.mu.Lock()
	defer h.routes.mu.Unlock()
	require.NotEmpty(h.t, h.routes.routes)
	return h.routes.routes[len(h.routes.routes)-1]
}

func TestStartFollowsFlowPriority(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, types.FlowTimeOff, h.router.Flows()[0].Type())

	resp := h.send("t1", "start anything")
	assert.Equal(t, "started time_off", resp.Message)
	assert.Equal(t, "time_off", resp.Source)
	assert.Equal(t, RouteStart, h.lastRoute())

	s, ok := h.sessions.GetActive(h.ctx, "t1")
	require.True(t, ok)
	assert.Equal(t, types.FlowTimeOff, s.FlowType)
	assert.Equal(t, 0, h.overtime.started)
}

func TestActiveSessionReceivesEveryAnswer(t *testing.T) {
	h := newHarness(t)
	h.send("t1", "start overtime")

	assert.Equal(t, "step overtime", h.send("t1", "answer 1").Message)
	// Unrecognised input still goes to the flow, which re-prompts.
	assert.Equal(t, "step overtime", h.send("t1", "what?").Message)
	assert.Equal(t, []string{"answer 1", "what?"}, h.overtime.steps)
	assert.Empty(t, h.assistant.calls)
	assert.Equal(t, RouteStep, h.lastRoute())
}

func TestGlobalCancel(t *testing.T) {
	for _, msg := range []string{"cancel", "nevermind", "Never mind!", "no thanks", "cancle", "STOP"} {
		t.Run(msg, func(t *testing.T) {
			h := newHarness(t)
			h.send("t1", "start overtime")
			h.send("t1", "answer 1")

			resp := h.send("t1", msg)
			assert.Equal(t, flow.CancelAck, resp.Message)
			assert.Equal(t, RouteCancel, h.lastRoute())

			s, ok := h.sessions.Get(h.ctx, "t1")
			require.True(t, ok)
			assert.Equal(t, types.StateCancelled, s.State)
			assert.Equal(t, []string{"answer 1"}, h.overtime.steps)
		})
	}
}

func TestBareNoIsLeftToTheFlow(t *testing.T) {
	h := newHarness(t)
	h.send("t1", "start overtime")

	assert.Equal(t, "step overtime", h.send("t1", "no").Message)
	assert.Equal(t, []string{"no"}, h.overtime.steps)
}

func TestCancelWithoutSession(t *testing.T) {
	h := newHarness(t)

	resp := h.send("t1", "cancel")
	assert.Equal(t, flow.CancelAck, resp.Message)
	assert.Equal(t, RouteCancel, h.lastRoute())
	assert.Empty(t, h.assistant.calls)
}

func TestAnotherFlowIsBusy(t *testing.T) {
	h := newHarness(t)
	h.send("t1", "start overtime")

	resp := h.send("t1", "start time_off please")
	assert.Equal(t,
		"You're currently in an active overtime request. Please complete it or type 'cancel' before starting a new time-off request.",
		resp.Message)
	assert.Equal(t, RouteBusy, h.lastRoute())
	assert.Equal(t, 0, h.timeOff.started)

	s, ok := h.sessions.GetActive(h.ctx, "t1")
	require.True(t, ok)
	assert.Equal(t, types.FlowOvertime, s.FlowType)
}

func TestSameFlowRestarts(t *testing.T) {
	h := newHarness(t)
	h.send("t1", "start overtime")
	h.send("t1", "answer 1")

	resp := h.send("t1", "start overtime again")
	assert.Equal(t, "started overtime", resp.Message)
	assert.Equal(t, RouteRestart, h.lastRoute())
	assert.Equal(t, 2, h.overtime.started)

	s, ok := h.sessions.GetActive(h.ctx, "t1")
	require.True(t, ok)
	assert.Equal(t, 1, s.Step)
}

func TestFlowErrorClearsSession(t *testing.T) {
	h := newHarness(t)
	h.send("t1", "start overtime")
	h.overtime.stepErr = errors.New("boom")

	resp := h.send("t1", "answer 1")
	assert.Contains(t, resp.Message, "I tried to help with your overtime request but encountered a technical issue")
	assert.Equal(t, RouteFailure, h.lastRoute())

	_, ok := h.sessions.Get(h.ctx, "t1")
	assert.False(t, ok)
}

func TestDocumentsThenAssistant(t *testing.T) {
	h := newHarness(t, WithDocuments(&stubDocuments{}))

	resp := h.send("t1", "I need an employment letter")
	assert.Equal(t, "here is your letter", resp.Message)
	assert.Equal(t, "document", resp.Source)
	assert.Equal(t, RouteDocument, h.lastRoute())

	resp = h.send("t1", "what is the overtime policy?")
	assert.Equal(t, "assistant: what is the overtime policy?", resp.Message)
	assert.Equal(t, "assistant", resp.Source)
	assert.Equal(t, "t1", resp.ThreadID)
	assert.Equal(t, RouteAssistant, h.lastRoute())
}

func TestRequestsBeforeFlowStart(t *testing.T) {
	reqs := &stubRequests{}
	h := newHarness(t, WithRequests(reqs))

	resp := h.send("t1", "start time_off my requests")
	assert.Equal(t, "2 pending", resp.Message)
	assert.Equal(t, "requests", resp.Source)
	assert.True(t, resp.SessionHandled)
	assert.Equal(t, RouteRequests, h.lastRoute())
	assert.Equal(t, 0, h.timeOff.started)

	reqs.err = errors.New("odoo down")
	resp = h.send("t1", "my requests")
	assert.Equal(t, msgRequestsDown, resp.Message)

	h.send("t1", "start time_off")
	assert.Equal(t, RouteStart, h.lastRoute())
	resp = h.send("t1", "answer my requests")
	assert.Equal(t, "step time_off", resp.Message)
	assert.Len(t, reqs.calls, 2)
}

func TestCancelAndFlowStartResetDocuments(t *testing.T) {
	docs := &stubDocuments{}
	h := newHarness(t, WithDocuments(docs))

	h.send("t1", "embassy letter")
	assert.Empty(t, docs.resets)

	h.send("t1", "cancel")
	assert.Equal(t, RouteCancel, h.lastRoute())
	h.send("t2", "start overtime")
	assert.Equal(t, RouteStart, h.lastRoute())
	assert.Equal(t, []string{"t1", "t2"}, docs.resets)
}

func TestCollaboratorFailuresKeepTheConversationAlive(t *testing.T) {
	h := newHarness(t, WithDocuments(&stubDocuments{err: errors.New("template missing")}))
	h.assistant.err = errors.New("upstream 502")

	assert.Equal(t, msgAssistantDown, h.send("t1", "experience letter please").Message)
	assert.Equal(t, msgAssistantDown, h.send("t1", "hello").Message)
}

func TestFallbackWithoutAssistant(t *testing.T) {
	mgr := newManager(t)
	r := New(mgr, nil, nil)

	resp, err := r.Handle(context.Background(), flow.Request{ThreadID: "t1", Message: "hello"})
	require.NoError(t, err)
	assert.Equal(t, msgFallback, resp.Message)
}

func TestMissingThreadGetsOne(t *testing.T) {
	h := newHarness(t)

	resp := h.send("", "start overtime")
	require.NotEmpty(t, resp.ThreadID)
	s, ok := h.sessions.GetActive(h.ctx, resp.ThreadID)
	require.True(t, ok)
	assert.Equal(t, types.FlowOvertime, s.FlowType)
}

func TestRebindOrphanedSession(t *testing.T) {
	h := newHarness(t)
	h.send("orphan", "start overtime")

	// Another employee is never rebound to it.
	resp := h.sendAs(h.bob, "", "answer 1")
	assert.Equal(t, RouteAssistant, h.lastRoute())
	assert.NotEqual(t, "orphan", resp.ThreadID)

	// Bob's own time-off session does not make Alice's rebinding ambiguous.
	h.sendAs(h.bob, "bob", "start time_off")
	assert.Equal(t, RouteStart, h.lastRoute())

	resp = h.send("lost", "answer 1")
	assert.Equal(t, "step overtime", resp.Message)
	assert.Equal(t, "orphan", resp.ThreadID)
	assert.Equal(t, []string{"answer 1"}, h.overtime.steps)
}

func TestNoRebindWhenAmbiguous(t *testing.T) {
	h := newHarness(t)
	h.send("first", "start overtime")
	h.send("second", "start overtime")

	// Starting again cleared "first", so reopen it behind the router's back.
	_, err := h.sessions.Start(h.ctx, "first", types.FlowOvertime, types.Context{Employee: h.alice.Employee})
	require.NoError(t, err)

	h.send("lost", "answer 1")
	assert.Equal(t, RouteAssistant, h.lastRoute())
	assert.Empty(t, h.overtime.steps)
}

type leaveERP struct {
	submitErr error
}

func (e *leaveERP) LeaveTypes(context.Context) ([]types.LeaveType, error) {
	return []types.LeaveType{
		{ID: 1, Name: "Annual Leave"},
		{ID: 2, Name: "Sick Leave"},
		{ID: 3, Name: "Unpaid Leave"},
	}, nil
}

func (e *leaveERP) SubmitLeave(context.Context, types.LeaveRequest) (int64, error) {
	if e.submitErr != nil {
		return 0, e.submitErr
	}
	return 7, nil
}

func (e *leaveERP) LeaveBalance(_ context.Context, _ int64, lt types.LeaveType) (types.LeaveBalance, error) {
	return types.LeaveBalance{LeaveType: lt.Name, Allocated: 21, Taken: 3}, nil
}

func TestTimeOffConversation(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()
	r := New(mgr, config.DefaultCatalog(), []flow.Flow{
		timeoff.New(mgr, &leaveERP{}, config.DefaultCatalog()),
	})
	alice := types.Identity{Employee: &types.Employee{ID: 1, Name: "Alice"}}
	send := func(msg string) *types.Response {
		resp, err := r.Handle(ctx, flow.Request{ThreadID: "t1", Message: msg, Identity: alice})
		require.NoError(t, err)
		return resp
	}

	resp := send("I want time off")
	assert.Equal(t, "I'll help you request time off! Please select the type of leave you need:", resp.Message)
	assert.NotEmpty(t, resp.Buttons)
	s, ok := mgr.GetActive(ctx, "t1")
	require.True(t, ok)
	assert.Equal(t, types.FlowTimeOff, s.FlowType)
	assert.Equal(t, 1, s.Step)

	resp = send("2")
	assert.Equal(t, "For Sick Leave, do you want to take Full Days or Custom Hours?", resp.Message)

	resp = send("nevermind")
	assert.Equal(t, flow.CancelAck, resp.Message)
	s, ok = mgr.Get(ctx, "t1")
	require.True(t, ok)
	assert.Equal(t, types.StateCancelled, s.State)
}
