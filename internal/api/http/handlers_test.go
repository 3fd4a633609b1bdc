package http

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/prezlab/nasma/backend/internal/api/chat"
	"github.com/prezlab/nasma/backend/internal/collaborators/events"
	"github.com/prezlab/nasma/backend/internal/domain/flow"
	"github.com/prezlab/nasma/backend/internal/domain/session"
	"github.com/prezlab/nasma/backend/internal/infrastructure/monitoring"
	"github.com/prezlab/nasma/backend/internal/shared/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type echoRouter struct {
	last flow.Request
}

func (r *echoRouter) Handle(ctx context.Context, req flow.Request) (*types.Response, error) {
	r.last = req
	threadID := req.ThreadID
	if threadID == "" {
		threadID = "thr_generated"
	}
	return &types.Response{Message: "echo: " + req.Message, ThreadID: threadID, SessionHandled: true}, nil
}

type fakeSheets struct {
	req  flow.Request
	name string
	data []byte
}

func (f *fakeSheets) LoadSheet(ctx context.Context, req flow.Request, filename string, data []byte) (*types.Response, error) {
	f.req, f.name, f.data = req, filename, data
	return &types.Response{Message: "loaded", SessionHandled: true}, nil
}

type fakeEvents struct {
	outcomes []events.Outcome
	recent   []events.Event
	since    time.Time
}

func (f *fakeEvents) Outcomes(ctx context.Context, since time.Time) ([]events.Outcome, error) {
	f.since = since
	return f.outcomes, nil
}

func (f *fakeEvents) Recent(ctx context.Context, threadID string, limit int) ([]events.Event, error) {
	return f.recent, nil
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(ctx context.Context) error { return p.err }

type fakeDrafts struct{ reset []string }

func (d *fakeDrafts) Reset(threadID string) { d.reset = append(d.reset, threadID) }

type harness struct {
	engine   *gin.Engine
	router   *echoRouter
	sessions *session.Manager
	sheets   *fakeSheets
	events   *fakeEvents
	drafts   *fakeDrafts
}

func newHarness(t *testing.T, erp Pinger) *harness {
	t.Helper()
	store, err := session.NewFileStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	h := &harness{
		router:   &echoRouter{},
		sessions: session.NewManager(store),
		sheets:   &fakeSheets{},
		events:   &fakeEvents{},
		drafts:   &fakeDrafts{},
	}
	handlers := NewHandlers(Deps{
		Chat:     chat.NewService(h.router, nil),
		Sessions: h.sessions,
		Sheets:   h.sheets,
		Events:   h.events,
		ERP:      erp,
		Drafts:   h.drafts,
		Metrics:  monitoring.NewMetrics(),
	})
	h.engine = gin.New()
	handlers.Register(h.engine)
	return h
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func multipartBody(t *testing.T, filename string, data []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), bytes.Repeat([]byte{0}, 64)...)

func TestChat(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		header   map[string]string
		status   int
		threadID string
	}{
		{name: "new thread", body: `{"message":"I want time off"}`, status: http.StatusOK, threadID: "thr_generated"},
		{name: "existing thread", body: `{"message":"yes","thread_id":"thr_1"}`, status: http.StatusOK, threadID: "thr_1"},
		{name: "thread from header", body: `{"message":"yes"}`, header: map[string]string{HeaderThreadID: "thr_h"}, status: http.StatusOK, threadID: "thr_h"},
		{name: "missing message", body: `{"thread_id":"thr_1"}`, status: http.StatusBadRequest},
		{name: "blank message", body: `{"message":"   "}`, status: http.StatusBadRequest},
		{name: "bad thread id", body: `{"message":"hi","thread_id":"a/b"}`, status: http.StatusBadRequest},
		{name: "malformed json", body: `{`, status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			w := h.do(req)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.status != http.StatusOK {
				assert.Contains(t, decode(t, w), "error")
				return
			}
			body := decode(t, w)
			assert.Equal(t, tt.threadID, body["thread_id"])
			assert.Equal(t, tt.threadID, w.Header().Get(HeaderThreadID))
			assert.Equal(t, true, body["session_handled"])
		})
	}
}

func TestChatPassesCallerClaim(t *testing.T) {
	h := newHarness(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/chat",
		strings.NewReader(`{"message":"hello","employee":{"id":42,"name":"Lina","department":"Design"}}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTenantID, "3")
	w := h.do(req)
	require.Equal(t, http.StatusOK, w.Code)

	ident := h.router.last.Identity
	assert.Equal(t, int64(42), ident.EmployeeID())
	assert.Equal(t, "Lina", ident.UserName)
	assert.Equal(t, "3", ident.TenantID)
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		erp    Pinger
		status string
	}{
		{name: "no erp", erp: nil, status: "healthy"},
		{name: "erp up", erp: fakePinger{}, status: "healthy"},
		{name: "erp down", erp: fakePinger{err: errors.New("connection refused")}, status: "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.erp)
			w := h.do(httptest.NewRequest(http.MethodGet, "/health", nil))
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.status, decode(t, w)["status"])
		})
	}
}

func TestSessionEndpoints(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_, err := h.sessions.Start(ctx, "thr_1", types.FlowOvertime, types.Context{})
	require.NoError(t, err)
	h.events.recent = []events.Event{{Kind: events.KindStarted, ThreadID: "thr_1"}}

	w := h.do(httptest.NewRequest(http.MethodGet, "/sessions/thr_1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "overtime", body["session"].(map[string]any)["flow_type"])
	assert.Len(t, body["events"], 1)

	w = h.do(httptest.NewRequest(http.MethodGet, "/sessions/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode(t, w)["sessions"].(map[string]any)
	assert.EqualValues(t, 1, stats["active"])

	w = h.do(httptest.NewRequest(http.MethodDelete, "/sessions/thr_1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"thr_1"}, h.drafts.reset)

	w = h.do(httptest.NewRequest(http.MethodGet, "/sessions/thr_1", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionStatsWindow(t *testing.T) {
	h := newHarness(t, nil)

	w := h.do(httptest.NewRequest(http.MethodGet, "/sessions/stats?days=0", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(httptest.NewRequest(http.MethodGet, "/sessions/stats?days=30", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.WithinDuration(t, time.Now().Add(-30*24*time.Hour), h.events.since, time.Minute)
}

func TestUploadDocument(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_, err := h.sessions.Start(ctx, "thr_leave", types.FlowTimeOff, types.Context{TimeOff: &types.TimeOffContext{}})
	require.NoError(t, err)

	upload := func(thread, name string, data []byte) *httptest.ResponseRecorder {
		body, ct := multipartBody(t, name, data, nil)
		req := httptest.NewRequest(http.MethodPost, "/sessions/"+thread+"/documents", body)
		req.Header.Set("Content-Type", ct)
		return h.do(req)
	}

	w := upload("thr_leave", "note.png", pngBytes)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	att := decode(t, w)["attachment"].(map[string]any)
	assert.Equal(t, "image/png", att["mimetype"])
	assert.Empty(t, att["data"], "file content is not echoed back")

	w = upload("thr_leave", "again.png", pngBytes)
	require.Equal(t, http.StatusOK, w.Code)
	s, ok := h.sessions.Get(ctx, "thr_leave")
	require.True(t, ok)
	assert.Len(t, s.Context.TimeOff.Documents, 1, "duplicate upload is kept once")

	assert.Equal(t, http.StatusUnsupportedMediaType, upload("thr_leave", "notes.txt", []byte("plain words")).Code)
	assert.Equal(t, http.StatusNotFound, upload("thr_none", "note.png", pngBytes).Code)
}

func TestUploadDocumentRequiresFile(t *testing.T) {
	h := newHarness(t, nil)
	body, ct := multipartBody(t, "", nil, map[string]string{"note": "x"})
	req := httptest.NewRequest(http.MethodPost, "/sessions/thr_1/documents", body)
	req.Header.Set("Content-Type", ct)
	assert.Equal(t, http.StatusBadRequest, h.do(req).Code)
}

func TestUploadSheet(t *testing.T) {
	h := newHarness(t, nil)
	sheet := []byte("Email Address,First and last name as per your passport (in English)\na@b.co,Sam Lee\n")
	body, ct := multipartBody(t, "hires.csv", sheet, map[string]string{
		"employee": `{"id":9,"name":"HR Person","department":"People & Culture"}`,
	})
	req := httptest.NewRequest(http.MethodPost, "/sessions/thr_hr/new-users", body)
	req.Header.Set("Content-Type", ct)
	w := h.do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, "thr_hr", decode(t, w)["thread_id"])
	assert.Equal(t, "hires.csv", h.sheets.name)
	assert.Equal(t, sheet, h.sheets.data)
	assert.Equal(t, "People & Culture", h.sheets.req.Identity.Employee.Department)
}

func TestUploadSheetRejectsBadEmployee(t *testing.T) {
	h := newHarness(t, nil)
	body, ct := multipartBody(t, "hires.csv", []byte("a,b\n"), map[string]string{"employee": "{not json"})
	req := httptest.NewRequest(http.MethodPost, "/sessions/thr_hr/new-users", body)
	req.Header.Set("Content-Type", ct)
	assert.Equal(t, http.StatusBadRequest, h.do(req).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	w := h.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "nasma_uptime_seconds")

	w = h.do(httptest.NewRequest(http.MethodGet, "/metrics/json", nil))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestLogLevelEndpoint(t *testing.T) {
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	handlers := NewHandlers(Deps{LogLevel: level})
	engine := gin.New()
	handlers.Register(engine)

	req := httptest.NewRequest(http.MethodPut, "/log/level", strings.NewReader(`{"level":"debug"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, zap.DebugLevel, level.Level())

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/log/level", nil))
	assert.Contains(t, w.Body.String(), `"level":"debug"`)
}
