// Package intent decides where each chat turn goes: the flow that owns the
// thread, the caller's request list, a flow the message starts, the
// document desk or the assistant.
package intent

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/prezlab/nasma/backend/internal/domain/flow"
	"github.com/prezlab/nasma/backend/internal/domain/session"
	"github.com/prezlab/nasma/backend/internal/infrastructure/config"
	"github.com/prezlab/nasma/backend/internal/infrastructure/tracing"
	"github.com/prezlab/nasma/backend/internal/shared/id"
	"github.com/prezlab/nasma/backend/internal/shared/types"
)

// Route names the branch a turn took.
type Route string

const (
	RouteCancel    Route = "cancel"
	RouteStep      Route = "step"
	RouteStart     Route = "start"
	RouteRestart   Route = "restart"
	RouteBusy      Route = "busy"
	RouteRequests  Route = "requests"
	RouteDocument  Route = "document"
	RouteAssistant Route = "assistant"
	RouteFallback  Route = "fallback"
	RouteFailure   Route = "failure"
)

const (
	msgAssistantDown = "I'm having trouble answering right now. Please try again in a moment."
	msgFallback      = "I can help you request time off, overtime or reimbursements, log your hours and prepare HR letters. What would you like to do?"
	msgRequestsDown  = "I couldn't reach your requests right now. Please try again in a moment."
)

var errNoResponse = errors.New("flow returned no response")

// Documents answers requests for generated HR letters. A desk may hold a
// half-finished request per thread; Reset drops it.
type Documents interface {
	Match(req flow.Request) bool
	Handle(ctx context.Context, req flow.Request) (*types.Response, error)
	Reset(threadID string)
}

// Requests lists the caller's pending requests and cancels them.
type Requests interface {
	Match(req flow.Request) bool
	Handle(ctx context.Context, req flow.Request) (*types.Response, error)
}

// Assistant answers everything no flow or document claims.
type Assistant interface {
	Reply(ctx context.Context, req flow.Request) (*types.Response, error)
}

// Recorder observes routed turns.
type Recorder interface {
	Routed(route Route, flowType types.FlowType, elapsed time.Duration)
}

// Router dispatches chat turns. It holds no per-thread state of its own;
// everything it knows about a conversation comes from the session manager.
type Router struct {
	sessions  *session.Manager
	flows     []flow.Flow
	byType    map[types.FlowType]flow.Flow
	vocab     *flow.Vocabulary
	requests  Requests
	documents Documents
	assistant Assistant
	recorder  Recorder
	tracer    *tracing.Tracer
	log       *zap.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithDocuments sets the document desk consulted after flow detection.
func WithDocuments(d Documents) Option {
	return func(r *Router) {
		r.documents = d
	}
}

// WithRequests sets the desk consulted before flow detection, so "my
// time off requests" lists requests instead of starting a new one.
func WithRequests(q Requests) Option {
	return func(r *Router) {
		r.requests = q
	}
}

// WithAssistant sets the conversational fallback.
func WithAssistant(a Assistant) Option {
	return func(r *Router) {
		r.assistant = a
	}
}

// WithRecorder sets the turn observer.
func WithRecorder(rec Recorder) Option {
	return func(r *Router) {
		r.recorder = rec
	}
}

// WithTracer wraps every turn in a span.
func WithTracer(t *tracing.Tracer) Option {
	return func(r *Router) {
		r.tracer = t
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(r *Router) {
		if log != nil {
			r.log = log
		}
	}
}

// New creates a router over flows. Start detection follows the
// types.AllFlows priority regardless of the order flows are passed in.
func New(sessions *session.Manager, catalog *config.Catalog, flows []flow.Flow, opts ...Option) *Router {
	priority := make(map[types.FlowType]int)
	for i, ft := range types.AllFlows() {
		priority[ft] = i
	}
	ordered := append([]flow.Flow(nil), flows...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return priority[ordered[i].Type()] < priority[ordered[j].Type()]
	})

	r := &Router{
		sessions: sessions,
		flows:    ordered,
		byType:   make(map[types.FlowType]flow.Flow, len(ordered)),
		vocab:    flow.NewVocabulary(catalog),
		log:      zap.NewNop(),
	}
	for _, f := range ordered {
		r.byType[f.Type()] = f
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Flows returns the registered flows in priority order.
func (r *Router) Flows() []flow.Flow {
	return r.flows
}

// Flow returns the flow registered for ft.
func (r *Router) Flow(ft types.FlowType) (flow.Flow, bool) {
	f, ok := r.byType[ft]
	return f, ok
}

// Handle routes one turn. The returned response always carries the thread
// id the client should use next, which differs from the request when the
// thread was missing or an orphaned session was rebound.
func (r *Router) Handle(ctx context.Context, req flow.Request) (*types.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	started := time.Now()

	var span *tracing.Span
	if r.tracer != nil {
		span, ctx = r.tracer.StartSpan(ctx, "chat.turn")
	}

	resp, route, ft := r.route(ctx, &req)
	if resp.ThreadID == "" {
		resp.ThreadID = req.ThreadID
	}

	elapsed := time.Since(started)
	if r.recorder != nil {
		r.recorder.Routed(route, ft, elapsed)
	}
	if span != nil {
		span.SetTag("route", string(route))
		span.SetTag("flow", string(ft))
		span.SetTag("thread_id", resp.ThreadID)
		r.tracer.End(span)
	}
	r.log.Debug("turn routed",
		zap.String("thread_id", resp.ThreadID),
		zap.String("route", string(route)),
		zap.String("flow", string(ft)),
		zap.Duration("elapsed", elapsed))
	return resp, nil
}

func (r *Router) route(ctx context.Context, req *flow.Request) (*types.Response, Route, types.FlowType) {
	if s, ok := r.active(ctx, req); ok {
		return r.continueFlow(ctx, *req, s)
	}
	if req.ThreadID == "" {
		req.ThreadID = id.NewThreadID().String()
	}
	msg := req.Text()

	if r.vocab.IsCancel(msg) {
		r.sessions.Clear(ctx, req.ThreadID)
		r.resetDocuments(req.ThreadID)
		return flow.Reply(req.ThreadID, flow.CancelAck), RouteCancel, types.FlowNone
	}

	if r.requests != nil && r.requests.Match(*req) {
		resp, err := r.requests.Handle(ctx, *req)
		if err != nil || resp == nil {
			r.log.Warn("requests lookup failed", zap.String("thread_id", req.ThreadID), zap.Error(err))
			resp = flow.Reply(req.ThreadID, msgRequestsDown)
		}
		resp.SessionHandled = true
		if resp.Source == "" {
			resp.Source = "requests"
		}
		return resp, RouteRequests, types.FlowNone
	}

	if f := r.starting(msg); f != nil {
		r.resetDocuments(req.ThreadID)
		resp, err := f.Restart(ctx, *req, nil)
		if err == nil && resp == nil {
			err = errNoResponse
		}
		if err != nil {
			return r.failed(ctx, *req, f.Type(), err), RouteFailure, f.Type()
		}
		return sourced(resp, f.Type()), RouteStart, f.Type()
	}

	if r.documents != nil && r.documents.Match(*req) {
		resp, err := r.documents.Handle(ctx, *req)
		if err != nil || resp == nil {
			r.log.Warn("document request failed", zap.String("thread_id", req.ThreadID), zap.Error(err))
			resp = flow.Reply(req.ThreadID, msgAssistantDown)
		}
		resp.SessionHandled = true
		if resp.Source == "" {
			resp.Source = "document"
		}
		return resp, RouteDocument, types.FlowNone
	}

	if r.assistant != nil {
		resp, err := r.assistant.Reply(ctx, *req)
		if err != nil || resp == nil {
			r.log.Warn("assistant reply failed", zap.String("thread_id", req.ThreadID), zap.Error(err))
			resp = &types.Response{Message: msgAssistantDown, ThreadID: req.ThreadID}
		}
		if resp.Source == "" {
			resp.Source = "assistant"
		}
		return resp, RouteAssistant, types.FlowNone
	}

	return &types.Response{Message: msgFallback, ThreadID: req.ThreadID}, RouteFallback, types.FlowNone
}

func (r *Router) resetDocuments(threadID string) {
	if r.documents != nil {
		r.documents.Reset(threadID)
	}
}

// active returns the open session for the thread. When the thread has
// none it tries to rebind the caller to an orphaned session: only when
// the message reads as an answer to that session, starts no flow, and
// the session is the single open one of its flow and belongs to the
// caller.
func (r *Router) active(ctx context.Context, req *flow.Request) (*types.Session, bool) {
	if req.ThreadID != "" {
		if s, ok := r.sessions.GetActive(ctx, req.ThreadID); ok {
			return s, true
		}
	}

	employeeID := req.Identity.EmployeeID()
	msg := req.Text()
	if employeeID == 0 || msg == "" || r.vocab.IsCancel(msg) || r.starting(msg) != nil {
		return nil, false
	}
	for _, f := range r.flows {
		thread, ok := r.sessions.Rebind(ctx, f.Type(), employeeID)
		if !ok || thread == req.ThreadID {
			continue
		}
		s, ok := r.sessions.GetActive(ctx, thread)
		if !ok || !f.DetectContinuation(msg, s) {
			continue
		}
		r.log.Info("rebound orphaned session",
			zap.String("from_thread", req.ThreadID),
			zap.String("thread_id", thread),
			zap.String("flow", string(f.Type())),
			zap.Int64("employee_id", employeeID))
		req.ThreadID = thread
		return s, true
	}
	return nil, false
}

// continueFlow handles a turn on a thread that has an open session:
// global cancel first, then a restart of the same flow, then the
// exclusivity check, and finally the flow's own step.
func (r *Router) continueFlow(ctx context.Context, req flow.Request, s *types.Session) (*types.Response, Route, types.FlowType) {
	msg := req.Text()
	if r.vocab.IsCancel(msg) {
		return flow.Cancelled(ctx, r.sessions, req.ThreadID, "user cancelled"), RouteCancel, s.FlowType
	}

	f, ok := r.byType[s.FlowType]
	if !ok {
		r.log.Warn("dropping session of unregistered flow",
			zap.String("thread_id", req.ThreadID),
			zap.String("flow", string(s.FlowType)))
		r.sessions.Clear(ctx, req.ThreadID)
		return r.route(ctx, &req)
	}

	if !f.DetectContinuation(msg, s) {
		if f.DetectStart(msg) {
			resp, err := f.Restart(ctx, req, s)
			if err == nil && resp == nil {
				err = errNoResponse
			}
			if err != nil {
				return r.failed(ctx, req, f.Type(), err), RouteFailure, f.Type()
			}
			return sourced(resp, f.Type()), RouteRestart, f.Type()
		}
		if other := r.starting(msg); other != nil && other.Type() != f.Type() {
			return flow.Busy(req.ThreadID, f.Type(), other.Type()), RouteBusy, f.Type()
		}
	}

	resp, err := f.Step(ctx, req, s)
	if err == nil && resp == nil {
		err = errNoResponse
	}
	if err != nil {
		return r.failed(ctx, req, f.Type(), err), RouteFailure, f.Type()
	}
	return sourced(resp, f.Type()), RouteStep, f.Type()
}

// starting returns the highest priority flow the message starts.
func (r *Router) starting(msg string) flow.Flow {
	if msg == "" {
		return nil
	}
	for _, f := range r.flows {
		if f.DetectStart(msg) {
			return f
		}
	}
	return nil
}

// failed clears the thread so the user is never stuck on a broken session.
func (r *Router) failed(ctx context.Context, req flow.Request, ft types.FlowType, err error) *types.Response {
	r.log.Error("flow failed",
		zap.String("thread_id", req.ThreadID),
		zap.String("flow", string(ft)),
		zap.Error(err))
	r.sessions.Clear(ctx, req.ThreadID)
	return sourced(flow.Failure(req.ThreadID, ft), ft)
}

func sourced(resp *types.Response, ft types.FlowType) *types.Response {
	if resp.Source == "" {
		resp.Source = string(ft)
	}
	return resp
}
