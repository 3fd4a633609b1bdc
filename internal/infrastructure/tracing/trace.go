package tracing

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prezlab/nasma/backend/internal/shared/id"
)

// Propagation headers. gRPC metadata uses the lower-case forms.
const (
	HeaderTraceID = "X-Trace-ID"
	HeaderSpanID  = "X-Span-ID"
)

// DefaultSlowThreshold is the span duration above which a span is logged at
// info level. Faster spans are logged at debug.
const DefaultSlowThreshold = 2 * time.Second

const spanBuffer = 1000

type (
	TraceID string
	SpanID  string
)

// Span is one timed operation: an HTTP request, a chat turn, a gRPC call.
type Span struct {
	TraceID  TraceID
	SpanID   SpanID
	ParentID SpanID
	Name     string
	Start    time.Time
	Duration time.Duration
	Tags     map[string]string
	Err      error
	Status   int
}

// SetTag attaches a string attribute.
func (s *Span) SetTag(key, value string) {
	if value == "" {
		return
	}
	s.Tags[key] = value
}

// SetError marks the span failed.
func (s *Span) SetError(err error) {
	s.Err = err
	if s.Status < 500 {
		s.Status = 500
	}
}

// SetStatus records the response status.
func (s *Span) SetStatus(code int) {
	s.Status = code
}

// Finish fixes the duration. Calling it again is harmless.
func (s *Span) Finish() {
	if s.Duration == 0 {
		s.Duration = time.Since(s.Start)
	}
}

// Tracer hands finished spans to a background collector that logs them.
type Tracer struct {
	service string
	logger  *zap.Logger
	slow    time.Duration
	spans   chan *Span
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

// New creates a tracer and starts its collector. Close stops it.
func New(service string, logger *zap.Logger) *Tracer {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracer{
		service: service,
		logger:  logger.Named("trace"),
		slow:    DefaultSlowThreshold,
		spans:   make(chan *Span, spanBuffer),
		done:    make(chan struct{}),
	}
	go t.collect()
	return t
}

// SetSlowThreshold changes the duration above which spans are logged at
// info level. Call it before the tracer is shared.
func (t *Tracer) SetSlowThreshold(d time.Duration) {
	t.slow = d
}

// StartSpan opens a span under whatever trace ctx already carries and
// returns a context carrying the new span.
func (t *Tracer) StartSpan(ctx context.Context, name string) (*Span, context.Context) {
	traceID := GetTraceID(ctx)
	if traceID == "" {
		traceID = TraceID(id.NewRequestID())
	}
	span := &Span{
		TraceID:  traceID,
		SpanID:   SpanID(id.NewRequestID()),
		ParentID: GetSpanID(ctx),
		Name:     name,
		Start:    time.Now(),
		Tags:     make(map[string]string),
	}
	return span, withIDs(ctx, traceID, span.SpanID)
}

// End finishes span and submits it.
func (t *Tracer) End(span *Span) {
	span.Finish()
	t.Submit(span)
}

// Submit queues a finished span. Spans are dropped with a warning when the
// buffer is full, and silently after Close.
func (t *Tracer) Submit(span *Span) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.spans <- span:
	default:
		t.logger.Warn("span buffer full, dropping span",
			zap.String("trace_id", string(span.TraceID)),
			zap.String("operation", span.Name))
	}
}

// Close drains pending spans and stops the collector.
func (t *Tracer) Close() {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.spans)
	}
	t.mu.Unlock()
	<-t.done
}

func (t *Tracer) collect() {
	defer close(t.done)
	for span := range t.spans {
		t.write(span)
	}
}

func (t *Tracer) write(span *Span) {
	fields := make([]zap.Field, 0, 6+len(span.Tags))
	fields = append(fields,
		zap.String("service", t.service),
		zap.String("trace_id", string(span.TraceID)),
		zap.String("span_id", string(span.SpanID)),
		zap.String("operation", span.Name),
		zap.Duration("duration", span.Duration),
	)
	if span.ParentID != "" {
		fields = append(fields, zap.String("parent_id", string(span.ParentID)))
	}
	if span.Status != 0 {
		fields = append(fields, zap.Int("status", span.Status))
	}
	for k, v := range span.Tags {
		fields = append(fields, zap.String(k, v))
	}

	switch {
	case span.Err != nil:
		t.logger.Warn("span failed", append(fields, zap.Error(span.Err))...)
	case span.Duration >= t.slow:
		t.logger.Info("slow span", fields...)
	default:
		t.logger.Debug("span", fields...)
	}
}

type contextKey int

const (
	traceIDKey contextKey = iota
	spanIDKey
)

func withIDs(ctx context.Context, traceID TraceID, spanID SpanID) context.Context {
	if traceID != "" {
		ctx = context.WithValue(ctx, traceIDKey, traceID)
	}
	if spanID != "" {
		ctx = context.WithValue(ctx, spanIDKey, spanID)
	}
	return ctx
}

// Continue returns ctx joined to a remote trace. get looks up a propagation
// header by its canonical name.
func Continue(ctx context.Context, get func(key string) string) context.Context {
	return withIDs(ctx, TraceID(get(HeaderTraceID)), SpanID(get(HeaderSpanID)))
}

// Inject writes ctx's trace and span ids through set.
func Inject(ctx context.Context, set func(key, value string)) {
	if traceID := GetTraceID(ctx); traceID != "" {
		set(HeaderTraceID, string(traceID))
	}
	if spanID := GetSpanID(ctx); spanID != "" {
		set(HeaderSpanID, string(spanID))
	}
}

// GetTraceID returns the trace id carried by ctx, or "".
func GetTraceID(ctx context.Context) TraceID {
	v, _ := ctx.Value(traceIDKey).(TraceID)
	return v
}

// GetSpanID returns the current span id carried by ctx, or "".
func GetSpanID(ctx context.Context) SpanID {
	v, _ := ctx.Value(spanIDKey).(SpanID)
	return v
}
