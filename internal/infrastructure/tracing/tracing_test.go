package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func observed() (*Tracer, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return New("nasma", zap.New(core)), logs
}

func TestStartSpanPropagatesTrace(t *testing.T) {
	tracer, _ := observed()
	defer tracer.Close()

	parent, ctx := tracer.StartSpan(context.Background(), "chat.turn")
	child, ctx := tracer.StartSpan(ctx, "odoo.call")

	assert.NotEmpty(t, parent.TraceID)
	assert.Equal(t, parent.TraceID, child.TraceID)
	assert.Equal(t, parent.SpanID, child.ParentID)
	assert.Equal(t, child.SpanID, GetSpanID(ctx))

	headers := http.Header{}
	Inject(ctx, headers.Set)
	remote := Continue(context.Background(), headers.Get)
	assert.Equal(t, parent.TraceID, GetTraceID(remote))
	assert.Equal(t, child.SpanID, GetSpanID(remote))
}

func TestSpansAreLoggedByOutcome(t *testing.T) {
	tracer, logs := observed()
	tracer.SetSlowThreshold(time.Hour)

	ok, _ := tracer.StartSpan(context.Background(), "fast")
	ok.SetTag("route", "step")
	ok.SetTag("flow", "")
	tracer.End(ok)

	failed, _ := tracer.StartSpan(context.Background(), "broken")
	failed.SetError(errors.New("odoo down"))
	tracer.End(failed)

	tracer.Close()
	tracer.Submit(ok)

	require.Equal(t, 2, logs.Len())
	entries := logs.All()
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "step", entries[0].ContextMap()["route"])
	assert.NotContains(t, entries[0].ContextMap(), "flow")
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, 500, failed.Status)
}

func TestSlowSpansLogAtInfo(t *testing.T) {
	tracer, logs := observed()
	tracer.SetSlowThreshold(time.Millisecond)

	span, _ := tracer.StartSpan(context.Background(), "odoo.login")
	span.Duration = 5 * time.Millisecond
	tracer.End(span)
	tracer.Close()

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, zapcore.InfoLevel, logs.All()[0].Level)
	assert.Equal(t, 5*time.Millisecond, span.Duration)
}

func TestHTTPMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tracer, logs := observed()

	r := gin.New()
	r.Use(HTTPMiddleware(tracer))
	var seen TraceID
	r.GET("/sessions/:thread_id", func(c *gin.Context) {
		seen = GetTraceID(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/sessions/t1", nil)
	req.Header.Set(HeaderTraceID, "trace-abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	tracer.Close()

	assert.Equal(t, TraceID("trace-abc"), seen)
	assert.Equal(t, "trace-abc", w.Header().Get(HeaderTraceID))
	assert.NotEmpty(t, w.Header().Get(HeaderSpanID))
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "GET /sessions/:thread_id", fields["operation"])
	assert.Equal(t, "t1", fields["thread_id"])
	assert.EqualValues(t, http.StatusNoContent, fields["status"])
}

func TestGRPCUnaryInterceptor(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		code  string
		level zapcore.Level
	}{
		{"ok", nil, "OK", zapcore.DebugLevel},
		{"unavailable", status.Error(codes.Unavailable, "down"), "Unavailable", zapcore.WarnLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracer, logs := observed()
			intercept := GRPCUnaryInterceptor(tracer)

			ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-trace-id", "trace-grpc"))
			info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
			_, err := intercept(ctx, nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
				assert.Equal(t, TraceID("trace-grpc"), GetTraceID(ctx))
				return "ok", tt.err
			})
			assert.Equal(t, tt.err, err)
			tracer.Close()

			require.Equal(t, 1, logs.Len())
			entry := logs.All()[0]
			assert.Equal(t, tt.level, entry.Level)
			assert.Equal(t, "trace-grpc", entry.ContextMap()["trace_id"])
			assert.Equal(t, tt.code, entry.ContextMap()["rpc.code"])
		})
	}
}
