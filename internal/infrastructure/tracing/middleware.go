package tracing

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// HTTPMiddleware opens one span per request, named by method and route
// pattern, and echoes the trace ids in the response headers.
func HTTPMiddleware(tracer *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx := Continue(c.Request.Context(), c.GetHeader)
		span, ctx := tracer.StartSpan(ctx, c.Request.Method+" "+route)
		span.SetTag("http.path", c.Request.URL.Path)
		span.SetTag("thread_id", c.Param("thread_id"))

		c.Request = c.Request.WithContext(ctx)
		c.Header(HeaderTraceID, string(span.TraceID))
		c.Header(HeaderSpanID, string(span.SpanID))

		c.Next()

		span.SetStatus(c.Writer.Status())
		if len(c.Errors) > 0 {
			span.SetError(c.Errors.Last())
		}
		tracer.End(span)
	}
}

// fromMetadata joins ctx to the trace carried in incoming gRPC metadata.
func fromMetadata(ctx context.Context) context.Context {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx
	}
	return Continue(ctx, func(key string) string {
		if vals := md.Get(strings.ToLower(key)); len(vals) > 0 {
			return vals[0]
		}
		return ""
	})
}

func finishRPC(tracer *Tracer, span *Span, err error) {
	span.SetTag("rpc.code", status.Code(err).String())
	if err != nil {
		span.SetError(err)
	}
	tracer.End(span)
}

// GRPCUnaryInterceptor traces unary calls such as the health check.
func GRPCUnaryInterceptor(tracer *Tracer) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		span, ctx := tracer.StartSpan(fromMetadata(ctx), info.FullMethod)
		span.SetTag("rpc.system", "grpc")
		resp, err := handler(ctx, req)
		finishRPC(tracer, span, err)
		return resp, err
	}
}

// GRPCStreamInterceptor traces streaming calls such as health Watch.
func GRPCStreamInterceptor(tracer *Tracer) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		span, ctx := tracer.StartSpan(fromMetadata(ss.Context()), info.FullMethod)
		span.SetTag("rpc.system", "grpc")
		span.SetTag("rpc.streaming", "true")
		err := handler(srv, &tracedStream{ServerStream: ss, ctx: ctx})
		finishRPC(tracer, span, err)
		return err
	}
}

type tracedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *tracedStream) Context() context.Context { return s.ctx }
