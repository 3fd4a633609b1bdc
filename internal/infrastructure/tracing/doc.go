/*
Package tracing provides lightweight request tracing.

Every HTTP request, gRPC health call and chat turn gets a span. Trace and
span ids travel in the X-Trace-ID and X-Span-ID headers (x-trace-id and
x-span-id gRPC metadata), so a client can correlate a chat turn with the
backend log. Finished spans are collected off the request path and written
to the log: errors at warn, slow spans at info, everything else at debug.

# Usage

	tracer := tracing.New("nasma", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	server := grpc.NewServer(
		grpc.UnaryInterceptor(tracing.GRPCUnaryInterceptor(tracer)),
		grpc.StreamInterceptor(tracing.GRPCStreamInterceptor(tracer)),
	)

	span, ctx := tracer.StartSpan(ctx, "chat.turn")
	defer tracer.End(span)
*/
package tracing
