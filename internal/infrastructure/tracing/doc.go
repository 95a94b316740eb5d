/*
Package tracing provides lightweight request tracing.

Every API call gets a span. The trace id arrives in, or is minted for,
X-Request-Id and is echoed on the response. /fetch forwards it on the
engine request so upstream logs can be correlated.

# Usage

	tracer := tracing.New("netcore", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	// Manual span creation
	span, ctx := tracer.StartSpan(ctx, "operation")
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()

	// Propagate to an outgoing request
	tracing.InjectTraceContext(ctx, req.Header)

# Trace Format

  - X-Request-Id: Unique identifier for the entire request flow
  - X-Span-Id: Identifier for the calling operation

Finished spans are buffered (1000) and logged by a collector goroutine.
Successful spans log at debug level.
*/
package tracing
