package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"goa.design/clue/log"
)

// MergeContext copies the Clue logger and the span context carried by base
// into ctx. Servers use it to give request handlers the logging setup of the
// process context. When base is nil ctx is returned unchanged.
func MergeContext(ctx, base context.Context) context.Context {
	if base == nil {
		return ctx
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = log.WithContext(ctx, base)
	if spanCtx := trace.SpanContextFromContext(base); spanCtx.IsValid() {
		ctx = trace.ContextWithSpanContext(ctx, spanCtx)
	}
	return ctx
}
