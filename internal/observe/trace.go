package observe

import (
	"context"
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/railuk"

// Tracer returns the railuk tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on [Tracer]. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID returns the trace ID of the span in ctx, or "".
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

type logAttrsKey struct{}

// WithLogAttrs returns a copy of ctx whose [Logger] also carries attrs.
// Attributes accumulate across calls.
func WithLogAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	prev, _ := ctx.Value(logAttrsKey{}).([]slog.Attr)
	return context.WithValue(ctx, logAttrsKey{}, append(slices.Clip(prev), attrs...))
}

// Logger returns slog.Default enriched with request_id, trace_id and
// span_id when present in ctx, followed by any [WithLogAttrs] attributes.
func Logger(ctx context.Context) *slog.Logger {
	var args []any
	if rid := RequestID(ctx); rid != "" {
		args = append(args, slog.String("request_id", rid))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		args = append(args,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if extra, ok := ctx.Value(logAttrsKey{}).([]slog.Attr); ok {
		for _, a := range extra {
			args = append(args, a)
		}
	}
	if len(args) == 0 {
		return slog.Default()
	}
	return slog.Default().With(args...)
}
