package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope for every span the server emits.
const tracerName = "github.com/arkmoor/arkmoor"

// Tracer returns the server's [trace.Tracer] from the globally registered
// provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named for the operation. The caller must call
// span.End().
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// WithPlayer tags a span with the player driving the operation.
func WithPlayer(playerID string) trace.SpanStartOption {
	return trace.WithAttributes(attribute.String("player_id", playerID))
}

// WithRoom tags a span with the room an operation takes place in.
func WithRoom(roomID string) trace.SpanStartOption {
	return trace.WithAttributes(attribute.String("room_id", roomID))
}

// CorrelationID returns the active trace ID, which doubles as the
// correlation identifier clients see in the X-Correlation-ID header. Empty
// when ctx carries no span with a valid trace ID.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns an [slog.Logger] carrying trace_id and span_id from the
// span in ctx, or the default logger when there is none.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
