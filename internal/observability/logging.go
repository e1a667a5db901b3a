package observability

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/Hunter28-lucky/ai-calling-agent/internal/correlation"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// NewLogger returns the process logger: JSON lines on w, enriched with
// request and trace identifiers taken from the record's context.
func NewLogger(w io.Writer, level slog.Leveler) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	if level == nil {
		level = slog.LevelInfo
	}
	return slog.New(NewTraceLogHandler(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})))
}

// contextLogHandler adds correlation_id, trace_id and span_id to records
// logged with a context that carries them.
type contextLogHandler struct {
	inner slog.Handler
}

// NewTraceLogHandler wraps inner so records logged through *Context methods
// carry the request correlation ID and the active span's identifiers.
// A nil inner falls back to slog.Default().Handler().
func NewTraceLogHandler(inner slog.Handler) slog.Handler {
	if inner == nil {
		inner = slog.Default().Handler()
	}
	return &contextLogHandler{inner: inner}
}

func (h *contextLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *contextLogHandler) Handle(ctx context.Context, record slog.Record) error {
	if id, ok := correlation.FromContext(ctx); ok {
		record.AddAttrs(slog.String("correlation_id", id))
	}
	span := oteltrace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() && span.IsRecording() {
		sc := span.SpanContext()
		record.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.inner.Handle(ctx, record)
}

func (h *contextLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextLogHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *contextLogHandler) WithGroup(name string) slog.Handler {
	return &contextLogHandler{inner: h.inner.WithGroup(name)}
}
