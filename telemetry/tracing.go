package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// tracerName identifies this module's spans in whatever backend the
// configured SDK exporter ships them to.
const tracerName = "github.com/quay/vulnassess"

// Bootstrap installs a TracerProvider. With enabled=false it installs a
// provider that samples nothing, so Tracer() calls remain cheap no-ops;
// callers that need a real exporter wire one into provider themselves
// before calling Bootstrap(true, provider).
func Bootstrap(enabled bool, provider *sdktrace.TracerProvider) {
	if !enabled || provider == nil {
		otel.SetTracerProvider(trace.NewNoopTracerProvider())
		return
	}
	otel.SetTracerProvider(provider)
}

// Tracer returns this module's tracer from whatever provider is
// currently installed.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span and returns a function that records an error
// (if any) and ends the span. Intended to be used as:
//
//	ctx, end := telemetry.StartSpan(ctx, "ScanEngine.Scan")
//	defer end(&err)
func StartSpan(ctx context.Context, name string) (context.Context, func(errp *error)) {
	ctx, span := Tracer().Start(ctx, name)
	return ctx, func(errp *error) {
		if errp != nil && *errp != nil {
			span.RecordError(*errp)
			span.SetStatus(codes.Error, (*errp).Error())
		}
		span.End()
	}
}

// NewLogger builds a slog.Logger whose handler both injects
// context-carried attributes (WrapHandler) and bridges records to the
// active TracerProvider as span events, via otelslog.
func NewLogger(base slog.Handler) *slog.Logger {
	bridge := otelslog.NewHandler(tracerName)
	return slog.New(WrapHandler(multiHandler{base, bridge}))
}

// multiHandler fans a record out to every wrapped handler, used so a
// record is both written to the configured sink (stderr, a file) and
// recorded as a span event.
type multiHandler []slog.Handler

func (m multiHandler) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range m {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (m multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	for _, h := range m {
		if h.Enabled(ctx, r.Level) {
			if e := h.Handle(ctx, r.Clone()); e != nil {
				err = e
			}
		}
	}
	return err
}

func (m multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(multiHandler, len(m))
	for i, h := range m {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (m multiHandler) WithGroup(name string) slog.Handler {
	out := make(multiHandler, len(m))
	for i, h := range m {
		out[i] = h.WithGroup(name)
	}
	return out
}
