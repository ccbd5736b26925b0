// Package telemetry wires up the ambient logging, tracing, and metrics
// stack shared by every component: a context-attribute-injecting slog
// handler, an OpenTelemetry tracer bridged into slog, and the
// prometheus collectors exposed by the cache and worker-pool layers.
package telemetry

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	attrsKey ctxKey = iota
)

// WithAttrs returns a context that carries additional slog attributes,
// picked up by any record logged through a handler wrapped with
// WrapHandler. Used to thread request-scoped fields (scan_id, job_id,
// device_id) through call chains without passing a *slog.Logger
// everywhere.
func WithAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	existing, _ := ctx.Value(attrsKey).(slog.Value)
	group := append(existing.Group(), attrs...)
	return context.WithValue(ctx, attrsKey, slog.GroupValue(group...))
}

// WrapHandler wraps next so that records logged through it pick up any
// attributes stashed in the context by WithAttrs.
func WrapHandler(next slog.Handler) slog.Handler {
	return handler{next: next}
}

type handler struct {
	next slog.Handler
}

func (h handler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.next.Enabled(ctx, l)
}

func (h handler) Handle(ctx context.Context, r slog.Record) error {
	if v, ok := ctx.Value(attrsKey).(slog.Value); ok {
		r.AddAttrs(v.Group()...)
	}
	return h.next.Handle(ctx, r)
}

func (h handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return handler{next: h.next.WithAttrs(attrs)}
}

func (h handler) WithGroup(name string) slog.Handler {
	return handler{next: h.next.WithGroup(name)}
}
