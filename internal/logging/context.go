package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	executionIDKey ctxKey = iota
	stateNameKey
	investigationIDKey
)

// correlationKeys lists the context keys copied onto every record, in output order.
var correlationKeys = []struct {
	key  ctxKey
	attr string
}{
	{executionIDKey, "execution_id"},
	{stateNameKey, "state_name"},
	{investigationIDKey, "investigation_id"},
}

// WithExecutionID returns a context with the playbook execution ID set.
func WithExecutionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, executionIDKey, id)
}

// WithStateName returns a context with the executing state name set.
func WithStateName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, stateNameKey, name)
}

// WithInvestigationID returns a context with the investigation ID set.
func WithInvestigationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, investigationIDKey, id)
}

// ExecutionID extracts the execution ID from the context, or "" if absent.
func ExecutionID(ctx context.Context) string {
	v, _ := ctx.Value(executionIDKey).(string)
	return v
}

// StateName extracts the state name from the context, or "" if absent.
func StateName(ctx context.Context) string {
	v, _ := ctx.Value(stateNameKey).(string)
	return v
}

// InvestigationID extracts the investigation ID from the context, or "" if absent.
func InvestigationID(ctx context.Context) string {
	v, _ := ctx.Value(investigationIDKey).(string)
	return v
}

// WithIDs sets the execution ID and state name on the context at once.
func WithIDs(ctx context.Context, executionID, stateName string) context.Context {
	return WithStateName(WithExecutionID(ctx, executionID), stateName)
}

func correlationAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	for _, k := range correlationKeys {
		if v, _ := ctx.Value(k.key).(string); v != "" {
			attrs = append(attrs, slog.String(k.attr, v))
		}
	}
	return attrs
}

// LogWith returns a logger enriched with correlation IDs from the context.
// Only non-empty values are added as attributes.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	for _, a := range correlationAttrs(ctx) {
		logger = logger.With(a)
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler, injecting correlation IDs from
// the context into every record logged through the *Context methods.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with correlation ID injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(correlationAttrs(ctx)...)
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
