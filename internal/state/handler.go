package state

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"maps"
	"time"

	"github.com/rendis/soarkit/internal/ids"
	"github.com/rendis/soarkit/internal/logging"
	"github.com/rendis/soarkit/internal/metrics"
	"github.com/rendis/soarkit/internal/resolver"
	"github.com/rendis/soarkit/internal/store"
	"github.com/rendis/soarkit/pkg/schema"
)

// Call carries the resolved parameters to a state function. Context is the
// full root context when the handler was built WithContext, nil otherwise.
type Call struct {
	Params  map[string]any
	Context map[string]any
}

// Func is a state's business logic. It must return a map[string]any.
type Func func(ctx context.Context, call Call) (any, error)

// Deps are the collaborators of a Handler.
type Deps struct {
	Executions store.ExecutionStore
	Resolver   *resolver.Resolver
	// Audit, when set, records every saved state result.
	Audit   store.AuditStore
	Metrics *metrics.Recorder
	Logger  *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithContext passes the full root context to the state function.
func WithContext() Option {
	return func(h *Handler) { h.includeContext = true }
}

// Handler runs one state invocation: it assembles the root context, resolves
// the state's parameters, calls the state function and, in live mode, saves
// the result. A Handler serves exactly one invocation.
type Handler struct {
	deps           Deps
	inv            *Invocation
	fn             Func
	root           map[string]any
	includeContext bool
	logger         *slog.Logger
}

// NewHandler parses payload and assembles the root context. Configuration
// errors are returned here, before any parameter is resolved.
func NewHandler(ctx context.Context, deps Deps, payload map[string]any, fn Func, opts ...Option) (*Handler, error) {
	if deps.Resolver == nil {
		return nil, bootstrapError("a parameter resolver is required")
	}
	if fn == nil {
		return nil, bootstrapError("a state function is required")
	}

	inv, err := ParseInvocation(payload)
	if err != nil {
		return nil, err
	}

	h := &Handler{deps: deps, inv: inv, fn: fn, logger: logging.OrDiscard(deps.Logger)}
	for _, opt := range opts {
		opt(h)
	}

	if inv.DirectInvoke {
		h.logger.InfoContext(ctx, "No State_Config was passed to the integration, running in test mode")
	}

	if inv.Testing {
		h.root = inv.Event
		return h, nil
	}

	if inv.ExecutionID == "" {
		return nil, bootstrapError("Execution id not found in non-testing context")
	}
	if deps.Executions == nil {
		return nil, bootstrapError("an execution store is required in live mode")
	}
	rec, err := deps.Executions.GetExecution(ctx, inv.ExecutionID)
	if err != nil {
		return nil, err
	}

	root := maps.Clone(rec.Results)
	if root == nil {
		root = map[string]any{}
	}
	root[schema.KeyExecutionID] = inv.ExecutionID
	if errs, ok := inv.Event[schema.KeyErrors]; ok {
		root[schema.KeyErrors] = errs
	}
	if inv.TaskToken != "" {
		root[schema.KeyTaskToken] = inv.TaskToken
		root[schema.KeyStateName] = inv.StateName
	}
	h.root = root
	return h, nil
}

// StateName returns the name of the invoked state.
func (h *Handler) StateName() string { return h.inv.StateName }

// ExecutionID returns the execution id, or "" in testing mode.
func (h *Handler) ExecutionID() string { return h.inv.ExecutionID }

// Testing reports whether the invocation runs without an execution record.
func (h *Handler) Testing() bool { return h.inv.Testing }

// Context returns the assembled root context.
func (h *Handler) Context() map[string]any { return h.root }

// Execute resolves parameters, calls the state function and saves its result.
func (h *Handler) Execute(ctx context.Context) (result map[string]any, err error) {
	ctx = logging.WithIDs(ctx, h.inv.ExecutionID, h.inv.StateName)
	start := time.Now()
	defer func() {
		h.deps.Metrics.StateExecuted(h.mode(), err, time.Since(start))
		if err != nil {
			err = h.annotate(err)
		}
	}()

	params, err := h.deps.Resolver.ResolveAll(ctx, h.inv.Parameters, h.root)
	if err != nil {
		return nil, err
	}

	call := Call{Params: params}
	if h.includeContext {
		call.Context = h.root
	}
	out, err := h.fn(ctx, call)
	if err != nil {
		return nil, err
	}

	result, ok := out.(map[string]any)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeContract,
			"Result returned from the integration handler is not a dictionary. Must be a dictionary, got %T", out)
	}

	if h.inv.Testing {
		return result, nil
	}

	var errs map[string]any
	if m, ok := h.root[schema.KeyErrors].(map[string]any); ok && len(m) > 0 {
		errs, _ = ids.EmptyStringsToNil(m).(map[string]any)
	}
	if err := h.deps.Executions.SaveStateResults(ctx, h.inv.ExecutionID, h.inv.StateName, result, errs); err != nil {
		return nil, err
	}
	h.audit(ctx, result)

	h.logger.DebugContext(ctx, "state results saved")
	return result, nil
}

func (h *Handler) audit(ctx context.Context, result map[string]any) {
	if h.deps.Audit == nil {
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return
	}
	entry := &store.AuditEntry{
		ExecutionID: h.inv.ExecutionID,
		Kind:        store.AuditStateSaved,
		StateName:   h.inv.StateName,
		Payload:     payload,
	}
	if err := h.deps.Audit.AppendAudit(ctx, entry); err != nil {
		h.logger.WarnContext(ctx, "failed to append audit entry", slog.String("error", err.Error()))
	}
}

func (h *Handler) mode() string {
	if h.inv.Testing {
		return "testing"
	}
	return "live"
}

// annotate attaches the state name and execution id to a SoarkitError.
func (h *Handler) annotate(err error) error {
	var se *schema.SoarkitError
	if !errors.As(err, &se) {
		return err
	}
	if se.StateName == "" {
		se.StateName = h.inv.StateName
	}
	if h.inv.ExecutionID != "" {
		if se.Details == nil {
			se.Details = map[string]any{}
		}
		if _, set := se.Details[schema.KeyExecutionID]; !set {
			se.Details[schema.KeyExecutionID] = h.inv.ExecutionID
		}
	}
	return err
}

// Bootstrap runs a state invocation end to end and returns a copy of payload
// with "results" set to the state result, nested under the state name and
// also merged at the top level.
func Bootstrap(ctx context.Context, deps Deps, payload map[string]any, fn Func, opts ...Option) (map[string]any, error) {
	h, err := NewHandler(ctx, deps, payload, fn, opts...)
	if err != nil {
		return nil, err
	}
	result, err := h.Execute(ctx)
	if err != nil {
		return nil, err
	}

	results := make(map[string]any, len(result)+1)
	results[h.inv.StateName] = result
	maps.Copy(results, result)

	out := maps.Clone(payload)
	if out == nil {
		out = map[string]any{}
	}
	out[schema.KeyResults] = results
	return out, nil
}
