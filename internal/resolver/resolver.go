package resolver

import (
	"context"
	"log/slog"
	"strings"

	"github.com/rendis/soarkit/internal/expressions"
	"github.com/rendis/soarkit/internal/logging"
	"github.com/rendis/soarkit/internal/metrics"
	"github.com/rendis/soarkit/pkg/schema"
)

// Resolver resolves parameter references against a root context. Strings are
// translated and rendered; maps and lists are walked; other values pass through.
type Resolver struct {
	engine  expressions.Engine
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// New creates a Resolver rendering through engine.
func New(engine expressions.Engine, logger *slog.Logger) *Resolver {
	return &Resolver{engine: engine, logger: logging.OrDiscard(logger)}
}

// WithMetrics counts degraded templates on m.
func (r *Resolver) WithMetrics(m *metrics.Recorder) *Resolver {
	r.metrics = m
	return r
}

// Resolve returns ref with every string leaf rendered against root.
// Maps keep their keys and lists keep their length and order.
func (r *Resolver) Resolve(ctx context.Context, ref any, root map[string]any) (any, error) {
	switch v := ref.(type) {
	case string:
		return r.resolveString(ctx, v, root)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			resolved, err := r.Resolve(ctx, val, root)
			if err != nil {
				return nil, err
			}
			out[key] = resolved
		}
		return out, nil
	case []any:
		return r.resolveList(ctx, len(v), func(i int) any { return v[i] }, root)
	case []map[string]any:
		return r.resolveList(ctx, len(v), func(i int) any { return v[i] }, root)
	case []string:
		return r.resolveList(ctx, len(v), func(i int) any { return v[i] }, root)
	default:
		return ref, nil
	}
}

func (r *Resolver) resolveList(ctx context.Context, n int, at func(int) any, root map[string]any) ([]any, error) {
	out := make([]any, n)
	for i := range out {
		resolved, err := r.Resolve(ctx, at(i), root)
		if err != nil {
			return nil, err
		}
		out[i] = resolved
	}
	return out, nil
}

// ResolveAll resolves every value of refs. The key set is preserved.
func (r *Resolver) ResolveAll(ctx context.Context, refs map[string]any, root map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(refs))
	for name, ref := range refs {
		v, err := r.Resolve(ctx, ref, root)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

func (r *Resolver) resolveString(ctx context.Context, raw string, root map[string]any) (any, error) {
	template := Translate(raw)

	resolved, err := r.engine.Render(ctx, template, root)
	if err == nil {
		// A stored value may itself hold a vault pointer.
		if s, ok := resolved.(string); ok && strings.HasPrefix(s, VaultPrefix) {
			resolved, err = r.engine.Render(ctx, Translate(s), root)
		}
	}
	if err == nil {
		return resolved, nil
	}

	switch schema.CodeOf(err) {
	case schema.ErrCodeTemplateSyntax:
		r.metrics.TemplateDegraded()
		r.logger.WarnContext(ctx, "invalid template syntax, using template text",
			slog.String("template", template), slog.String("error", err.Error()))
		return template, nil
	case schema.ErrCodeUndefined:
		return nil, schema.NewErrorf(schema.ErrCodeUndefined,
			"Undefined variable when resolving parameter: %s | for template: %s", raw, template).
			WithCause(err).
			WithDetails(map[string]any{"parameter": raw, "template": template})
	}
	return nil, err
}
