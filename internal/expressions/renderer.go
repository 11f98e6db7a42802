package expressions

import (
	"context"
	"strings"
)

// Renderer is the current template engine: "{{ }}" delimiters, strict
// undefined handling, no escaping. A template made of a single expression
// renders to that expression's native value.
// Thread-safe: compiled programs are cached and reused across goroutines.
type Renderer struct {
	ev     *evaluator
	delims delimiters
}

// RendererOption configures a Renderer.
type RendererOption func(*Renderer)

// WithDelimiters overrides the "{{" / "}}" region markers.
func WithDelimiters(open, close string) RendererOption {
	return func(r *Renderer) {
		r.delims = delimiters{open: open, close: close}
	}
}

// NewRenderer creates a renderer owning the given function table.
func NewRenderer(fns Functions, opts ...RendererOption) *Renderer {
	r := &Renderer{ev: newEvaluator(fns, false), delims: nativeDelims}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render renders template against root. Errors carry the codes
// TEMPLATE_SYNTAX_ERROR, UNDEFINED_ERROR or BOOTSTRAP_ERROR.
func (r *Renderer) Render(ctx context.Context, template string, root map[string]any) (any, error) {
	segs, err := r.delims.split(template)
	if err != nil {
		return nil, err
	}
	if expression, ok := soleExpression(segs); ok {
		return r.ev.eval(ctx, expression, root)
	}

	var b strings.Builder
	for _, s := range segs {
		if !s.expr {
			b.WriteString(s.text)
			continue
		}
		v, err := r.ev.eval(ctx, s.text, root)
		if err != nil {
			return nil, err
		}
		b.WriteString(Stringify(v))
	}
	return b.String(), nil
}

// RenderString renders template and stringifies the result.
func (r *Renderer) RenderString(ctx context.Context, template string, root map[string]any) (string, error) {
	v, err := r.Render(ctx, template, root)
	if err != nil {
		return "", err
	}
	return Stringify(v), nil
}

var _ Engine = (*Renderer)(nil)
