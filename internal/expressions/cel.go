package expressions

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/rendis/soarkit/pkg/schema"
)

// CELFilter evaluates boolean event filters, e.g.
//
//	details.severity == "high" && event_type.startsWith("Phish")
//
// The environment exposes:
//   - event_type: string
//   - details:    map(string, dyn)
//   - data_types: map(string, dyn)
//   - event_meta: map(string, dyn)
//
// Thread-safe: compiled programs are cached and reused across goroutines.
type CELFilter struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// FilterInput is the activation of one filter evaluation.
type FilterInput struct {
	EventType string
	Details   map[string]any
	DataTypes map[string]any
	EventMeta map[string]any
}

// NewCELFilter creates a filter evaluator with a sandboxed environment.
func NewCELFilter() (*CELFilter, error) {
	mapType := cel.MapType(cel.StringType, cel.DynType)

	env, err := cel.NewEnv(
		cel.Variable("event_type", cel.StringType),
		cel.Variable("details", mapType),
		cel.Variable("data_types", mapType),
		cel.Variable("event_meta", mapType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return &CELFilter{
		env:   env,
		cache: make(map[string]cel.Program),
	}, nil
}

// Validate compiles expression without evaluating it.
func (f *CELFilter) Validate(expression string) error {
	_, err := f.getOrCompile(expression)
	return err
}

// Match reports whether in satisfies expression. An empty expression matches.
func (f *CELFilter) Match(ctx context.Context, expression string, in FilterInput) (bool, error) {
	if expression == "" {
		return true, nil
	}

	prg, err := f.getOrCompile(expression)
	if err != nil {
		return false, err
	}

	out, _, err := prg.ContextEval(ctx, map[string]any{
		"event_type": in.EventType,
		"details":    orEmpty(in.Details),
		"data_types": orEmpty(in.DataTypes),
		"event_meta": orEmpty(in.EventMeta),
	})
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeEvent,
			"filter evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"filter": expression})
	}

	matched, ok := out.Value().(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"filter %q must evaluate to a bool, got %T", expression, out.Value()).
			WithDetails(map[string]any{"filter": expression})
	}
	return matched, nil
}

// getOrCompile returns a cached compiled program or compiles and caches a new one.
func (f *CELFilter) getOrCompile(expression string) (cel.Program, error) {
	f.mu.RLock()
	if prg, ok := f.cache[expression]; ok {
		f.mu.RUnlock()
		return prg, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	if prg, ok := f.cache[expression]; ok {
		return prg, nil
	}

	ast, issues := f.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"filter compile error in %q: %s", expression, issues.Err().Error()).
			WithCause(issues.Err()).
			WithDetails(map[string]any{"filter": expression})
	}
	if !ast.OutputType().IsExactType(cel.BoolType) && !ast.OutputType().IsExactType(cel.DynType) {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"filter %q must be a bool expression, got %s", expression, ast.OutputType()).
			WithDetails(map[string]any{"filter": expression})
	}

	prg, err := f.env.Program(ast)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"filter program error for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"filter": expression})
	}

	f.cache[expression] = prg
	return prg, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
