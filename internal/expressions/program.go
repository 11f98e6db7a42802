package expressions

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"

	"github.com/rendis/soarkit/pkg/schema"
)

const fetchFunc = "__fetch"

// maxCachedPrograms bounds the program cache. Expressions built from data
// (a vault key found in a stored value) would otherwise grow it without limit.
const maxCachedPrograms = 2048

// undefined stands in for a missing key when rendering leniently. It prints
// as the empty string, and any further access through it is an error.
type undefined struct {
	name string
}

// evaluator compiles and runs single template expressions. Compiled programs
// are cached by expression text and shared across goroutines. A full cache
// is dropped and refilled.
type evaluator struct {
	fns     Functions
	jq      *jqRunner
	lenient bool

	mu       sync.RWMutex
	cache    map[string]*vm.Program
	maxCache int
}

func newEvaluator(fns Functions, lenient bool) *evaluator {
	return &evaluator{
		fns:      fns.withDefaults(),
		jq:       newJQRunner(),
		lenient:  lenient,
		cache:    make(map[string]*vm.Program),
		maxCache: maxCachedPrograms,
	}
}

func (e *evaluator) eval(ctx context.Context, expression string, root map[string]any) (any, error) {
	prg, err := e.getOrCompile(expression)
	if err != nil {
		if e.lenient && schema.IsCode(err, schema.ErrCodeUndefined) {
			return undefined{name: expression}, nil
		}
		return nil, err
	}

	if root == nil {
		root = map[string]any{}
	}
	out, err := vm.Run(prg, e.env(ctx, root))
	if err != nil {
		var se *schema.SoarkitError
		if errors.As(err, &se) {
			if se.Details == nil {
				se.Details = map[string]any{"expression": expression}
			}
			return nil, se
		}
		return nil, schema.NewErrorf(schema.ErrCodeBootstrap,
			"error evaluating %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return out, nil
}

func (e *evaluator) env(ctx context.Context, root map[string]any) map[string]any {
	env := e.fns.bind(ctx, e.jq)
	env[RootBinding] = root
	return env
}

// getOrCompile returns a cached compiled program or compiles and caches a new one.
func (e *evaluator) getOrCompile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock.
	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	source, filters := rewriteExpression(expression)
	if _, err := parser.Parse(source); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeTemplateSyntax,
			"template syntax error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	prototype := e.env(context.Background(), map[string]any{})
	for _, name := range filters {
		if _, ok := prototype[name]; !ok || name == RootBinding {
			return nil, schema.NewErrorf(schema.ErrCodeTemplateSyntax,
				"template syntax error in %q: No filter named '%s'.", expression, name).
				WithDetails(map[string]any{"expression": expression, "filter": name})
		}
	}
	prg, err := expr.Compile(source,
		expr.Env(prototype),
		expr.Function(fetchFunc, e.fetch),
		expr.Patch(strictMembers{}),
	)
	if err != nil {
		code := schema.ErrCodeBootstrap
		if strings.Contains(err.Error(), "unknown name") {
			code = schema.ErrCodeUndefined
		}
		return nil, schema.NewErrorf(code, "%q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	if len(e.cache) >= e.maxCache {
		clear(e.cache)
	}
	e.cache[expression] = prg
	return prg, nil
}

// strictMembers replaces member access (a.b, a[0]) with a checked fetch,
// because the expression VM yields nil for missing map keys.
type strictMembers struct{}

func (strictMembers) Visit(node *ast.Node) {
	m, ok := (*node).(*ast.MemberNode)
	if !ok || m.Optional || m.Method {
		return
	}
	ast.Patch(node, &ast.CallNode{
		Callee:    &ast.IdentifierNode{Value: fetchFunc},
		Arguments: []ast.Node{m.Node, m.Property},
	})
}

func (e *evaluator) fetch(args ...any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("%s expects 2 arguments, got %d", fetchFunc, len(args))
	}
	from, key := args[0], args[1]

	if u, ok := from.(undefined); ok {
		return nil, undefinedErrorf("%q is undefined", u.name)
	}

	switch src := from.(type) {
	case nil:
		return nil, undefinedErrorf("'None' has no attribute %s", keyRepr(key))
	case map[string]any:
		name, ok := key.(string)
		if !ok {
			name = fmt.Sprint(key)
		}
		if v, ok := src[name]; ok {
			return v, nil
		}
		return e.missing(name, "'dict object' has no attribute %s", keyRepr(key))
	case []any:
		idx, ok := toIndex(key)
		if !ok {
			return nil, undefinedErrorf("'list object' has no attribute %s", keyRepr(key))
		}
		if idx < 0 {
			idx += len(src)
		}
		if idx < 0 || idx >= len(src) {
			return e.missing(fmt.Sprint(key), "list object has no element %v", key)
		}
		return src[idx], nil
	}

	if v, ok := fetchReflect(from, key); ok {
		return v, nil
	}
	return e.missing(fmt.Sprint(key), "%s has no attribute %s", typeName(from), keyRepr(key))
}

func (e *evaluator) missing(name, format string, args ...any) (any, error) {
	if e.lenient {
		return undefined{name: name}, nil
	}
	return nil, undefinedErrorf(format, args...)
}

func fetchReflect(from, key any) (any, bool) {
	v := reflect.ValueOf(from)
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil, false
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Map:
		kt := v.Type().Key()
		name, ok := key.(string)
		if !ok || kt.Kind() != reflect.String {
			return nil, false
		}
		val := v.MapIndex(reflect.ValueOf(name).Convert(kt))
		if !val.IsValid() {
			return nil, false
		}
		return val.Interface(), true
	case reflect.Slice, reflect.Array:
		idx, ok := toIndex(key)
		if !ok {
			return nil, false
		}
		if idx < 0 {
			idx += v.Len()
		}
		if idx < 0 || idx >= v.Len() {
			return nil, false
		}
		return v.Index(idx).Interface(), true
	case reflect.Struct:
		name, ok := key.(string)
		if !ok {
			return nil, false
		}
		f := v.FieldByName(name)
		if !f.IsValid() || !f.CanInterface() {
			return nil, false
		}
		return f.Interface(), true
	}
	return nil, false
}

func toIndex(key any) (int, bool) {
	switch k := key.(type) {
	case int:
		return k, true
	case int64:
		return int(k), true
	case float64:
		if k == float64(int(k)) {
			return int(k), true
		}
	}
	return 0, false
}

func keyRepr(key any) string {
	if s, ok := key.(string); ok {
		return pyQuote(s)
	}
	return fmt.Sprint(key)
}

func typeName(v any) string {
	if v == nil {
		return "'None'"
	}
	return fmt.Sprintf("'%T'", v)
}

func undefinedErrorf(format string, args ...any) *schema.SoarkitError {
	return schema.NewErrorf(schema.ErrCodeUndefined, format, args...)
}
