package expressions

import (
	"context"
	"reflect"
	"sync"

	"github.com/itchyny/gojq"
)

// jqRunner backs the jq(value, query) template function.
// Thread-safe: compiled *Code objects are cached and reused across goroutines.
type jqRunner struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

func newJQRunner() *jqRunner {
	return &jqRunner{cache: make(map[string]*gojq.Code)}
}

// run evaluates query against input. A single output is returned directly,
// several are collected into a list, none yields nil.
func (j *jqRunner) run(ctx context.Context, input any, query string) (any, error) {
	code, err := j.getOrCompile(query)
	if err != nil {
		return nil, err
	}

	iter := code.RunWithContext(ctx, normalizeForJQ(input))

	var results []any
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := val.(error); isErr {
			return nil, bootstrapErrorf("jq query %q failed: %s", query, err.Error()).WithCause(err)
		}
		results = append(results, val)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

func (j *jqRunner) getOrCompile(query string) (*gojq.Code, error) {
	j.mu.RLock()
	if code, ok := j.cache[query]; ok {
		j.mu.RUnlock()
		return code, nil
	}
	j.mu.RUnlock()

	j.mu.Lock()
	defer j.mu.Unlock()

	if code, ok := j.cache[query]; ok {
		return code, nil
	}

	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, bootstrapErrorf("jq parse error in %q: %s", query, err.Error()).WithCause(err)
	}

	code, err := gojq.Compile(parsed,
		// $ENV stays empty; env() is the only sanctioned environment reader.
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, bootstrapErrorf("jq compile error in %q: %s", query, err.Error()).WithCause(err)
	}

	j.cache[query] = code
	return code, nil
}

// normalizeForJQ converts Go values into the types gojq accepts: float64 for
// numbers, []any and map[string]any for containers.
func normalizeForJQ(v any) any {
	switch val := v.(type) {
	case nil, bool, string, float64:
		return v
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[k] = normalizeForJQ(v)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, v := range val {
			out[i] = normalizeForJQ(v)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case int32:
		return float64(val)
	case float32:
		return float64(val)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = normalizeForJQ(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Stringify(v)
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = normalizeForJQ(iter.Value().Interface())
		}
		return out
	}
	return Stringify(v)
}
