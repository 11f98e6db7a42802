package resolver

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/soarkit/internal/expressions"
	"github.com/rendis/soarkit/pkg/schema"
)

type fakeBlobs map[string]string

func (f fakeBlobs) FetchContent(_ context.Context, key string) (string, error) {
	c, ok := f[key]
	if !ok {
		return "", schema.NewErrorf(schema.ErrCodeNotFound, "blob %q not found", key)
	}
	return c, nil
}

type fakeSecrets map[string]string

func (f fakeSecrets) Get(_ context.Context, path string) (string, error) {
	v, ok := f[path]
	if !ok {
		return "", errors.New("ParameterNotFound")
	}
	return v, nil
}

func newTestResolver(t *testing.T, logger *slog.Logger) *Resolver {
	t.Helper()
	renderer := expressions.NewRenderer(expressions.Functions{
		Blobs: fakeBlobs{
			"soarkit_vault_tests.txt":  "this came from the vault",
			"soarkit_vault_tests.json": `{"hello":"world"}`,
		},
		Secrets: fakeSecrets{"/soarkit/test/mock_secret": "test_parameter_for_soarkit"},
	})
	return New(renderer, logger)
}

func rootObj() map[string]any {
	return map[string]any{
		"artifacts": map[string]any{
			"event": map[string]any{
				"details": map[string]any{
					"firstname":  "Sterling",
					"middlename": "Malory",
					"lastname":   "Archer",
					"vault_test": "vault:soarkit_vault_tests.txt",
				},
			},
		},
	}
}

func TestResolve_Strings(t *testing.T) {
	r := newTestResolver(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		ref  string
		root map[string]any
		want any
	}{
		{"path", "$.artifacts.event.details.firstname", rootObj(), "Sterling"},
		{"path to vault pointer", "$.artifacts.event.details.vault_test", rootObj(), "this came from the vault"},
		{"vault", "vault:soarkit_vault_tests.txt", nil, "this came from the vault"},
		{"vault with conversion", "vault:soarkit_vault_tests.json!json", nil, map[string]any{"hello": "world"}},
		{
			"context syntax with filters",
			"{{context.results.Test_Step.file_id | vault | fromjson}}",
			map[string]any{"results": map[string]any{"Test_Step": map[string]any{"file_id": "soarkit_vault_tests.json"}}},
			map[string]any{"hello": "world"},
		},
		{"preformatted fromjson", `{{ '{"foo": "bar"}' |fromjson}}`, nil, map[string]any{"foo": "bar"}},
		{"secret", "{{secret('/soarkit/test/mock_secret')}}", nil, "test_parameter_for_soarkit"},
		{"path with conversion", "$.raw!json", map[string]any{"raw": `[1, 2]`}, []any{1.0, 2.0}},
		{"literal", "Hello", nil, "Hello"},
		{"single curlies", "[A-Z]{16}", nil, "[A-Z]{16}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(ctx, tt.ref, tt.root)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve_InvalidJSONIsFatal(t *testing.T) {
	r := newTestResolver(t, nil)
	_, err := r.Resolve(context.Background(), `{{ '{"foo": "bar" : bas}' |fromjson}}`, nil)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeBootstrap))
}

func TestResolve_UndefinedIsFatal(t *testing.T) {
	r := newTestResolver(t, nil)
	_, err := r.Resolve(context.Background(), "$.artifacts.event.details.nickname", rootObj())
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeUndefined))
	assert.Contains(t, err.Error(), "Undefined variable when resolving parameter: $.artifacts.event.details.nickname")
}

func TestResolve_SyntaxErrorDegradesToTemplate(t *testing.T) {
	var buf bytes.Buffer
	r := newTestResolver(t, slog.New(slog.NewTextHandler(&buf, nil)))

	input := "something {{with something else.}} and another thing."
	got, err := r.Resolve(context.Background(), input, rootObj())
	require.NoError(t, err)
	assert.Equal(t, input, got)
	assert.Contains(t, buf.String(), "invalid template syntax")
}

func TestResolve_UnknownFilterDegradesToTemplate(t *testing.T) {
	var buf bytes.Buffer
	r := newTestResolver(t, slog.New(slog.NewTextHandler(&buf, nil)))

	for _, input := range []string{
		"{{ context.artifacts.event.details | nosuchfilter }}",
		"{{ context.artifacts.event.details.firstname | length }}",
	} {
		got, err := r.Resolve(context.Background(), input, rootObj())
		require.NoError(t, err, input)
		assert.Equal(t, input, got)
	}
	assert.Contains(t, buf.String(), "invalid template syntax")
}

func TestResolve_JinjaLiterals(t *testing.T) {
	r := newTestResolver(t, nil)
	ctx := context.Background()

	got, err := r.Resolve(ctx, map[string]any{
		"none":  "{{ None }}",
		"yes":   "{{ True }}",
		"no":    "{{ False }}",
		"check": "{{ context.artifacts.event.details.firstname != None and True }}",
	}, rootObj())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"none": nil, "yes": true, "no": false, "check": true}, got)

	_, err = r.Resolve(ctx, "{{ Nothing }}", rootObj())
	assert.True(t, schema.IsCode(err, schema.ErrCodeUndefined))
}

func TestResolve_Structures(t *testing.T) {
	r := newTestResolver(t, nil)
	ctx := context.Background()

	got, err := r.Resolve(ctx, map[string]any{"firstname": "$.artifacts.event.details.firstname"}, rootObj())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"firstname": "Sterling"}, got)

	got, err = r.Resolve(ctx, []any{"test"}, rootObj())
	require.NoError(t, err)
	assert.Equal(t, []any{"test"}, got)

	got, err = r.Resolve(ctx, []any{
		map[string]any{"firstname": "$.artifacts.event.details.firstname"},
		"$.artifacts.event.details.lastname",
	}, rootObj())
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"firstname": "Sterling"}, "Archer"}, got)

	got, err = r.Resolve(ctx, []string{"$.artifacts.event.details.middlename", "x"}, rootObj())
	require.NoError(t, err)
	assert.Equal(t, []any{"Malory", "x"}, got)

	got, err = r.Resolve(ctx, []map[string]any{{"n": "$.artifacts.event.details.lastname"}}, rootObj())
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"n": "Archer"}}, got)

	for _, scalar := range []any{42, 1.5, true, nil} {
		got, err := r.Resolve(ctx, scalar, rootObj())
		require.NoError(t, err)
		assert.Equal(t, scalar, got)
	}
}

func TestResolve_ErrorInNestedValue(t *testing.T) {
	r := newTestResolver(t, nil)
	_, err := r.Resolve(context.Background(), map[string]any{
		"ok":  "Hello",
		"bad": []any{"$.missing"},
	}, rootObj())
	assert.True(t, schema.IsCode(err, schema.ErrCodeUndefined))
}

func TestResolveAll(t *testing.T) {
	r := newTestResolver(t, nil)

	parameters := map[string]any{
		"firstname":  "$.artifacts.event.details.firstname",
		"lastname":   "$.artifacts.event.details.lastname",
		"middlename": "Malory",
		"vault.txt":  "vault:soarkit_vault_tests.txt",
		"vault.json": "vault:soarkit_vault_tests.json!json",
		"acquaintances": []any{
			map[string]any{
				"firstname": "$.artifacts.event.details.middlename",
				"lastname":  "$.artifacts.event.details.lastname",
			},
		},
	}
	got, err := r.ResolveAll(context.Background(), parameters, rootObj())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"firstname":     "Sterling",
		"lastname":      "Archer",
		"middlename":    "Malory",
		"vault.txt":     "this came from the vault",
		"vault.json":    map[string]any{"hello": "world"},
		"acquaintances": []any{map[string]any{"firstname": "Malory", "lastname": "Archer"}},
	}, got)
}
