package expressions

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/rendis/soarkit/pkg/schema"
)

// BlobFetcher returns the content of a stored blob. Satisfied by blobs.Service.
type BlobFetcher interface {
	FetchContent(ctx context.Context, key string) (string, error)
}

// SecretFetcher returns a decrypted secret by path. Satisfied by secrets.ParameterStore.
type SecretFetcher interface {
	Get(ctx context.Context, path string) (string, error)
}

// DefaultDeniedEnv lists environment variables env() never reveals.
var DefaultDeniedEnv = []string{
	"AWS_ACCESS_KEY_ID",
	"AWS_SECRET_ACCESS_KEY",
	"AWS_SESSION_TOKEN",
	"AWS_SECURITY_TOKEN",
	"GOOGLE_APPLICATION_CREDENTIALS",
	"AZURE_CLIENT_SECRET",
	"SOARKIT_VAULT_KEY",
}

// Functions is the function table a renderer exposes to templates. Every
// function may also be applied as a filter: `x | fromjson`.
type Functions struct {
	Blobs     BlobFetcher
	Secrets   SecretFetcher
	LookupEnv func(string) (string, bool)
	// DeniedEnv adds names to DefaultDeniedEnv; it cannot remove any.
	DeniedEnv []string
}

func (f Functions) withDefaults() Functions {
	if f.LookupEnv == nil {
		f.LookupEnv = os.LookupEnv
	}
	return f
}

type templateFunc = func(args ...any) (any, error)

// bind returns the table as expression environment entries, closed over ctx.
func (f Functions) bind(ctx context.Context, jq *jqRunner) map[string]any {
	return map[string]any{
		"fromjson":      templateFunc(fromJSON),
		"maptostr":      templateFunc(mapToStr),
		"fromtimestamp": templateFunc(fromTimestamp),
		"env":           templateFunc(f.env),
		"vault": templateFunc(func(args ...any) (any, error) {
			return f.vault(ctx, args...)
		}),
		"secret": templateFunc(func(args ...any) (any, error) {
			return f.secret(ctx, args...)
		}),
		"jq": templateFunc(func(args ...any) (any, error) {
			if err := arity("jq", args, 2, 2); err != nil {
				return nil, err
			}
			query, ok := args[1].(string)
			if !ok {
				return nil, bootstrapErrorf("jq query must be a string, got %T", args[1])
			}
			return jq.run(ctx, args[0], query)
		}),
	}
}

func fromJSON(args ...any) (any, error) {
	if err := arity("fromjson", args, 1, 1); err != nil {
		return nil, err
	}
	var text string
	switch v := args[0].(type) {
	case string:
		text = v
	case []byte:
		text = string(v)
	default:
		return nil, bootstrapErrorf("Invalid JSON passed to fromjson filter: %s", Stringify(v))
	}
	var out any
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, bootstrapErrorf("Invalid JSON passed to fromjson filter: %s", text).WithCause(err)
	}
	return out, nil
}

func mapToStr(args ...any) (any, error) {
	if err := arity("maptostr", args, 1, 1); err != nil {
		return nil, err
	}
	switch v := args[0].(type) {
	case []any:
		out := make([]any, len(v))
		for i, each := range v {
			out[i] = Stringify(each)
		}
		return out, nil
	case string:
		out := make([]any, 0, len(v))
		for _, r := range v {
			out = append(out, string(r))
		}
		return out, nil
	}
	rv := reflect.ValueOf(args[0])
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, bootstrapErrorf("maptostr expects a sequence, got %T", args[0])
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = Stringify(rv.Index(i).Interface())
	}
	return out, nil
}

func fromTimestamp(args ...any) (any, error) {
	if err := arity("fromtimestamp", args, 1, 2); err != nil {
		return nil, err
	}
	zone := "UTC"
	if len(args) == 2 {
		z, ok := args[1].(string)
		if !ok {
			return nil, bootstrapErrorf("Unknown timezone: %v", args[1])
		}
		zone = z
	}

	epoch, ok := toEpoch(args[0])
	if !ok {
		return nil, bootstrapErrorf("Invalid timestamp: %v", Stringify(args[0]))
	}
	loc, err := time.LoadLocation(zone)
	if err != nil || zone == "" || zone == "Local" {
		return nil, bootstrapErrorf("Unknown timezone: %s", zone)
	}

	sec, frac := math.Modf(epoch)
	t := time.Unix(int64(sec), int64(math.Round(frac*1e6))*int64(time.Microsecond)).In(loc)
	if t.Nanosecond() != 0 {
		return t.Format("2006-01-02T15:04:05.000000-07:00"), nil
	}
	return t.Format("2006-01-02T15:04:05-07:00"), nil
}

func toEpoch(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	}
	return 0, false
}

func (f Functions) env(args ...any) (any, error) {
	if err := arity("env", args, 1, 1); err != nil {
		return nil, err
	}
	name, ok := args[0].(string)
	if !ok {
		return nil, bootstrapErrorf("Environment variable not set: %v", args[0])
	}
	if envDenied(name, DefaultDeniedEnv) || envDenied(name, f.DeniedEnv) {
		return nil, bootstrapErrorf("Access to environment variable denied: %s", name)
	}
	value, ok := f.LookupEnv(name)
	if !ok {
		return nil, bootstrapErrorf("Environment variable not set: %s", name)
	}
	return value, nil
}

func (f Functions) vault(ctx context.Context, args ...any) (any, error) {
	if err := arity("vault", args, 1, 1); err != nil {
		return nil, err
	}
	key, ok := args[0].(string)
	if !ok {
		return nil, bootstrapErrorf("vault key must be a string, got %T", args[0])
	}
	if f.Blobs == nil {
		return nil, bootstrapErrorf("vault(%q): no blob store configured", key)
	}
	content, err := f.Blobs.FetchContent(ctx, key)
	if err != nil {
		return nil, bootstrapErrorf("Failed to fetch vault item %s", key).WithCause(err)
	}
	return content, nil
}

func (f Functions) secret(ctx context.Context, args ...any) (any, error) {
	if err := arity("secret", args, 1, 1); err != nil {
		return nil, err
	}
	path, ok := args[0].(string)
	if !ok {
		return nil, bootstrapErrorf("secret path must be a string, got %T", args[0])
	}
	if f.Secrets == nil {
		return nil, bootstrapErrorf("secret(%q): no secret store configured", path)
	}
	value, err := f.Secrets.Get(ctx, path)
	if err != nil {
		if schema.CodeOf(err) != "" {
			return nil, err
		}
		return nil, bootstrapErrorf("Failed to fetch parameter %s", path).WithCause(err)
	}
	return value, nil
}

func arity(name string, args []any, min, max int) error {
	if len(args) < min || len(args) > max {
		if min == max {
			return bootstrapErrorf("%s() takes %d argument(s), got %d", name, min, len(args))
		}
		return bootstrapErrorf("%s() takes %d to %d arguments, got %d", name, min, max, len(args))
	}
	for _, a := range args {
		if u, ok := a.(undefined); ok {
			return undefinedErrorf("%s() received undefined value %q", name, u.name)
		}
	}
	return nil
}

func bootstrapErrorf(format string, args ...any) *schema.SoarkitError {
	return schema.NewErrorf(schema.ErrCodeBootstrap, format, args...)
}

func envDenied(name string, denied []string) bool {
	for _, d := range denied {
		if strings.EqualFold(name, d) {
			return true
		}
	}
	return false
}
