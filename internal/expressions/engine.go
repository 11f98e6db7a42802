package expressions

import "context"

// Engine renders templates against a root context bound as "context".
// Two implementations: Renderer (strict, value-preserving) and
// LegacyRenderer (single-brace, escaped, lenient).
type Engine interface {
	Render(ctx context.Context, template string, root map[string]any) (any, error)
	RenderString(ctx context.Context, template string, root map[string]any) (string, error)
}

// RootBinding is the name templates use to reach the root context.
const RootBinding = "context"
