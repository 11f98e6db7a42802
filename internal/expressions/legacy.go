package expressions

import (
	"context"
	"html"
	"strings"
)

var unescapeQuotes = strings.NewReplacer("&#34;", `"`, "&#39;", "'")

// LegacyRenderer renders single-brace "{ }" templates. Values are
// HTML-escaped (quotes excepted) and missing names render as empty text.
// Syntax errors are returned to the caller.
type LegacyRenderer struct {
	ev *evaluator
}

// NewLegacyRenderer creates a legacy renderer owning the given function table.
func NewLegacyRenderer(fns Functions) *LegacyRenderer {
	return &LegacyRenderer{ev: newEvaluator(fns, true)}
}

// RenderString renders template against root. The result is always text.
func (l *LegacyRenderer) RenderString(ctx context.Context, template string, root map[string]any) (string, error) {
	segs, err := legacyDelims.split(template)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, s := range segs {
		if !s.expr {
			b.WriteString(s.text)
			continue
		}
		v, err := l.ev.eval(ctx, s.text, root)
		if err != nil {
			return "", err
		}
		b.WriteString(unescapeQuotes.Replace(html.EscapeString(Stringify(v))))
	}
	return b.String(), nil
}

// Render is RenderString returning the text as a value.
func (l *LegacyRenderer) Render(ctx context.Context, template string, root map[string]any) (any, error) {
	return l.RenderString(ctx, template, root)
}

var _ Engine = (*LegacyRenderer)(nil)
