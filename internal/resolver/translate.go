package resolver

import (
	"fmt"
	"strings"

	"github.com/rendis/soarkit/pkg/schema"
)

// Legacy reference tokens.
const (
	PathPrefix  = "$."
	VaultPrefix = "vault:"
	JSONSuffix  = "!json"
)

// Kind classifies a raw reference string.
type Kind int

const (
	Literal Kind = iota
	PathRef
	BlobRef
	Template
)

func (k Kind) String() string {
	switch k {
	case PathRef:
		return "path"
	case BlobRef:
		return "blob"
	case Template:
		return "template"
	default:
		return "literal"
	}
}

// Reference is the parsed form of a raw reference string.
//
// For PathRef, Body is the expression rooted at the context binding
// (context.a.b). For BlobRef, Body is the blob key and Trailing any text after
// it. For Literal and Template, Body is the raw string.
type Reference struct {
	Kind       Kind
	Body       string
	Trailing   string
	DecodeJSON bool
}

// Parse classifies raw. Rules apply in order: a trailing !json marks the
// reference for decoding, then $. and vault: prefixes select the legacy forms.
func Parse(raw string) Reference {
	body, decode := strings.CutSuffix(raw, JSONSuffix)

	switch {
	case strings.HasPrefix(body, PathPrefix):
		return Reference{Kind: PathRef, Body: "context" + body[1:], DecodeJSON: decode}
	case strings.HasPrefix(body, VaultPrefix):
		rest := body[len(VaultPrefix):]
		end := strings.IndexFunc(rest, func(r rune) bool {
			return r == ' ' || r == '\t' || r == '\n' || r == '|'
		})
		if end < 0 {
			end = len(rest)
		}
		if end > 0 {
			return Reference{Kind: BlobRef, Body: rest[:end], Trailing: rest[end:], DecodeJSON: decode}
		}
	}

	if strings.Contains(raw, "{{") {
		return Reference{Kind: Template, Body: raw}
	}
	return Reference{Kind: Literal, Body: raw}
}

// Template returns the native template equivalent of r.
func (r Reference) Template() string {
	var expr string
	switch r.Kind {
	case PathRef:
		expr = r.Body
	case BlobRef:
		expr = "vault(" + quoteKey(r.Body) + ")" + r.Trailing
	default:
		return r.Body
	}
	if r.DecodeJSON {
		expr += " |fromjson"
	}
	return "{{" + expr + "}}"
}

// Translate rewrites legacy reference syntax into a native template. Native
// templates and literals are returned unchanged.
func Translate(raw string) string {
	return Parse(raw).Template()
}

// TranslateValue is Translate for values of unknown type.
func TranslateValue(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", schema.NewErrorf(schema.ErrCodeTranslation,
			"Unable to convert reference type %T to template", v).
			WithDetails(map[string]any{"type": fmt.Sprintf("%T", v)})
	}
	return Translate(s), nil
}

func quoteKey(key string) string {
	key = strings.ReplaceAll(key, `\`, `\\`)
	return "'" + strings.ReplaceAll(key, "'", `\'`) + "'"
}
