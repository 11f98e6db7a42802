package expressions

import (
	"strings"

	"github.com/rendis/soarkit/pkg/schema"
)

// segment is either literal text or the body of one delimited expression.
type segment struct {
	text string
	expr bool
}

type delimiters struct {
	open, close string
}

var (
	nativeDelims = delimiters{open: "{{", close: "}}"}
	legacyDelims = delimiters{open: "{", close: "}"}
)

// split cuts a template into literal and expression segments. Quoted strings
// inside an expression may contain the closing delimiter.
func (d delimiters) split(template string) ([]segment, error) {
	var segs []segment
	rest := template
	for rest != "" {
		i := strings.Index(rest, d.open)
		if i < 0 {
			segs = append(segs, segment{text: rest})
			break
		}
		if i > 0 {
			segs = append(segs, segment{text: rest[:i]})
		}
		body := rest[i+len(d.open):]
		j := closingIndex(body, d.close)
		if j < 0 {
			return nil, syntaxErrorf(template, "unexpected end of template, expected %q", d.close)
		}
		expression := strings.TrimSpace(body[:j])
		if expression == "" {
			return nil, syntaxErrorf(template, "expected an expression between %q and %q", d.open, d.close)
		}
		segs = append(segs, segment{text: expression, expr: true})
		rest = body[j+len(d.close):]
	}
	return segs, nil
}

func closingIndex(s, close string) int {
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"' || c == '`':
			quote = c
		case strings.HasPrefix(s[i:], close):
			return i
		}
	}
	return -1
}

// soleExpression returns the expression of a template made of exactly one
// delimited region, ignoring surrounding whitespace.
func soleExpression(segs []segment) (string, bool) {
	var found string
	n := 0
	for _, s := range segs {
		if s.expr {
			found = s.text
			n++
			continue
		}
		if strings.TrimSpace(s.text) != "" {
			return "", false
		}
	}
	return found, n == 1
}

// jinjaLiterals maps the capitalized literal names playbooks use to the
// expression language's own.
var jinjaLiterals = map[string]string{
	"True":  "true",
	"False": "false",
	"None":  "nil",
	"none":  "nil",
}

// normalizeFilters rewrites bare pipe filters (`x | fromjson`) into calls
// (`x | fromjson()`) and literal names (`None`) into their expression form.
// Logical or (`||`), member names and quoted text are left alone.
func normalizeFilters(src string) string {
	out, _ := rewriteExpression(src)
	return out
}

// rewriteExpression is normalizeFilters that also reports the names used in
// filter position, in order of appearance.
func rewriteExpression(src string) (string, []string) {
	var b strings.Builder
	b.Grow(len(src) + 8)
	var (
		filters []string
		quote   byte
		prev    byte // last non-space byte outside quotes
	)
	for i := 0; i < len(src); i++ {
		c := src[i]
		if quote != 0 {
			b.WriteByte(c)
			if c == '\\' && i+1 < len(src) {
				i++
				b.WriteByte(src[i])
			} else if c == quote {
				quote = 0
				prev = c
			}
			continue
		}
		switch {
		case c == '\'' || c == '"' || c == '`':
			quote = c
			b.WriteByte(c)
		case c == '|':
			b.WriteByte(c)
			if i+1 < len(src) && src[i+1] == '|' {
				i++
				b.WriteByte('|')
				break
			}
			start := i + 1
			for start < len(src) && src[start] == ' ' {
				start++
			}
			end := start
			for end < len(src) && isIdentByte(src[end], end == start) {
				end++
			}
			if end == start {
				break
			}
			filters = append(filters, src[start:end])
			b.WriteString(src[i+1 : end])
			next := end
			for next < len(src) && src[next] == ' ' {
				next++
			}
			if next >= len(src) || src[next] != '(' {
				b.WriteString("()")
			}
			i = end - 1
		case isIdentByte(c, true) && prev != '.':
			end := i + 1
			for end < len(src) && isIdentByte(src[end], false) {
				end++
			}
			word := src[i:end]
			if lit, ok := jinjaLiterals[word]; ok {
				word = lit
			}
			b.WriteString(word)
			i = end - 1
		case isIdentByte(c, false):
			// digits and the identifier characters glued to them (1e5, x1)
			end := i + 1
			for end < len(src) && isIdentByte(src[end], false) {
				end++
			}
			b.WriteString(src[i:end])
			i = end - 1
		default:
			b.WriteByte(c)
		}
		if src[i] != ' ' {
			prev = src[i]
		}
	}
	return b.String(), filters
}

func isIdentByte(c byte, first bool) bool {
	switch {
	case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return !first
	}
	return false
}

func syntaxErrorf(template, format string, args ...any) *schema.SoarkitError {
	return schema.NewErrorf(schema.ErrCodeTemplateSyntax, format, args...).
		WithDetails(map[string]any{"template": template})
}
