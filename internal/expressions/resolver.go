package expressions

import "regexp"

// placeholderRe matches a string that is exactly one {{path}} placeholder.
// Text around the braces disables substitution.
var placeholderRe = regexp.MustCompile(`^\{\{\s*([^{}\s]+)\s*\}\}$`)

// Lookuper resolves a dotted node path to a value.
type Lookuper interface {
	Lookup(path string) (any, bool)
}

// Resolve returns a copy of args with every whole-string {{node.path}}
// placeholder replaced by the value it names. Placeholders that cannot be
// resolved are left verbatim. args is never modified.
func Resolve(args map[string]any, values Lookuper) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = resolveValue(v, values)
	}
	return out
}

func resolveValue(v any, values Lookuper) any {
	switch val := v.(type) {
	case string:
		m := placeholderRe.FindStringSubmatch(val)
		if m == nil {
			return val
		}
		if resolved, ok := values.Lookup(m[1]); ok {
			return deepCopyAny(resolved)
		}
		return val
	case map[string]any:
		return Resolve(val, values)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = resolveValue(item, values)
		}
		return out
	default:
		return v
	}
}

// Placeholder reports the path of s when s is a whole-string placeholder.
func Placeholder(s string) (string, bool) {
	m := placeholderRe.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return m[1], true
}
