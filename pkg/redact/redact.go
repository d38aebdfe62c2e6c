// Package redact strips secret-shaped material from policy context
// before it is persisted as a learned constraint. The pattern set is
// fixed and built-in (unlike the teacher's pluggable, config-driven
// masker registry) because the spec enumerates exactly the shapes
// that must never reach storage unredacted.
package redact

import (
	"fmt"
	"regexp"
	"sort"
)

// Redacted is the literal replacement token. Tests assert its presence
// whenever the triggering context contained a secret.
const Redacted = "REDACTED"

// compiledPattern pairs a regex with the replacement to substitute for
// its match, mirroring the teacher's CompiledPattern shape.
type compiledPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// builtinPatterns covers the shapes named in the spec: secret-shaped
// tokens, long hex blobs, bearer headers, and query params named
// api_key/token/secret/authorization.
var builtinPatterns = []compiledPattern{
	{
		name:        "secret_shaped_token",
		regex:       regexp.MustCompile(`sk-[a-z]+-[A-Za-z0-9_-]{6,}`),
		replacement: Redacted,
	},
	{
		name:        "bearer_header",
		regex:       regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._-]+`),
		replacement: "Bearer " + Redacted,
	},
	{
		name:        "sensitive_query_param",
		regex:       regexp.MustCompile(`(?i)\b(api_key|token|secret|authorization)=[^&\s]+`),
		replacement: "$1=" + Redacted,
	},
	{
		name:        "long_hex_blob",
		regex:       regexp.MustCompile(`\b[0-9a-fA-F]{32,}\b`),
		replacement: Redacted,
	},
}

// String applies every built-in pattern to s in order and returns the
// redacted result.
func String(s string) string {
	out := s
	for _, p := range builtinPatterns {
		out = p.regex.ReplaceAllString(out, p.replacement)
	}
	return out
}

// Context redacts every string-valued leaf of an arbitrary JSON-like
// context map, recursing through nested maps and slices. Keys are
// preserved verbatim; only values are redacted, since the constraint
// pattern derived downstream (see Keys) is built from the keys.
func Context(ctx map[string]any) map[string]any {
	if ctx == nil {
		return nil
	}
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v any) any {
	switch t := v.(type) {
	case string:
		return String(t)
	case map[string]any:
		return Context(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = redactValue(item)
		}
		return out
	case fmt.Stringer:
		return String(t.String())
	default:
		return v
	}
}

// Keys returns the sorted key set of a context map, used as the
// "redacted_context_keys" component of a constraint's derived pattern.
func Keys(ctx map[string]any) []string {
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
