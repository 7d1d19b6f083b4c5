package toon

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var numberRe = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

// DecodeLegacy decodes a KEY:VALUE|KEY:VALUE payload. Value types are
// inferred: null, booleans, numbers, ;-separated arrays, k=v object
// notation, otherwise string with outer quotes stripped.
func DecodeLegacy(payload string) (map[string]any, error) {
	tokens := splitTokens(payload)
	if len(tokens) == 0 {
		return nil, ErrEmptyPayload
	}

	m := make(map[string]any, len(tokens))

	for _, tok := range tokens {
		key, value, found := strings.Cut(tok, fieldSeparator)
		if !found || key == "" {
			return nil, fmt.Errorf("%w: token %q has no key/value separator", ErrPayloadCorrupted, tok)
		}
		m[key] = parseLegacyValue(value)
	}

	return m, nil
}

func parseLegacyValue(s string) any {
	switch {
	case s == "null":
		return nil
	case s == "true":
		return true
	case s == "false":
		return false
	case numberRe.MatchString(s):
		f, err := parseNumber(s)
		if err == nil {
			return f
		}
		return s
	case strings.Contains(s, ";"):
		parts := strings.Split(s, ";")
		arr := make([]any, 0, len(parts))
		for _, p := range parts {
			if p == "" {
				continue
			}
			arr = append(arr, parseLegacyValue(p))
		}
		return arr
	case looksLikeObject(s):
		pairs := strings.Split(s, ",")
		obj := make(map[string]any, len(pairs))
		for _, p := range pairs {
			k, v, _ := strings.Cut(p, "=")
			obj[k] = parseLegacyValue(v)
		}
		return obj
	default:
		return stripQuotes(s)
	}
}

func looksLikeObject(s string) bool {
	if !strings.Contains(s, "=") {
		return false
	}
	for _, p := range strings.Split(s, ",") {
		k, _, found := strings.Cut(p, "=")
		if !found || k == "" {
			return false
		}
	}
	return true
}

func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// EncodeLegacy encodes a value map as a legacy payload. Keys are
// emitted in lexicographic order so that output is deterministic.
// String values have the delimiter characters replaced with
// underscores, which is lossy. Callers that need exact round-trips
// should use the typed dialect.
func EncodeLegacy(m map[string]any) string {
	keys := sortedKeys(m)

	tokens := make([]string, 0, len(keys))
	for _, k := range keys {
		tokens = append(tokens, k+fieldSeparator+encodeLegacyValue(m[k]))
	}

	return strings.Join(tokens, tokenSeparator)
}

var legacyEscaper = strings.NewReplacer("|", "_", ":", "_", ";", "_", ",", "_", "=", "_")

func encodeLegacyValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		return formatNumber(t)
	case int:
		return formatNumber(float64(t))
	case int64:
		return formatNumber(float64(t))
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			parts = append(parts, encodeLegacyValue(e))
		}
		return strings.Join(parts, ";")
	case map[string]any:
		keys := sortedKeys(t)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+encodeLegacyValue(t[k]))
		}
		return strings.Join(pairs, ",")
	case string:
		return legacyEscaper.Replace(t)
	default:
		return legacyEscaper.Replace(fmt.Sprintf("%v", t))
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
