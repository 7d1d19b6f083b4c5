package toon

import (
	"sort"
	"strings"
)

// Keys excluded from the canonical form. Signatures cannot cover
// themselves, and raw_toon carries the verbatim inbound payload.
var signatureExcludedKeys = map[string]struct{}{
	"SIG1":     {},
	"SIG_SERV": {},
	"raw_toon": {},
}

// Canonical renders the deterministic byte string over which Ed25519
// signatures are computed. Signature-excluded keys are dropped, the
// remaining keys are sorted by code point, and each KEY:VALUE pair is
// joined with a pipe. The result is independent of dialect and stable
// under token reordering. Devices and the server must agree on this
// rendering bit for bit.
func Canonical(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		if _, excluded := signatureExcludedKeys[k]; excluded {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+fieldSeparator+canonicalValue(m[k]))
	}

	return strings.Join(pairs, tokenSeparator)
}

func canonicalValue(v any) string {
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
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			parts = append(parts, canonicalValue(e))
		}
		return strings.Join(parts, tokenSeparator)
	case map[string]any:
		keys := sortedKeys(t)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+canonicalValue(t[k]))
		}
		return strings.Join(pairs, ",")
	default:
		return ""
	}
}
