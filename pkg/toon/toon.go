// Package toon implements the TOON wire format: a plain-text, typed,
// order-independent key/value encoding used for all request and
// response bodies. Two dialects coexist on the wire. Devices speak the
// legacy untyped dialect, operator tooling speaks the typed dialect.
//
// Neither dialect escapes losslessly. Legacy encoding replaces every
// reserved character (| : ; , =) in a value with _. Typed encoding
// preserves value types and the reserved characters the legacy dialect
// mangles, with one exception: the token separator | is replaced with
// _ in string values, so strings containing it do not round-trip.
package toon

import (
	"errors"
	"strconv"
	"strings"
)

type Dialect int

const (
	DialectUnknown Dialect = iota
	DialectLegacy
	DialectTyped
)

func (d Dialect) String() string {
	switch d {
	case DialectLegacy:
		return "legacy"
	case DialectTyped:
		return "typed"
	}
	return "unknown"
}

var ErrPayloadCorrupted = errors.New("payload corrupted")
var ErrEmptyPayload = errors.New("empty payload")

const (
	tokenSeparator = "|"
	batchSeparator = "||"
	fieldSeparator = ":"
)

var knownTypes = map[string]struct{}{
	"string":  {},
	"number":  {},
	"boolean": {},
	"null":    {},
	"object":  {},
	"array":   {},
}

// IsTyped reports whether a payload is in the typed dialect: every
// non-empty token has at least three colon-separated parts and the
// first part names a known type.
func IsTyped(payload string) bool {
	tokens := splitTokens(payload)
	if len(tokens) == 0 {
		return false
	}

	for _, tok := range tokens {
		parts := strings.SplitN(tok, fieldSeparator, 3)
		if len(parts) < 3 {
			return false
		}
		if _, ok := knownTypes[parts[0]]; !ok {
			return false
		}
	}

	return true
}

// Decode auto-detects the dialect of a single payload and decodes it.
func Decode(payload string) (map[string]any, Dialect, error) {
	if strings.TrimSpace(payload) == "" {
		return nil, DialectUnknown, ErrEmptyPayload
	}

	if IsTyped(payload) {
		m, err := DecodeTyped(payload)
		return m, DialectTyped, err
	}

	m, err := DecodeLegacy(payload)
	return m, DialectLegacy, err
}

func parseNumber(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// splitTokens splits one payload into its non-empty tokens. Empty
// fragments are ignored.
func splitTokens(payload string) []string {
	parts := strings.Split(payload, tokenSeparator)

	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		tokens = append(tokens, p)
	}

	return tokens
}
