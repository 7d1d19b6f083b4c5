package toon

import (
	"fmt"
	"strconv"
	"strings"
)

// DecodeTyped decodes a TYPE:KEY:VALUE payload. Keys may be dotted and
// bracketed paths (user.name, items[0].id); composite header tokens
// (object/array, value = member count) are accepted and used to
// materialize empty composites, but the graph is reconstructed from
// the leaf paths alone.
func DecodeTyped(payload string) (map[string]any, error) {
	tokens := splitTokens(payload)
	if len(tokens) == 0 {
		return nil, ErrEmptyPayload
	}

	root := make(map[string]any)

	for _, tok := range tokens {
		parts := strings.SplitN(tok, fieldSeparator, 3)
		if len(parts) < 3 {
			return nil, fmt.Errorf("%w: token %q has fewer than three parts", ErrPayloadCorrupted, tok)
		}

		typ, key, value := parts[0], parts[1], parts[2]
		if key == "" {
			return nil, fmt.Errorf("%w: token %q has an empty key", ErrPayloadCorrupted, tok)
		}

		path, err := parsePath(key)
		if err != nil {
			return nil, err
		}

		switch typ {
		case "string":
			if err := setPath(root, path, value); err != nil {
				return nil, err
			}
		case "number":
			f, err := parseNumber(value)
			if err != nil {
				return nil, fmt.Errorf("%w: %q is not a number", ErrPayloadCorrupted, value)
			}
			if err := setPath(root, path, f); err != nil {
				return nil, err
			}
		case "boolean":
			switch value {
			case "true":
				if err := setPath(root, path, true); err != nil {
					return nil, err
				}
			case "false":
				if err := setPath(root, path, false); err != nil {
					return nil, err
				}
			default:
				return nil, fmt.Errorf("%w: %q is not a boolean", ErrPayloadCorrupted, value)
			}
		case "null":
			if value != "NULL" {
				return nil, fmt.Errorf("%w: null token carries value %q", ErrPayloadCorrupted, value)
			}
			if err := setPath(root, path, nil); err != nil {
				return nil, err
			}
		case "object":
			if _, err := strconv.Atoi(value); err != nil {
				return nil, fmt.Errorf("%w: object header count %q", ErrPayloadCorrupted, value)
			}
			if err := materialize(root, path, make(map[string]any)); err != nil {
				return nil, err
			}
		case "array":
			if _, err := strconv.Atoi(value); err != nil {
				return nil, fmt.Errorf("%w: array header count %q", ErrPayloadCorrupted, value)
			}
			if err := materialize(root, path, []any{}); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: unknown type %q", ErrPayloadCorrupted, typ)
		}
	}

	return root, nil
}

// EncodeTyped encodes a value graph depth-first: one header token per
// composite (value slot carries the member count) followed by the leaf
// tokens. Keys are emitted in lexicographic order. Pipe characters in
// string values are replaced with underscores since the pipe delimits
// tokens on the wire.
func EncodeTyped(m map[string]any) string {
	tokens := make([]string, 0, len(m))
	for _, k := range sortedKeys(m) {
		tokens = appendTyped(tokens, k, m[k])
	}
	return strings.Join(tokens, tokenSeparator)
}

func appendTyped(tokens []string, path string, v any) []string {
	switch t := v.(type) {
	case nil:
		return append(tokens, "null"+fieldSeparator+path+fieldSeparator+"NULL")
	case bool:
		if t {
			return append(tokens, "boolean"+fieldSeparator+path+fieldSeparator+"true")
		}
		return append(tokens, "boolean"+fieldSeparator+path+fieldSeparator+"false")
	case float64:
		return append(tokens, "number"+fieldSeparator+path+fieldSeparator+formatNumber(t))
	case int:
		return append(tokens, "number"+fieldSeparator+path+fieldSeparator+formatNumber(float64(t)))
	case int64:
		return append(tokens, "number"+fieldSeparator+path+fieldSeparator+formatNumber(float64(t)))
	case map[string]any:
		tokens = append(tokens, "object"+fieldSeparator+path+fieldSeparator+strconv.Itoa(len(t)))
		for _, k := range sortedKeys(t) {
			tokens = appendTyped(tokens, path+"."+k, t[k])
		}
		return tokens
	case []any:
		tokens = append(tokens, "array"+fieldSeparator+path+fieldSeparator+strconv.Itoa(len(t)))
		for i, e := range t {
			tokens = appendTyped(tokens, fmt.Sprintf("%s[%d]", path, i), e)
		}
		return tokens
	case string:
		return append(tokens, "string"+fieldSeparator+path+fieldSeparator+strings.ReplaceAll(t, tokenSeparator, "_"))
	default:
		return append(tokens, "string"+fieldSeparator+path+fieldSeparator+strings.ReplaceAll(fmt.Sprintf("%v", t), tokenSeparator, "_"))
	}
}

// pathSegment is one step in a dotted/bracketed key path. A segment
// with index >= 0 addresses an array element.
type pathSegment struct {
	key   string
	index int
}

func parsePath(key string) ([]pathSegment, error) {
	segments := []pathSegment{}

	for _, part := range strings.Split(key, ".") {
		if part == "" {
			return nil, fmt.Errorf("%w: key %q has an empty path segment", ErrPayloadCorrupted, key)
		}

		name := part
		var indices []int

		if i := strings.IndexByte(part, '['); i >= 0 {
			name = part[:i]
			rest := part[i:]
			for rest != "" {
				if rest[0] != '[' {
					return nil, fmt.Errorf("%w: malformed index in key %q", ErrPayloadCorrupted, key)
				}
				end := strings.IndexByte(rest, ']')
				if end < 0 {
					return nil, fmt.Errorf("%w: unterminated index in key %q", ErrPayloadCorrupted, key)
				}
				idx, err := strconv.Atoi(rest[1:end])
				if err != nil || idx < 0 {
					return nil, fmt.Errorf("%w: invalid index in key %q", ErrPayloadCorrupted, key)
				}
				indices = append(indices, idx)
				rest = rest[end+1:]
			}
		}

		if name == "" {
			return nil, fmt.Errorf("%w: key %q indexes an unnamed segment", ErrPayloadCorrupted, key)
		}

		segments = append(segments, pathSegment{key: name, index: -1})
		for _, idx := range indices {
			segments = append(segments, pathSegment{index: idx})
		}
	}

	return segments, nil
}

// setPath writes a leaf value into the graph, creating intermediate
// maps and slices as needed.
func setPath(root map[string]any, path []pathSegment, value any) error {
	return walkPath(root, path, value, true)
}

// materialize ensures a composite exists at path without overwriting
// anything already placed there by leaf tokens.
func materialize(root map[string]any, path []pathSegment, composite any) error {
	return walkPath(root, path, composite, false)
}

func walkPath(root map[string]any, path []pathSegment, value any, overwrite bool) error {
	var container any = root

	for i, seg := range path {
		last := i == len(path)-1

		switch c := container.(type) {
		case map[string]any:
			if seg.key == "" {
				return fmt.Errorf("%w: index applied to object", ErrPayloadCorrupted)
			}
			if last {
				if overwrite || c[seg.key] == nil {
					c[seg.key] = value
				}
				return nil
			}
			next := c[seg.key]
			if next == nil {
				if path[i+1].key == "" {
					next = []any{}
				} else {
					next = make(map[string]any)
				}
				c[seg.key] = next
			}
			if s, ok := next.([]any); ok {
				grown, err := placeInSlice(s, path[i+1:], value, overwrite)
				if err != nil {
					return err
				}
				c[seg.key] = grown
				return nil
			}
			container = next

		default:
			return fmt.Errorf("%w: path traverses a scalar", ErrPayloadCorrupted)
		}
	}

	return nil
}

// placeInSlice handles the remainder of a path whose next segment is
// an array index, growing the slice as needed.
func placeInSlice(s []any, path []pathSegment, value any, overwrite bool) ([]any, error) {
	seg := path[0]
	if seg.key != "" || seg.index < 0 {
		return nil, fmt.Errorf("%w: expected array index", ErrPayloadCorrupted)
	}

	for len(s) <= seg.index {
		s = append(s, nil)
	}

	if len(path) == 1 {
		if overwrite || s[seg.index] == nil {
			s[seg.index] = value
		}
		return s, nil
	}

	next := s[seg.index]
	if next == nil {
		if path[1].key == "" {
			next = []any{}
		} else {
			next = make(map[string]any)
		}
		s[seg.index] = next
	}

	switch n := next.(type) {
	case []any:
		grown, err := placeInSlice(n, path[1:], value, overwrite)
		if err != nil {
			return nil, err
		}
		s[seg.index] = grown
		return s, nil
	case map[string]any:
		if err := walkPath(n, path[1:], value, overwrite); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: path traverses a scalar", ErrPayloadCorrupted)
	}
}
