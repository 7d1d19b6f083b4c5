package toon

import (
	"strings"
	"testing"

	"github.com/matryer/is"
)

func TestDecodeLegacyScalars(t *testing.T) {
	is := is.New(t)

	m, err := DecodeLegacy("D1:dev_1|HB1:42|HB2:true|HB3:null|HB4:-3.5")
	is.NoErr(err)

	is.Equal(m["D1"], "dev_1")
	is.Equal(m["HB1"], float64(42))
	is.Equal(m["HB2"], true)
	is.Equal(m["HB3"], nil)
	is.Equal(m["HB4"], float64(-3.5))
}

func TestDecodeLegacyArrayAndObject(t *testing.T) {
	is := is.New(t)

	m, err := DecodeLegacy("TAGS:a;b;c|L1:lat=62.39,lng=17.31")
	is.NoErr(err)

	arr, ok := m["TAGS"].([]any)
	is.True(ok)
	is.Equal(len(arr), 3)
	is.Equal(arr[0], "a")

	obj, ok := m["L1"].(map[string]any)
	is.True(ok)
	is.Equal(obj["lat"], float64(62.39))
	is.Equal(obj["lng"], float64(17.31))
}

func TestDecodeLegacyStripsQuotes(t *testing.T) {
	is := is.New(t)

	m, err := DecodeLegacy(`N1:"John Smith"|N2:'single'`)
	is.NoErr(err)

	is.Equal(m["N1"], "John Smith")
	is.Equal(m["N2"], "single")
}

func TestDecodeLegacyIgnoresEmptyFragments(t *testing.T) {
	is := is.New(t)

	m, err := DecodeLegacy("A1:x||B1:y|")
	is.NoErr(err)
	is.Equal(len(m), 2)
}

func TestDecodeLegacyCorrupted(t *testing.T) {
	is := is.New(t)

	_, err := DecodeLegacy("novalue")
	is.True(err != nil)
	is.True(strings.Contains(err.Error(), "payload corrupted"))
}

func TestLegacyRoundTrip(t *testing.T) {
	is := is.New(t)

	values := []map[string]any{
		{"A1": "evt_a", "A2": "IN", "D1": "dev_1"},
		{"N1": float64(42), "N2": float64(-3.5), "B1": true, "B2": false, "X1": nil},
		{"ARR": []any{"a", "b", float64(3)}},
		{"OBJ": map[string]any{"lat": float64(62.39), "lng": float64(17.31)}},
		{"MIX": []any{float64(1), float64(2)}, "S1": "ok"},
	}

	for _, v := range values {
		encoded := EncodeLegacy(v)
		decoded, err := DecodeLegacy(encoded)
		is.NoErr(err)
		is.Equal(decoded, v)
	}
}

func TestLegacyEncodeEscapesDelimiters(t *testing.T) {
	is := is.New(t)

	encoded := EncodeLegacy(map[string]any{"M1": "a|b:c;d,e=f"})
	is.Equal(encoded, "M1:a_b_c_d_e_f")
}

func TestTypedRoundTrip(t *testing.T) {
	is := is.New(t)

	values := []map[string]any{
		{"S1": "ok"},
		{"N1": float64(1.25), "B1": false, "X1": nil},
		{"user": map[string]any{"name": "ann", "age": float64(34)}},
		{"items": []any{
			map[string]any{"id": "a"},
			map[string]any{"id": "b"},
		}},
		{"nested": map[string]any{
			"deep": map[string]any{"leaf": "v"},
			"arr":  []any{float64(1), float64(2), float64(3)},
		}},
		{"empty": map[string]any{}, "none": []any{}},
	}

	for _, v := range values {
		encoded := EncodeTyped(v)
		decoded, err := DecodeTyped(encoded)
		is.NoErr(err)
		is.Equal(decoded, v)
	}
}

func TestTypedStringsSubstituteTokenSeparator(t *testing.T) {
	is := is.New(t)

	// reserved characters the legacy dialect mangles survive, except
	// the token separator itself
	encoded := EncodeTyped(map[string]any{"M1": "a:b;c,d=e", "M2": "a|b"})
	decoded, err := DecodeTyped(encoded)
	is.NoErr(err)

	is.Equal(decoded["M1"], "a:b;c,d=e")
	is.Equal(decoded["M2"], "a_b")
}

func TestTypedNullLiteral(t *testing.T) {
	is := is.New(t)

	m, err := DecodeTyped("null:X1:NULL")
	is.NoErr(err)

	v, present := m["X1"]
	is.True(present)
	is.Equal(v, nil)
}

func TestTypedBracketedPaths(t *testing.T) {
	is := is.New(t)

	m, err := DecodeTyped("string:CMD[0].CMD1:cmd_x|string:CMD[1].CMD1:cmd_y|number:CMD_COUNT:2")
	is.NoErr(err)

	cmds, ok := m["CMD"].([]any)
	is.True(ok)
	is.Equal(len(cmds), 2)

	first, ok := cmds[0].(map[string]any)
	is.True(ok)
	is.Equal(first["CMD1"], "cmd_x")
}

func TestTypedRejectsUnknownType(t *testing.T) {
	is := is.New(t)

	_, err := DecodeTyped("frob:K1:v")
	is.True(err != nil)
}

func TestAutoDetect(t *testing.T) {
	is := is.New(t)

	_, dialect, err := Decode("string:S1:ok|number:N1:1")
	is.NoErr(err)
	is.Equal(dialect, DialectTyped)

	_, dialect, err = Decode("S1:ok|N1:1")
	is.NoErr(err)
	is.Equal(dialect, DialectLegacy)

	// a colon-rich legacy value must not flip detection
	_, dialect, err = Decode("A3:2025-01-01T09:00:00Z|D1:dev_1")
	is.NoErr(err)
	is.Equal(dialect, DialectLegacy)
}

func TestDecodeBatch(t *testing.T) {
	is := is.New(t)

	payloads, err := DecodeBatch("A1:evt_a|A2:IN||A1:evt_b|A2:OUT")
	is.NoErr(err)
	is.Equal(len(payloads), 2)
	is.Equal(payloads[0]["A1"], "evt_a")
	is.Equal(payloads[1]["A1"], "evt_b")
}

func TestDecodeBatchDropsEmptyFragments(t *testing.T) {
	is := is.New(t)

	payloads, err := DecodeBatch("||A1:evt_a|A2:IN||")
	is.NoErr(err)
	is.Equal(len(payloads), 1)
}

func TestDecodeBatchFailsWhole(t *testing.T) {
	is := is.New(t)

	_, err := DecodeBatch("A1:evt_a||garbage")
	is.True(err != nil)
}

func TestEncodeBatchLegacy(t *testing.T) {
	is := is.New(t)

	out := EncodeBatchLegacy([]map[string]any{
		{"A1": "evt_a", "S1": "accepted"},
		{"A1": "evt_b", "S1": "accepted"},
	})
	is.Equal(out, "A1:evt_a|S1:accepted||A1:evt_b|S1:accepted")
}

func TestCanonicalDeterministicUnderPermutation(t *testing.T) {
	is := is.New(t)

	a, err := DecodeLegacy("D1:dev_1|TS:2025-01-01T09:00:00Z|NONCE:n1|SIG1:sig")
	is.NoErr(err)
	b, err := DecodeLegacy("SIG1:sig|NONCE:n1|TS:2025-01-01T09:00:00Z|D1:dev_1")
	is.NoErr(err)

	is.Equal(Canonical(a), Canonical(b))
}

func TestCanonicalExcludesSignatureKeys(t *testing.T) {
	is := is.New(t)

	canon := Canonical(map[string]any{
		"D1":       "dev_1",
		"SIG1":     "device-signature",
		"SIG_SERV": "server-signature",
		"raw_toon": "D1:dev_1",
	})
	is.Equal(canon, "D1:dev_1")
}

func TestCanonicalRendering(t *testing.T) {
	is := is.New(t)

	canon := Canonical(map[string]any{
		"B1":  "x",
		"A1":  float64(2),
		"ARR": []any{"a", "b"},
		"OBJ": map[string]any{"k2": "v2", "k1": "v1"},
	})
	is.Equal(canon, "A1:2|ARR:a|b|B1:x|OBJ:k1=v1,k2=v2")
}

func TestCanonicalDialectIndependent(t *testing.T) {
	is := is.New(t)

	legacy, err := DecodeLegacy("D1:dev_1|HB1:42")
	is.NoErr(err)
	typed, err := DecodeTyped("string:D1:dev_1|number:HB1:42")
	is.NoErr(err)

	is.Equal(Canonical(legacy), Canonical(typed))
}
