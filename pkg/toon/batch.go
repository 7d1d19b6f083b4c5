package toon

import (
	"strings"
)

// DecodeBatch decodes a ||-separated sequence of payloads. Each
// payload is dialect-detected independently; empty fragments are
// dropped. A malformed payload fails the whole batch, partial results
// are never returned.
func DecodeBatch(batch string) ([]map[string]any, error) {
	fragments := strings.Split(batch, batchSeparator)

	payloads := make([]map[string]any, 0, len(fragments))

	for _, f := range fragments {
		if strings.TrimSpace(f) == "" {
			continue
		}

		m, _, err := Decode(f)
		if err != nil {
			return nil, err
		}
		payloads = append(payloads, m)
	}

	if len(payloads) == 0 {
		return nil, ErrEmptyPayload
	}

	return payloads, nil
}

// RawFragments returns the non-empty payload fragments of a batch
// verbatim, in input order. Ingestion keeps these for the audit trail.
func RawFragments(batch string) []string {
	fragments := strings.Split(batch, batchSeparator)

	raw := make([]string, 0, len(fragments))
	for _, f := range fragments {
		if strings.TrimSpace(f) == "" {
			continue
		}
		raw = append(raw, f)
	}

	return raw
}

// EncodeBatchLegacy joins per-payload legacy encodings with ||.
func EncodeBatchLegacy(payloads []map[string]any) string {
	parts := make([]string, 0, len(payloads))
	for _, p := range payloads {
		parts = append(parts, EncodeLegacy(p))
	}
	return strings.Join(parts, batchSeparator)
}

// EncodeBatchTyped joins per-payload typed encodings with ||.
func EncodeBatchTyped(payloads []map[string]any) string {
	parts := make([]string, 0, len(payloads))
	for _, p := range payloads {
		parts = append(parts, EncodeTyped(p))
	}
	return strings.Join(parts, batchSeparator)
}
