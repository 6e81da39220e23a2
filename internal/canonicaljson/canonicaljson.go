// Package canonicaljson provides canonical JSON encoding and content hashing.
//
// Canonical JSON enables deterministic, byte-comparable encodings of event
// payloads and subprocess argument files: object keys are sorted, separators
// are minimal (no insignificant whitespace), and HTML characters are not
// escaped. Two semantically equal JSON objects always canonicalize to the
// same bytes within one process; byte-level equality across platforms is not
// guaranteed for floating point values.
//
// This package operates on plain values (any, map[string]any) rather than
// domain types, making it reusable across event payloads, provenance
// records, and adapter wire formats.
package canonicaljson

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Marshal encodes v as canonical JSON: sorted object keys, minimal
// separators, no HTML escaping, no trailing newline.
//
// The value is first normalized through a JSON round-trip so that struct
// fields and map entries alike are re-encoded as plain JSON objects. Go's
// encoder already emits map keys in sorted order, so normalizing to
// map[string]any yields the canonical key ordering.
//
// Returns an error if v is not JSON-serializable.
func Marshal(v any) ([]byte, error) {
	normalized, err := normalize(v)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(normalized); err != nil {
		return nil, fmt.Errorf("failed to encode canonical JSON: %w", err)
	}

	// Encoder appends a newline; canonical form has none.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// MarshalString is a convenience wrapper around Marshal returning a string.
func MarshalString(v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

// Hash computes the SHA-256 hash of the input string.
//
// Returns: 64-character lowercase hex string.
func Hash(input string) string {
	sum := sha256.Sum256([]byte(input))

	return hex.EncodeToString(sum[:])
}

// ShortHash computes the SHA-256 hash of the input string truncated to
// length hex characters. Used for compact, user-visible identifiers such as
// derived adapter IDs, where byte-stability across implementations matters.
func ShortHash(input string, length int) string {
	full := Hash(input)
	if length <= 0 || length >= len(full) {
		return full
	}

	return full[:length]
}

// normalize round-trips v through encoding/json so that arbitrary Go values
// (structs, typed maps, json.RawMessage) collapse into the plain
// any / map[string]any / []any shape the canonical encoder expects.
func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("value is not JSON-serializable: %w", err)
	}

	var normalized any
	if err := json.Unmarshal(data, &normalized); err != nil {
		return nil, fmt.Errorf("failed to normalize JSON value: %w", err)
	}

	return normalized, nil
}
