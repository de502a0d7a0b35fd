// Package canonicalize implements the RFC 8785 JSON Canonicalization Scheme
// (JCS) used for every hash the adjudication core emits.
//
// Strings (object keys included) are brought to Unicode NFC before the
// canonical form is produced, so visually identical evidence collected on
// different platforms hashes identically.
package canonicalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"
)

// JCS returns the RFC 8785 canonical encoding of v.
func JCS(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: marshal: %w", err)
	}
	return Transform(raw)
}

// Transform canonicalizes an already-encoded JSON document.
func Transform(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonicalize: decode: %w", err)
	}
	normalized, err := json.Marshal(nfc(generic))
	if err != nil {
		return nil, fmt.Errorf("canonicalize: re-marshal: %w", err)
	}
	out, err := jcs.Transform(normalized)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: jcs: %w", err)
	}
	return out, nil
}

// JCSString is JCS returning a string.
func JCSString(v any) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CanonicalHash returns the lowercase hex SHA-256 of the canonical form of v.
func CanonicalHash(v any) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the lowercase hex SHA-256 of b.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// NFC returns s in Unicode Normalization Form C.
func NFC(s string) string {
	if norm.NFC.IsNormalString(s) {
		return s
	}
	return norm.NFC.String(s)
}

func nfc(v any) any {
	switch t := v.(type) {
	case string:
		return NFC(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[NFC(k)] = nfc(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = nfc(val)
		}
		return out
	default:
		return v
	}
}
