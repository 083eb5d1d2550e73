// Package canonical produces the RFC 8785 (JCS) byte form used for every
// mandate hash and every A2A signature in the system. A value has exactly
// one canonical serialization; pre- and post-signature hashes coincide
// because signature-bearing fields are stripped before hashing.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// signatureFields are removed at the top level before a mandate is hashed.
var signatureFields = []string{
	"merchant_signature",
	"merchant_authorization",
	"user_authorization",
}

// Canonicalize returns the RFC 8785 canonical JSON of v.
// Input that cannot be serialized deterministically (NaN, infinities,
// numbers that do not round-trip) is rejected.
func Canonicalize(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: pre-marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical: jcs transform: %w", err)
	}
	return out, nil
}

// CanonicalizeStripped canonicalizes v with the top-level signature fields
// removed. Numbers are routed through json.Number so the digits the caller
// supplied survive the strip untouched.
func CanonicalizeStripped(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: pre-marshal: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic map[string]interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonical: mandate must be a JSON object: %w", err)
	}
	for _, f := range signatureFields {
		delete(generic, f)
	}

	stripped, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("canonical: re-marshal: %w", err)
	}
	out, err := jcs.Transform(stripped)
	if err != nil {
		return nil, fmt.Errorf("canonical: jcs transform: %w", err)
	}
	return out, nil
}

// MandateHash is SHA256 over the canonical form of v with signature fields
// removed. The raw digest feeds the hex and base64url presentations.
func MandateHash(v interface{}) ([32]byte, error) {
	b, err := CanonicalizeStripped(v)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(b), nil
}

// MandateHashHex returns the mandate hash as lowercase hex.
func MandateHashHex(v interface{}) (string, error) {
	d, err := MandateHash(v)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(d[:]), nil
}

// MandateHashB64 returns the mandate hash as base64url without padding,
// the form used inside JWT claims.
func MandateHashB64(v interface{}) (string, error) {
	d, err := MandateHash(v)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(d[:]), nil
}

// HashBytes is SHA256 of raw bytes in base64url form.
func HashBytes(data []byte) string {
	d := sha256.Sum256(data)
	return base64.RawURLEncoding.EncodeToString(d[:])
}
