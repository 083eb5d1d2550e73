// Package signing produces and verifies the detached signatures carried in
// A2A message proofs. ECDSA P-256 signatures are serialized as raw R||S
// (64 bytes), never DER, matching the JWS convention used everywhere else
// in the mandate chain.
package signing

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
	"time"

	"agent-payments/internal/keys"
)

// FreshnessTolerance is the default window for timestamp checks.
const FreshnessTolerance = 300 * time.Second

const p256ScalarSize = 32

// Signature is the proof attached to A2A headers.
type Signature struct {
	Algorithm string `json:"algorithm"`
	KeyID     string `json:"key_id"`
	PublicKey string `json:"public_key"`
	Value     string `json:"value"` // base64url, no padding
}

// Sign signs data with the given key and returns a detached signature.
// The signer's public key rides along in PEM form for offline inspection;
// verifiers resolve the authoritative key through the DID document.
func Sign(data []byte, key crypto.Signer, keyID string) (*Signature, error) {
	alg, err := keys.AlgorithmOf(key)
	if err != nil {
		return nil, err
	}

	var raw []byte
	switch k := key.(type) {
	case *ecdsa.PrivateKey:
		digest := sha256.Sum256(data)
		r, s, err := ecdsa.Sign(rand.Reader, k, digest[:])
		if err != nil {
			return nil, fmt.Errorf("ecdsa sign: %w", err)
		}
		raw = make([]byte, 2*p256ScalarSize)
		r.FillBytes(raw[:p256ScalarSize])
		s.FillBytes(raw[p256ScalarSize:])
	case ed25519.PrivateKey:
		raw = ed25519.Sign(k, data)
	default:
		return nil, fmt.Errorf("unsupported key type %T", key)
	}

	pubPEM, err := keys.MarshalPublicPEM(key.Public())
	if err != nil {
		return nil, err
	}

	return &Signature{
		Algorithm: alg,
		KeyID:     keyID,
		PublicKey: string(pubPEM),
		Value:     base64.RawURLEncoding.EncodeToString(raw),
	}, nil
}

// Verify checks a detached signature against data using pub as the
// authoritative public key.
func Verify(data []byte, sig *Signature, pub crypto.PublicKey) error {
	raw, err := base64.RawURLEncoding.DecodeString(sig.Value)
	if err != nil {
		return fmt.Errorf("decoding signature value: %w", err)
	}

	switch sig.Algorithm {
	case keys.AlgES256:
		ecPub, ok := pub.(*ecdsa.PublicKey)
		if !ok {
			return fmt.Errorf("ES256 signature but key is %T", pub)
		}
		if len(raw) != 2*p256ScalarSize {
			return fmt.Errorf("ES256 signature must be %d bytes, got %d", 2*p256ScalarSize, len(raw))
		}
		digest := sha256.Sum256(data)
		r := new(big.Int).SetBytes(raw[:p256ScalarSize])
		s := new(big.Int).SetBytes(raw[p256ScalarSize:])
		if !ecdsa.Verify(ecPub, digest[:], r, s) {
			return fmt.Errorf("ecdsa verification failed")
		}
		return nil
	case keys.AlgEdDSA:
		edPub, ok := pub.(ed25519.PublicKey)
		if !ok {
			return fmt.Errorf("EdDSA signature but key is %T", pub)
		}
		if !ed25519.Verify(edPub, data, raw) {
			return fmt.Errorf("ed25519 verification failed")
		}
		return nil
	default:
		return fmt.Errorf("unsupported algorithm %q", sig.Algorithm)
	}
}

// Fresh reports whether ts is within the tolerance window around now.
func Fresh(ts time.Time, now time.Time, tolerance time.Duration) bool {
	d := now.Sub(ts)
	if d < 0 {
		d = -d
	}
	return d <= tolerance
}
