// Package keys manages each service's long-lived signing identity:
// ECDSA P-256 and Ed25519 key pairs, PEM codecs, and passphrase-encrypted
// storage at rest.
package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// Algorithm names match the JWT alg values the keys sign under.
const (
	AlgES256 = "ES256" // ECDSA P-256
	AlgEdDSA = "EdDSA" // Ed25519
)

// GenerateP256 creates a new ECDSA P-256 key pair.
func GenerateP256() (*ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating P-256 key: %w", err)
	}
	return key, nil
}

// GenerateEd25519 creates a new Ed25519 key pair.
func GenerateEd25519() (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating Ed25519 key: %w", err)
	}
	return priv, nil
}

// AlgorithmOf reports the JWT alg for a private key.
func AlgorithmOf(key crypto.Signer) (string, error) {
	switch key.(type) {
	case *ecdsa.PrivateKey:
		return AlgES256, nil
	case ed25519.PrivateKey:
		return AlgEdDSA, nil
	default:
		return "", fmt.Errorf("unsupported key type %T", key)
	}
}

// MarshalPrivatePEM encodes a private key as PKCS#8 PEM.
func MarshalPrivatePEM(key crypto.Signer) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshaling private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// ParsePrivatePEM decodes a PKCS#8 PEM private key.
func ParsePrivatePEM(data []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("key type %T is not a signer", key)
	}
	return signer, nil
}

// MarshalPublicPEM encodes a public key as PKIX PEM.
func MarshalPublicPEM(pub crypto.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshaling public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// ParsePublicPEM decodes a PKIX PEM public key.
func ParsePublicPEM(data []byte) (crypto.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	return pub, nil
}
