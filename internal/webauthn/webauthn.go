// Package webauthn verifies passkey assertions carried on payment mandates.
//
// Only the assertion ceremony is implemented: the relying party issues a
// challenge, the authenticator returns clientDataJSON, authenticatorData and
// an ES256 signature over authenticatorData || SHA256(clientDataJSON), and
// the verifier checks the whole tuple against the registered COSE public key.
package webauthn

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"

	"agent-payments/pkg/apperror"
)

const (
	// ClientDataTypeGet is the ceremony type of an authentication assertion.
	ClientDataTypeGet = "webauthn.get"

	// COSE constants for an EC2 P-256 key with ES256.
	coseKtyEC2   = 2
	coseAlgES256 = -7
	coseCrvP256  = 1

	authDataMinLen = 37 // rpIdHash(32) + flags(1) + signCount(4)

	flagUserPresent byte = 0x01
)

// COSEKey is the CBOR form of a credential public key as stored by the
// credential provider at registration time.
type COSEKey struct {
	Kty int    `cbor:"1,keyasint"`
	Alg int    `cbor:"3,keyasint"`
	Crv int    `cbor:"-1,keyasint"`
	X   []byte `cbor:"-2,keyasint"`
	Y   []byte `cbor:"-3,keyasint"`
}

// EncodeKey serialises a P-256 public key into COSE_Key CBOR.
func EncodeKey(pub *ecdsa.PublicKey) ([]byte, error) {
	if pub == nil || pub.Curve != elliptic.P256() {
		return nil, apperror.ErrAttestationInvalid(fmt.Errorf("only P-256 keys are supported"))
	}
	k := COSEKey{
		Kty: coseKtyEC2,
		Alg: coseAlgES256,
		Crv: coseCrvP256,
		X:   pub.X.FillBytes(make([]byte, 32)),
		Y:   pub.Y.FillBytes(make([]byte, 32)),
	}
	data, err := cbor.Marshal(k)
	if err != nil {
		return nil, apperror.ErrAttestationInvalid(err)
	}
	return data, nil
}

// DecodeKey reconstructs a P-256 public key from COSE_Key CBOR.
func DecodeKey(data []byte) (*ecdsa.PublicKey, error) {
	var k COSEKey
	if err := cbor.Unmarshal(data, &k); err != nil {
		return nil, apperror.ErrAttestationInvalid(err)
	}
	if k.Kty != coseKtyEC2 || k.Crv != coseCrvP256 {
		return nil, apperror.ErrAttestationInvalid(fmt.Errorf("unsupported COSE key type %d crv %d", k.Kty, k.Crv))
	}
	pub := &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(k.X),
		Y:     new(big.Int).SetBytes(k.Y),
	}
	if !pub.Curve.IsOnCurve(pub.X, pub.Y) {
		return nil, apperror.ErrAttestationInvalid(fmt.Errorf("point not on curve"))
	}
	return pub, nil
}

// ClientData is the decoded clientDataJSON of an assertion.
type ClientData struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	Origin    string `json:"origin"`
}

// AuthenticatorData is the fixed prefix of the authenticator data blob.
type AuthenticatorData struct {
	RPIDHash  [32]byte
	Flags     byte
	SignCount uint32
}

// ParseAuthenticatorData decodes the 37-byte fixed header.
func ParseAuthenticatorData(raw []byte) (*AuthenticatorData, error) {
	if len(raw) < authDataMinLen {
		return nil, apperror.ErrAttestationInvalid(fmt.Errorf("authenticator data too short: %d bytes", len(raw)))
	}
	var ad AuthenticatorData
	copy(ad.RPIDHash[:], raw[:32])
	ad.Flags = raw[32]
	ad.SignCount = binary.BigEndian.Uint32(raw[33:37])
	return &ad, nil
}

// Assertion is the raw material of one authentication ceremony.
type Assertion struct {
	AuthenticatorData []byte
	ClientDataJSON    []byte
	Signature         []byte // ASN.1 DER ECDSA signature
}

// NewChallenge issues a 32-byte url-safe challenge for a ceremony.
func NewChallenge() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", apperror.InternalError(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Verify checks an assertion against the registered public key. storedCount
// is the last sign counter seen for this credential; the counter of the new
// assertion is returned so the caller can persist it.
func Verify(pub *ecdsa.PublicKey, a *Assertion, expectedChallenge, rpID string, storedCount uint32) (uint32, error) {
	if a == nil || len(a.Signature) == 0 {
		return 0, apperror.ErrAttestationInvalid(fmt.Errorf("empty assertion"))
	}

	var cd ClientData
	if err := json.Unmarshal(a.ClientDataJSON, &cd); err != nil {
		return 0, apperror.ErrAttestationInvalid(err)
	}
	if cd.Type != ClientDataTypeGet {
		return 0, apperror.ErrAttestationInvalid(fmt.Errorf("unexpected client data type %q", cd.Type))
	}
	if subtle.ConstantTimeCompare([]byte(cd.Challenge), []byte(expectedChallenge)) != 1 {
		return 0, apperror.ErrChallengeMismatch()
	}

	ad, err := ParseAuthenticatorData(a.AuthenticatorData)
	if err != nil {
		return 0, err
	}
	rpHash := sha256.Sum256([]byte(rpID))
	if subtle.ConstantTimeCompare(ad.RPIDHash[:], rpHash[:]) != 1 {
		return 0, apperror.ErrAttestationInvalid(fmt.Errorf("rp id hash mismatch"))
	}
	if storedCount > 0 && ad.SignCount < storedCount {
		return 0, apperror.ErrCounterRegression()
	}

	if err := VerifySignature(pub, a.AuthenticatorData, a.ClientDataJSON, a.Signature); err != nil {
		return 0, err
	}
	return ad.SignCount, nil
}

// VerifySignature checks only the cryptographic binding: an ES256 signature
// over authenticatorData || SHA256(clientDataJSON).
func VerifySignature(pub *ecdsa.PublicKey, authData, clientDataJSON, sig []byte) error {
	cdjHash := sha256.Sum256(clientDataJSON)
	signed := append(append([]byte{}, authData...), cdjHash[:]...)
	digest := sha256.Sum256(signed)
	if !ecdsa.VerifyASN1(pub, digest[:], sig) {
		return apperror.ErrSignatureInvalid(fmt.Errorf("webauthn assertion signature invalid"))
	}
	return nil
}
