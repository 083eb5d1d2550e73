// Package sdjwt builds and verifies the user_authorization credential: an
// SD-JWT+KB of the form <issuer-jwt>~<kb-jwt>~ with no selective
// disclosures. The issuer JWT is signed by the user's DID key and carries
// the device's passkey public key in cnf.jwk; the key-binding JWT's
// signature slot holds the raw WebAuthn assertion signature, so the
// key-binding proof is the passkey ceremony itself.
package sdjwt

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"agent-payments/internal/canonical"
	"agent-payments/internal/did"
	"agent-payments/internal/keys"
	"agent-payments/internal/webauthn"
	"agent-payments/pkg/apperror"
)

const (
	// KBAudience is the fixed audience of every key-binding JWT.
	KBAudience = "did:ap2:agent:payment_processor"

	// IssuerTTL bounds the issuer JWT's validity window.
	IssuerTTL = 5 * time.Minute

	// KBFreshness bounds how old a key-binding iat may be.
	KBFreshness = 5 * time.Minute

	typKB = "kb+jwt"
)

// JWK is the minimal EC public key representation carried in cnf.
type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// FromECDSA converts a P-256 public key to JWK form.
func FromECDSA(pub *ecdsa.PublicKey) JWK {
	return JWK{
		Kty: "EC",
		Crv: "P-256",
		X:   base64.RawURLEncoding.EncodeToString(pub.X.FillBytes(make([]byte, 32))),
		Y:   base64.RawURLEncoding.EncodeToString(pub.Y.FillBytes(make([]byte, 32))),
	}
}

// ECDSAKey reconstructs the P-256 public key from a JWK.
func (j JWK) ECDSAKey() (*ecdsa.PublicKey, error) {
	if j.Kty != "EC" || j.Crv != "P-256" {
		return nil, fmt.Errorf("unsupported jwk kty %q crv %q", j.Kty, j.Crv)
	}
	x, err := base64.RawURLEncoding.DecodeString(j.X)
	if err != nil {
		return nil, fmt.Errorf("jwk x: %w", err)
	}
	y, err := base64.RawURLEncoding.DecodeString(j.Y)
	if err != nil {
		return nil, fmt.Errorf("jwk y: %w", err)
	}
	pub := &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(x),
		Y:     new(big.Int).SetBytes(y),
	}
	if !pub.Curve.IsOnCurve(pub.X, pub.Y) {
		return nil, fmt.Errorf("jwk point not on curve")
	}
	return pub, nil
}

type cnfClaim struct {
	JWK JWK `json:"jwk"`
}

// IssuerClaims is the payload of the issuer-signed JWT.
type IssuerClaims struct {
	Cnf cnfClaim `json:"cnf"`
	jwt.RegisteredClaims
}

// KBPayload is the payload of the key-binding JWT.
type KBPayload struct {
	Aud             string   `json:"aud"`
	Nonce           string   `json:"nonce"`
	IssuedAt        int64    `json:"iat"`
	SDHash          string   `json:"sd_hash"`
	TransactionData []string `json:"transaction_data"`
}

type kbHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
	Kid string `json:"kid"`
}

// BuildInput collects everything needed to assemble a user_authorization.
type BuildInput struct {
	UserDID     string
	UserKey     crypto.Signer       // signs the issuer JWT
	DeviceKey   *ecdsa.PublicKey    // registered passkey, becomes cnf.jwk
	Nonce       string              // verifier-issued, urlsafe
	CartHash    string              // base64url, 43 chars
	PaymentHash string              // base64url, 43 chars
	Assertion   *webauthn.Assertion // passkey ceremony output
	Now         time.Time
}

// Build assembles the SD-JWT+KB compact serialization.
func Build(in BuildInput) (string, error) {
	if in.Assertion == nil || len(in.Assertion.Signature) == 0 {
		return "", apperror.ErrMissingField("webauthn_assertion")
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	alg, err := keys.AlgorithmOf(in.UserKey)
	if err != nil {
		return "", apperror.ErrKeyStoreFailure(err)
	}

	claims := IssuerClaims{
		Cnf: cnfClaim{JWK: FromECDSA(in.DeviceKey)},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    in.UserDID,
			Subject:   in.UserDID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(IssuerTTL)),
		},
	}
	tok := jwt.NewWithClaims(jwt.GetSigningMethod(alg), claims)
	tok.Header["kid"] = in.UserDID
	issuerJWT, err := tok.SignedString(in.UserKey)
	if err != nil {
		return "", apperror.InternalError(fmt.Errorf("sign issuer jwt: %w", err))
	}

	hdr, err := json.Marshal(kbHeader{Alg: "ES256", Typ: typKB, Kid: in.UserDID})
	if err != nil {
		return "", apperror.InternalError(err)
	}
	payload, err := json.Marshal(KBPayload{
		Aud:             KBAudience,
		Nonce:           in.Nonce,
		IssuedAt:        now.Unix(),
		SDHash:          canonical.HashBytes([]byte(issuerJWT)),
		TransactionData: []string{in.CartHash, in.PaymentHash},
	})
	if err != nil {
		return "", apperror.InternalError(err)
	}
	kbJWT := base64.RawURLEncoding.EncodeToString(hdr) + "." +
		base64.RawURLEncoding.EncodeToString(payload) + "." +
		base64.RawURLEncoding.EncodeToString(in.Assertion.Signature)

	return issuerJWT + "~" + kbJWT + "~", nil
}

// VerifyInput carries the verifier's expectations for one credential.
type VerifyInput struct {
	Token           string
	CartHash        string
	PaymentHash     string
	// ExpectedNonce is a verifier pre-issued nonce. When empty the KB
	// nonce must instead match Challenge, binding the credential to the
	// assertion ceremony.
	ExpectedNonce string
	Challenge     string // the WebAuthn challenge the assertion was made over
	RPID            string
	StoredSignCount uint32
	// Evidence supplies authenticatorData and clientDataJSON; the
	// signature slot is ignored and replaced by the KB-JWT's.
	Evidence *webauthn.Assertion
	Now      time.Time
}

// Verify checks the full credential and returns the assertion's sign count
// so the caller can persist it against the credential.
func Verify(ctx context.Context, in VerifyInput, resolver *did.Resolver) (uint32, error) {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	issuerJWT, kbJWT, err := split(in.Token)
	if err != nil {
		return 0, err
	}

	claims, err := verifyIssuer(ctx, issuerJWT, resolver, now)
	if err != nil {
		return 0, err
	}
	devicePub, err := claims.Cnf.JWK.ECDSAKey()
	if err != nil {
		return 0, apperror.ErrJWTInvalid(err)
	}

	kb, sig, err := decodeKB(kbJWT)
	if err != nil {
		return 0, err
	}
	if kb.Aud != KBAudience {
		return 0, apperror.ErrJWTInvalid(fmt.Errorf("kb audience %q", kb.Aud))
	}
	expectedNonce := in.ExpectedNonce
	if expectedNonce == "" {
		expectedNonce = in.Challenge
	}
	if subtle.ConstantTimeCompare([]byte(kb.Nonce), []byte(expectedNonce)) != 1 {
		return 0, apperror.ErrChallengeMismatch()
	}
	iat := time.Unix(kb.IssuedAt, 0)
	if iat.After(now.Add(time.Minute)) || now.Sub(iat) > KBFreshness {
		return 0, apperror.ErrJWTExpired()
	}

	if len(kb.TransactionData) != 2 ||
		subtle.ConstantTimeCompare([]byte(kb.TransactionData[0]), []byte(in.CartHash)) != 1 ||
		subtle.ConstantTimeCompare([]byte(kb.TransactionData[1]), []byte(in.PaymentHash)) != 1 {
		return 0, apperror.ErrHashMismatch()
	}
	if subtle.ConstantTimeCompare([]byte(kb.SDHash), []byte(canonical.HashBytes([]byte(issuerJWT)))) != 1 {
		return 0, apperror.ErrHashMismatch()
	}

	if in.Evidence == nil {
		return 0, apperror.ErrMissingField("webauthn_assertion")
	}
	assertion := &webauthn.Assertion{
		AuthenticatorData: in.Evidence.AuthenticatorData,
		ClientDataJSON:    in.Evidence.ClientDataJSON,
		Signature:         sig,
	}
	return webauthn.Verify(devicePub, assertion, in.Challenge, in.RPID, in.StoredSignCount)
}

func split(token string) (issuer, kb string, err error) {
	parts := strings.Split(token, "~")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", apperror.ErrJWTInvalid(fmt.Errorf("malformed sd-jwt: %d segments", len(parts)))
	}
	return parts[0], parts[1], nil
}

func verifyIssuer(ctx context.Context, issuerJWT string, resolver *did.Resolver, now time.Time) (*IssuerClaims, error) {
	claims := &IssuerClaims{}
	keyfunc := func(t *jwt.Token) (interface{}, error) {
		iss, err := t.Claims.GetIssuer()
		if err != nil {
			return nil, err
		}
		doc, err := resolver.Resolve(ctx, iss)
		if err != nil {
			return nil, err
		}
		if doc == nil || len(doc.VerificationMethod) == 0 {
			return nil, apperror.ErrKeyNotFound(iss)
		}
		pub, err := keys.ParsePublicPEM([]byte(doc.VerificationMethod[0].PublicKeyPEM))
		if err != nil {
			return nil, err
		}
		switch t.Method.Alg() {
		case "ES256":
			if _, ok := pub.(*ecdsa.PublicKey); !ok {
				return nil, fmt.Errorf("key type does not match ES256")
			}
		}
		return pub, nil
	}

	_, err := jwt.ParseWithClaims(issuerJWT, claims, keyfunc,
		jwt.WithValidMethods([]string{"ES256", "EdDSA"}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperror.ErrJWTExpired()
		}
		return nil, apperror.ErrJWTInvalid(err)
	}
	return claims, nil
}

func decodeKB(kbJWT string) (*KBPayload, []byte, error) {
	parts := strings.Split(kbJWT, ".")
	if len(parts) != 3 {
		return nil, nil, apperror.ErrJWTInvalid(fmt.Errorf("kb-jwt has %d segments", len(parts)))
	}
	hdrRaw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, nil, apperror.ErrJWTInvalid(err)
	}
	var hdr kbHeader
	if err := json.Unmarshal(hdrRaw, &hdr); err != nil {
		return nil, nil, apperror.ErrJWTInvalid(err)
	}
	if hdr.Typ != typKB {
		return nil, nil, apperror.ErrJWTInvalid(fmt.Errorf("kb-jwt typ %q", hdr.Typ))
	}
	payloadRaw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, nil, apperror.ErrJWTInvalid(err)
	}
	var kb KBPayload
	if err := json.Unmarshal(payloadRaw, &kb); err != nil {
		return nil, nil, apperror.ErrJWTInvalid(err)
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, nil, apperror.ErrJWTInvalid(err)
	}
	return &kb, sig, nil
}
