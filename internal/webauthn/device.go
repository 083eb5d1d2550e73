package webauthn

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"agent-payments/internal/keys"
	"agent-payments/pkg/apperror"
)

// Device is a software passkey. The shopping agent's demo UI and the test
// suites use it to produce assertions without real authenticator hardware.
type Device struct {
	key       *ecdsa.PrivateKey
	rpID      string
	origin    string
	signCount uint32
}

// NewDevice creates a software passkey bound to the given relying party id.
func NewDevice(rpID string) (*Device, error) {
	key, err := keys.GenerateP256()
	if err != nil {
		return nil, err
	}
	return &Device{
		key:    key,
		rpID:   rpID,
		origin: "https://" + rpID,
	}, nil
}

// PublicKey returns the credential public key.
func (d *Device) PublicKey() *ecdsa.PublicKey {
	return &d.key.PublicKey
}

// COSEKey returns the credential public key in COSE registration form.
func (d *Device) COSEKey() ([]byte, error) {
	return EncodeKey(&d.key.PublicKey)
}

// SignCount reports the device's current counter.
func (d *Device) SignCount() uint32 {
	return d.signCount
}

// SetSignCount forces the counter, used to exercise regression handling.
func (d *Device) SetSignCount(n uint32) {
	d.signCount = n
}

// Assert runs one authentication ceremony against the given challenge and
// returns the assertion tuple. The sign counter increments on every call.
func (d *Device) Assert(challenge string) (*Assertion, error) {
	d.signCount++

	cdj, err := json.Marshal(ClientData{
		Type:      ClientDataTypeGet,
		Challenge: challenge,
		Origin:    d.origin,
	})
	if err != nil {
		return nil, apperror.InternalError(err)
	}

	rpHash := sha256.Sum256([]byte(d.rpID))
	authData := make([]byte, authDataMinLen)
	copy(authData[:32], rpHash[:])
	authData[32] = flagUserPresent
	binary.BigEndian.PutUint32(authData[33:37], d.signCount)

	cdjHash := sha256.Sum256(cdj)
	signed := append(append([]byte{}, authData...), cdjHash[:]...)
	digest := sha256.Sum256(signed)
	sig, err := ecdsa.SignASN1(rand.Reader, d.key, digest[:])
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("sign assertion: %w", err))
	}

	return &Assertion{
		AuthenticatorData: authData,
		ClientDataJSON:    cdj,
		Signature:         sig,
	}, nil
}
