package keys

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateP256_RoundTripPEM(t *testing.T) {
	key, err := GenerateP256()
	require.NoError(t, err)

	pemBytes, err := MarshalPrivatePEM(key)
	require.NoError(t, err)
	assert.Contains(t, string(pemBytes), "PRIVATE KEY")

	parsed, err := ParsePrivatePEM(pemBytes)
	require.NoError(t, err)

	ecKey, ok := parsed.(*ecdsa.PrivateKey)
	require.True(t, ok)
	assert.True(t, ecKey.Equal(key))
}

func TestGenerateEd25519_RoundTripPEM(t *testing.T) {
	key, err := GenerateEd25519()
	require.NoError(t, err)

	pemBytes, err := MarshalPrivatePEM(key)
	require.NoError(t, err)

	parsed, err := ParsePrivatePEM(pemBytes)
	require.NoError(t, err)

	edKey, ok := parsed.(ed25519.PrivateKey)
	require.True(t, ok)
	assert.True(t, edKey.Equal(key))
}

func TestPublicPEM_RoundTrip(t *testing.T) {
	key, err := GenerateP256()
	require.NoError(t, err)

	pemBytes, err := MarshalPublicPEM(key.Public())
	require.NoError(t, err)
	assert.Contains(t, string(pemBytes), "PUBLIC KEY")

	pub, err := ParsePublicPEM(pemBytes)
	require.NoError(t, err)

	ecPub, ok := pub.(*ecdsa.PublicKey)
	require.True(t, ok)
	assert.True(t, ecPub.Equal(key.Public()))
}

func TestAlgorithmOf(t *testing.T) {
	p256, err := GenerateP256()
	require.NoError(t, err)
	alg, err := AlgorithmOf(p256)
	require.NoError(t, err)
	assert.Equal(t, AlgES256, alg)

	ed, err := GenerateEd25519()
	require.NoError(t, err)
	alg, err = AlgorithmOf(ed)
	require.NoError(t, err)
	assert.Equal(t, AlgEdDSA, alg)
}

func TestParsePrivatePEM_Invalid(t *testing.T) {
	_, err := ParsePrivatePEM([]byte("not pem at all"))
	assert.Error(t, err)
}
