package mjwt

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"agent-payments/internal/a2a"
	"agent-payments/internal/did"
	"agent-payments/internal/keys"
	"agent-payments/internal/mandate"
	"agent-payments/pkg/apperror"
	"agent-payments/pkg/logger"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const merchantDID = "did:ap2:merchant:acme"

func testCart(total int64) *mandate.CartMandate {
	return &mandate.CartMandate{
		Contents: mandate.CartContents{
			ID: "cart_1",
			PaymentRequest: mandate.PaymentRequest{
				Details: mandate.PaymentDetails{
					ID:    "details_1",
					Total: mandate.PaymentItem{Label: "Total", Amount: mandate.Amount{Currency: "JPY", Value: total}},
				},
			},
			CartExpiry:   time.Now().UTC().Add(15 * time.Minute).Format(time.RFC3339),
			MerchantName: "Acme Sports",
		},
		Metadata: &mandate.CartMetadata{MerchantID: merchantDID},
	}
}

func newEnv(t *testing.T) (*did.Resolver, JTIStore) {
	t.Helper()
	log := logger.NewWithWriter("mjwt-test", "error", os.Stderr)
	return did.NewResolver("", nil, log), a2a.NewMemoryReplayCache()
}

func TestBuildVerify_ES256(t *testing.T) {
	resolver, jtis := newEnv(t)
	key, err := keys.GenerateP256()
	require.NoError(t, err)
	doc, err := did.NewDocument(merchantDID, key.Public())
	require.NoError(t, err)
	resolver.Register(doc)

	cm := testCart(9300)
	token, err := Build(key, merchantDID, cm)
	require.NoError(t, err)
	assert.Equal(t, 3, len(strings.Split(token, ".")))

	require.NoError(t, Verify(context.Background(), token, cm, resolver, jtis))
}

func TestBuildVerify_EdDSA(t *testing.T) {
	resolver, jtis := newEnv(t)
	key, err := keys.GenerateEd25519()
	require.NoError(t, err)
	doc, err := did.NewDocument(merchantDID, key.Public())
	require.NoError(t, err)
	resolver.Register(doc)

	cm := testCart(9300)
	token, err := Build(key, merchantDID, cm)
	require.NoError(t, err)
	require.NoError(t, Verify(context.Background(), token, cm, resolver, jtis))
}

func TestVerify_HashStableUnderAttachment(t *testing.T) {
	// P1/P4: a signed cart still verifies because the attached JWT is
	// stripped before hashing.
	resolver, jtis := newEnv(t)
	key, err := keys.GenerateP256()
	require.NoError(t, err)
	doc, err := did.NewDocument(merchantDID, key.Public())
	require.NoError(t, err)
	resolver.Register(doc)

	cm := testCart(9300)
	token, err := Build(key, merchantDID, cm)
	require.NoError(t, err)
	cm.MerchantAuthorization = &token

	require.NoError(t, Verify(context.Background(), token, cm, resolver, jtis))
}

func TestVerify_CartTamperRejected(t *testing.T) {
	resolver, jtis := newEnv(t)
	key, err := keys.GenerateP256()
	require.NoError(t, err)
	doc, err := did.NewDocument(merchantDID, key.Public())
	require.NoError(t, err)
	resolver.Register(doc)

	cm := testCart(9300)
	token, err := Build(key, merchantDID, cm)
	require.NoError(t, err)

	cm.Contents.PaymentRequest.Details.Total.Amount.Value = 1

	err = Verify(context.Background(), token, cm, resolver, jtis)
	require.Error(t, err)
	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "AUTHZ_001", appErr.Code)
}

func TestVerify_JTIReplay(t *testing.T) {
	// P5: exactly one acceptance, one replay rejection.
	resolver, jtis := newEnv(t)
	key, err := keys.GenerateP256()
	require.NoError(t, err)
	doc, err := did.NewDocument(merchantDID, key.Public())
	require.NoError(t, err)
	resolver.Register(doc)

	cm := testCart(9300)
	token, err := Build(key, merchantDID, cm)
	require.NoError(t, err)

	require.NoError(t, Verify(context.Background(), token, cm, resolver, jtis))

	err = Verify(context.Background(), token, cm, resolver, jtis)
	require.Error(t, err)
	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "CONF_001", appErr.Code)
}

func TestVerify_Expired(t *testing.T) {
	resolver, jtis := newEnv(t)
	key, err := keys.GenerateP256()
	require.NoError(t, err)
	doc, err := did.NewDocument(merchantDID, key.Public())
	require.NoError(t, err)
	resolver.Register(doc)

	cm := testCart(9300)
	cartHash, err := mandate.CartHashB64(cm)
	require.NoError(t, err)

	claims := Claims{
		CartHash: cartHash,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    merchantDID,
			Subject:   merchantDID,
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			ID:        "stale",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = merchantDID + "#key-1"
	signed, err := token.SignedString(key)
	require.NoError(t, err)

	err = Verify(context.Background(), signed, cm, resolver, jtis)
	require.Error(t, err)
	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "AUTHZ_003", appErr.Code)
}

func TestVerify_WrongAudience(t *testing.T) {
	resolver, jtis := newEnv(t)
	key, err := keys.GenerateP256()
	require.NoError(t, err)
	doc, err := did.NewDocument(merchantDID, key.Public())
	require.NoError(t, err)
	resolver.Register(doc)

	cm := testCart(9300)
	cartHash, err := mandate.CartHashB64(cm)
	require.NoError(t, err)

	claims := Claims{
		CartHash: cartHash,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    merchantDID,
			Subject:   merchantDID,
			Audience:  jwt.ClaimStrings{"someone_else"},
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			ID:        "aud-test",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = merchantDID + "#key-1"
	signed, err := token.SignedString(key)
	require.NoError(t, err)

	assert.Error(t, Verify(context.Background(), signed, cm, resolver, jtis))
}

func TestVerify_UnknownKid(t *testing.T) {
	resolver, jtis := newEnv(t)
	key, err := keys.GenerateP256()
	require.NoError(t, err)

	cm := testCart(9300)
	token, err := Build(key, "did:ap2:merchant:ghost", cm)
	require.NoError(t, err)

	assert.Error(t, Verify(context.Background(), token, cm, resolver, jtis))
}

func TestVerify_WrongSigner(t *testing.T) {
	resolver, jtis := newEnv(t)
	real, err := keys.GenerateP256()
	require.NoError(t, err)
	doc, err := did.NewDocument(merchantDID, real.Public())
	require.NoError(t, err)
	resolver.Register(doc)

	impostor, err := keys.GenerateP256()
	require.NoError(t, err)

	cm := testCart(9300)
	token, err := Build(impostor, merchantDID, cm)
	require.NoError(t, err)

	assert.Error(t, Verify(context.Background(), token, cm, resolver, jtis))
}
