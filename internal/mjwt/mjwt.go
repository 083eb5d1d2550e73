// Package mjwt builds and verifies the merchant_authorization JWT that
// binds a merchant's key to a cart hash. ES256 signatures come out of
// golang-jwt as raw R||S per JWS, matching the signing package.
package mjwt

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"agent-payments/internal/did"
	"agent-payments/internal/keys"
	"agent-payments/internal/mandate"
	"agent-payments/pkg/apperror"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Audience every merchant authorization is addressed to.
const Audience = "payment_processor"

// TTL of a merchant authorization. A verifier must remember the jti for
// at least this long.
const TTL = time.Hour

// JTIStore remembers consumed jti values for a TTL. Seen returns true on
// a replay.
type JTIStore interface {
	Seen(ctx context.Context, id string, ttl time.Duration) (bool, error)
}

// Claims is the merchant authorization payload.
type Claims struct {
	CartHash string `json:"cart_hash"`
	jwt.RegisteredClaims
}

// Build signs a merchant authorization for the cart. iss = sub = the
// merchant DID; kid selects key-1 of its DID document.
func Build(key crypto.Signer, merchantDID string, cm *mandate.CartMandate) (string, error) {
	cartHash, err := mandate.CartHashB64(cm)
	if err != nil {
		return "", fmt.Errorf("hashing cart: %w", err)
	}

	alg, err := keys.AlgorithmOf(key)
	if err != nil {
		return "", err
	}
	var method jwt.SigningMethod
	switch alg {
	case keys.AlgES256:
		method = jwt.SigningMethodES256
	case keys.AlgEdDSA:
		method = jwt.SigningMethodEdDSA
	default:
		return "", fmt.Errorf("unsupported algorithm %q", alg)
	}

	now := time.Now()
	claims := Claims{
		CartHash: cartHash,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    merchantDID,
			Subject:   merchantDID,
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TTL)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(method, claims)
	token.Header["kid"] = merchantDID + "#key-1"

	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("signing merchant authorization: %w", err)
	}
	return signed, nil
}

// Verify checks a merchant authorization against the cart it claims to
// bind: signature via the DID-resolved key, audience, expiry, cart hash
// equality, and one-shot jti consumption.
func Verify(ctx context.Context, tokenStr string, cm *mandate.CartMandate, resolver *did.Resolver, jtis JTIStore) error {
	keyfunc := func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("merchant authorization has no kid")
		}
		pub, err := resolver.ResolvePublicKey(ctx, kid)
		if err != nil {
			return nil, err
		}
		if pub == nil {
			return nil, fmt.Errorf("unresolved kid %s", kid)
		}
		switch t.Method.(type) {
		case *jwt.SigningMethodECDSA:
			if _, ok := pub.(*ecdsa.PublicKey); !ok {
				return nil, fmt.Errorf("ES256 token but resolved key is %T", pub)
			}
		case *jwt.SigningMethodEd25519:
			if _, ok := pub.(ed25519.PublicKey); !ok {
				return nil, fmt.Errorf("EdDSA token but resolved key is %T", pub)
			}
		}
		return pub, nil
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, keyfunc,
		jwt.WithValidMethods([]string{"ES256", "EdDSA"}),
		jwt.WithAudience(Audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return apperror.ErrJWTExpired()
		}
		return apperror.ErrJWTInvalid(err)
	}
	if !token.Valid {
		return apperror.ErrJWTInvalid(fmt.Errorf("token invalid"))
	}

	localHash, err := mandate.CartHashB64(cm)
	if err != nil {
		return apperror.ErrCanonicalization(err)
	}
	if subtle.ConstantTimeCompare([]byte(localHash), []byte(claims.CartHash)) != 1 {
		return apperror.ErrHashMismatch()
	}

	if claims.ID == "" {
		return apperror.ErrJWTInvalid(fmt.Errorf("missing jti"))
	}
	ttl := TTL
	if claims.ExpiresAt != nil && claims.IssuedAt != nil {
		ttl = claims.ExpiresAt.Sub(claims.IssuedAt.Time)
	}
	seen, err := jtis.Seen(ctx, "mjwt:"+claims.ID, ttl)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("jti store: %w", err))
	}
	if seen {
		return apperror.ErrJTIReplay()
	}
	return nil
}
