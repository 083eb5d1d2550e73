// Package credential is the credential provider: it holds the user's
// tokenized payment methods and registered passkeys, exchanges payment
// tokens for network agent tokens, and collects receipts.
package credential

import (
	"context"
	"crypto/ecdsa"
	"encoding/base64"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"agent-payments/internal/mandate"
	"agent-payments/internal/storage/redis"
	"agent-payments/internal/webauthn"
	"agent-payments/pkg/apperror"
)

// Tokenizer is the payment network's tokenize operation as seen from the
// credential provider.
type Tokenizer interface {
	Tokenize(ctx context.Context, mandateID, payerID string, amount mandate.Amount) (agentToken string, err error)
}

// Passkey is one registered device credential. COSEKey is the CBOR key
// as base64url without padding, exactly as registered.
type Passkey struct {
	CredentialID string    `json:"credential_id"`
	COSEKey      string    `json:"cose_key"`
	RegisteredAt time.Time `json:"registered_at"`
}

// PublicKey decodes the stored COSE key.
func (p *Passkey) PublicKey() (*ecdsa.PublicKey, error) {
	raw, err := base64.RawURLEncoding.DecodeString(p.COSEKey)
	if err != nil {
		return nil, err
	}
	return webauthn.DecodeKey(raw)
}

// methodRecord binds a stored payment method to its owner.
type methodRecord struct {
	userID string
	method mandate.TokenizedMethod
}

// Service is the credential provider state: payment methods and passkeys
// in a mutex-guarded table, challenges and sign counters in Redis.
type Service struct {
	tokenizer  Tokenizer
	challenges *redis.ChallengeStore
	counters   *redis.CounterStore
	log        zerolog.Logger
	now        func() time.Time

	mu       sync.RWMutex
	methods  map[string]methodRecord // payment token -> record
	byUser   map[string]string       // user id -> payment token
	passkeys map[string]Passkey      // user id -> passkey
	receipts map[string][]Receipt    // user id -> receipts
}

// New creates the credential provider service.
func New(tokenizer Tokenizer, challenges *redis.ChallengeStore, counters *redis.CounterStore, log zerolog.Logger) *Service {
	return &Service{
		tokenizer:  tokenizer,
		challenges: challenges,
		counters:   counters,
		log:        log,
		now:        time.Now,
		methods:    make(map[string]methodRecord),
		byUser:     make(map[string]string),
		passkeys:   make(map[string]Passkey),
		receipts:   make(map[string][]Receipt),
	}
}

// EnrollMethod stores a tokenized payment method for a user and returns
// the payment token the shopping agent will carry. Raw PANs never enter
// this service.
func (s *Service) EnrollMethod(userID, cardBrand string) mandate.TokenizedMethod {
	method := mandate.TokenizedMethod{
		CardBrand: cardBrand,
		Token:     "pm_tok_" + uuid.NewString(),
		Tokenized: true,
	}
	s.mu.Lock()
	s.methods[method.Token] = methodRecord{userID: userID, method: method}
	s.byUser[userID] = method.Token
	s.mu.Unlock()
	return method
}

// MethodForUser returns the user's stored payment method and registered
// device key, as the shopping agent retrieves them before assembling a
// payment mandate.
func (s *Service) MethodForUser(userID string) (*mandate.TokenizedMethod, *Passkey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.byUser[userID]
	if !ok {
		return nil, nil, apperror.ErrNotFound("payment method")
	}
	rec := s.methods[token]
	method := rec.method

	var pk *Passkey
	if stored, ok := s.passkeys[userID]; ok {
		copied := stored
		pk = &copied
	}
	return &method, pk, nil
}

// VerifyResult is the processor-facing answer to a token verification.
type VerifyResult struct {
	PaymentMethodID string `json:"payment_method_id"`
	AgentToken      string `json:"agent_token"`
}

// Verify resolves a payment token to a network agent token. Unknown
// tokens fail closed with CredentialVerificationFailed semantics.
func (s *Service) Verify(ctx context.Context, paymentToken, mandateID string, amount mandate.Amount) (*VerifyResult, error) {
	s.mu.RLock()
	rec, ok := s.methods[paymentToken]
	s.mu.RUnlock()
	if !ok {
		return nil, apperror.ErrCredentialVerificationFailed(apperror.ErrNotFound("payment token"))
	}

	agentToken, err := s.tokenizer.Tokenize(ctx, mandateID, rec.userID, amount)
	if err != nil {
		return nil, apperror.ErrCredentialVerificationFailed(err)
	}

	s.log.Info().Str("user_id", rec.userID).Str("mandate_id", mandateID).Msg("payment token verified")
	return &VerifyResult{PaymentMethodID: paymentToken, AgentToken: agentToken}, nil
}

// BeginRegistration issues a registration challenge with the store's TTL.
func (s *Service) BeginRegistration(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", apperror.ErrMissingField("user_id")
	}
	challenge, err := webauthn.NewChallenge()
	if err != nil {
		return "", apperror.InternalError(err)
	}
	if err := s.challenges.Issue(ctx, userID, challenge); err != nil {
		return "", apperror.ErrDatabaseError(err)
	}
	return challenge, nil
}

// CompleteRegistrationInput carries the attestation result.
type CompleteRegistrationInput struct {
	UserID       string
	Challenge    string
	CredentialID string
	COSEKey      string // base64url, no padding
	SignCount    uint32
}

// CompleteRegistration consumes the challenge and stores the device's
// COSE key and initial sign counter.
func (s *Service) CompleteRegistration(ctx context.Context, in CompleteRegistrationInput) (*Passkey, error) {
	issued, err := s.challenges.Take(ctx, in.UserID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if issued == "" || issued != in.Challenge {
		return nil, apperror.ErrChallengeMismatch()
	}

	raw, err := base64.RawURLEncoding.DecodeString(in.COSEKey)
	if err != nil {
		return nil, apperror.ErrAttestationInvalid(err)
	}
	if _, err := webauthn.DecodeKey(raw); err != nil {
		return nil, apperror.ErrAttestationInvalid(err)
	}

	credentialID := in.CredentialID
	if credentialID == "" {
		credentialID = "cred_" + uuid.NewString()
	}
	pk := Passkey{CredentialID: credentialID, COSEKey: in.COSEKey, RegisteredAt: s.now().UTC()}

	s.mu.Lock()
	s.passkeys[in.UserID] = pk
	s.mu.Unlock()

	// Counters are keyed by user id: verifiers know the authorization's
	// issuer, not the credential id.
	if err := s.counters.Set(ctx, in.UserID, in.SignCount); err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}

	s.log.Info().Str("user_id", in.UserID).Str("credential_id", credentialID).Msg("passkey registered")
	return &pk, nil
}

// Receipt is a structured record the processor pushes after settlement.
type Receipt struct {
	ReceiptID     string         `json:"receipt_id"`
	TransactionID string         `json:"transaction_id"`
	UserID        string         `json:"user_id"`
	MerchantName  string         `json:"merchant_name"`
	Amount        mandate.Amount `json:"amount"`
	Status        string         `json:"status"`
	IssuedAt      time.Time      `json:"issued_at"`
}

// StoreReceipt records a settlement receipt for the user.
func (s *Service) StoreReceipt(r Receipt) (Receipt, error) {
	if r.TransactionID == "" {
		return Receipt{}, apperror.ErrMissingField("transaction_id")
	}
	if r.UserID == "" {
		return Receipt{}, apperror.ErrMissingField("user_id")
	}
	if r.ReceiptID == "" {
		r.ReceiptID = "rcpt_" + uuid.NewString()
	}
	if r.IssuedAt.IsZero() {
		r.IssuedAt = s.now().UTC()
	}

	s.mu.Lock()
	s.receipts[r.UserID] = append(s.receipts[r.UserID], r)
	s.mu.Unlock()
	return r, nil
}

// ReceiptsForUser lists stored receipts, newest last.
func (s *Service) ReceiptsForUser(userID string) []Receipt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Receipt, len(s.receipts[userID]))
	copy(out, s.receipts[userID])
	return out
}
