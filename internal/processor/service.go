// Package processor captures payments: it verifies the full mandate
// chain and both authorizations, gates on risk, charges the network, and
// keeps a write-once transaction log.
package processor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"agent-payments/internal/credential"
	"agent-payments/internal/did"
	"agent-payments/internal/mandate"
	"agent-payments/internal/mjwt"
	"agent-payments/internal/network"
	"agent-payments/internal/risk"
	"agent-payments/internal/sdjwt"
	"agent-payments/internal/storage/postgres"
	"agent-payments/internal/storage/redis"
	"agent-payments/internal/webauthn"
	"agent-payments/pkg/apperror"
)

// chargeTimeout bounds the single network capture RPC. No retries on the
// write path.
const chargeTimeout = 30 * time.Second

// riskDeclineThreshold fails the payment outright regardless of any
// downstream outcome.
const riskDeclineThreshold = 80

// healthTimeout bounds each dependency ping on /health.
const healthTimeout = 2 * time.Second

// Check is a backing dependency the health endpoint pings.
type Check interface {
	Name() string
	Ping(ctx context.Context) error
}

// CredentialClient is the credential provider as seen by the processor.
type CredentialClient interface {
	Verify(ctx context.Context, paymentToken, mandateID string, amount mandate.Amount) (*credential.VerifyResult, error)
	PushReceipt(ctx context.Context, r credential.Receipt) error
}

// NetworkClient is the payment network's charge operation.
type NetworkClient interface {
	Charge(ctx context.Context, agentToken string, amount mandate.Amount) (*network.ChargeResult, error)
}

// Service runs the capture pipeline.
type Service struct {
	resolver   *did.Resolver
	jtis       mjwt.JTIStore
	challenges *redis.ChallengeStore
	counters   *redis.CounterStore
	repo       *postgres.TransactionRepo
	creds      CredentialClient
	net        NetworkClient
	rpID       string
	baseURL    string
	checks     []Check
	log        zerolog.Logger
	now        func() time.Time
}

// Deps collects the processor's wiring.
type Deps struct {
	Resolver   *did.Resolver
	JTIs       mjwt.JTIStore
	Challenges *redis.ChallengeStore
	Counters   *redis.CounterStore
	Repo       *postgres.TransactionRepo
	Creds      CredentialClient
	Net        NetworkClient
	RPID       string
	BaseURL    string // public base for receipt URLs
	Checks     []Check
}

// New creates the processor service.
func New(d Deps, log zerolog.Logger) *Service {
	return &Service{
		resolver:   d.Resolver,
		jtis:       d.JTIs,
		challenges: d.Challenges,
		counters:   d.Counters,
		repo:       d.Repo,
		creds:      d.Creds,
		net:        d.Net,
		rpID:       d.RPID,
		baseURL:    d.BaseURL,
		checks:     d.Checks,
		log:        log,
		now:        time.Now,
	}
}

// ProcessInput is a payment mandate together with the signed cart it
// pays for.
type ProcessInput struct {
	PaymentMandate *mandate.PaymentMandate `json:"payment_mandate"`
	CartMandate    *mandate.CartMandate    `json:"cart_mandate"`
}

// ProcessResult is the processor's answer.
type ProcessResult struct {
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
	ReceiptURL    string `json:"receipt_url,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Process runs the capture pipeline. Verification failures return typed
// errors; risk declines and network charge failures settle as a recorded
// failed transaction.
func (s *Service) Process(ctx context.Context, in ProcessInput) (*ProcessResult, error) {
	if in.PaymentMandate == nil || in.CartMandate == nil {
		return nil, apperror.ErrMissingField("payment_mandate")
	}
	pm, cm := in.PaymentMandate, in.CartMandate
	now := s.now().UTC()

	// Structure first, then the chain that links payment to cart.
	if err := mandate.ValidatePaymentMandate(pm); err != nil {
		return nil, apperror.ErrMalformedMandate(err.Error())
	}
	if err := mandate.ValidateMandateChain(pm, cm, now); err != nil {
		return nil, apperror.ErrMandateChainBroken(err)
	}

	if !cm.Signed() {
		return nil, apperror.ErrMalformedMandate("cart mandate is unsigned")
	}
	if err := mjwt.Verify(ctx, *cm.MerchantAuthorization, cm, s.resolver, s.jtis); err != nil {
		return nil, err
	}

	payerDID, err := s.verifyUserAuthorization(ctx, pm, cm, now)
	if err != nil {
		return nil, err
	}

	// A re-submitted payment mandate returns the recorded outcome
	// instead of charging twice.
	prior, err := s.repo.GetByMandateID(ctx, pm.PaymentMandateContents.PaymentMandateID)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		s.log.Info().Str("payment_mandate_id", pm.PaymentMandateContents.PaymentMandateID).
			Str("transaction_id", prior.ID).Msg("duplicate payment mandate, returning recorded outcome")
		return s.recordedResult(prior), nil
	}

	// Server-side velocity check on top of the agent's advisory score.
	recent, err := s.repo.CountRecentByPayer(ctx, payerDID, now.Add(-risk.VelocityWindow))
	if err != nil {
		return nil, err
	}
	riskScore := pm.RiskScore
	if recent >= risk.VelocityThreshold {
		riskScore += risk.VelocityPenalty
		if riskScore > 100 {
			riskScore = 100
		}
	}

	tx := &postgres.Transaction{
		ID:               "txn_" + uuid.NewString(),
		Type:             postgres.TypePayment,
		PaymentMandateID: pm.PaymentMandateContents.PaymentMandateID,
		CartMandateID:    cm.Contents.ID,
		PayerID:          payerDID,
		MerchantID:       pm.PaymentMandateContents.MerchantAgent,
		Amount:           pm.PaymentMandateContents.PaymentDetailsTotal.Amount.Value,
		Currency:         pm.PaymentMandateContents.PaymentDetailsTotal.Amount.Currency,
		RiskScore:        riskScore,
		CreatedAt:        now,
	}

	// Risk gate: defence in depth on top of the agent's own assessment.
	if riskScore > riskDeclineThreshold {
		return s.settleFailure(ctx, tx, "High risk")
	}

	ver, err := s.creds.Verify(ctx, pm.PaymentMandateContents.PaymentResponse.Details.Token,
		pm.PaymentMandateContents.PaymentMandateID, pm.PaymentMandateContents.PaymentDetailsTotal.Amount)
	if err != nil {
		return nil, apperror.ErrCredentialVerificationFailed(err)
	}

	chargeCtx, cancel := context.WithTimeout(ctx, chargeTimeout)
	defer cancel()
	charge, err := s.net.Charge(chargeCtx, ver.AgentToken, pm.PaymentMandateContents.PaymentDetailsTotal.Amount)
	if err != nil {
		return nil, apperror.ErrDownstreamTimeout("payment-network", err)
	}
	if charge.Status != network.ChargeCaptured {
		return s.settleFailure(ctx, tx, charge.Reason)
	}

	tx.Status = postgres.StatusCaptured
	tx.NetworkTxID = &charge.NetworkTransactionID
	tx.AuthCode = &charge.AuthorizationCode
	if err := s.repo.Create(ctx, tx); err != nil {
		return nil, err
	}

	s.notifyReceipt(tx, cm.Contents.MerchantName)

	s.log.Info().Str("transaction_id", tx.ID).Str("payer_id", payerDID).
		Int64("amount", tx.Amount).Str("currency", tx.Currency).Msg("payment captured")
	return &ProcessResult{
		Status:        postgres.StatusCaptured,
		TransactionID: tx.ID,
		ReceiptURL:    s.receiptURL(tx.ID),
	}, nil
}

// verifyUserAuthorization checks the SD-JWT+KB against locally recomputed
// hashes and the carried WebAuthn evidence, then advances the sign
// counter. Returns the authorizing user's DID.
func (s *Service) verifyUserAuthorization(ctx context.Context, pm *mandate.PaymentMandate, cm *mandate.CartMandate, now time.Time) (string, error) {
	if pm.UserAuthorization == nil || *pm.UserAuthorization == "" {
		return "", apperror.ErrMissingField("user_authorization")
	}
	payerDID, err := issuerDID(*pm.UserAuthorization)
	if err != nil {
		return "", apperror.ErrJWTInvalid(err)
	}

	cartHash, err := mandate.CartHashB64(cm)
	if err != nil {
		return "", err
	}
	paymentHash, err := mandate.PaymentHashB64(&pm.PaymentMandateContents)
	if err != nil {
		return "", err
	}

	evidence, err := decodeEvidence(pm.WebAuthn)
	if err != nil {
		return "", err
	}

	// A pre-issued challenge binds the ceremony; absent one, the
	// assertion's own challenge stands and must match the KB nonce so
	// the credential and the ceremony reference the same value.
	expectedNonce, err := s.challenges.Take(ctx, payerDID)
	if err != nil {
		return "", apperror.ErrDatabaseError(err)
	}
	challenge := expectedNonce
	if challenge == "" {
		if challenge, err = assertionChallenge(evidence); err != nil {
			return "", err
		}
	}

	stored, err := s.counters.Get(ctx, payerDID)
	if err != nil {
		return "", apperror.ErrDatabaseError(err)
	}

	newCount, err := sdjwt.Verify(ctx, sdjwt.VerifyInput{
		Token:           *pm.UserAuthorization,
		CartHash:        cartHash,
		PaymentHash:     paymentHash,
		ExpectedNonce:   expectedNonce,
		Challenge:       challenge,
		RPID:            s.rpID,
		StoredSignCount: stored,
		Evidence:        evidence,
		Now:             now,
	}, s.resolver)
	if err != nil {
		return "", err
	}
	if err := s.counters.Set(ctx, payerDID, newCount); err != nil {
		return "", apperror.ErrDatabaseError(err)
	}
	return payerDID, nil
}

// Health pings each backing dependency. ok is false when any ping
// fails.
func (s *Service) Health(ctx context.Context) (map[string]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	out := make(map[string]string, len(s.checks))
	ok := true
	for _, c := range s.checks {
		if err := c.Ping(ctx); err != nil {
			s.log.Warn().Err(err).Str("dependency", c.Name()).Msg("health check failed")
			out[c.Name()] = "unreachable"
			ok = false
			continue
		}
		out[c.Name()] = "ok"
	}
	return out, ok
}

// recordedResult rebuilds the ProcessResult for an already settled
// payment mandate.
func (s *Service) recordedResult(tx *postgres.Transaction) *ProcessResult {
	res := &ProcessResult{Status: tx.Status, TransactionID: tx.ID}
	if tx.Status == postgres.StatusCaptured {
		res.ReceiptURL = s.receiptURL(tx.ID)
	}
	if tx.FailureReason != nil {
		res.Error = *tx.FailureReason
	}
	return res
}

// settleFailure records a failed capture attempt and reports it as a
// result, not an error.
func (s *Service) settleFailure(ctx context.Context, tx *postgres.Transaction, reason string) (*ProcessResult, error) {
	tx.Status = postgres.StatusFailed
	tx.FailureReason = &reason
	if err := s.repo.Create(ctx, tx); err != nil {
		return nil, err
	}
	s.log.Warn().Str("transaction_id", tx.ID).Str("reason", reason).Msg("payment failed")
	return &ProcessResult{Status: postgres.StatusFailed, TransactionID: tx.ID, Error: reason}, nil
}

// notifyReceipt pushes the structured receipt to the credential provider.
// Best effort: the capture already settled.
func (s *Service) notifyReceipt(tx *postgres.Transaction, merchantName string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.creds.PushReceipt(ctx, credential.Receipt{
		TransactionID: tx.ID,
		UserID:        tx.PayerID,
		MerchantName:  merchantName,
		Amount:        mandate.Amount{Currency: tx.Currency, Value: tx.Amount},
		Status:        tx.Status,
		IssuedAt:      tx.CreatedAt,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("transaction_id", tx.ID).Msg("receipt notification failed")
	}
}

// RefundInput identifies a captured transaction to reverse.
type RefundInput struct {
	TransactionID string `json:"transaction_id"`
	Reason        string `json:"reason,omitempty"`
}

// Refund writes a REFUND record referencing the original capture. Only
// captured, not-yet-refunded transactions qualify.
func (s *Service) Refund(ctx context.Context, in RefundInput) (*postgres.Transaction, error) {
	if in.TransactionID == "" {
		return nil, apperror.ErrMissingField("transaction_id")
	}
	orig, err := s.repo.GetByID(ctx, in.TransactionID)
	if err != nil {
		return nil, err
	}
	if orig == nil {
		return nil, apperror.ErrNotFound("transaction")
	}
	if orig.Status != postgres.StatusCaptured || orig.Type != postgres.TypePayment {
		return nil, apperror.ErrTerminalState(orig.Status)
	}
	exists, err := s.repo.RefundExists(ctx, orig.ID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apperror.ErrAlreadyRefunded()
	}

	refund := &postgres.Transaction{
		ID:               "txn_" + uuid.NewString(),
		Type:             postgres.TypeRefund,
		PaymentMandateID: orig.PaymentMandateID,
		CartMandateID:    orig.CartMandateID,
		PayerID:          orig.PayerID,
		MerchantID:       orig.MerchantID,
		Amount:           orig.Amount,
		Currency:         orig.Currency,
		Status:           postgres.StatusRefunded,
		OriginalTxID:     &orig.ID,
		CreatedAt:        s.now().UTC(),
	}
	if in.Reason != "" {
		refund.FailureReason = &in.Reason
	}
	if err := s.repo.Create(ctx, refund); err != nil {
		return nil, err
	}

	s.log.Info().Str("transaction_id", refund.ID).Str("original", orig.ID).Msg("refund recorded")
	return refund, nil
}

// Transaction returns one transaction by id.
func (s *Service) Transaction(ctx context.Context, id string) (*postgres.Transaction, error) {
	tx, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, apperror.ErrNotFound("transaction")
	}
	return tx, nil
}

func (s *Service) receiptURL(txID string) string {
	return fmt.Sprintf("%s/receipts/%s.pdf", strings.TrimRight(s.baseURL, "/"), txID)
}

// issuerDID extracts iss from the SD-JWT's issuer segment without
// verifying it; verification happens inside the SD-JWT check.
func issuerDID(token string) (string, error) {
	issuer := token
	if i := strings.Index(issuer, "~"); i >= 0 {
		issuer = issuer[:i]
	}
	parts := strings.Split(issuer, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("malformed issuer jwt")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("issuer payload: %w", err)
	}
	var claims struct {
		Iss string `json:"iss"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", fmt.Errorf("issuer claims: %w", err)
	}
	if _, err := did.Parse(claims.Iss); err != nil {
		return "", err
	}
	return claims.Iss, nil
}

// decodeEvidence converts wire evidence into an assertion the verifier
// can consume. The signature arrives separately inside the KB-JWT.
func decodeEvidence(ev *mandate.WebAuthnEvidence) (*webauthn.Assertion, error) {
	if ev == nil {
		return nil, apperror.ErrMissingField("webauthn_assertion")
	}
	authData, err := base64.RawURLEncoding.DecodeString(ev.AuthenticatorData)
	if err != nil {
		return nil, apperror.ErrAttestationInvalid(fmt.Errorf("authenticator_data: %w", err))
	}
	cdj, err := base64.RawURLEncoding.DecodeString(ev.ClientDataJSON)
	if err != nil {
		return nil, apperror.ErrAttestationInvalid(fmt.Errorf("client_data_json: %w", err))
	}
	return &webauthn.Assertion{AuthenticatorData: authData, ClientDataJSON: cdj}, nil
}

func assertionChallenge(a *webauthn.Assertion) (string, error) {
	var cd webauthn.ClientData
	if err := json.Unmarshal(a.ClientDataJSON, &cd); err != nil {
		return "", apperror.ErrAttestationInvalid(fmt.Errorf("client data: %w", err))
	}
	return cd.Challenge, nil
}
