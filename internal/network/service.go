// Package network is the payment network simulator: it tokenizes mandates
// into short-lived agent tokens and captures charges against them.
package network

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"agent-payments/internal/mandate"
	"agent-payments/internal/storage/redis"
	"agent-payments/pkg/apperror"
)

// Charge outcome statuses on the wire.
const (
	ChargeCaptured = "captured"
	ChargeFailed   = "failed"
)

// Service issues and redeems agent tokens.
type Service struct {
	name   string
	tokens *redis.TokenStore
	log    zerolog.Logger
	now    func() time.Time
}

// New creates the network service. name becomes part of every issued
// token, e.g. "agentnet" yields agent_tok_agentnet_... tokens.
func New(name string, tokens *redis.TokenStore, log zerolog.Logger) *Service {
	return &Service{name: name, tokens: tokens, log: log, now: time.Now}
}

// Name returns the network identifier.
func (s *Service) Name() string { return s.name }

// TokenizeResult is the issued agent token plus its validity window.
type TokenizeResult struct {
	AgentToken string    `json:"agent_token"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Tokenize issues a fresh agent token bound to the mandate and payer.
func (s *Service) Tokenize(ctx context.Context, mandateID, payerID string, amount mandate.Amount) (*TokenizeResult, error) {
	if mandateID == "" {
		return nil, apperror.ErrMissingField("mandate_id")
	}
	if payerID == "" {
		return nil, apperror.ErrMissingField("payer_id")
	}

	suffix := make([]byte, 8)
	if _, err := rand.Read(suffix); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("token entropy: %w", err))
	}
	token := fmt.Sprintf("agent_tok_%s_%s_%s", s.name, uuid.NewString()[:8], hex.EncodeToString(suffix))

	expiresAt := s.now().UTC().Add(redis.AgentTokenTTL)
	rec := redis.TokenRecord{
		MandateID: mandateID,
		PayerID:   payerID,
		Amount:    amount.Value,
		Currency:  amount.Currency,
		ExpiresAt: expiresAt,
	}
	if err := s.tokens.Put(ctx, token, rec, redis.AgentTokenTTL); err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}

	s.log.Info().Str("mandate_id", mandateID).Str("payer_id", payerID).Msg("agent token issued")
	return &TokenizeResult{AgentToken: token, ExpiresAt: expiresAt}, nil
}

// VerifyResult reports token validity and the bound metadata.
type VerifyResult struct {
	Valid     bool           `json:"valid"`
	MandateID string         `json:"mandate_id,omitempty"`
	PayerID   string         `json:"payer_id,omitempty"`
	Amount    mandate.Amount `json:"amount,omitempty"`
	ExpiresAt time.Time      `json:"expires_at,omitempty"`
}

// VerifyToken reports whether the token is currently valid. Unknown or
// expired tokens are not errors.
func (s *Service) VerifyToken(ctx context.Context, token string) (*VerifyResult, error) {
	rec, err := s.lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return &VerifyResult{Valid: false}, nil
	}
	return &VerifyResult{
		Valid:     true,
		MandateID: rec.MandateID,
		PayerID:   rec.PayerID,
		Amount:    mandate.Amount{Currency: rec.Currency, Value: rec.Amount},
		ExpiresAt: rec.ExpiresAt,
	}, nil
}

// ChargeResult is the network's answer to a capture attempt. A failed
// charge is a result, not an error.
type ChargeResult struct {
	Status               string `json:"status"`
	NetworkTransactionID string `json:"network_transaction_id,omitempty"`
	AuthorizationCode    string `json:"authorization_code,omitempty"`
	Reason               string `json:"reason,omitempty"`
}

// Charge captures the amount against a currently-valid agent token. The
// token is single-use: a successful capture revokes it.
func (s *Service) Charge(ctx context.Context, token string, amount mandate.Amount) (*ChargeResult, error) {
	rec, err := s.lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return &ChargeResult{Status: ChargeFailed, Reason: "agent token invalid or expired"}, nil
	}
	if rec.Currency != amount.Currency || rec.Amount != amount.Value {
		return &ChargeResult{Status: ChargeFailed, Reason: "amount does not match tokenized mandate"}, nil
	}

	if err := s.tokens.Revoke(ctx, token); err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}

	res := &ChargeResult{
		Status:               ChargeCaptured,
		NetworkTransactionID: "ntx_" + uuid.NewString(),
		AuthorizationCode:    "AUTH-" + strings.ToUpper(uuid.NewString()[:8]),
	}
	s.log.Info().Str("mandate_id", rec.MandateID).Str("network_transaction_id", res.NetworkTransactionID).
		Int64("amount", amount.Value).Str("currency", amount.Currency).Msg("charge captured")
	return res, nil
}

// lookup fetches a token record, applying the expiry stamp as a second
// guard on top of the Redis TTL.
func (s *Service) lookup(ctx context.Context, token string) (*redis.TokenRecord, error) {
	if token == "" || !strings.HasPrefix(token, "agent_tok_") {
		return nil, nil
	}
	rec, err := s.tokens.Get(ctx, token)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if rec == nil || s.now().After(rec.ExpiresAt) {
		return nil, nil
	}
	return rec, nil
}
