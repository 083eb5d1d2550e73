// Package merchantsvc is the merchant signing service: the single trusted
// holder of a merchant's private key. Every unsigned CartMandate it
// receives runs through a per-cart state machine; signing attaches the
// merchant authorization JWT without touching contents.
package merchantsvc

import (
	"crypto"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"agent-payments/internal/mandate"
	"agent-payments/internal/mjwt"
	"agent-payments/pkg/apperror"
)

// Cart states.
const (
	StateNew       = "NEW"
	StateValidated = "VALIDATED"
	StatePending   = "PENDING"
	StateSigned    = "SIGNED"
	StateRejected  = "REJECTED"
	StateExpired   = "EXPIRED"
)

// Poll statuses on the wire.
const (
	StatusPending  = "pending_merchant_signature"
	StatusSigned   = "signed"
	StatusRejected = "rejected"
	StatusExpired  = "expired"
)

// pendingCap bounds how long a cart may sit unapproved when its own
// expiry is further out.
const pendingCap = 15 * time.Minute

type entry struct {
	state     string
	cart      *mandate.CartMandate
	signed    *mandate.CartMandate
	reason    string
	createdAt time.Time
	expiresAt time.Time
}

// Service owns the merchant key and the cart state machine table.
type Service struct {
	merchantDID string
	key         crypto.Signer
	autoSign    bool
	log         zerolog.Logger
	now         func() time.Time

	mu    sync.Mutex
	carts map[string]*entry
}

// New creates the signing service. autoSign controls whether carts sign
// synchronously or queue for operator approval.
func New(merchantDID string, key crypto.Signer, autoSign bool, log zerolog.Logger) *Service {
	return &Service{
		merchantDID: merchantDID,
		key:         key,
		autoSign:    autoSign,
		log:         log,
		now:         time.Now,
		carts:       map[string]*entry{},
	}
}

// SignResult is the outcome of a sign request.
type SignResult struct {
	Status     string               `json:"status"`
	CartID     string               `json:"cart_mandate_id"`
	SignedCart *mandate.CartMandate `json:"signed_cart_mandate,omitempty"`
	Reason     string               `json:"reason,omitempty"`
}

// SignCart validates a cart and either signs it immediately (auto mode)
// or queues it for operator approval (manual mode).
func (s *Service) SignCart(cm *mandate.CartMandate) (*SignResult, error) {
	now := s.now().UTC()

	if err := s.validate(cm, now); err != nil {
		s.mu.Lock()
		s.carts[cm.Contents.ID] = &entry{state: StateRejected, cart: cm, reason: err.Error()}
		s.mu.Unlock()
		return nil, err
	}

	if s.autoSign {
		signed, err := s.sign(cm)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.carts[cm.Contents.ID] = &entry{state: StateSigned, cart: cm, signed: signed}
		s.mu.Unlock()
		s.log.Info().Str("cart_id", cm.Contents.ID).Msg("cart signed")
		return &SignResult{Status: StatusSigned, CartID: cm.Contents.ID, SignedCart: signed}, nil
	}

	expiry := s.pendingDeadline(cm, now)
	s.mu.Lock()
	s.carts[cm.Contents.ID] = &entry{state: StatePending, cart: cm, createdAt: now, expiresAt: expiry}
	s.mu.Unlock()
	s.log.Info().Str("cart_id", cm.Contents.ID).Time("expires_at", expiry).Msg("cart queued for operator approval")
	return &SignResult{Status: StatusPending, CartID: cm.Contents.ID}, nil
}

// Poll reports the cart's current status, applying lazy expiry.
func (s *Service) Poll(cartID string) (*SignResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.carts[cartID]
	if !ok {
		return nil, apperror.ErrNotFound("cart mandate")
	}
	s.expireLocked(cartID, e)

	switch e.state {
	case StateSigned:
		return &SignResult{Status: StatusSigned, CartID: cartID, SignedCart: e.signed}, nil
	case StateRejected:
		return &SignResult{Status: StatusRejected, CartID: cartID, Reason: e.reason}, nil
	case StateExpired:
		return &SignResult{Status: StatusExpired, CartID: cartID}, nil
	default:
		return &SignResult{Status: StatusPending, CartID: cartID}, nil
	}
}

// PendingCart is one row of the operator's queue listing.
type PendingCart struct {
	CartID       string `json:"cart_mandate_id"`
	MerchantName string `json:"merchant_name"`
	Total        int64  `json:"total"`
	Currency     string `json:"currency"`
	AgeSeconds   int64  `json:"age_seconds"`
}

// Pending lists carts awaiting operator approval.
func (s *Service) Pending() []PendingCart {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []PendingCart
	for id, e := range s.carts {
		s.expireLocked(id, e)
		if e.state != StatePending {
			continue
		}
		total := e.cart.Contents.PaymentRequest.Details.Total
		out = append(out, PendingCart{
			CartID:       id,
			MerchantName: e.cart.Contents.MerchantName,
			Total:        total.Amount.Value,
			Currency:     total.Amount.Currency,
			AgeSeconds:   int64(s.now().UTC().Sub(e.createdAt).Seconds()),
		})
	}
	return out
}

// Approve signs a pending cart. Terminal states conflict.
func (s *Service) Approve(cartID string) (*SignResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.carts[cartID]
	if !ok {
		return nil, apperror.ErrNotFound("cart mandate")
	}
	s.expireLocked(cartID, e)
	if e.state != StatePending {
		return nil, apperror.ErrTerminalState(e.state)
	}

	signed, err := s.sign(e.cart)
	if err != nil {
		return nil, err
	}
	e.state = StateSigned
	e.signed = signed
	s.log.Info().Str("cart_id", cartID).Msg("cart approved by operator")
	return &SignResult{Status: StatusSigned, CartID: cartID, SignedCart: signed}, nil
}

// Reject declines a pending cart. Terminal states conflict.
func (s *Service) Reject(cartID, reason string) (*SignResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.carts[cartID]
	if !ok {
		return nil, apperror.ErrNotFound("cart mandate")
	}
	s.expireLocked(cartID, e)
	if e.state != StatePending {
		return nil, apperror.ErrTerminalState(e.state)
	}

	e.state = StateRejected
	e.reason = reason
	s.log.Info().Str("cart_id", cartID).Str("reason", reason).Msg("cart rejected by operator")
	return &SignResult{Status: StatusRejected, CartID: cartID, Reason: reason}, nil
}

func (s *Service) validate(cm *mandate.CartMandate, now time.Time) error {
	if cm.Metadata == nil || cm.Metadata.MerchantID != s.merchantDID {
		return apperror.ErrInvalidMerchant()
	}
	if err := mandate.ValidateCartMandate(cm, now); err != nil {
		return apperror.ErrMalformedMandate(err.Error())
	}
	return nil
}

// sign attaches the merchant authorization JWT, leaving contents untouched.
func (s *Service) sign(cm *mandate.CartMandate) (*mandate.CartMandate, error) {
	token, err := mjwt.Build(s.key, s.merchantDID, cm)
	if err != nil {
		return nil, err
	}
	signed := *cm
	signed.MerchantAuthorization = &token
	return &signed, nil
}

func (s *Service) pendingDeadline(cm *mandate.CartMandate, now time.Time) time.Time {
	deadline := now.Add(pendingCap)
	if exp, err := time.Parse(time.RFC3339, cm.Contents.CartExpiry); err == nil && exp.Before(deadline) {
		deadline = exp
	}
	return deadline
}

// expireLocked moves an overdue pending cart to EXPIRED. Caller holds mu.
func (s *Service) expireLocked(cartID string, e *entry) {
	if e.state == StatePending && s.now().UTC().After(e.expiresAt) {
		e.state = StateExpired
		s.log.Info().Str("cart_id", cartID).Msg("pending cart expired")
	}
}
