// Package shoppingagent orchestrates one purchase: intent out, cart
// candidates back, user confirmation and passkey ceremony, payment
// mandate to the processor.
package shoppingagent

import (
	"context"
	"crypto"
	"encoding/base64"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"agent-payments/internal/mandate"
	"agent-payments/internal/risk"
	"agent-payments/internal/sdjwt"
	"agent-payments/internal/webauthn"
	"agent-payments/pkg/apperror"
)

// merchantWait bounds the cart-candidates round trip. The merchant agent
// caps its own sign polling at 270 s, strictly below this.
const merchantWait = 300 * time.Second

// MerchantGateway requests cart candidates for an intent.
type MerchantGateway interface {
	RequestCarts(ctx context.Context, im *mandate.IntentMandate) ([]CartCandidate, error)
}

// ProcessorGateway submits the final payment.
type ProcessorGateway interface {
	Process(ctx context.Context, pm *mandate.PaymentMandate, cm *mandate.CartMandate) (*PaymentOutcome, error)
}

// CredentialGateway looks up the user's stored payment method.
type CredentialGateway interface {
	PaymentMethod(ctx context.Context, userID string) (*mandate.TokenizedMethod, error)
}

// Wallet is the user's signing material held by the agent in this demo
// deployment: the DID key authorizing payments and the software passkey.
type Wallet struct {
	UserDID string
	Key     crypto.Signer
	Device  *webauthn.Device
}

// Service is the shopping agent orchestrator.
type Service struct {
	sessions  *Sessions
	merchant  MerchantGateway
	processor ProcessorGateway
	creds     CredentialGateway
	log       zerolog.Logger
	now       func() time.Time

	mu      sync.RWMutex
	wallets map[string]*Wallet
	// spend history per user feeds the risk pattern factor
	history map[string][]int64
}

// New creates the shopping agent service.
func New(merchant MerchantGateway, processor ProcessorGateway, creds CredentialGateway, log zerolog.Logger) *Service {
	return &Service{
		sessions:  NewSessions(),
		merchant:  merchant,
		processor: processor,
		creds:     creds,
		log:       log,
		now:       time.Now,
		wallets:   make(map[string]*Wallet),
		history:   make(map[string][]int64),
	}
}

// RegisterWallet binds a user's signing material to the agent.
func (s *Service) RegisterWallet(userID string, w *Wallet) {
	s.mu.Lock()
	s.wallets[userID] = w
	s.mu.Unlock()
}

func (s *Service) wallet(userID string) (*Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[userID]
	if !ok {
		return nil, apperror.ErrNotFound("wallet")
	}
	return w, nil
}

// Chat starts a session: build the intent, fan out to the merchant
// agent, and collect signed cart candidates. The candidate list may be
// empty when nothing matched or nothing got signed in time.
func (s *Service) Chat(ctx context.Context, userID, message string) (*Session, error) {
	if userID == "" {
		return nil, apperror.ErrMissingField("user_id")
	}
	if message == "" {
		return nil, apperror.ErrMissingField("message")
	}

	sess := s.sessions.Create(userID, s.now().UTC())
	im := mandate.NewIntentMandate(userID, sess.ID, message)

	ctx, cancel := context.WithTimeout(ctx, merchantWait)
	defer cancel()
	candidates, err := s.merchant.RequestCarts(ctx, im)
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", sess.ID).Msg("cart request failed")
		return nil, err
	}

	return s.sessions.Update(sess.ID, func(sess *Session) error {
		sess.Intent = im
		sess.Candidates = candidates
		sess.State = StateCartsReceived
		return nil
	})
}

// ConfirmCart selects one candidate by cart id.
func (s *Service) ConfirmCart(sessionID, cartID string) (*Session, error) {
	return s.sessions.Update(sessionID, func(sess *Session) error {
		if sess.State != StateCartsReceived {
			return apperror.ErrTerminalState(sess.State)
		}
		for _, c := range sess.Candidates {
			if c.CartMandate != nil && c.CartMandate.Contents.ID == cartID {
				sess.Selected = c.CartMandate
				sess.State = StateCartConfirmed
				return nil
			}
		}
		return apperror.ErrNotFound("cart candidate")
	})
}

// AuthorizePayment runs the passkey ceremony, assembles the payment
// mandate with its SD-JWT+KB authorization and risk annotation, and
// submits to the processor.
func (s *Service) AuthorizePayment(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.State != StateCartConfirmed || sess.Selected == nil {
		return nil, apperror.ErrTerminalState(sess.State)
	}

	wallet, err := s.wallet(sess.UserID)
	if err != nil {
		return nil, err
	}
	method, err := s.creds.PaymentMethod(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}

	pm, cm, err := s.buildPaymentMandate(sess, wallet, method)
	if err != nil {
		return nil, err
	}

	outcome, err := s.processor.Process(ctx, pm, cm)
	if err != nil {
		return nil, err
	}

	s.recordSpend(sess.UserID, pm.PaymentMandateContents.PaymentDetailsTotal.Amount.Value)

	return s.sessions.Update(sessionID, func(sess *Session) error {
		sess.Outcome = outcome
		if outcome.Status == "captured" {
			sess.State = StateCompleted
		} else {
			sess.State = StateFailed
		}
		return nil
	})
}

// buildPaymentMandate assembles contents, hashes, the SD-JWT+KB and the
// risk annotation. No PAN or CVV ever enters the mandate.
func (s *Service) buildPaymentMandate(sess *Session, wallet *Wallet, method *mandate.TokenizedMethod) (*mandate.PaymentMandate, *mandate.CartMandate, error) {
	cm := sess.Selected
	now := s.now().UTC()

	pmc := mandate.PaymentMandateContents{
		PaymentMandateID:    "pm_" + uuid.NewString(),
		PaymentDetailsID:    cm.Contents.PaymentRequest.Details.ID,
		PaymentDetailsTotal: cm.Contents.PaymentRequest.Details.Total,
		PaymentResponse: mandate.PaymentResponse{
			RequestID:  "req_" + uuid.NewString()[:8],
			MethodName: "basic-card",
			Details:    *method,
		},
		MerchantAgent: cm.Metadata.MerchantID,
		Timestamp:     now.Format(time.RFC3339),
	}

	cartHash, err := mandate.CartHashB64(cm)
	if err != nil {
		return nil, nil, err
	}
	paymentHash, err := mandate.PaymentHashB64(&pmc)
	if err != nil {
		return nil, nil, err
	}

	challenge, err := webauthn.NewChallenge()
	if err != nil {
		return nil, nil, apperror.InternalError(err)
	}
	assertion, err := wallet.Device.Assert(challenge)
	if err != nil {
		return nil, nil, apperror.ErrAttestationInvalid(err)
	}

	auth, err := sdjwt.Build(sdjwt.BuildInput{
		UserDID:     wallet.UserDID,
		UserKey:     wallet.Key,
		DeviceKey:   wallet.Device.PublicKey(),
		Nonce:       challenge,
		CartHash:    cartHash,
		PaymentHash: paymentHash,
		Assertion:   assertion,
		Now:         now,
	})
	if err != nil {
		return nil, nil, err
	}

	assessment := s.assess(sess, &pmc, now)

	pm := &mandate.PaymentMandate{
		PaymentMandateContents: pmc,
		UserAuthorization:      &auth,
		References:             mandate.MandateReferences{CartMandateID: cm.Contents.ID},
		WebAuthn: &mandate.WebAuthnEvidence{
			AuthenticatorData: base64.RawURLEncoding.EncodeToString(assertion.AuthenticatorData),
			ClientDataJSON:    base64.RawURLEncoding.EncodeToString(assertion.ClientDataJSON),
		},
		RiskScore:       assessment.Score,
		FraudIndicators: assessment.FraudIndicators,
	}
	return pm, cm, nil
}

// assess scores the attempt with the local deterministic model.
func (s *Service) assess(sess *Session, pmc *mandate.PaymentMandateContents, now time.Time) risk.Assessment {
	var sinceIntent time.Duration
	if sess.Intent != nil {
		if created, err := time.Parse(time.RFC3339, sess.Intent.CreatedAt); err == nil {
			sinceIntent = now.Sub(created)
		}
	}

	s.mu.RLock()
	prior := append([]int64(nil), s.history[sess.UserID]...)
	s.mu.RUnlock()

	return risk.Evaluate(risk.Input{
		Amount:       pmc.PaymentDetailsTotal.Amount,
		Intent:       sess.Intent,
		HumanPresent: true, // the user just confirmed and passed the ceremony
		AgentOnPath:  true,
		Tokenized:    pmc.PaymentResponse.Details.Tokenized,
		TokenEmpty:   pmc.PaymentResponse.Details.Token == "",
		SinceIntent:  sinceIntent,
		History: risk.History{
			PriorCount24h: len(prior),
			PriorAmounts:  prior,
		},
	})
}

func (s *Service) recordSpend(userID string, amount int64) {
	s.mu.Lock()
	s.history[userID] = append(s.history[userID], amount)
	s.mu.Unlock()
}

// Session returns a session by id.
func (s *Service) Session(id string) (*Session, error) {
	return s.sessions.Get(id)
}
