// Package mandate defines the three credentials of the AP2 chain —
// IntentMandate, CartMandate, PaymentMandate — and their content-addressed
// derivation. Mandates reference each other only downstream
// (Intent ← Cart ← Payment); identifiers are bindable via hash.
package mandate

import (
	"time"

	"github.com/google/uuid"
)

// IntentMandate captures what a user wants to buy. Immutable once created.
type IntentMandate struct {
	ID                           string            `json:"id"`
	UserID                       string            `json:"user_id"`
	SessionID                    string            `json:"session_id"`
	CreatedAt                    string            `json:"created_at"`
	NaturalLanguageDescription   string            `json:"natural_language_description"`
	UserCartConfirmationRequired bool              `json:"user_cart_confirmation_required"`
	Merchants                    []string          `json:"merchants,omitempty"` // allowed merchant DIDs
	SKUs                         []string          `json:"skus,omitempty"`
	RequiresRefundability        bool              `json:"requires_refundability"`
	IntentExpiry                 string            `json:"intent_expiry"`
	Constraints                  *IntentConstraint `json:"constraints,omitempty"`
}

// IntentConstraint bounds what carts may be planned against the intent.
type IntentConstraint struct {
	MaxAmount *Amount `json:"max_amount,omitempty"`
}

// NewIntentMandate builds an intent with the default 24 h expiry.
func NewIntentMandate(userID, sessionID, description string) *IntentMandate {
	now := time.Now().UTC()
	return &IntentMandate{
		ID:                           "intent_" + uuid.NewString(),
		UserID:                       userID,
		SessionID:                    sessionID,
		CreatedAt:                    now.Format(time.RFC3339),
		NaturalLanguageDescription:   description,
		UserCartConfirmationRequired: true,
		IntentExpiry:                 now.Add(24 * time.Hour).Format(time.RFC3339),
	}
}

// PaymentMethodData names a supported payment method in a PaymentRequest.
type PaymentMethodData struct {
	SupportedMethods string                 `json:"supported_methods"`
	Data             map[string]interface{} `json:"data,omitempty"`
}

// PaymentDetails holds itemised lines and the single total.
type PaymentDetails struct {
	ID           string        `json:"id"`
	DisplayItems []PaymentItem `json:"display_items,omitempty"`
	Total        PaymentItem   `json:"total"`
	Modifiers    []interface{} `json:"modifiers,omitempty"`
}

// PaymentRequest is the W3C Payment Request shape carried by a cart.
type PaymentRequest struct {
	MethodData []PaymentMethodData `json:"method_data"`
	Details    PaymentDetails      `json:"details"`
}

// CartContents is what a merchant commits to sell.
type CartContents struct {
	ID                           string         `json:"id"`
	UserCartConfirmationRequired bool           `json:"user_cart_confirmation_required"`
	PaymentRequest               PaymentRequest `json:"payment_request"`
	CartExpiry                   string         `json:"cart_expiry"`
	MerchantName                 string         `json:"merchant_name"`
}

// CartMetadata rides outside the merchant's commitment but inside the hash.
type CartMetadata struct {
	MerchantID      string `json:"merchant_id"`
	IntentMandateID string `json:"intent_mandate_id,omitempty"`
}

// CartMandate pairs contents with the merchant's authorization JWT.
// MerchantAuthorization is nil until the merchant signs; once set,
// contents is frozen.
type CartMandate struct {
	Contents              CartContents  `json:"contents"`
	MerchantAuthorization *string       `json:"merchant_authorization"`
	Metadata              *CartMetadata `json:"_metadata,omitempty"`
}

// Signed reports whether the merchant has authorized the cart.
func (cm *CartMandate) Signed() bool {
	return cm.MerchantAuthorization != nil && *cm.MerchantAuthorization != ""
}

// TokenizedMethod is the payment method reference inside a PaymentResponse.
// A raw PAN or CVV never appears here.
type TokenizedMethod struct {
	CardBrand string `json:"cardBrand"`
	Token     string `json:"token"`
	Tokenized bool   `json:"tokenized"`
}

// PaymentResponse is the W3C-like response carrying the tokenized method.
type PaymentResponse struct {
	RequestID  string          `json:"request_id"`
	MethodName string          `json:"methodName"`
	Details    TokenizedMethod `json:"details"`
	PayerName  string          `json:"payer_name,omitempty"`
	Shipping   *ShippingOption `json:"shipping,omitempty"`
}

// ShippingOption feeds the risk engine's shipping factor.
type ShippingOption struct {
	Address string `json:"address,omitempty"`
	Express bool   `json:"express,omitempty"`
}

// PaymentMandateContents is what is about to be charged.
type PaymentMandateContents struct {
	PaymentMandateID    string          `json:"payment_mandate_id"`
	PaymentDetailsID    string          `json:"payment_details_id"`
	PaymentDetailsTotal PaymentItem     `json:"payment_details_total"`
	PaymentResponse     PaymentResponse `json:"payment_response"`
	MerchantAgent       string          `json:"merchant_agent"` // merchant DID
	Timestamp           string          `json:"timestamp"`
}

// MandateReferences binds a PaymentMandate to the cart it pays for.
type MandateReferences struct {
	CartMandateID string `json:"cart_mandate_id"`
}

// WebAuthnEvidence rides alongside user_authorization so a verifier can
// reconstruct the passkey-signed input. Envelope metadata: excluded from
// payment_hash, which covers payment_mandate_contents only.
type WebAuthnEvidence struct {
	AuthenticatorData string `json:"authenticator_data"` // base64url
	ClientDataJSON    string `json:"client_data_json"`   // base64url
}

// PaymentMandate is the final credential of the chain. RiskScore and
// FraudIndicators are envelope metadata, outside payment_hash.
type PaymentMandate struct {
	PaymentMandateContents PaymentMandateContents `json:"payment_mandate_contents"`
	UserAuthorization      *string                `json:"user_authorization"`
	References             MandateReferences      `json:"references"`
	WebAuthn               *WebAuthnEvidence      `json:"webauthn_assertion,omitempty"`
	RiskScore              int                    `json:"risk_score,omitempty"`
	FraudIndicators        []string               `json:"fraud_indicators,omitempty"`
}
