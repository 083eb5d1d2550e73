package mandate

import (
	"agent-payments/internal/canonical"
)

// CartHashHex is SHA256 over the canonical CartMandate with signature
// fields removed, in hex.
func CartHashHex(cm *CartMandate) (string, error) {
	return canonical.MandateHashHex(cm)
}

// CartHashB64 is the same digest in base64url (no padding), the form that
// appears in JWT claims.
func CartHashB64(cm *CartMandate) (string, error) {
	return canonical.MandateHashB64(cm)
}

// PaymentHashHex hashes the payment mandate contents. user_authorization
// lives on the envelope and never enters the digest.
func PaymentHashHex(pmc *PaymentMandateContents) (string, error) {
	return canonical.MandateHashHex(pmc)
}

// PaymentHashB64 is the claim form of the payment hash.
func PaymentHashB64(pmc *PaymentMandateContents) (string, error) {
	return canonical.MandateHashB64(pmc)
}
