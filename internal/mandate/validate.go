package mandate

import (
	"fmt"
	"time"
)

// ValidateIntentMandate checks the required fields of an intent.
func ValidateIntentMandate(im *IntentMandate) error {
	if im.NaturalLanguageDescription == "" {
		return fmt.Errorf("natural_language_description is required")
	}
	if im.IntentExpiry != "" {
		exp, err := time.Parse(time.RFC3339, im.IntentExpiry)
		if err != nil {
			return fmt.Errorf("intent_expiry: %w", err)
		}
		if exp.Before(time.Now()) {
			return fmt.Errorf("intent has expired")
		}
	}
	return nil
}

// ValidateCartMandate checks structural soundness: a live expiry,
// a non-negative total, and itemised lines consistent with that total.
func ValidateCartMandate(cm *CartMandate, now time.Time) error {
	if cm.Contents.ID == "" {
		return fmt.Errorf("cart id is required")
	}
	exp, err := time.Parse(time.RFC3339, cm.Contents.CartExpiry)
	if err != nil {
		return fmt.Errorf("cart_expiry: %w", err)
	}
	if exp.Before(now) {
		return fmt.Errorf("cart expired at %s", cm.Contents.CartExpiry)
	}

	total := cm.Contents.PaymentRequest.Details.Total
	if total.Amount.Value < 0 {
		return fmt.Errorf("total must be non-negative, got %d", total.Amount.Value)
	}

	items := cm.Contents.PaymentRequest.Details.DisplayItems
	if len(items) > 0 {
		var sum int64
		for _, it := range items {
			if it.Amount.Currency != total.Amount.Currency {
				return fmt.Errorf("display item %q currency %s does not match total currency %s",
					it.Label, it.Amount.Currency, total.Amount.Currency)
			}
			sum += it.Amount.Value
		}
		if sum != total.Amount.Value {
			return fmt.Errorf("display items sum %d does not match total %d", sum, total.Amount.Value)
		}
	}
	return nil
}

// ValidateMandateChain enforces the cart↔payment binding: id reference,
// structural total equality, and a cart that is still live.
func ValidateMandateChain(pm *PaymentMandate, cm *CartMandate, now time.Time) error {
	if pm.References.CartMandateID != cm.Contents.ID {
		return fmt.Errorf("payment references cart %q but was presented with %q",
			pm.References.CartMandateID, cm.Contents.ID)
	}

	cartTotal := cm.Contents.PaymentRequest.Details.Total
	payTotal := pm.PaymentMandateContents.PaymentDetailsTotal
	if !payTotal.Amount.Equal(cartTotal.Amount) {
		return fmt.Errorf("payment total %d %s does not match cart total %d %s",
			payTotal.Amount.Value, payTotal.Amount.Currency,
			cartTotal.Amount.Value, cartTotal.Amount.Currency)
	}

	exp, err := time.Parse(time.RFC3339, cm.Contents.CartExpiry)
	if err != nil {
		return fmt.Errorf("cart_expiry: %w", err)
	}
	if exp.Before(now) {
		return fmt.Errorf("cart expired at %s", cm.Contents.CartExpiry)
	}
	return nil
}

// ValidatePaymentMandate checks required fields and the PCI boundary:
// the method must be tokenized, never a raw card.
func ValidatePaymentMandate(pm *PaymentMandate) error {
	pmc := &pm.PaymentMandateContents
	if pmc.PaymentMandateID == "" {
		return fmt.Errorf("payment_mandate_id is required")
	}
	if pmc.PaymentDetailsID == "" {
		return fmt.Errorf("payment_details_id is required")
	}
	if pmc.MerchantAgent == "" {
		return fmt.Errorf("merchant_agent is required")
	}
	if !pmc.PaymentResponse.Details.Tokenized || pmc.PaymentResponse.Details.Token == "" {
		return fmt.Errorf("payment method must be tokenized")
	}
	return nil
}
