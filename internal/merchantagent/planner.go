package merchantagent

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"agent-payments/internal/mandate"
)

// Pricing rules applied to every planned cart.
const (
	taxRatePercent   = 10
	shippingFlatJPY  = 500
	cartExpiryWindow = 15 * time.Minute
)

// CartPlan is a named selection of products before mandate assembly.
type CartPlan struct {
	Name     string
	Products []Product
}

// PlanCarts produces up to three rule-based plans — cheapest, balanced,
// single-item — constrained by the intent's max_amount if present.
// products must be search-ranked (best match first).
func PlanCarts(products []Product, constraint *mandate.IntentConstraint) []CartPlan {
	if len(products) == 0 {
		return nil
	}

	cheapest := products[0]
	for _, p := range products[1:] {
		if p.Price.Value < cheapest.Price.Value {
			cheapest = p
		}
	}

	plans := []CartPlan{
		{Name: "cheapest", Products: []Product{cheapest}},
	}
	// balanced: best match plus the cheapest complement, when distinct.
	if len(products) > 1 && products[0].SKU != cheapest.SKU {
		plans = append(plans, CartPlan{Name: "balanced", Products: []Product{products[0], cheapest}})
	}
	// single-item: the top-ranked match on its own.
	if products[0].SKU != cheapest.SKU {
		plans = append(plans, CartPlan{Name: "single-item", Products: []Product{products[0]}})
	}

	if constraint == nil || constraint.MaxAmount == nil {
		return plans
	}
	var within []CartPlan
	for _, pl := range plans {
		total := planTotal(pl)
		if total.Currency == constraint.MaxAmount.Currency && total.Value <= constraint.MaxAmount.Value {
			within = append(within, pl)
		}
	}
	return within
}

func planTotal(pl CartPlan) mandate.Amount {
	var subtotal int64
	currency := ""
	for _, p := range pl.Products {
		subtotal += p.Price.Value
		currency = p.Price.Currency
	}
	tax := subtotal * taxRatePercent / 100
	return mandate.Amount{Currency: currency, Value: subtotal + tax + shippingFlatJPY}
}

// BuildCartMandate assembles an unsigned CartMandate from a plan:
// itemised lines, 10 % tax, flat 500 JPY shipping, and the
// merchant/intent metadata the signer validates.
func BuildCartMandate(pl CartPlan, merchantDID, merchantName, intentID string, now time.Time) *mandate.CartMandate {
	var items []mandate.PaymentItem
	var subtotal int64
	currency := ""
	for _, p := range pl.Products {
		items = append(items, mandate.PaymentItem{Label: p.Name, Amount: p.Price})
		subtotal += p.Price.Value
		currency = p.Price.Currency
	}
	tax := subtotal * taxRatePercent / 100
	items = append(items,
		mandate.PaymentItem{Label: "Tax", Amount: mandate.Amount{Currency: currency, Value: tax}},
		mandate.PaymentItem{Label: "Shipping", Amount: mandate.Amount{Currency: currency, Value: shippingFlatJPY}},
	)
	total := subtotal + tax + shippingFlatJPY

	cartID := fmt.Sprintf("cart_%s_%s", pl.Name, uuid.NewString()[:8])
	return &mandate.CartMandate{
		Contents: mandate.CartContents{
			ID:                           cartID,
			UserCartConfirmationRequired: true,
			PaymentRequest: mandate.PaymentRequest{
				MethodData: []mandate.PaymentMethodData{{SupportedMethods: "basic-card"}},
				Details: mandate.PaymentDetails{
					ID:           "details_" + cartID,
					DisplayItems: items,
					Total:        mandate.PaymentItem{Label: "Total", Amount: mandate.Amount{Currency: currency, Value: total}},
				},
			},
			CartExpiry:   now.UTC().Add(cartExpiryWindow).Format(time.RFC3339),
			MerchantName: merchantName,
		},
		Metadata: &mandate.CartMetadata{
			MerchantID:      merchantDID,
			IntentMandateID: intentID,
		},
	}
}
