package mandate

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Amount is money in integer minor units plus an ISO-4217 currency code.
// String and fractional amounts are rejected at the boundary: there is
// exactly one serialization of a given sum, which keeps mandate hashes
// stable across services.
type Amount struct {
	Currency string `json:"currency"`
	Value    int64  `json:"value"`
}

// UnmarshalJSON rejects non-integer and string-valued amounts.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var raw struct {
		Currency string      `json:"currency"`
		Value    json.Number `json:"value"`
	}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	v, err := raw.Value.Int64()
	if err != nil {
		return fmt.Errorf("amount value must be integer minor units, got %q", raw.Value.String())
	}
	if len(raw.Currency) != 3 {
		return fmt.Errorf("amount currency must be an ISO-4217 code, got %q", raw.Currency)
	}
	a.Currency = strings.ToUpper(raw.Currency)
	a.Value = v
	return nil
}

// Equal compares currency and value.
func (a Amount) Equal(b Amount) bool {
	return a.Currency == b.Currency && a.Value == b.Value
}

// PaymentItem is one W3C Payment Request line item.
type PaymentItem struct {
	Label  string `json:"label"`
	Amount Amount `json:"amount"`
}
