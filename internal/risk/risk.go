// Package risk scores a pending payment with a deterministic weighted
// model. The score rides on the PaymentMandate envelope as advisory
// metadata; the processor applies its own gate on top.
package risk

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"agent-payments/internal/mandate"
)

// Recommendation bands.
const (
	RecommendApprove = "approve"
	RecommendReview  = "review"
	RecommendDecline = "decline"

	approveBelow = 30
	reviewBelow  = 80
)

// Per-factor caps.
const (
	capAmount   = 80
	capMethod   = 25
	capPattern  = 30
	capShipping = 20
	capTemporal = 15
)

// Velocity parameters for the pattern factor. Callers that fetch payer
// history from storage count transactions inside VelocityWindow and
// compare against VelocityThreshold.
const (
	VelocityWindow    = 24 * time.Hour
	VelocityThreshold = 5
	VelocityPenalty   = 30
)

// History summarises the payer's recent activity as seen by the caller.
type History struct {
	PriorCount24h int     // transactions in the trailing 24 h
	PriorAmounts  []int64 // prior transaction amounts, minor units
}

// Input is everything the model consumes. Amounts are integer minor units.
type Input struct {
	Amount       mandate.Amount
	Intent       *mandate.IntentMandate
	HumanPresent bool
	AgentOnPath  bool

	Tokenized   bool
	TokenEmpty  bool
	CardExpired bool

	ShippingPOBox   bool
	ShippingExpress bool

	// SinceIntent is the elapsed time between intent creation and this
	// authorization attempt.
	SinceIntent time.Duration

	History History
}

// Assessment is the model output.
type Assessment struct {
	Score           int      `json:"risk_score"`
	Recommendation  string   `json:"recommendation"`
	FraudIndicators []string `json:"fraud_indicators"`
}

// Evaluate runs the weighted model and clamps the result to [0,100].
func Evaluate(in Input) Assessment {
	score := 0
	var indicators []string

	add := func(pts int, indicator string) {
		if pts > 0 {
			score += pts
			if indicator != "" {
				indicators = append(indicators, indicator)
			}
		}
	}

	add(amountPoints(in.Amount.Value), amountIndicator(in.Amount.Value))
	add(constraintPoints(in), "constraint_violation")
	if in.AgentOnPath {
		add(5, "agent_involved")
	}
	if in.HumanPresent {
		add(5, "")
	} else {
		add(15, "card_not_present")
	}
	add(methodPoints(in), "payment_method_risk")
	add(patternPoints(in), "velocity_pattern")
	add(shippingPoints(in), "shipping_risk")
	add(temporalPoints(in.SinceIntent), "temporal_anomaly")

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	return Assessment{
		Score:           score,
		Recommendation:  recommend(score),
		FraudIndicators: indicators,
	}
}

func recommend(score int) string {
	switch {
	case score < approveBelow:
		return RecommendApprove
	case score < reviewBelow:
		return RecommendReview
	default:
		return RecommendDecline
	}
}

// amountPoints steps through JPY-scale thresholds in minor units.
func amountPoints(v int64) int {
	switch {
	case v > 1_000_000:
		return capAmount
	case v > 500_000:
		return 60
	case v > 100_000:
		return 40
	case v > 50_000:
		return 25
	case v > 10_000:
		return 10
	default:
		return 0
	}
}

func amountIndicator(v int64) string {
	if v > 100_000 {
		return fmt.Sprintf("high_amount:%d", v)
	}
	return ""
}

func constraintPoints(in Input) int {
	if in.Intent == nil || in.Intent.Constraints == nil || in.Intent.Constraints.MaxAmount == nil {
		return 0
	}
	max := in.Intent.Constraints.MaxAmount
	if max.Currency != in.Amount.Currency {
		return 50
	}
	if in.Amount.Value > max.Value {
		return 50
	}
	return 0
}

func methodPoints(in Input) int {
	pts := 0
	if in.Tokenized && in.TokenEmpty {
		pts += 15
	}
	if !in.Tokenized && in.CardExpired {
		pts += 50
	}
	if pts > capMethod {
		pts = capMethod
	}
	return pts
}

func patternPoints(in Input) int {
	pts := 0
	h := in.History
	if h.PriorCount24h >= VelocityThreshold {
		pts += VelocityPenalty
	}
	if len(h.PriorAmounts) == 0 {
		pts += 15 // first-time payer
	} else if spiked(in.Amount.Value, h.PriorAmounts) {
		pts += 15
	}
	if pts > capPattern {
		pts = capPattern
	}
	return pts
}

// spiked reports whether the current amount exceeds three times the
// average of the payer's prior transactions.
func spiked(current int64, prior []int64) bool {
	sum := decimal.Zero
	for _, v := range prior {
		sum = sum.Add(decimal.NewFromInt(v))
	}
	avg := sum.Div(decimal.NewFromInt(int64(len(prior))))
	return decimal.NewFromInt(current).GreaterThan(avg.Mul(decimal.NewFromInt(3)))
}

func shippingPoints(in Input) int {
	pts := 0
	if in.ShippingPOBox {
		pts += 15
	}
	if in.ShippingExpress {
		pts += 5
	}
	if pts > capShipping {
		pts = capShipping
	}
	return pts
}

func temporalPoints(d time.Duration) int {
	switch {
	case d <= 0:
		return 0
	case d < 5*time.Second:
		return 15
	case d < 30*time.Second:
		return 10
	case d > time.Hour:
		return 5
	default:
		return 0
	}
}
