package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"agent-payments/internal/mandate"
)

func jpy(v int64) mandate.Amount {
	return mandate.Amount{Currency: "JPY", Value: v}
}

func baseline(v int64) Input {
	return Input{
		Amount:       jpy(v),
		HumanPresent: true,
		Tokenized:    true,
		History:      History{PriorAmounts: []int64{8000, 9000, 9300}},
		SinceIntent:  2 * time.Minute,
	}
}

func TestEvaluate_SmallRepeatPurchaseApproves(t *testing.T) {
	a := Evaluate(baseline(9300))
	assert.Less(t, a.Score, 30)
	assert.Equal(t, RecommendApprove, a.Recommendation)
}

func TestEvaluate_AmountMonotonic(t *testing.T) {
	// Holding all other factors fixed, a larger amount never lowers the
	// score.
	amounts := []int64{500, 9_000, 11_000, 60_000, 150_000, 600_000, 2_000_000}
	prev := -1
	for _, v := range amounts {
		in := baseline(v)
		in.History.PriorAmounts = nil // keep the spike factor out
		in.History.PriorCount24h = 0
		a := Evaluate(in)
		assert.GreaterOrEqual(t, a.Score, prev, "amount %d", v)
		prev = a.Score
	}
}

func TestEvaluate_ConstraintExceeded(t *testing.T) {
	max := jpy(10_000)
	in := baseline(15_000)
	in.Intent = &mandate.IntentMandate{Constraints: &mandate.IntentConstraint{MaxAmount: &max}}

	a := Evaluate(in)
	assert.GreaterOrEqual(t, a.Score, 50)
	assert.Contains(t, a.FraudIndicators, "constraint_violation")
}

func TestEvaluate_ConstraintCurrencyMismatch(t *testing.T) {
	max := mandate.Amount{Currency: "USD", Value: 100_000}
	in := baseline(9300)
	in.Intent = &mandate.IntentMandate{Constraints: &mandate.IntentConstraint{MaxAmount: &max}}

	a := Evaluate(in)
	assert.GreaterOrEqual(t, a.Score, 50)
}

func TestEvaluate_CardNotPresent(t *testing.T) {
	in := baseline(9300)
	in.HumanPresent = false
	a := Evaluate(in)

	present := Evaluate(baseline(9300))
	assert.Equal(t, 10, a.Score-present.Score)
	assert.Contains(t, a.FraudIndicators, "card_not_present")
}

func TestEvaluate_VelocityAndSpikeCapAt30(t *testing.T) {
	in := baseline(100_000)
	in.History = History{
		PriorCount24h: 6,
		PriorAmounts:  []int64{1000, 1000, 1000},
	}
	with := Evaluate(in)

	in.History = History{PriorAmounts: []int64{100_000}}
	without := Evaluate(in)

	// velocity(30) + spike(15) is capped to the pattern ceiling.
	assert.Equal(t, capPattern, with.Score-without.Score)
}

func TestEvaluate_FirstTimePayer(t *testing.T) {
	in := baseline(9300)
	in.History = History{}
	a := Evaluate(in)
	assert.Contains(t, a.FraudIndicators, "velocity_pattern")
}

func TestEvaluate_ExpiredCardCapped(t *testing.T) {
	in := baseline(9300)
	in.Tokenized = false
	in.CardExpired = true
	a := Evaluate(in)

	base := Evaluate(baseline(9300))
	assert.Equal(t, capMethod, a.Score-base.Score)
}

func TestEvaluate_TemporalBands(t *testing.T) {
	cases := []struct {
		delta time.Duration
		pts   int
	}{
		{2 * time.Second, 15},
		{20 * time.Second, 10},
		{10 * time.Minute, 0},
		{2 * time.Hour, 5},
	}
	base := baseline(9300)
	base.SinceIntent = 10 * time.Minute
	ref := Evaluate(base).Score

	for _, tc := range cases {
		in := baseline(9300)
		in.SinceIntent = tc.delta
		assert.Equal(t, tc.pts, Evaluate(in).Score-ref, "delta %v", tc.delta)
	}
}

func TestEvaluate_ScoreClampedTo100(t *testing.T) {
	in := Input{
		Amount:          jpy(5_000_000),
		HumanPresent:    false,
		AgentOnPath:     true,
		Tokenized:       false,
		CardExpired:     true,
		History:         History{PriorCount24h: 10},
		SinceIntent:     time.Second,
		ShippingPOBox:   true,
		ShippingExpress: true,
	}
	max := jpy(1000)
	in.Intent = &mandate.IntentMandate{Constraints: &mandate.IntentConstraint{MaxAmount: &max}}

	a := Evaluate(in)
	assert.Equal(t, 100, a.Score)
	assert.Equal(t, RecommendDecline, a.Recommendation)
}

func TestEvaluate_DeclineBand(t *testing.T) {
	in := baseline(2_000_000) // 80 amount points alone
	in.History.PriorAmounts = []int64{2_000_000}
	a := Evaluate(in)
	assert.Equal(t, RecommendDecline, a.Recommendation)
}
