package merchantagent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-payments/internal/mandate"
	"agent-payments/internal/merchantsvc"
)

const testMerchantDID = "did:ap2:merchant:acme"

func testIntent(description string) *mandate.IntentMandate {
	now := time.Now().UTC()
	return &mandate.IntentMandate{
		ID:                         "intent_test_1",
		UserID:                     "user_1",
		CreatedAt:                  now.Format(time.RFC3339),
		NaturalLanguageDescription: description,
		IntentExpiry:               now.Add(time.Hour).Format(time.RFC3339),
	}
}

// fakeSigner scripts SignCart/PollCart responses per cart.
type fakeSigner struct {
	mu       sync.Mutex
	signFn   func(cm *mandate.CartMandate) (*merchantsvc.SignResult, error)
	polls    map[string]int
	pollFn   func(cartID string, attempt int) (*merchantsvc.SignResult, error)
	signSeen []string
}

func (f *fakeSigner) SignCart(ctx context.Context, cm *mandate.CartMandate) (*merchantsvc.SignResult, error) {
	f.mu.Lock()
	f.signSeen = append(f.signSeen, cm.Contents.ID)
	f.mu.Unlock()
	return f.signFn(cm)
}

func (f *fakeSigner) PollCart(ctx context.Context, cartID string) (*merchantsvc.SignResult, error) {
	f.mu.Lock()
	if f.polls == nil {
		f.polls = make(map[string]int)
	}
	f.polls[cartID]++
	attempt := f.polls[cartID]
	f.mu.Unlock()
	return f.pollFn(cartID, attempt)
}

func signedResult(cm *mandate.CartMandate) *merchantsvc.SignResult {
	auth := "signed-jwt"
	signed := *cm
	signed.MerchantAuthorization = &auth
	return &merchantsvc.SignResult{Status: merchantsvc.StatusSigned, CartID: cm.Contents.ID, SignedCart: &signed}
}

func newTestService(signer Signer) *Service {
	s := New(testMerchantDID, "Acme Sports", NewCatalog(), signer, zerolog.Nop())
	s.pollInterval = 5 * time.Millisecond
	s.pollCap = 200 * time.Millisecond
	return s
}

func TestRuleAnalyzer_Keywords(t *testing.T) {
	kws := RuleAnalyzer{}.Keywords("I want new Sneakers, under 10000 yen!")
	assert.Contains(t, kws, "sneakers")
	assert.Contains(t, kws, "shoes", "generic terms expand")
	assert.Contains(t, kws, "running")
	assert.NotContains(t, kws, "i", "single-letter tokens dropped")
}

func TestRuleAnalyzer_Dedupes(t *testing.T) {
	kws := RuleAnalyzer{}.Keywords("shoes shoes footwear")
	count := 0
	for _, k := range kws {
		if k == "shoes" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestCatalog_SearchRanksByScore(t *testing.T) {
	c := NewCatalog()
	got := c.Search([]string{"running", "shoes"}, "", 0)
	require.NotEmpty(t, got)
	// Both shoes match twice; trail is cheaper so it ranks first.
	assert.Equal(t, "SHOE-001", got[0].SKU)
}

func TestCatalog_SearchCategoryFilter(t *testing.T) {
	c := NewCatalog()
	got := c.Search([]string{"running"}, "apparel", 0)
	for _, p := range got {
		assert.Equal(t, "apparel", p.Category)
	}
	require.NotEmpty(t, got)
}

func TestCatalog_SearchNoMatch(t *testing.T) {
	c := NewCatalog()
	assert.Empty(t, c.Search([]string{"surfboard"}, "", 0))
}

func TestCatalog_SetStock(t *testing.T) {
	c := NewCatalog()
	require.True(t, c.SetStock("SHOE-001", 0))
	assert.Equal(t, 0, c.InStock([]string{"SHOE-001"})["SHOE-001"])
	assert.False(t, c.SetStock("NOPE-001", 5))
}

func TestPlanCarts_ThreePlansWhenTopIsNotCheapest(t *testing.T) {
	c := NewCatalog()
	products := c.Search([]string{"running", "shoes"}, "", 0)
	require.True(t, len(products) > 1)
	require.NotEqual(t, products[0].SKU, "SOCK-001")

	plans := PlanCarts(products, nil)
	names := make([]string, len(plans))
	for i, pl := range plans {
		names[i] = pl.Name
	}
	assert.ElementsMatch(t, []string{"cheapest", "balanced", "single-item"}, names)
}

func TestPlanCarts_MaxAmountFiltersPlans(t *testing.T) {
	c := NewCatalog()
	products := c.Search([]string{"running"}, "", 0)

	max := &mandate.IntentConstraint{MaxAmount: &mandate.Amount{Currency: "JPY", Value: 2500}}
	plans := PlanCarts(products, max)
	// Only the sock cart (1200 + 120 tax + 500 shipping = 1820) fits.
	require.Len(t, plans, 1)
	assert.Equal(t, "cheapest", plans[0].Name)
}

func TestPlanCarts_CurrencyMismatchExcludes(t *testing.T) {
	c := NewCatalog()
	products := c.Search([]string{"running"}, "", 0)
	max := &mandate.IntentConstraint{MaxAmount: &mandate.Amount{Currency: "USD", Value: 1_000_000}}
	assert.Empty(t, PlanCarts(products, max))
}

func TestBuildCartMandate_TotalsAddUp(t *testing.T) {
	c := NewCatalog()
	products := c.Search([]string{"socks"}, "", 0)
	require.NotEmpty(t, products)

	cm := BuildCartMandate(CartPlan{Name: "cheapest", Products: products[:1]}, testMerchantDID, "Acme Sports", "intent_1", time.Now())

	var sum int64
	for _, it := range cm.Contents.PaymentRequest.Details.DisplayItems {
		sum += it.Amount.Value
	}
	assert.Equal(t, cm.Contents.PaymentRequest.Details.Total.Amount.Value, sum)
	assert.Equal(t, int64(1200+120+500), sum)
	assert.Equal(t, testMerchantDID, cm.Metadata.MerchantID)
	assert.Equal(t, "intent_1", cm.Metadata.IntentMandateID)
	require.NoError(t, mandate.ValidateCartMandate(cm, time.Now()))
}

func TestHandleIntent_AutoSignedCandidates(t *testing.T) {
	signer := &fakeSigner{
		signFn: func(cm *mandate.CartMandate) (*merchantsvc.SignResult, error) {
			return signedResult(cm), nil
		},
	}
	s := newTestService(signer)

	artifacts, err := s.HandleIntent(context.Background(), testIntent("running shoes"))
	require.NoError(t, err)
	require.NotEmpty(t, artifacts)
	for _, a := range artifacts {
		assert.NotEmpty(t, a.ArtifactID)
		require.NotNil(t, a.CartMandate)
		assert.True(t, a.CartMandate.Signed())
	}
}

func TestHandleIntent_InvalidIntent(t *testing.T) {
	s := newTestService(&fakeSigner{})
	im := testIntent("shoes")
	im.NaturalLanguageDescription = ""
	_, err := s.HandleIntent(context.Background(), im)
	require.Error(t, err)
}

func TestHandleIntent_NoMatchesReturnsEmpty(t *testing.T) {
	s := newTestService(&fakeSigner{signFn: func(cm *mandate.CartMandate) (*merchantsvc.SignResult, error) {
		t.Fatal("no sign request expected")
		return nil, nil
	}})
	artifacts, err := s.HandleIntent(context.Background(), testIntent("submarine"))
	require.NoError(t, err)
	assert.Empty(t, artifacts)
}

func TestHandleIntent_OutOfStockExcluded(t *testing.T) {
	signer := &fakeSigner{
		signFn: func(cm *mandate.CartMandate) (*merchantsvc.SignResult, error) {
			return signedResult(cm), nil
		},
	}
	s := newTestService(signer)
	require.True(t, s.catalog.SetStock("SOCK-001", 0))

	artifacts, err := s.HandleIntent(context.Background(), testIntent("running socks"))
	require.NoError(t, err)
	for _, a := range artifacts {
		for _, it := range a.CartMandate.Contents.PaymentRequest.Details.DisplayItems {
			assert.NotEqual(t, "Running Socks", it.Label)
		}
	}
}

func TestHandleIntent_PendingResolvesViaPoll(t *testing.T) {
	signer := &fakeSigner{
		signFn: func(cm *mandate.CartMandate) (*merchantsvc.SignResult, error) {
			return &merchantsvc.SignResult{Status: merchantsvc.StatusPending, CartID: cm.Contents.ID}, nil
		},
	}
	var built sync.Map
	signer.pollFn = func(cartID string, attempt int) (*merchantsvc.SignResult, error) {
		if attempt < 3 {
			return &merchantsvc.SignResult{Status: merchantsvc.StatusPending, CartID: cartID}, nil
		}
		v, ok := built.Load(cartID)
		if !ok {
			return nil, errors.New("unknown cart")
		}
		return signedResult(v.(*mandate.CartMandate)), nil
	}

	s := newTestService(signer)
	// Capture the carts the pipeline builds so the poll can sign them.
	s.signer = signerFunc{
		sign: func(ctx context.Context, cm *mandate.CartMandate) (*merchantsvc.SignResult, error) {
			built.Store(cm.Contents.ID, cm)
			return signer.SignCart(ctx, cm)
		},
		poll: signer.PollCart,
	}

	artifacts, err := s.HandleIntent(context.Background(), testIntent("running shoes"))
	require.NoError(t, err)
	require.NotEmpty(t, artifacts)
	for _, a := range artifacts {
		assert.True(t, a.CartMandate.Signed())
	}
}

func TestHandleIntent_RejectedCartDropped(t *testing.T) {
	signer := &fakeSigner{
		signFn: func(cm *mandate.CartMandate) (*merchantsvc.SignResult, error) {
			return &merchantsvc.SignResult{Status: merchantsvc.StatusRejected, CartID: cm.Contents.ID, Reason: "manual review"}, nil
		},
	}
	s := newTestService(signer)
	artifacts, err := s.HandleIntent(context.Background(), testIntent("running shoes"))
	require.NoError(t, err)
	assert.Empty(t, artifacts)
}

func TestHandleIntent_PollTimeoutDropsCart(t *testing.T) {
	signer := &fakeSigner{
		signFn: func(cm *mandate.CartMandate) (*merchantsvc.SignResult, error) {
			return &merchantsvc.SignResult{Status: merchantsvc.StatusPending, CartID: cm.Contents.ID}, nil
		},
		pollFn: func(cartID string, attempt int) (*merchantsvc.SignResult, error) {
			return &merchantsvc.SignResult{Status: merchantsvc.StatusPending, CartID: cartID}, nil
		},
	}
	s := newTestService(signer)
	s.pollCap = 30 * time.Millisecond

	artifacts, err := s.HandleIntent(context.Background(), testIntent("running shoes"))
	require.NoError(t, err)
	assert.Empty(t, artifacts)
}

func TestHandleIntent_SignErrorDropsOnlyThatCart(t *testing.T) {
	var calls atomic.Int32
	signer := &fakeSigner{}
	signer.signFn = func(cm *mandate.CartMandate) (*merchantsvc.SignResult, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("connection refused")
		}
		return signedResult(cm), nil
	}
	s := newTestService(signer)

	artifacts, err := s.HandleIntent(context.Background(), testIntent("running shoes"))
	require.NoError(t, err)
	// Three plans minus the one failed sign request.
	assert.Len(t, artifacts, 2)
}

// signerFunc adapts closures to the Signer interface.
type signerFunc struct {
	sign func(ctx context.Context, cm *mandate.CartMandate) (*merchantsvc.SignResult, error)
	poll func(ctx context.Context, cartID string) (*merchantsvc.SignResult, error)
}

func (f signerFunc) SignCart(ctx context.Context, cm *mandate.CartMandate) (*merchantsvc.SignResult, error) {
	return f.sign(ctx, cm)
}

func (f signerFunc) PollCart(ctx context.Context, cartID string) (*merchantsvc.SignResult, error) {
	return f.poll(ctx, cartID)
}
