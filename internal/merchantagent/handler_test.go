package merchantagent

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-payments/internal/a2a"
	"agent-payments/internal/did"
	"agent-payments/internal/keys"
	"agent-payments/internal/mandate"
	"agent-payments/internal/merchantsvc"
)

const (
	shoppingDID   = "did:ap2:agent:shopping_agent"
	agentDID      = "did:ap2:agent:merchant_agent"
	shoppingKeyID = shoppingDID + "#key-1"
)

func newHandlerRouter(t *testing.T) (*gin.Engine, *Service, func(*a2a.Message)) {
	t.Helper()
	resolver := did.NewResolver("", nil, zerolog.Nop())
	verifier := &a2a.Verifier{Resolver: resolver, Replay: a2a.NewMemoryReplayCache()}

	shoppingKey, err := keys.GenerateP256()
	require.NoError(t, err)
	shoppingDoc, err := did.NewDocument(shoppingDID, shoppingKey.Public())
	require.NoError(t, err)
	resolver.Register(shoppingDoc)

	agentKey, err := keys.GenerateP256()
	require.NoError(t, err)
	agentDoc, err := did.NewDocument(agentDID, agentKey.Public())
	require.NoError(t, err)
	resolver.Register(agentDoc)

	signer := signerFunc{
		sign: func(ctx context.Context, cm *mandate.CartMandate) (*merchantsvc.SignResult, error) {
			return signedResult(cm), nil
		},
		poll: func(ctx context.Context, cartID string) (*merchantsvc.SignResult, error) {
			t.Fatal("unexpected poll")
			return nil, nil
		},
	}
	svc := New(testMerchantDID, "Acme Sports", NewCatalog(), signer, zerolog.Nop())
	svc.pollInterval = 5 * time.Millisecond
	svc.pollCap = 200 * time.Millisecond

	registry := a2a.NewRegistry(verifier, agentDID, agentKey, zerolog.Nop())
	h := NewHandler(svc, registry, agentDoc)

	sign := func(m *a2a.Message) {
		require.NoError(t, a2a.Sign(m, shoppingKey, shoppingKeyID))
	}
	return Router(h, zerolog.Nop()), svc, sign
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestA2AMessage_IntentToCartCandidates(t *testing.T) {
	router, _, sign := newHandlerRouter(t)

	im := testIntent("running shoes")
	msg, err := a2a.NewMessage(shoppingDID, agentDID, a2a.TypeIntentMandate, im.ID, im)
	require.NoError(t, err)
	sign(msg)

	w := doJSON(t, router, http.MethodPost, "/a2a/message", msg)
	require.Equal(t, http.StatusOK, w.Code)

	var resp a2a.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.False(t, resp.IsError(), "body: %s", w.Body.String())
	assert.Equal(t, a2a.TypeCartCandidates, resp.DataPart.Type)
	assert.Equal(t, im.ID, resp.DataPart.ID)

	var payload cartCandidatesPayload
	require.NoError(t, json.Unmarshal(resp.DataPart.Payload, &payload))
	require.NotEmpty(t, payload.CartCandidates)
	for _, a := range payload.CartCandidates {
		assert.True(t, a.CartMandate.Signed())
	}
}

func TestA2AMessage_UnsignedRejected(t *testing.T) {
	router, _, _ := newHandlerRouter(t)

	im := testIntent("running shoes")
	msg, err := a2a.NewMessage(shoppingDID, agentDID, a2a.TypeIntentMandate, im.ID, im)
	require.NoError(t, err)

	w := doJSON(t, router, http.MethodPost, "/a2a/message", msg)
	require.Equal(t, http.StatusOK, w.Code)

	var resp a2a.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.IsError())
}

func TestA2AMessage_MalformedIntentPayload(t *testing.T) {
	router, _, sign := newHandlerRouter(t)

	msg, err := a2a.NewMessage(shoppingDID, agentDID, a2a.TypeIntentMandate, "intent_x",
		map[string]any{"natural_language_description": ""})
	require.NoError(t, err)
	sign(msg)

	w := doJSON(t, router, http.MethodPost, "/a2a/message", msg)
	var resp a2a.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.IsError())
}

func TestSearchEndpoint(t *testing.T) {
	router, _, _ := newHandlerRouter(t)

	w := doJSON(t, router, http.MethodGet, "/search?query=running+shoes&limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data struct {
			Products []Product `json:"products"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Products, 2)
	assert.Equal(t, "SHOE-001", resp.Data.Products[0].SKU)
}

func TestCreateCartEndpoint(t *testing.T) {
	router, _, _ := newHandlerRouter(t)

	w := doJSON(t, router, http.MethodPost, "/create-cart", map[string]any{
		"skus":              []string{"SHOE-001", "SOCK-001"},
		"intent_mandate_id": "intent_1",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data merchantsvc.SignResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, merchantsvc.StatusSigned, resp.Data.Status)
	require.NotNil(t, resp.Data.SignedCart)
	// 8000 + 1200 subtotal, 920 tax, 500 shipping.
	assert.Equal(t, int64(10620), resp.Data.SignedCart.Contents.PaymentRequest.Details.Total.Amount.Value)
}

func TestCreateCartEndpoint_UnknownSKU(t *testing.T) {
	router, _, _ := newHandlerRouter(t)
	w := doJSON(t, router, http.MethodPost, "/create-cart", map[string]any{"skus": []string{"NOPE-001"}})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestInventoryEndpoints(t *testing.T) {
	router, svc, _ := newHandlerRouter(t)

	w := doJSON(t, router, http.MethodPost, "/inventory/update", map[string]any{"sku": "SHOE-001", "quantity": 3})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, svc.catalog.InStock([]string{"SHOE-001"})["SHOE-001"])

	w = doJSON(t, router, http.MethodGet, "/inventory", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data struct {
			Stock map[string]int `json:"stock"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Data.Stock["SHOE-001"])

	w = doJSON(t, router, http.MethodPost, "/inventory/update", map[string]any{"sku": "NOPE-001", "quantity": 1})
	assert.Equal(t, http.StatusNotFound, w.Code)

	neg := -1
	w = doJSON(t, router, http.MethodPost, "/inventory/update", map[string]any{"sku": "SHOE-001", "quantity": neg})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthAndDID(t *testing.T) {
	router, _, _ := newHandlerRouter(t)

	w := doJSON(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/.well-known/did.json", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var doc did.Document
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Equal(t, agentDID, doc.ID)
}
