package shoppingagent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"agent-payments/internal/a2a"
	"agent-payments/internal/mandate"
	"agent-payments/pkg/apperror"
)

// A2AMerchantClient requests cart candidates over the A2A envelope.
type A2AMerchantClient struct {
	client      *a2a.Client
	baseURL     string
	merchantDID string
}

// NewA2AMerchantClient creates a merchant gateway talking to baseURL.
func NewA2AMerchantClient(client *a2a.Client, baseURL, merchantDID string) *A2AMerchantClient {
	return &A2AMerchantClient{client: client, baseURL: baseURL, merchantDID: merchantDID}
}

// RequestCarts sends the intent mandate and decodes the candidate bag.
func (m *A2AMerchantClient) RequestCarts(ctx context.Context, im *mandate.IntentMandate) ([]CartCandidate, error) {
	resp, err := m.client.Call(ctx, m.baseURL, m.merchantDID, a2a.TypeIntentMandate, im.ID, im)
	if err != nil {
		return nil, err
	}
	if resp.DataPart.Type != a2a.TypeCartCandidates {
		return nil, apperror.InternalError(fmt.Errorf("unexpected part type %q", resp.DataPart.Type))
	}
	var payload struct {
		CartCandidates []CartCandidate `json:"cart_candidates"`
	}
	if err := json.Unmarshal(resp.DataPart.Payload, &payload); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("decode cart candidates: %w", err))
	}
	return payload.CartCandidates, nil
}

// A2AProcessorClient submits payment mandates over the A2A envelope.
type A2AProcessorClient struct {
	client       *a2a.Client
	baseURL      string
	processorDID string
}

// NewA2AProcessorClient creates a processor gateway talking to baseURL.
func NewA2AProcessorClient(client *a2a.Client, baseURL, processorDID string) *A2AProcessorClient {
	return &A2AProcessorClient{client: client, baseURL: baseURL, processorDID: processorDID}
}

// Process sends the payment mandate plus its cart and decodes the result.
func (p *A2AProcessorClient) Process(ctx context.Context, pm *mandate.PaymentMandate, cm *mandate.CartMandate) (*PaymentOutcome, error) {
	payload := map[string]any{
		"payment_mandate": pm,
		"cart_mandate":    cm,
	}
	resp, err := p.client.Call(ctx, p.baseURL, p.processorDID, a2a.TypePaymentMandate, pm.PaymentMandateContents.PaymentMandateID, payload)
	if err != nil {
		return nil, err
	}
	if resp.DataPart.Type != a2a.TypePaymentResult {
		return nil, apperror.InternalError(fmt.Errorf("unexpected part type %q", resp.DataPart.Type))
	}
	var out PaymentOutcome
	if err := json.Unmarshal(resp.DataPart.Payload, &out); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("decode payment result: %w", err))
	}
	return &out, nil
}

// HTTPCredentialClient looks up stored payment methods over REST.
type HTTPCredentialClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPCredentialClient creates a REST client for the credential provider.
func NewHTTPCredentialClient(baseURL string, client *http.Client) *HTTPCredentialClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPCredentialClient{baseURL: baseURL, client: client}
}

// PaymentMethod implements CredentialGateway over GET /users/:id/payment-method.
func (h *HTTPCredentialClient) PaymentMethod(ctx context.Context, userID string) (*mandate.TokenizedMethod, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/users/"+userID+"/payment-method", nil)
	if err != nil {
		return nil, apperror.InternalError(err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, apperror.ErrDownstreamTimeout("credential-provider", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, apperror.ErrNotFound("payment method")
	}
	var envelope struct {
		Data struct {
			PaymentMethod *mandate.TokenizedMethod `json:"payment_method"`
		} `json:"data"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("decode payment method: %w", err))
	}
	if resp.StatusCode != http.StatusOK || envelope.Data.PaymentMethod == nil {
		return nil, apperror.New(apperror.KindUnavailable, "UNAV_001",
			fmt.Sprintf("credential lookup: %s", envelope.Message), http.StatusBadGateway)
	}
	return envelope.Data.PaymentMethod, nil
}
