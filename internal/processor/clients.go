package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"agent-payments/internal/credential"
	"agent-payments/internal/mandate"
	"agent-payments/internal/network"
	"agent-payments/pkg/apperror"
)

// HTTPCredentialClient calls the credential provider's REST endpoints.
type HTTPCredentialClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPCredentialClient creates a REST client for the credential
// provider.
func NewHTTPCredentialClient(baseURL string, client *http.Client) *HTTPCredentialClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPCredentialClient{baseURL: baseURL, client: client}
}

// Verify implements CredentialClient over POST /verify.
func (c *HTTPCredentialClient) Verify(ctx context.Context, paymentToken, mandateID string, amount mandate.Amount) (*credential.VerifyResult, error) {
	var out struct {
		Data credential.VerifyResult `json:"data"`
	}
	if err := c.post(ctx, "/verify", map[string]any{
		"token":              paymentToken,
		"payment_mandate_id": mandateID,
		"amount":             amount,
	}, &out); err != nil {
		return nil, err
	}
	if out.Data.AgentToken == "" {
		return nil, fmt.Errorf("credential provider returned no agent token")
	}
	return &out.Data, nil
}

// PushReceipt implements CredentialClient over POST /receipt.
func (c *HTTPCredentialClient) PushReceipt(ctx context.Context, r credential.Receipt) error {
	return c.post(ctx, "/receipt", r, nil)
}

func (c *HTTPCredentialClient) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return apperror.ErrDownstreamTimeout("credential-provider", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		var envelope struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&envelope)
		return fmt.Errorf("credential provider %s: %d %s", path, resp.StatusCode, envelope.Message)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// HTTPNetworkClient calls the payment network's charge endpoint.
type HTTPNetworkClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPNetworkClient creates a REST client for the payment network.
func NewHTTPNetworkClient(baseURL string, client *http.Client) *HTTPNetworkClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPNetworkClient{baseURL: baseURL, client: client}
}

// Charge implements NetworkClient over POST /network/charge. A declined
// charge comes back as a failed ChargeResult, not an error.
func (c *HTTPNetworkClient) Charge(ctx context.Context, agentToken string, amount mandate.Amount) (*network.ChargeResult, error) {
	body, err := json.Marshal(map[string]any{"agent_token": agentToken, "amount": amount})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/network/charge", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var envelope struct {
		Data    network.ChargeResult `json:"data"`
		Message string               `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode charge response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("network charge: %d %s", resp.StatusCode, envelope.Message)
	}
	return &envelope.Data, nil
}
