package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"agent-payments/internal/mandate"
	"agent-payments/pkg/apperror"
)

// NetworkClient calls the payment network's tokenize endpoint.
type NetworkClient struct {
	baseURL string
	client  *http.Client
}

// NewNetworkClient creates a REST client for the payment network.
func NewNetworkClient(baseURL string, client *http.Client) *NetworkClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &NetworkClient{baseURL: baseURL, client: client}
}

// Tokenize implements Tokenizer over POST /network/tokenize.
func (n *NetworkClient) Tokenize(ctx context.Context, mandateID, payerID string, amount mandate.Amount) (string, error) {
	body, err := json.Marshal(map[string]any{
		"mandate_id": mandateID,
		"payer_id":   payerID,
		"amount":     amount,
	})
	if err != nil {
		return "", apperror.InternalError(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/network/tokenize", bytes.NewReader(body))
	if err != nil {
		return "", apperror.InternalError(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return "", apperror.ErrDownstreamTimeout("payment-network", err)
	}
	defer resp.Body.Close()

	var envelope struct {
		Data struct {
			AgentToken string `json:"agent_token"`
		} `json:"data"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return "", apperror.InternalError(fmt.Errorf("decode tokenize response: %w", err))
	}
	if resp.StatusCode != http.StatusOK || envelope.Data.AgentToken == "" {
		return "", apperror.New(apperror.KindUnavailable, "UNAV_001",
			fmt.Sprintf("network tokenize: %s", envelope.Message), http.StatusBadGateway)
	}
	return envelope.Data.AgentToken, nil
}
