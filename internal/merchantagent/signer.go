package merchantagent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"agent-payments/internal/mandate"
	"agent-payments/internal/merchantsvc"
	"agent-payments/pkg/apperror"
)

// Signer is the merchant signing service as seen by the agent.
type Signer interface {
	SignCart(ctx context.Context, cm *mandate.CartMandate) (*merchantsvc.SignResult, error)
	PollCart(ctx context.Context, cartID string) (*merchantsvc.SignResult, error)
}

// HTTPSigner calls the merchant service's REST endpoints.
type HTTPSigner struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSigner creates a REST client for the signing service.
func NewHTTPSigner(baseURL string, client *http.Client) *HTTPSigner {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSigner{baseURL: baseURL, client: client}
}

// SignCart posts the cart to /sign/cart.
func (s *HTTPSigner) SignCart(ctx context.Context, cm *mandate.CartMandate) (*merchantsvc.SignResult, error) {
	return s.post(ctx, "/sign/cart", map[string]any{"cart_mandate": cm})
}

// PollCart posts to /poll/cart.
func (s *HTTPSigner) PollCart(ctx context.Context, cartID string) (*merchantsvc.SignResult, error) {
	return s.post(ctx, "/poll/cart", map[string]any{"cart_mandate_id": cartID})
}

func (s *HTTPSigner) post(ctx context.Context, path string, body any) (*merchantsvc.SignResult, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, apperror.ErrDownstreamTimeout("merchant-service", err)
	}
	defer resp.Body.Close()

	var envelope struct {
		Data      *merchantsvc.SignResult `json:"data"`
		ErrorCode string                  `json:"error_code"`
		Message   string                  `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("decode sign response: %w", err))
	}
	if resp.StatusCode >= http.StatusBadRequest || envelope.Data == nil {
		return nil, apperror.New(apperror.KindUnavailable, envelope.ErrorCode,
			fmt.Sprintf("merchant service %s: %s", path, envelope.Message), resp.StatusCode)
	}
	return envelope.Data, nil
}
