package a2a

import (
	"bytes"
	"context"
	"crypto"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"agent-payments/pkg/apperror"
)

// Client posts signed envelopes to peer services. Deadlines come from the
// caller's context; the client never retries write paths.
type Client struct {
	http     *http.Client
	selfDID  string
	key      crypto.Signer
	keyID    string
	verifier *Verifier
}

// NewClient creates an A2A client signing as selfDID.
func NewClient(httpClient *http.Client, selfDID string, key crypto.Signer) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		http:    httpClient,
		selfDID: selfDID,
		key:     key,
		keyID:   selfDID + "#key-1",
	}
}

// SetVerifier enables verification of response envelopes: signature,
// freshness, and replay, resolved through the verifier's DID resolver.
func (c *Client) SetVerifier(v *Verifier) {
	c.verifier = v
}

// Call signs and posts a message to baseURL's /a2a/message endpoint and
// decodes the response envelope. With a verifier set, the response is
// verified before it is interpreted, error parts included. An error-part
// response is surfaced as an AppError of the carried kind.
func (c *Client) Call(ctx context.Context, baseURL, recipient, partType, partID string, payload interface{}) (*Message, error) {
	msg, err := NewMessage(c.selfDID, recipient, partType, partID, payload)
	if err != nil {
		return nil, err
	}
	if err := Sign(msg, c.key, c.keyID); err != nil {
		return nil, err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshaling envelope: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/a2a/message", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, apperror.ErrDownstreamTimeout(recipient, err)
		}
		return nil, apperror.InternalError(fmt.Errorf("posting to %s: %w", baseURL, err))
	}
	defer resp.Body.Close()

	var out Message
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("decoding envelope: %w", err))
	}

	if c.verifier != nil {
		if err := c.verifier.Verify(ctx, &out); err != nil {
			return nil, err
		}
	}

	if ep := out.Error(); ep != nil {
		return &out, errorFromPayload(ep)
	}
	return &out, nil
}

func errorFromPayload(ep *ErrorPayload) *apperror.AppError {
	status := http.StatusInternalServerError
	switch apperror.Kind(ep.Kind) {
	case apperror.KindValidation:
		status = http.StatusBadRequest
	case apperror.KindAuthentication:
		status = http.StatusUnauthorized
	case apperror.KindAuthorization:
		status = http.StatusForbidden
	case apperror.KindConflict:
		status = http.StatusConflict
	case apperror.KindNotFound:
		status = http.StatusNotFound
	case apperror.KindUnavailable:
		status = http.StatusGatewayTimeout
	}
	return apperror.New(apperror.Kind(ep.Kind), ep.Code, ep.Detail, status)
}
