// Package a2a implements the signed agent-to-agent message frame used for
// every mandate exchange: envelope types, canonical signing, replay-checked
// verification, and a handler registry that dispatches by dataPart type.
package a2a

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"agent-payments/internal/signing"
)

// dataPart types on the wire.
const (
	TypeIntentMandate  = "ap2.mandates.IntentMandate"
	TypeCartMandate    = "ap2.mandates.CartMandate"
	TypePaymentMandate = "ap2.mandates.PaymentMandate"
	TypeCartRequest    = "ap2.requests.CartRequest"
	TypeCartSelection  = "ap2.requests.CartSelection"
	TypeCartCandidates = "ap2.responses.CartCandidates"
	TypePaymentResult  = "ap2.responses.PaymentResult"
	errorTypePrefix    = "ap2.errors."
)

// Header identifies and authenticates a message.
type Header struct {
	MessageID string             `json:"message_id"`
	Sender    string             `json:"sender"`
	Recipient string             `json:"recipient"`
	Timestamp string             `json:"timestamp"`
	Proof     *signing.Signature `json:"proof,omitempty"`
}

// DataPart carries the typed payload.
type DataPart struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// Message is one A2A envelope.
type Message struct {
	Header   Header   `json:"header"`
	DataPart DataPart `json:"dataPart"`
}

// ErrorPayload is the payload of an ap2.errors.* response.
type ErrorPayload struct {
	Kind   string `json:"kind"`
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

// IsError reports whether the message carries an error part.
func (m *Message) IsError() bool {
	return len(m.DataPart.Type) > len(errorTypePrefix) && m.DataPart.Type[:len(errorTypePrefix)] == errorTypePrefix
}

// Error decodes the error payload; nil when the message is not an error.
func (m *Message) Error() *ErrorPayload {
	if !m.IsError() {
		return nil
	}
	var p ErrorPayload
	if err := json.Unmarshal(m.DataPart.Payload, &p); err != nil {
		return &ErrorPayload{Kind: "internal", Code: "SYS_000", Detail: "malformed error payload"}
	}
	return &p
}

// NewMessage builds an unsigned envelope with a fresh message id and
// current timestamp.
func NewMessage(sender, recipient, partType, partID string, payload interface{}) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}
	return &Message{
		Header: Header{
			MessageID: newMessageID(),
			Sender:    sender,
			Recipient: recipient,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
		DataPart: DataPart{
			Type:    partType,
			ID:      partID,
			Payload: raw,
		},
	}, nil
}

func newMessageID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return "msg_" + hex.EncodeToString(b)
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
