package a2a

import (
	"context"
	"crypto"
	"encoding/json"
	"errors"
	"fmt"

	"agent-payments/pkg/apperror"

	"github.com/rs/zerolog"
)

// HandlerFunc processes a verified inbound message and returns the response
// data part. Handlers must be re-entrant; the dispatcher runs one goroutine
// per request.
type HandlerFunc func(ctx context.Context, m *Message) (*DataPart, error)

// Registry maps dataPart types to handlers and owns the service's signing
// identity for responses.
type Registry struct {
	handlers map[string]HandlerFunc
	verifier *Verifier
	selfDID  string
	key      crypto.Signer
	keyID    string
	log      zerolog.Logger
}

// NewRegistry creates a dispatcher for the service identified by selfDID.
func NewRegistry(verifier *Verifier, selfDID string, key crypto.Signer, log zerolog.Logger) *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
		verifier: verifier,
		selfDID:  selfDID,
		key:      key,
		keyID:    selfDID + "#key-1",
		log:      log,
	}
}

// Handle registers a handler for a dataPart type.
func (r *Registry) Handle(partType string, h HandlerFunc) {
	r.handlers[partType] = h
}

// Dispatch verifies the message, invokes the matching handler, and returns
// a signed response envelope. Errors become ap2.errors.* parts; internal
// detail is logged, never echoed.
func (r *Registry) Dispatch(ctx context.Context, m *Message) *Message {
	if err := r.verifier.Verify(ctx, m); err != nil {
		r.log.Warn().Err(err).Str("message_id", m.Header.MessageID).Str("sender", m.Header.Sender).
			Msg("a2a verification failed")
		return r.errorResponse(m, err)
	}

	h, ok := r.handlers[m.DataPart.Type]
	if !ok {
		return r.errorResponse(m, apperror.ErrNotFound(fmt.Sprintf("handler for %s", m.DataPart.Type)))
	}

	part, err := h(ctx, m)
	if err != nil {
		r.log.Warn().Err(err).Str("message_id", m.Header.MessageID).Str("type", m.DataPart.Type).
			Msg("a2a handler failed")
		return r.errorResponse(m, err)
	}

	return r.respond(m, part)
}

func (r *Registry) respond(req *Message, part *DataPart) *Message {
	resp := &Message{
		Header: Header{
			MessageID: newMessageID(),
			Sender:    r.selfDID,
			Recipient: req.Header.Sender,
			Timestamp: nowRFC3339(),
		},
		DataPart: *part,
	}
	if err := Sign(resp, r.key, r.keyID); err != nil {
		r.log.Error().Err(err).Msg("failed to sign a2a response")
	}
	return resp
}

func (r *Registry) errorResponse(req *Message, err error) *Message {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		appErr = apperror.InternalError(err)
	}
	payload, _ := json.Marshal(ErrorPayload{
		Kind:   string(appErr.Kind),
		Code:   appErr.Code,
		Detail: appErr.Message,
	})
	return r.respond(req, &DataPart{
		Type:    errorTypePrefix + string(appErr.Kind),
		ID:      req.DataPart.ID,
		Payload: payload,
	})
}
