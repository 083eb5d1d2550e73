package a2a

import (
	"context"
	"crypto"
	"fmt"
	"time"

	"agent-payments/internal/canonical"
	"agent-payments/internal/did"
	"agent-payments/internal/signing"
	"agent-payments/pkg/apperror"
)

// signingBytes is the canonical form of the message with header.proof removed.
func signingBytes(m *Message) ([]byte, error) {
	unsigned := Message{Header: m.Header, DataPart: m.DataPart}
	unsigned.Header.Proof = nil
	return canonical.Canonicalize(unsigned)
}

// Sign attaches a proof over the canonical message to the header.
func Sign(m *Message, key crypto.Signer, keyID string) error {
	data, err := signingBytes(m)
	if err != nil {
		return fmt.Errorf("canonicalizing message: %w", err)
	}
	sig, err := signing.Sign(data, key, keyID)
	if err != nil {
		return fmt.Errorf("signing message: %w", err)
	}
	m.Header.Proof = sig
	return nil
}

// ReplayCache remembers message ids for a TTL. Seen returns true when the
// id was already consumed.
type ReplayCache interface {
	Seen(ctx context.Context, id string, ttl time.Duration) (bool, error)
}

// Verifier checks inbound envelopes: sender key resolution, freshness,
// replay, and signature.
type Verifier struct {
	Resolver  *did.Resolver
	Replay    ReplayCache
	Tolerance time.Duration // 0 = signing.FreshnessTolerance
	ReplayTTL time.Duration // 0 = 600s
}

// Verify validates a message per the envelope rules. Returns an AppError
// on any failure.
func (v *Verifier) Verify(ctx context.Context, m *Message) error {
	if m.Header.Proof == nil {
		return apperror.ErrSignatureInvalid(fmt.Errorf("message %s has no proof", m.Header.MessageID))
	}

	pub, err := v.Resolver.ResolvePublicKey(ctx, m.Header.Proof.KeyID)
	if err != nil {
		return apperror.ErrSignatureInvalid(fmt.Errorf("resolving %s: %w", m.Header.Proof.KeyID, err))
	}
	if pub == nil {
		return apperror.ErrKeyNotFound(m.Header.Proof.KeyID)
	}

	ts, err := time.Parse(time.RFC3339, m.Header.Timestamp)
	if err != nil {
		return apperror.ErrSignatureInvalid(fmt.Errorf("bad timestamp %q: %w", m.Header.Timestamp, err))
	}
	tolerance := v.Tolerance
	if tolerance == 0 {
		tolerance = signing.FreshnessTolerance
	}
	if !signing.Fresh(ts, time.Now(), tolerance) {
		return apperror.ErrSignatureInvalid(fmt.Errorf("message %s outside freshness window", m.Header.MessageID))
	}

	ttl := v.ReplayTTL
	if ttl == 0 {
		ttl = 600 * time.Second
	}
	seen, err := v.Replay.Seen(ctx, m.Header.MessageID, ttl)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("replay cache: %w", err))
	}
	if seen {
		return apperror.ErrMessageReplay()
	}

	data, err := signingBytes(m)
	if err != nil {
		return apperror.ErrCanonicalization(err)
	}
	if err := signing.Verify(data, m.Header.Proof, pub); err != nil {
		return apperror.ErrSignatureInvalid(err)
	}
	return nil
}
