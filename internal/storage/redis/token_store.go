package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// AgentTokenTTL is the validity window of a network-issued agent token.
const AgentTokenTTL = time.Hour

// TokenRecord is what the payment network persists per agent token.
type TokenRecord struct {
	MandateID string    `json:"mandate_id"`
	PayerID   string    `json:"payer_id"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenStore is the Redis-backed agent-token store.
type TokenStore struct {
	client *goredis.Client
	prefix string
}

// NewTokenStore creates a Redis-backed token store.
func NewTokenStore(client *goredis.Client) *TokenStore {
	return &TokenStore{client: client, prefix: "agent_token:"}
}

// Put persists the record under the token for the given TTL.
func (s *TokenStore) Put(ctx context.Context, token string, rec TokenRecord, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal token record: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+token, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis token put: %w", err)
	}
	return nil
}

// Get returns the record for a token, or nil when unknown or expired.
func (s *TokenStore) Get(ctx context.Context, token string) (*TokenRecord, error) {
	data, err := s.client.Get(ctx, s.prefix+token).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis token get: %w", err)
	}
	var rec TokenRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal token record: %w", err)
	}
	return &rec, nil
}

// Revoke removes a token, e.g. after a capture settles.
func (s *TokenStore) Revoke(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, s.prefix+token).Err(); err != nil {
		return fmt.Errorf("redis token revoke: %w", err)
	}
	return nil
}
