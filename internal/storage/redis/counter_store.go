package redis

import (
	"context"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"
)

// CounterStore persists the last-seen WebAuthn sign counter per
// credential. Counters never expire; a credential's counter outlives any
// single session.
type CounterStore struct {
	client *goredis.Client
	prefix string
}

// NewCounterStore creates a Redis-backed sign-counter store.
func NewCounterStore(client *goredis.Client) *CounterStore {
	return &CounterStore{client: client, prefix: "sign_count:"}
}

// Get returns the stored counter, 0 when the credential has no record.
func (s *CounterStore) Get(ctx context.Context, credentialID string) (uint32, error) {
	val, err := s.client.Get(ctx, s.prefix+credentialID).Result()
	if err != nil {
		if err == goredis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("redis counter get: %w", err)
	}
	n, err := strconv.ParseUint(val, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse counter: %w", err)
	}
	return uint32(n), nil
}

// Set records the counter for the credential.
func (s *CounterStore) Set(ctx context.Context, credentialID string, count uint32) error {
	if err := s.client.Set(ctx, s.prefix+credentialID, strconv.FormatUint(uint64(count), 10), 0).Err(); err != nil {
		return fmt.Errorf("redis counter set: %w", err)
	}
	return nil
}
