package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ReplayStore remembers consumed ids (A2A message ids, JWT jtis) with a
// per-entry TTL, using SET NX for the atomic check-and-mark.
type ReplayStore struct {
	client *goredis.Client
	prefix string
}

// NewReplayStore creates a Redis-backed replay store. The prefix keeps
// message-id and jti namespaces apart on a shared client.
func NewReplayStore(client *goredis.Client, prefix string) *ReplayStore {
	return &ReplayStore{client: client, prefix: prefix}
}

// Seen marks id consumed and reports whether it was already present.
func (s *ReplayStore) Seen(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	result, err := s.client.SetArgs(ctx, s.prefix+id, 1, goredis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Result()
	if err != nil {
		if err == goredis.Nil {
			// Key already exists, id was already consumed.
			return true, nil
		}
		return false, fmt.Errorf("redis replay check: %w", err)
	}
	return result != "OK", nil
}
