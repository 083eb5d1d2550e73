package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ChallengeTTL is how long an issued WebAuthn challenge stays valid.
const ChallengeTTL = 60 * time.Second

// ChallengeStore holds one outstanding WebAuthn challenge per user.
// Challenges are single-use: Take removes the entry it returns.
type ChallengeStore struct {
	client *goredis.Client
	prefix string
}

// NewChallengeStore creates a Redis-backed challenge store.
func NewChallengeStore(client *goredis.Client) *ChallengeStore {
	return &ChallengeStore{client: client, prefix: "challenge:"}
}

// Issue stores the challenge for the user, replacing any outstanding one.
func (s *ChallengeStore) Issue(ctx context.Context, userID, challenge string) error {
	if err := s.client.Set(ctx, s.prefix+userID, challenge, ChallengeTTL).Err(); err != nil {
		return fmt.Errorf("redis challenge issue: %w", err)
	}
	return nil
}

// Take returns and consumes the user's outstanding challenge. Returns ""
// when none is outstanding or it has expired.
func (s *ChallengeStore) Take(ctx context.Context, userID string) (string, error) {
	val, err := s.client.GetDel(ctx, s.prefix+userID).Result()
	if err != nil {
		if err == goredis.Nil {
			return "", nil
		}
		return "", fmt.Errorf("redis challenge take: %w", err)
	}
	return val, nil
}
