package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store remembers request keys in Redis for a fixed TTL.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore creates a Store on top of rdb.
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

// Key builds the Redis key for a caller-supplied idempotency key.
func Key(scope string, userID int64, key string) string {
	return fmt.Sprintf("idem:%s:%d:%s", scope, userID, key)
}

// Claim records key and reports whether this is its first use.
func (s *Store) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, "1", s.ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Release forgets key so it can be claimed again.
func (s *Store) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}
