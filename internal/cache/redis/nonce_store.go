package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/peermarket/internal/domain"
)

// NonceStore implements domain.NonceStore with SET NX and a TTL, so every
// server sharing the Redis instance sees the same claims.
type NonceStore struct {
	rdb *redis.Client
}

// NewNonceStore creates a NonceStore backed by the given Client.
func NewNonceStore(c *Client) *NonceStore {
	return &NonceStore{rdb: c.Underlying()}
}

func nonceKey(key string) string {
	return "nonce:" + key
}

// Claim sets the key only if it is absent.
func (s *NonceStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, nonceKey(key), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: claim nonce %s: %w", key, err)
	}
	return ok, nil
}

var _ domain.NonceStore = (*NonceStore)(nil)
