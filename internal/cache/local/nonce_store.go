package local

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/peermarket/internal/domain"
)

// pruneEvery bounds how many claims pass between sweeps of expired keys.
const pruneEvery = 1024

// NonceStore is an in-process domain.NonceStore. Claims are not shared
// between processes.
type NonceStore struct {
	mu      sync.Mutex
	expires map[string]time.Time
	claims  int
	now     func() time.Time
}

// NewNonceStore returns an empty store.
func NewNonceStore() *NonceStore {
	return &NonceStore{expires: make(map[string]time.Time), now: time.Now}
}

// Claim records key until ttl elapses.
func (s *NonceStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.claims++
	if s.claims%pruneEvery == 0 {
		for k, exp := range s.expires {
			if !now.Before(exp) {
				delete(s.expires, k)
			}
		}
	}
	if exp, ok := s.expires[key]; ok && now.Before(exp) {
		return false, nil
	}
	s.expires[key] = now.Add(ttl)
	return true, nil
}

var _ domain.NonceStore = (*NonceStore)(nil)
