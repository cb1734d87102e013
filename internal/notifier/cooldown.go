package notifier

import (
	"context"
	"sync"
	"time"

	"github.com/trustguard/riskcore/internal/queue"
)

// CooldownStore tracks per-user dispatch timestamps. Claim returns true when
// the user is outside the cooldown window and atomically records the new
// dispatch; false means the alert should be suppressed.
type CooldownStore interface {
	Claim(ctx context.Context, userID string, cooldown time.Duration) (bool, error)
}

// RedisCooldownStore shares cooldown state across notifier instances via
// SetNX with the cooldown as TTL.
type RedisCooldownStore struct {
	cache *queue.CacheClient
}

func NewRedisCooldownStore(cache *queue.CacheClient) *RedisCooldownStore {
	return &RedisCooldownStore{cache: cache}
}

func (s *RedisCooldownStore) Claim(ctx context.Context, userID string, cooldown time.Duration) (bool, error) {
	return s.cache.SetNX(ctx, "alert-cooldown:"+userID, time.Now().Unix(), cooldown)
}

// MemoryCooldownStore is the single-process store used in tests and
// single-instance deployments.
type MemoryCooldownStore struct {
	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

func NewMemoryCooldownStore() *MemoryCooldownStore {
	return &MemoryCooldownStore{
		last: make(map[string]time.Time),
		now:  time.Now,
	}
}

// NewMemoryCooldownStoreAt injects the clock for tests.
func NewMemoryCooldownStoreAt(now func() time.Time) *MemoryCooldownStore {
	return &MemoryCooldownStore{
		last: make(map[string]time.Time),
		now:  now,
	}
}

func (s *MemoryCooldownStore) Claim(_ context.Context, userID string, cooldown time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if last, ok := s.last[userID]; ok && now.Sub(last) < cooldown {
		return false, nil
	}
	s.last[userID] = now
	return true, nil
}
