package cache

import (
	"context"
	"sync"
	"time"
)

// TokenBlocklist remembers access tokens revoked before their expiry.
type TokenBlocklist interface {
	Revoke(ctx context.Context, tokenID string, username string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// MemoryTokenBlocklist keeps revocations in process memory. It is used when
// no Redis address is configured.
type MemoryTokenBlocklist struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewMemoryTokenBlocklist() *MemoryTokenBlocklist {
	return &MemoryTokenBlocklist{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (b *MemoryTokenBlocklist) Revoke(_ context.Context, tokenID string, _ string, ttl time.Duration) error {
	if tokenID == "" || ttl <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	for id, expires := range b.entries {
		if !now.Before(expires) {
			delete(b.entries, id)
		}
	}
	b.entries[tokenID] = now.Add(ttl)
	return nil
}

func (b *MemoryTokenBlocklist) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	expires, ok := b.entries[tokenID]
	if !ok {
		return false, nil
	}
	if !b.now().Before(expires) {
		delete(b.entries, tokenID)
		return false, nil
	}
	return true, nil
}
