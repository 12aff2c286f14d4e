package lease

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"devguard/pkg/platform/sentinel"
	"devguard/pkg/requestcontext"
)

type held struct {
	token     string
	expiresAt time.Time
}

// MemoryStore keeps leases in process. Suitable for a single daemon.
type MemoryStore struct {
	mu     sync.Mutex
	leases map[string]held
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{leases: make(map[string]held)}
}

// Acquire takes the device lease or returns sentinel.ErrLeaseHeld.
func (s *MemoryStore) Acquire(ctx context.Context, deviceID string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := requestcontext.Now(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.leases[deviceID]; ok && now.Before(cur.expiresAt) {
		return "", sentinel.ErrLeaseHeld
	}
	token := uuid.NewString()
	s.leases[deviceID] = held{token: token, expiresAt: now.Add(ttl)}
	return token, nil
}

// Release drops the lease if token still owns it. Releasing a lease that
// expired or was taken over is a no-op.
func (s *MemoryStore) Release(_ context.Context, deviceID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.leases[deviceID]; ok && cur.token == token {
		delete(s.leases, deviceID)
	}
	return nil
}
