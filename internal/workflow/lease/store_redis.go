package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"devguard/pkg/platform/sentinel"
)

const leaseKeyPrefix = "devguard:lease:device:"

// releaseScript deletes the key only when it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore shares device leases across daemon instances.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Acquire uses SET NX PX so the check and the claim are one atomic step.
func (s *RedisStore) Acquire(ctx context.Context, deviceID string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, leaseKeyPrefix+deviceID, token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("acquire lease: %w", err)
	}
	if !ok {
		return "", sentinel.ErrLeaseHeld
	}
	return token, nil
}

func (s *RedisStore) Release(ctx context.Context, deviceID, token string) error {
	if err := releaseScript.Run(ctx, s.client, []string{leaseKeyPrefix + deviceID}, token).Err(); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}
