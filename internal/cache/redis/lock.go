package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/covault/vaultrfq/internal/domain"
)

// releaseTimeout bounds the detached unlock call.
const releaseTimeout = 5 * time.Second

// releaseLua deletes the lock key only when it still carries the holder's
// token, so a lock that expired and was re-acquired by another instance is
// never released from under it.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager implements domain.LockManager on SETNX with a TTL. Settlement
// submissions and epoch rolls serialize across engine instances through it.
type LockManager struct {
	rdb     *redis.Client
	release *redis.Script
}

// NewLockManager builds a LockManager on the shared pool.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:     c.Raw(),
		release: redis.NewScript(releaseLua),
	}
}

// Acquire takes the lock for key or fails with domain.ErrLockHeld if another
// holder has it. The returned function releases the lock and tolerates being
// called more than once.
func (m *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	lk := "lock:" + key

	ok, err := m.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	released := false
	unlock := func() {
		if released {
			return
		}
		released = true

		// Release on a fresh context: the caller's context is often already
		// cancelled by the time a deferred unlock runs.
		rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		_ = m.release.Run(rctx, m.rdb, []string{lk}, token).Err()
	}

	return unlock, nil
}

var _ domain.LockManager = (*LockManager)(nil)
