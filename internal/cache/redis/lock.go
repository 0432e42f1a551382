package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/quayside-labs/swapsentinel/internal/domain"
)

// releaseLua deletes a lock key only when its value still matches the holder
// token. A sweeper whose lock expired must not release the lock a newer
// sweeper now holds.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager implements domain.LockManager on Redis SETNX. The monitor uses
// it to elect a single recovery sweeper per tick when several sentinel
// replicas watch the same store; the TTL bounds how long a crashed holder can
// block the next sweep.
type LockManager struct {
	rdb       *redis.Client
	releaseSc *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:       c.Underlying(),
		releaseSc: redis.NewScript(releaseLua),
	}
}

func lockKey(name string) string {
	return "sentinel:lock:" + name
}

// Acquire takes the named lock for at most ttl and returns a release function.
// The release function is idempotent. Losing the race returns
// domain.ErrLockHeld, which callers treat as "someone else is sweeping".
func (lm *LockManager) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	holder := uuid.New().String()
	key := lockKey(name)

	ok, err := lm.rdb.SetNX(ctx, key, holder, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	released := false
	release := func() {
		if released {
			return
		}
		released = true

		// The sweep may release after its tick context was cancelled by
		// shutdown, so the unlock gets its own deadline.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = lm.releaseSc.Run(releaseCtx, lm.rdb, []string{key}, holder).Err()
	}

	return release, nil
}

var _ domain.LockManager = (*LockManager)(nil)
