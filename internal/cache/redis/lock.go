package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// releaseLua deletes the lock key only when its value is the caller's token,
// so an expired-and-reacquired lock is never released by the old holder.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager implements domain.LockManager on SETNX with a TTL. One lock per
// symbol is the mutual-exclusion boundary around execution attempts; the TTL
// bounds how long a crashed holder can block the symbol.
type LockManager struct {
	rdb     *redis.Client
	release *redis.Script
	logger  *slog.Logger
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:     c.Underlying(),
		release: redis.NewScript(releaseLua),
		logger:  slog.Default().With(slog.String("component", "redis_lock")),
	}
}

// Acquire takes the lock for key, or returns domain.ErrLockHeld when another
// party holds it. The returned unlock function is idempotent and runs on its
// own deadline so a cancelled caller still releases the lock.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lockKey := "lock:" + key

	ok, err := lm.rdb.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := lm.release.Run(releaseCtx, lm.rdb, []string{lockKey}, token).Err(); err != nil {
				lm.logger.Warn("lock release failed, TTL will reap it",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
			}
		})
	}
	return unlock, nil
}

var _ domain.LockManager = (*LockManager)(nil)
