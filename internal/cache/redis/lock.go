package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mobelieve/mexc-triarb/internal/domain"
)

// unlockLua deletes a lock key only if its value matches the caller's token,
// so one holder cannot release another holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// refreshLua extends the TTL only while the caller still owns the lock.
const refreshLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LockManager implements domain.LockManager using Redis SETNX with a TTL and
// Lua-based conditional unlock and refresh.
type LockManager struct {
	rdb       *redis.Client
	unlockSc  *redis.Script
	refreshSc *redis.Script

	mu     sync.Mutex
	tokens map[string]string // key -> token held by this process
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:       c.Underlying(),
		unlockSc:  redis.NewScript(unlockLua),
		refreshSc: redis.NewScript(refreshLua),
		tokens:    make(map[string]string),
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// Acquire attempts to obtain a distributed lock for the given key with the
// specified TTL. On success it returns an unlock function that must be called
// to release the lock. The unlock function is safe to call multiple times.
//
// It returns domain.ErrLockHeld if the lock is already held by another party.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	lk := lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, domain.ErrLockHeld)
	}

	lm.mu.Lock()
	lm.tokens[key] = token
	lm.mu.Unlock()

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			lm.mu.Lock()
			if lm.tokens[key] == token {
				delete(lm.tokens, key)
			}
			lm.mu.Unlock()

			// Background context: unlock must succeed after the caller's
			// context is cancelled.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlockSc.Run(unlockCtx, lm.rdb, []string{lk}, token).Err()
		})
	}

	return unlock, nil
}

// Refresh extends the TTL of a lock held by this process. It returns
// domain.ErrNotFound if the lock was never acquired here or has been lost.
func (lm *LockManager) Refresh(ctx context.Context, key string, ttl time.Duration) error {
	lm.mu.Lock()
	token, ok := lm.tokens[key]
	lm.mu.Unlock()
	if !ok {
		return fmt.Errorf("redis: refresh lock %s: %w", key, domain.ErrNotFound)
	}

	n, err := lm.refreshSc.Run(ctx, lm.rdb, []string{lockKey(key)}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("redis: refresh lock %s: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("redis: refresh lock %s: %w: lock lost", key, domain.ErrNotFound)
	}
	return nil
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
