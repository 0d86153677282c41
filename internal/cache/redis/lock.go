package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/proptoken/internal/domain"
)

// releaseLock deletes KEYS[1] only while it still holds the caller's token, so
// a holder whose lock expired cannot release its successor's.
var releaseLock = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// refreshLock extends KEYS[1] by ARGV[2] milliseconds only while it still
// holds the caller's token.
var refreshLock = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// releaseTimeout bounds the release call, which runs on a fresh context.
const releaseTimeout = 5 * time.Second

// LockManager implements domain.LockManager with SET NX PX and token-checked
// refresh and release. Issuance takes "lock:property:<id>" so two replicas
// never mint two assets for one property.
type LockManager struct {
	c *Client
}

// NewLockManager creates a LockManager on c.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{c: c}
}

// Acquire takes the lock for key until ttl elapses or the lease is released.
// A held lock yields an error wrapping domain.ErrLockHeld.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (domain.Lease, error) {
	name := lm.c.key("lock:" + key)
	token := uuid.NewString()

	ok, err := lm.c.rdb.SetNX(ctx, name, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, domain.ErrLockHeld)
	}
	return &lease{lm: lm, key: key, name: name, token: token}, nil
}

type lease struct {
	lm    *LockManager
	key   string
	name  string
	token string
	once  sync.Once
}

// Refresh resets the lease expiry to ttl from now.
func (l *lease) Refresh(ctx context.Context, ttl time.Duration) error {
	n, err := refreshLock.Run(ctx, l.lm.c.rdb, []string{l.name}, l.token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("redis: refresh lock %s: %w", l.key, err)
	}
	if n == 0 {
		return fmt.Errorf("redis: refresh lock %s: %w", l.key, domain.ErrLockLost)
	}
	return nil
}

// Release drops the lock if this lease still holds it.
func (l *lease) Release() {
	l.once.Do(func() {
		rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		_ = releaseLock.Run(rctx, l.lm.c.rdb, []string{l.name}, l.token).Err()
	})
}

var _ domain.LockManager = (*LockManager)(nil)
