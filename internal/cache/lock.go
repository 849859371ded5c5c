package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/voyagen/guidevault/internal/metrics"
)

var (
	// ErrLocked is returned by Acquire when another holder owns the lock.
	ErrLocked = errors.New("lock is already held")
	// ErrLockLost means the key expired or was taken over before Refresh or Release.
	ErrLockLost = errors.New("lock lost")
)

var (
	releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

	refreshScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)
)

// Lock is a held SET NX lock. Only the holder's token can extend or release it.
type Lock struct {
	r     *Redis
	key   string
	token string
	ttl   time.Duration
}

func lockKey(name string) string { return "lock:" + name }

// Acquire takes the lock called name for ttl, or returns ErrLocked.
func Acquire(ctx context.Context, r *Redis, name string, ttl time.Duration) (*Lock, error) {
	l := &Lock{r: r, key: r.key(lockKey(name)), token: uuid.NewString(), ttl: ttl}
	ok, err := r.client.SetNX(ctx, l.key, l.token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("cache lock %s: %w", name, err)
	}
	if !ok {
		metrics.LockEvents.WithLabelValues("contended").Inc()
		return nil, ErrLocked
	}
	metrics.LockEvents.WithLabelValues("acquired").Inc()
	return l, nil
}

// Refresh pushes the expiry back to a full ttl from now.
func (l *Lock) Refresh(ctx context.Context) error {
	n, err := refreshScript.Run(ctx, l.r.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("cache lock refresh: %w", err)
	}
	if n == 0 {
		metrics.LockEvents.WithLabelValues("lost").Inc()
		return ErrLockLost
	}
	return nil
}

// Release deletes the key if this Lock still owns it. It uses its own
// context so a cancelled caller still frees the lock.
func (l *Lock) Release() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	n, err := releaseScript.Run(ctx, l.r.client, []string{l.key}, l.token).Int64()
	if err != nil {
		return fmt.Errorf("cache lock release: %w", err)
	}
	if n == 0 {
		metrics.LockEvents.WithLabelValues("lost").Inc()
		return ErrLockLost
	}
	metrics.LockEvents.WithLabelValues("released").Inc()
	return nil
}
