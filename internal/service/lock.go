package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/voyagen/guidevault/internal/cache"
	"github.com/voyagen/guidevault/internal/logging"
)

// Locker guards a named critical section. TryLock returns cache.ErrLocked
// when the key is already held.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// LocalLocker is an in-process Locker.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalLocker returns an empty LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

// TryLock ignores ttl; the lock lives until unlock is called.
func (l *LocalLocker) TryLock(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, cache.ErrLocked
	}
	l.held[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}

// RedisLocker takes locks in Redis so imports are exclusive across
// instances. While a lock is held it is refreshed every ttl/3, so an import
// that outlives ttl keeps its lock and a crashed holder's lock still expires.
type RedisLocker struct {
	r   *cache.Redis
	log zerolog.Logger
}

// NewRedisLocker returns a Locker backed by r.
func NewRedisLocker(r *cache.Redis) *RedisLocker {
	return &RedisLocker{r: r, log: logging.Component("lock")}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	lock, err := cache.Acquire(ctx, l.r, key, ttl)
	if err != nil {
		return nil, err
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(max(ttl/3, time.Second))
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				if err := lock.Refresh(context.Background()); err != nil {
					l.log.Warn().Err(err).Str("key", key).Msg("lock refresh failed")
					if errors.Is(err, cache.ErrLockLost) {
						return
					}
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			if err := lock.Release(); err != nil {
				l.log.Warn().Err(err).Str("key", key).Msg("lock release")
			}
		})
	}, nil
}
