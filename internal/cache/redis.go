// Package cache is the Redis layer: a namespaced JSON read cache and
// token-guarded locks shared by every GuideVault instance.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/voyagen/guidevault/internal/metrics"
)

// DefaultPrefix namespaces every key this package writes.
const DefaultPrefix = "guidevault:"

const scanBatch = 200

// Redis is a go-redis client whose keys all live under one prefix.
type Redis struct {
	client *redis.Client
	prefix string
}

// Option customises a Redis.
type Option func(*Redis)

// WithPrefix replaces DefaultPrefix. Tests use it to isolate runs.
func WithPrefix(prefix string) Option {
	return func(r *Redis) { r.prefix = prefix }
}

// New parses a Redis URL ("redis://host:6379/0"). It does not dial; call Ping.
func New(rawURL string, opts ...Option) (*Redis, error) {
	ropts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	r := &Redis{client: redis.NewClient(ropts), prefix: DefaultPrefix}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) key(k string) string { return r.prefix + k }

// IsMiss reports whether err means the key was absent.
func IsMiss(err error) bool {
	return errors.Is(err, redis.Nil)
}

// Get loads key and decodes its JSON value. A missing key returns an error
// for which IsMiss is true.
func Get[T any](ctx context.Context, r *Redis, key string) (T, error) {
	var v T
	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	switch {
	case IsMiss(err):
		metrics.CacheRequests.WithLabelValues("miss").Inc()
		return v, err
	case err != nil:
		metrics.CacheRequests.WithLabelValues("error").Inc()
		return v, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		metrics.CacheRequests.WithLabelValues("error").Inc()
		return v, fmt.Errorf("cache decode %s: %w", key, err)
	}
	metrics.CacheRequests.WithLabelValues("hit").Inc()
	return v, nil
}

// Set stores v as JSON under key for ttl.
func Set(ctx context.Context, r *Redis, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	return r.client.Set(ctx, r.key(key), data, ttl).Err()
}

// Del removes exact keys.
func Del(ctx context.Context, r *Redis, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}
	return r.client.Unlink(ctx, full...).Err()
}

// DelPattern removes every key matching a glob ("programs:12:*") and returns
// how many were unlinked. It walks the keyspace with SCAN.
func DelPattern(ctx context.Context, r *Redis, pattern string) (int64, error) {
	var removed int64
	iter := r.client.Scan(ctx, 0, r.key(pattern), scanBatch).Iterator()
	batch := make([]string, 0, scanBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := r.client.Unlink(ctx, batch...).Result()
		removed += n
		batch = batch[:0]
		return err
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := flush(); err != nil {
				return removed, fmt.Errorf("cache unlink %s: %w", pattern, err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("cache scan %s: %w", pattern, err)
	}
	if err := flush(); err != nil {
		return removed, fmt.Errorf("cache unlink %s: %w", pattern, err)
	}
	return removed, nil
}
