package store

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/voyagen/guidevault/internal/cache"
	"github.com/voyagen/guidevault/internal/logging"
	"github.com/voyagen/guidevault/internal/models"
)

// Cache TTLs for different entity types.
const (
	ttlProviders = 2 * time.Minute
	ttlProvider  = 5 * time.Minute
	ttlChannels  = 1 * time.Minute
	ttlChannel   = 5 * time.Minute
	ttlPrograms  = 2 * time.Minute
	ttlStats     = 30 * time.Second
)

// CachedStore wraps a Store with a Redis read cache. Methods it does not
// override go straight to the wrapped Store; writes invalidate the keys they
// can affect.
type CachedStore struct {
	Store
	cache *cache.Redis
	log   zerolog.Logger
}

// NewCachedStore creates a CachedStore that wraps inner with Redis caching.
func NewCachedStore(inner Store, c *cache.Redis) *CachedStore {
	return &CachedStore{Store: inner, cache: c, log: logging.Component("cache")}
}

// cached serves key from Redis, falling back to load and populating the key.
func cached[T any](ctx context.Context, c *CachedStore, key string, ttl time.Duration, load func() (T, error)) (T, error) {
	if v, err := cache.Get[T](ctx, c.cache, key); err == nil {
		return v, nil
	} else if !cache.IsMiss(err) {
		c.log.Debug().Err(err).Str("key", key).Msg("cache get")
	}
	v, err := load()
	if err != nil {
		return v, err
	}
	if err := cache.Set(ctx, c.cache, key, v, ttl); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache set")
	}
	return v, nil
}

// --- cached reads ---

func (c *CachedStore) ListProviders(ctx context.Context, enabledOnly bool) ([]models.Provider, error) {
	key := "providers:all"
	if enabledOnly {
		key = "providers:enabled"
	}
	return cached(ctx, c, key, ttlProviders, func() ([]models.Provider, error) {
		return c.Store.ListProviders(ctx, enabledOnly)
	})
}

func (c *CachedStore) GetProvider(ctx context.Context, providerID int64) (*models.Provider, error) {
	return cached(ctx, c, fmt.Sprintf("provider:%d", providerID), ttlProvider, func() (*models.Provider, error) {
		return c.Store.GetProvider(ctx, providerID)
	})
}

func (c *CachedStore) ListChannels(ctx context.Context) ([]models.Channel, error) {
	return cached(ctx, c, "channels:all", ttlChannels, func() ([]models.Channel, error) {
		return c.Store.ListChannels(ctx)
	})
}

func (c *CachedStore) GetChannelByID(ctx context.Context, channelID int64) (*models.Channel, error) {
	return cached(ctx, c, fmt.Sprintf("channel:%d", channelID), ttlChannel, func() (*models.Channel, error) {
		return c.Store.GetChannelByID(ctx, channelID)
	})
}

func (c *CachedStore) ListPrograms(ctx context.Context, channelID int64, start, end time.Time) ([]models.Program, error) {
	key := fmt.Sprintf("programs:%d:%s", channelID, windowHash(start, end))
	return cached(ctx, c, key, ttlPrograms, func() ([]models.Program, error) {
		return c.Store.ListPrograms(ctx, channelID, start, end)
	})
}

func (c *CachedStore) Statistics(ctx context.Context) (*models.Statistics, error) {
	return cached(ctx, c, "stats:guide", ttlStats, func() (*models.Statistics, error) {
		return c.Store.Statistics(ctx)
	})
}

func (c *CachedStore) AliasStatistics(ctx context.Context) (*models.AliasStatistics, error) {
	return cached(ctx, c, "stats:aliases", ttlStats, func() (*models.AliasStatistics, error) {
		return c.Store.AliasStatistics(ctx)
	})
}

// --- write-through operations (invalidate cache) ---

func (c *CachedStore) CreateProvider(ctx context.Context, name, xmltvURL string) (*models.Provider, error) {
	pr, err := c.Store.CreateProvider(ctx, name, xmltvURL)
	if err != nil {
		return nil, err
	}
	c.invalidatePattern(ctx, "providers:*")
	c.invalidate(ctx, "stats:guide")
	return pr, nil
}

func (c *CachedStore) UpdateProvider(ctx context.Context, providerID int64, fields ProviderUpdate) error {
	if err := c.Store.UpdateProvider(ctx, providerID, fields); err != nil {
		return err
	}
	c.invalidate(ctx, fmt.Sprintf("provider:%d", providerID))
	c.invalidatePattern(ctx, "providers:*")
	return nil
}

func (c *CachedStore) DeleteProvider(ctx context.Context, providerID int64) error {
	if err := c.Store.DeleteProvider(ctx, providerID); err != nil {
		return err
	}
	c.invalidate(ctx, fmt.Sprintf("provider:%d", providerID), "stats:guide")
	c.invalidatePattern(ctx, "providers:*", "programs:*")
	return nil
}

func (c *CachedStore) CreateChannel(ctx context.Context, name, displayName string, iconURL *string) (*models.Channel, error) {
	ch, err := c.Store.CreateChannel(ctx, name, displayName, iconURL)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, "channels:all", "stats:guide", "stats:aliases")
	return ch, nil
}

func (c *CachedStore) CreateAlias(ctx context.Context, channelID int64, alias string, aliasType *string) (*models.ChannelAlias, error) {
	a, err := c.Store.CreateAlias(ctx, channelID, alias, aliasType)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, "stats:guide", "stats:aliases")
	return a, nil
}

func (c *CachedStore) DeleteAlias(ctx context.Context, aliasID int64) (bool, error) {
	ok, err := c.Store.DeleteAlias(ctx, aliasID)
	if err != nil || !ok {
		return ok, err
	}
	c.invalidate(ctx, "stats:guide", "stats:aliases")
	return true, nil
}

func (c *CachedStore) UpsertPrograms(ctx context.Context, programs []models.Program) (UpsertResult, error) {
	res, err := c.Store.UpsertPrograms(ctx, programs)
	if err != nil {
		return res, err
	}
	if res.Inserted+res.Updated > 0 {
		ids := lo.Uniq(lo.Map(programs, func(p models.Program, _ int) int64 { return p.ChannelID }))
		c.invalidatePrograms(ctx, ids...)
	}
	return res, nil
}

func (c *CachedStore) UpsertProgram(ctx context.Context, p *models.Program) error {
	if err := c.Store.UpsertProgram(ctx, p); err != nil {
		return err
	}
	c.invalidatePrograms(ctx, p.ChannelID)
	return nil
}

func (c *CachedStore) FinishImportLog(ctx context.Context, logID int64, outcome ImportOutcome) error {
	if err := c.Store.FinishImportLog(ctx, logID, outcome); err != nil {
		return err
	}
	c.invalidate(ctx, "stats:guide")
	return nil
}

func (c *CachedStore) TrimImportLogs(ctx context.Context, keep int) (int64, error) {
	n, err := c.Store.TrimImportLogs(ctx, keep)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		c.invalidate(ctx, "stats:guide")
	}
	return n, nil
}

func (c *CachedStore) DeleteProgramsOutside(ctx context.Context, from, to time.Time) (int64, error) {
	n, err := c.Store.DeleteProgramsOutside(ctx, from, to)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		c.invalidatePrograms(ctx)
	}
	return n, nil
}

func (c *CachedStore) DeletePrograms(ctx context.Context, ids []int64) (int64, error) {
	n, err := c.Store.DeletePrograms(ctx, ids)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		c.invalidatePrograms(ctx)
	}
	return n, nil
}

func (c *CachedStore) DeleteExactDuplicates(ctx context.Context) (int64, int64, error) {
	groups, removed, err := c.Store.DeleteExactDuplicates(ctx)
	if err != nil {
		return 0, 0, err
	}
	if removed > 0 {
		c.invalidatePrograms(ctx)
	}
	return groups, removed, nil
}

// --- helpers ---

// invalidatePrograms drops programme windows for the given channels, or all
// windows when none are given, plus the guide statistics.
func (c *CachedStore) invalidatePrograms(ctx context.Context, channelIDs ...int64) {
	c.invalidate(ctx, "stats:guide")
	if len(channelIDs) == 0 {
		c.invalidatePattern(ctx, "programs:*")
		return
	}
	for _, id := range channelIDs {
		c.invalidatePattern(ctx, fmt.Sprintf("programs:%d:*", id))
	}
}

func (c *CachedStore) invalidate(ctx context.Context, keys ...string) {
	if err := cache.Del(ctx, c.cache, keys...); err != nil {
		c.log.Warn().Err(err).Strs("keys", keys).Msg("cache invalidate")
	}
}

func (c *CachedStore) invalidatePattern(ctx context.Context, patterns ...string) {
	for _, p := range patterns {
		if _, err := cache.DelPattern(ctx, c.cache, p); err != nil {
			c.log.Warn().Err(err).Str("pattern", p).Msg("cache invalidate pattern")
		}
	}
}

// windowHash produces a short deterministic key for a query window.
func windowHash(start, end time.Time) string {
	h := sha256.Sum256([]byte(start.UTC().Format(time.RFC3339) + "|" + end.UTC().Format(time.RFC3339)))
	return fmt.Sprintf("%x", h[:8])
}
