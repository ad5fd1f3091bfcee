// Package storage holds the pieces shared by every task backend.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"prism-gtd/domain"
)

// SettingsCache is a read-through Redis cache in front of a settings store.
// Tasks never go through it; views always read the task store.
type SettingsCache struct {
	base  domain.SettingsStore
	redis redis.Cmdable
	ttl   time.Duration
}

// NewSettingsCache wraps base. A nil client or a zero ttl disables caching.
func NewSettingsCache(base domain.SettingsStore, client *redis.Client, ttl time.Duration) *SettingsCache {
	if base == nil {
		panic("storage.NewSettingsCache: base store is nil")
	}
	c := &SettingsCache{base: base, ttl: max(ttl, 0)}
	if client != nil {
		c.redis = client
	}
	return c
}

func (c *SettingsCache) GetSettings(ctx context.Context, ownerID string) (domain.Settings, error) {
	key := settingsCacheKey(ownerID)
	if st, ok := c.cached(ctx, key); ok {
		return st, nil
	}
	st, err := c.base.GetSettings(ctx, ownerID)
	if err != nil {
		return domain.Settings{}, err
	}
	if c.redis != nil && c.ttl > 0 {
		if data, merr := sonic.Marshal(st); merr == nil {
			c.redis.Set(ctx, key, data, c.ttl)
		}
	}
	return st, nil
}

// SaveSettings writes through and drops the cached copy. A failed write
// leaves the cache untouched.
func (c *SettingsCache) SaveSettings(ctx context.Context, ownerID string, st domain.Settings) error {
	if err := c.base.SaveSettings(ctx, ownerID, st); err != nil {
		return err
	}
	c.drop(ctx, settingsCacheKey(ownerID))
	return nil
}

func (c *SettingsCache) cached(ctx context.Context, key string) (domain.Settings, bool) {
	if c.redis == nil {
		return domain.Settings{}, false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return domain.Settings{}, false
	case err != nil:
		log.WithError(err).WithField("key", key).Debug("settings cache read failed")
		c.drop(ctx, key)
		return domain.Settings{}, false
	}
	var st domain.Settings
	if err := sonic.Unmarshal(data, &st); err != nil {
		c.drop(ctx, key)
		return domain.Settings{}, false
	}
	return st, true
}

func (c *SettingsCache) drop(ctx context.Context, key string) {
	if c.redis != nil {
		c.redis.Del(ctx, key)
	}
}

func settingsCacheKey(ownerID string) string {
	return "settings:" + ownerID
}
