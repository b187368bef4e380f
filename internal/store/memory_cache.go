package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/beamline/botfleet/internal/model"
)

// InMemoryConfigCache caches bot configs in a TTL'd map keyed by bot
// ID. The config service writes every entry with the same TTL, so the
// entry closest to expiry is also the least recently written one; at
// capacity that entry is evicted first.
type InMemoryConfigCache struct {
	entries map[string]*cachedConfig
	mu      sync.RWMutex
	maxSize int
	logger  *zap.Logger

	now func() time.Time
}

type cachedConfig struct {
	cfg       *model.BotConfig
	expiresAt time.Time
}

// NewInMemoryCache creates a bot config cache bounded to maxSize entries
func NewInMemoryCache(maxSize int, logger *zap.Logger) *InMemoryConfigCache {
	cache := &InMemoryConfigCache{
		entries: make(map[string]*cachedConfig),
		maxSize: maxSize,
		logger:  logger,
		now:     time.Now,
	}

	// Start cleanup goroutine
	go cache.cleanup()

	return cache
}

// Get returns the cached config of a bot. A bot that was never cached
// or whose entry expired yields ErrNotFound.
func (c *InMemoryConfigCache) Get(ctx context.Context, botID string) (*model.BotConfig, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[botID]
	if !exists {
		return nil, ErrNotFound
	}
	if c.now().After(entry.expiresAt) {
		return nil, ErrNotFound
	}

	return entry.cfg, nil
}

// Set caches a bot config for ttl, overwriting any previous entry for
// the same bot.
func (c *InMemoryConfigCache) Set(ctx context.Context, botID string, cfg *model.BotConfig, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[botID]; !exists && len(c.entries) >= c.maxSize {
		c.evictClosestToExpiry()
	}

	c.entries[botID] = &cachedConfig{
		cfg:       cfg,
		expiresAt: c.now().Add(ttl),
	}

	return nil
}

// Delete drops a bot's cached config
func (c *InMemoryConfigCache) Delete(ctx context.Context, botID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, botID)
	return nil
}

// evictClosestToExpiry removes the entry with the earliest deadline.
// Caller holds the write lock.
func (c *InMemoryConfigCache) evictClosestToExpiry() {
	var victim string
	var deadline time.Time
	for botID, entry := range c.entries {
		if victim == "" || entry.expiresAt.Before(deadline) {
			victim = botID
			deadline = entry.expiresAt
		}
	}
	if victim != "" {
		c.logger.Debug("Evicting cached bot config", zap.String("bot_id", victim))
		delete(c.entries, victim)
	}
}

// cleanup periodically removes expired entries
func (c *InMemoryConfigCache) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		now := c.now()
		for botID, entry := range c.entries {
			if now.After(entry.expiresAt) {
				delete(c.entries, botID)
			}
		}
		c.mu.Unlock()
	}
}
