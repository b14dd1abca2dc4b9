package services

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bobby-s-dev/airquality-harvester/internal/models"
)

type CacheItem struct {
	Entity    *models.Entity
	StoredAt  time.Time
	ExpiresAt time.Time
}

// ObservationCache keeps the latest synthesized observation per station for
// the status API. It is read-only state for inspection; nothing is ever
// replayed from it.
type ObservationCache struct {
	mu              sync.RWMutex
	latest          map[string]CacheItem
	logger          *zap.Logger
	defaultDuration time.Duration
	maxSize         int
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	now             func() time.Time
}

func NewObservationCache(defaultDuration time.Duration, maxSize int, logger *zap.Logger) *ObservationCache {
	cache := newObservationCache(defaultDuration, maxSize, logger, time.Now)
	go cache.startCleanup()
	return cache
}

func newObservationCache(defaultDuration time.Duration, maxSize int, logger *zap.Logger, now func() time.Time) *ObservationCache {
	return &ObservationCache{
		latest:          make(map[string]CacheItem),
		logger:          logger,
		defaultDuration: defaultDuration,
		maxSize:         maxSize,
		cleanupInterval: time.Minute,
		stopCleanup:     make(chan struct{}),
		now:             now,
	}
}

func (c *ObservationCache) Set(station string, entity *models.Entity) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.latest[station]; !exists && c.maxSize > 0 && len(c.latest) >= c.maxSize {
		c.evictOldest()
	}

	now := c.now()
	c.latest[station] = CacheItem{
		Entity:    entity.Clone(),
		StoredAt:  now,
		ExpiresAt: now.Add(c.defaultDuration),
	}

	c.logger.Debug("Latest observation cached",
		zap.String("station", station),
		zap.Time("expires_at", now.Add(c.defaultDuration)))
}

func (c *ObservationCache) Get(station string) (*models.Entity, bool) {
	c.mu.RLock()
	item, exists := c.latest[station]
	c.mu.RUnlock()

	if !exists {
		return nil, false
	}

	if c.now().After(item.ExpiresAt) {
		c.mu.Lock()
		defer c.mu.Unlock()

		// A Set may have landed between the two locks.
		current, ok := c.latest[station]
		if !ok {
			return nil, false
		}
		if c.now().After(current.ExpiresAt) {
			delete(c.latest, station)
			return nil, false
		}
		return current.Entity.Clone(), true
	}

	return item.Entity.Clone(), true
}

// Lookup finds a station by full feed key or by its trailing point code.
func (c *ObservationCache) Lookup(code string) (*models.Entity, bool) {
	if e, ok := c.Get(code); ok {
		return e, true
	}

	c.mu.RLock()
	var match string
	for key := range c.latest {
		if matchesPointCode(key, code) {
			match = key
			break
		}
	}
	c.mu.RUnlock()

	if match == "" {
		return nil, false
	}
	return c.Get(match)
}

// Stations returns the cached station keys in order.
func (c *ObservationCache) Stations() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	keys := make([]string, 0, len(c.latest))
	for key, item := range c.latest {
		if !now.After(item.ExpiresAt) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

func (c *ObservationCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, item := range c.latest {
		if oldestKey == "" || item.ExpiresAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = item.ExpiresAt
		}
	}

	if oldestKey != "" {
		delete(c.latest, oldestKey)
		c.logger.Debug("Evicted oldest observation from cache",
			zap.String("station", oldestKey))
	}
}

func (c *ObservationCache) startCleanup() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopCleanup:
			return
		}
	}
}

func (c *ObservationCache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	expiredCount := 0

	for station, item := range c.latest {
		if now.After(item.ExpiresAt) {
			delete(c.latest, station)
			expiredCount++
		}
	}

	if expiredCount > 0 {
		c.logger.Debug("Cleaned expired cache items",
			zap.Int("count", expiredCount))
	}
}

func (c *ObservationCache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCleanup) })
}

func (c *ObservationCache) GetStats() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return map[string]interface{}{
		"latest_items":     len(c.latest),
		"max_size":         c.maxSize,
		"default_duration": c.defaultDuration.String(),
	}
}
