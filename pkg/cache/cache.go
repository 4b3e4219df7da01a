// Package cache stores serialized report payloads keyed by endpoint and
// canonical parameters.
//
// Expiry is lazy: an entry is a miss once now >= stored_at + ttl and is
// removed on that read. Put always overwrites.
//
// There is no single-flight. Two concurrent misses for the same key both run
// the query and both write; the later write wins. Reports are read-only so
// the cost is one duplicate warehouse execution.
package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/dashboard-gateway/pkg/logging"
	"github.com/ekaya-inc/dashboard-gateway/pkg/models"
)

// Clock supplies the current time. Tests inject a fake.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Entry is one stored payload.
type Entry struct {
	Value    []byte        `json:"value"`
	StoredAt time.Time     `json:"stored_at"`
	TTL      time.Duration `json:"ttl"`
}

// Expired reports whether the entry is past its lifetime at now.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.StoredAt.Add(e.TTL))
}

// Store is a key/value backend for entries.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, e Entry) error
	Delete(ctx context.Context, key string) error
}

// DeriveKey builds the cache key for an endpoint invocation. Sets that
// differ only in key order or value spelling produce the same key.
func DeriveKey(endpoint string, params models.ParameterSet) string {
	return endpoint + "?" + params.Canonical()
}

// ResultCache applies TTL semantics on top of a Store.
type ResultCache struct {
	store  Store
	clock  Clock
	logger *zap.Logger
}

func NewResultCache(store Store, clock Clock, logger *zap.Logger) *ResultCache {
	if clock == nil {
		clock = SystemClock{}
	}
	return &ResultCache{store: store, clock: clock, logger: logger.Named("cache")}
}

// Get returns the payload for key when present and unexpired. Backend errors
// are logged and reported as a miss.
func (c *ResultCache) Get(ctx context.Context, key string) ([]byte, bool) {
	e, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("Cache read failed, treating as miss",
			zap.String("key", key),
			zap.String("error", logging.SanitizeError(err)))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	if e.Expired(c.clock.Now()) {
		if err := c.store.Delete(ctx, key); err != nil {
			c.logger.Debug("Failed to delete expired entry", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	return e.Value, true
}

// Put stores value under key, replacing any existing entry.
func (c *ResultCache) Put(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	e := Entry{Value: value, StoredAt: c.clock.Now(), TTL: ttl}
	if err := c.store.Set(ctx, key, e); err != nil {
		c.logger.Warn("Cache write failed",
			zap.String("key", key),
			zap.String("error", logging.SanitizeError(err)))
	}
}

// Invalidate removes key.
func (c *ResultCache) Invalidate(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}
