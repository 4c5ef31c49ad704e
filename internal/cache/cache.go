package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/narrator/internal/observability"
	"github.com/lexiqai/narrator/internal/resilience"
)

// Cache is the advisory audio cache in front of the synthesis backend.
// Store failures are logged and reported as misses; they never reach the caller.
type Cache struct {
	store     Store
	reconnect *resilience.ReconnectConfig
	logger    zerolog.Logger

	connectMu sync.Mutex
	mu        sync.RWMutex
	connected bool
}

// Option configures a Cache
type Option func(*Cache)

// WithReconnect sets the backoff used by Connect
func WithReconnect(cfg *resilience.ReconnectConfig) Option {
	return func(c *Cache) { c.reconnect = cfg }
}

// WithLogger overrides the component logger
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// New wraps a store. Call Connect before use.
func New(store Store, opts ...Option) *Cache {
	c := &Cache{
		store: store,
		reconnect: &resilience.ReconnectConfig{
			MaxAttempts: 3,
			Backoff:     500 * time.Millisecond,
			Multiplier:  2.0,
			MaxBackoff:  5 * time.Second,
		},
		logger: observability.Component("cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect verifies the store is reachable, retrying with backoff.
// Calling Connect on a connected cache is a no-op.
func (c *Cache) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	if c.IsConnected() {
		return nil
	}

	err := resilience.Reconnect(ctx, "cache", func(ctx context.Context) error {
		return c.store.Ping(ctx)
	}, c.reconnect)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	c.logger.Info().Msg("Cache connected")
	return nil
}

// IsConnected reports whether Connect has succeeded
func (c *Cache) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Ping checks the store, for readiness probes
func (c *Cache) Ping(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return c.store.Ping(ctx)
}

// Get returns cached audio for key. Any failure is a miss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if !c.IsConnected() {
		observability.RecordCacheLookup("miss")
		return nil, false
	}

	data, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn().Err(err).Str("cache_key", key).Msg("Cache read failed")
		observability.RecordCacheLookup("error")
		return nil, false
	}
	if !ok {
		c.logger.Debug().Str("cache_key", key).Msg("Cache miss")
		observability.RecordCacheLookup("miss")
		return nil, false
	}

	c.logger.Debug().Str("cache_key", key).Int("bytes", len(data)).Msg("Cache hit")
	observability.RecordCacheLookup("hit")
	return data, true
}

// Set stores audio under key for ttl. Best effort.
func (c *Cache) Set(ctx context.Context, key string, audio []byte, ttl time.Duration) {
	if !c.IsConnected() || len(audio) == 0 {
		return
	}

	if err := c.store.Set(ctx, key, audio, ttl); err != nil {
		c.logger.Warn().Err(err).Str("cache_key", key).Msg("Cache write failed")
		observability.RecordCacheWrite(false)
		return
	}
	observability.RecordCacheWrite(true)
}

// Close releases the store
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = false
	return c.store.Close()
}
