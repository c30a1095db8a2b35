package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
)

// DefaultTTL is how long a tool result stays fresh.
const DefaultTTL = 120 * time.Second

// TTLCache memoizes tool results by tool name and arguments.
// Expired entries are dropped by the read that finds them.
type TTLCache struct {
	mu    sync.Mutex
	store map[string]cacheItem
	ttl   time.Duration

	now    func() time.Time
	logger *slog.Logger
}

type cacheItem struct {
	value      interface{}
	insertedAt time.Time
}

// Option configures a TTLCache.
type Option func(*TTLCache)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *TTLCache) {
		c.now = now
	}
}

// WithLogger sets the logger used for debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(c *TTLCache) {
		c.logger = logger
	}
}

// NewTTLCache creates a cache whose entries live for ttl.
// A non-positive ttl falls back to DefaultTTL.
func NewTTLCache(ttl time.Duration, opts ...Option) *TTLCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &TTLCache{
		store:  make(map[string]cacheItem),
		ttl:    ttl,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key builds the cache key for a tool invocation. encoding/json sorts map
// keys at every depth, so argument order never changes the key.
func Key(name string, args map[string]interface{}) string {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%s:%v", name, args)
	}
	return name + ":" + string(raw)
}

// Get returns the cached result for name and args if it is still fresh.
func (c *TTLCache) Get(ctx context.Context, name string, args map[string]interface{}) (interface{}, bool) {
	value, err := c.Lookup(ctx, Key(name, args))
	if err != nil {
		return nil, false
	}
	return value, true
}

// Set stores value for name and args, replacing any previous entry.
func (c *TTLCache) Set(ctx context.Context, name string, args map[string]interface{}, value interface{}) {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return
	}
	key := Key(name, args)

	c.mu.Lock()
	c.store[key] = cacheItem{value: value, insertedAt: c.now()}
	c.mu.Unlock()

	c.logger.Debug("cache item set", "key", key)
}

// Lookup is Get keyed directly by a Key value. It returns a not-found error
// for missing and expired entries.
func (c *TTLCache) Lookup(ctx context.Context, key string) (interface{}, error) {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	item, found := c.store[key]
	if !found {
		return nil, errbuilder.NotFoundErr(errbuilder.GenericErr("cache item not found", nil))
	}

	if c.now().Sub(item.insertedAt) > c.ttl {
		delete(c.store, key)
		c.logger.Debug("cache item expired", "key", key)
		return nil, errbuilder.NotFoundErr(errbuilder.GenericErr("cache item expired", nil))
	}

	return item.value, nil
}

// Len reports how many entries are stored, expired ones included.
func (c *TTLCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.store)
}
