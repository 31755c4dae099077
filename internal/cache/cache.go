// Package cache implements a generic TTL cache with write-back
// semantics: mutations stay in memory until an entry's TTL fires, at
// which point the backup hook is the only path to durable storage.
package cache

import (
	"sync"
	"time"
)

// KeepForever disables auto-eviction for an entry.
const KeepForever time.Duration = -1

// DefaultTTL selects the cache's configured default TTL.
const DefaultTTL time.Duration = 0

// Options configures a Cache. Resolver loads a missing key on Get;
// Backuper flushes an evicted value to durable storage. Both are
// optional.
type Options[V any] struct {
	// Prefix namespaces keys so unrelated caches cannot collide.
	Prefix   string
	TTL      time.Duration
	Resolver func(key string) (V, error)
	Backuper func(key string, value V)
}

type entry[V any] struct {
	value V
	timer *time.Timer
}

// Cache is a key/value store with per-entry TTL. Callers must not
// assume a Set is durable: durability happens on eviction, through the
// Backuper.
type Cache[V any] struct {
	mu      sync.Mutex
	opts    Options[V]
	entries map[string]*entry[V]
}

func New[V any](opts Options[V]) *Cache[V] {
	return &Cache[V]{
		opts:    opts,
		entries: make(map[string]*entry[V]),
	}
}

func (c *Cache[V]) namespaced(key string) string {
	if c.opts.Prefix == "" {
		return key
	}
	return c.opts.Prefix + "/" + key
}

// Set stores value under key and (re)arms the eviction timer. A
// pending timer for the key is cancelled first. ttl may be an explicit
// duration, DefaultTTL for the configured default, or KeepForever to
// pin the entry.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	nk := c.namespaced(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.entries[nk]; ok && prev.timer != nil {
		prev.timer.Stop()
	}

	e := &entry[V]{value: value}
	c.entries[nk] = e
	c.arm(key, e, ttl)
}

// Get returns the live value for key. On a miss it invokes the
// resolver, caches the result and returns it; if there is no resolver
// the second return is false. An optional ttl overrides the configured
// default for this entry, re-arming the eviction timer on a hit as
// well; it accepts the same KeepForever/DefaultTTL sentinels as Set.
func (c *Cache[V]) Get(key string, ttl ...time.Duration) (V, bool, error) {
	nk := c.namespaced(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[nk]; ok {
		if len(ttl) > 0 {
			c.arm(key, e, ttl[0])
		}
		return e.value, true, nil
	}

	if c.opts.Resolver == nil {
		var zero V
		return zero, false, nil
	}

	value, err := c.opts.Resolver(key)
	if err != nil {
		var zero V
		return zero, false, err
	}

	e := &entry[V]{value: value}
	c.entries[nk] = e
	d := time.Duration(DefaultTTL)
	if len(ttl) > 0 {
		d = ttl[0]
	}
	c.arm(key, e, d)
	return value, true, nil
}

// arm (re)installs the eviction timer for e. Callers hold c.mu.
func (c *Cache[V]) arm(key string, e *entry[V], ttl time.Duration) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if ttl == DefaultTTL {
		ttl = c.opts.TTL
	}
	if ttl > 0 {
		e.timer = time.AfterFunc(ttl, func() { c.evict(key, e) })
	}
}

// Invalidate drops key without invoking the backup hook. Used when the
// cached value is known stale rather than dirty.
func (c *Cache[V]) Invalidate(key string) {
	nk := c.namespaced(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[nk]; ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(c.entries, nk)
	}
}

// Flush evicts every entry immediately, invoking the backup hook for
// each. Used on shutdown so dirty state reaches durable storage.
func (c *Cache[V]) Flush() {
	c.mu.Lock()
	flushed := make(map[string]V, len(c.entries))
	for nk, e := range c.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		key := nk
		if c.opts.Prefix != "" {
			key = nk[len(c.opts.Prefix)+1:]
		}
		flushed[key] = e.value
	}
	c.entries = make(map[string]*entry[V])
	c.mu.Unlock()

	if c.opts.Backuper == nil {
		return
	}
	for key, value := range flushed {
		c.opts.Backuper(key, value)
	}
}

// evict runs when an entry's timer fires. The entry identity check
// keeps a stale timer from evicting a value written after it was
// armed.
func (c *Cache[V]) evict(key string, e *entry[V]) {
	nk := c.namespaced(key)

	c.mu.Lock()
	current, ok := c.entries[nk]
	if !ok || current != e {
		c.mu.Unlock()
		return
	}
	delete(c.entries, nk)
	c.mu.Unlock()

	if c.opts.Backuper != nil {
		c.opts.Backuper(key, e.value)
	}
}
