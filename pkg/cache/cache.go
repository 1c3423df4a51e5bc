// Package cache provides a thread-safe, size-bounded LRU cache with optional
// per-entry expiry. Statistics are always collected; Prometheus export is
// opt-in through WithMetrics.
package cache

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/c360/sftpstreams/errors"
	"github.com/c360/sftpstreams/metric"
)

// EvictCallback is called when an entry leaves the cache because of size or expiry.
type EvictCallback[V any] func(key string, value V)

// Option configures a Cache.
type Option[V any] func(*Cache[V])

// WithTTL expires entries ttl after they were last written. Zero disables expiry.
func WithTTL[V any](ttl time.Duration) Option[V] {
	return func(c *Cache[V]) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock replaces the clock used for expiry.
func WithClock[V any](clock clockwork.Clock) Option[V] {
	return func(c *Cache[V]) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithEvictionCallback sets a callback invoked outside the lock for evicted entries.
func WithEvictionCallback[V any](fn EvictCallback[V]) Option[V] {
	return func(c *Cache[V]) {
		c.evictFn = fn
	}
}

// WithMetrics exports statistics under the given component label. A nil
// registry is ignored.
func WithMetrics[V any](registry *metric.MetricsRegistry, component string) Option[V] {
	return func(c *Cache[V]) {
		if registry != nil && component != "" {
			c.metricsReg = registry
			c.metricsName = component
		}
	}
}

type entry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

// Cache is an LRU cache keyed by string.
type Cache[V any] struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	clock   clockwork.Clock
	items   map[string]*list.Element
	order   *list.List
	evictFn EvictCallback[V]
	stats   *Statistics

	metricsReg  *metric.MetricsRegistry
	metricsName string
	metrics     *cacheMetrics
}

// New creates a cache holding at most maxSize entries. maxSize <= 0 means unbounded.
func New[V any](maxSize int, opts ...Option[V]) (*Cache[V], error) {
	c := &Cache[V]{
		maxSize: maxSize,
		clock:   clockwork.NewRealClock(),
		items:   make(map[string]*list.Element),
		order:   list.New(),
		stats:   NewStatistics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metricsReg != nil {
		m, err := newCacheMetrics(c.metricsReg, c.metricsName)
		if err != nil {
			return nil, errors.WrapTransient(err, "cache", "New", "metrics registration")
		}
		c.metrics = m
	}
	return c, nil
}

func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(fmt.Errorf("empty key"), "cache", "validateKey", "key validation")
	}
	return nil
}

// Get returns the value for key and marks it recently used.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	c.mu.Lock()
	el, ok := c.items[key]
	if ok && c.expired(el.Value.(*entry[V])) {
		evicted := c.removeLocked(el)
		c.mu.Unlock()
		c.notify(evicted)
		c.miss()
		return zero, false
	}
	if !ok {
		c.mu.Unlock()
		c.miss()
		return zero, false
	}
	c.order.MoveToFront(el)
	v := el.Value.(*entry[V]).value
	c.mu.Unlock()

	c.stats.Hit()
	if c.metrics != nil {
		c.metrics.hits.Inc()
	}
	return v, true
}

// Set stores value under key. It reports whether a new entry was created.
func (c *Cache[V]) Set(key string, value V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	created, evicted := c.setLocked(key, value)
	size := len(c.items)
	c.mu.Unlock()

	c.afterSet(size)
	c.notify(evicted...)
	return created, nil
}

// SetIfAbsent stores value only when key is missing or expired. It reports
// whether the value was stored.
func (c *Cache[V]) SetIfAbsent(key string, value V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	if el, ok := c.items[key]; ok && !c.expired(el.Value.(*entry[V])) {
		c.mu.Unlock()
		return false, nil
	}
	_, evicted := c.setLocked(key, value)
	size := len(c.items)
	c.mu.Unlock()

	c.afterSet(size)
	c.notify(evicted...)
	return true, nil
}

// Delete removes key and reports whether it was present.
func (c *Cache[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	c.mu.Lock()
	el, ok := c.items[key]
	if ok {
		c.order.Remove(el)
		delete(c.items, key)
	}
	size := len(c.items)
	c.mu.Unlock()

	if ok {
		c.stats.Delete()
		c.stats.UpdateSize(int64(size))
		if c.metrics != nil {
			c.metrics.size.Set(float64(size))
		}
	}
	return ok, nil
}

// Size returns the number of entries, expired ones included until touched.
func (c *Cache[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Keys returns the live keys from most to least recently used.
func (c *Cache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.items))
	for el := c.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry[V])
		if !c.expired(e) {
			keys = append(keys, e.key)
		}
	}
	return keys
}

// Stats returns the cache statistics
func (c *Cache[V]) Stats() *Statistics {
	return c.stats
}

// Clear drops every entry without invoking the eviction callback.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.mu.Unlock()
	c.stats.UpdateSize(0)
	if c.metrics != nil {
		c.metrics.size.Set(0)
	}
}

func (c *Cache[V]) setLocked(key string, value V) (bool, []*entry[V]) {
	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = c.clock.Now().Add(c.ttl)
	}

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[V])
		e.value = value
		e.expiresAt = expiresAt
		c.order.MoveToFront(el)
		return false, nil
	}

	c.items[key] = c.order.PushFront(&entry[V]{key: key, value: value, expiresAt: expiresAt})

	var evicted []*entry[V]
	for c.maxSize > 0 && len(c.items) > c.maxSize {
		evicted = append(evicted, c.removeLocked(c.order.Back()))
	}
	return true, evicted
}

func (c *Cache[V]) removeLocked(el *list.Element) *entry[V] {
	e := el.Value.(*entry[V])
	c.order.Remove(el)
	delete(c.items, e.key)
	return e
}

func (c *Cache[V]) expired(e *entry[V]) bool {
	return !e.expiresAt.IsZero() && !c.clock.Now().Before(e.expiresAt)
}

func (c *Cache[V]) miss() {
	c.stats.Miss()
	if c.metrics != nil {
		c.metrics.misses.Inc()
	}
}

func (c *Cache[V]) afterSet(size int) {
	c.stats.Set()
	c.stats.UpdateSize(int64(size))
	if c.metrics != nil {
		c.metrics.sets.Inc()
		c.metrics.size.Set(float64(size))
	}
}

func (c *Cache[V]) notify(evicted ...*entry[V]) {
	for _, e := range evicted {
		c.stats.Eviction()
		if c.metrics != nil {
			c.metrics.evictions.Inc()
		}
		if c.evictFn != nil {
			c.evictFn(e.key, e.value)
		}
	}
}
