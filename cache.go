package failz

import (
	"context"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

const (
	CacheHitsTotal   = metricz.Key("cache.hits.total")
	CacheMissesTotal = metricz.Key("cache.misses.total")
	CacheSetsTotal   = metricz.Key("cache.sets.total")
	CacheFaultsTotal = metricz.Key("cache.faults.total")
)

const (
	CacheSpan = tracez.Key("cache.execute")

	CacheTagName = tracez.Tag("name")
	CacheTagHit  = tracez.Tag("hit")
)

const (
	CacheEventHit  = hookz.Key("cache.hit")
	CacheEventMiss = hookz.Key("cache.miss")
	CacheEventSet  = hookz.Key("cache.set")
)

// CacheEvent reports a cache-aside lookup or write.
type CacheEvent struct {
	Name      Name
	Key       string
	Timestamp time.Time
}

// CacheOptions configures a Cache strategy.
type CacheOptions[T any] struct {
	// Provider is the backing store. Required.
	Provider CacheProvider[T]
	// KeyGenerator derives the cache key from the Context; defaults to
	// rc.OperationKey(). An empty key bypasses the cache entirely.
	KeyGenerator func(rc *Context) string
	// TTL is passed through to Provider.Set; zero means no expiry.
	TTL time.Duration
	// ShouldCache reports whether a Success outcome should be written
	// back to the provider; defaults to caching every Success.
	ShouldCache func(Outcome[T]) bool
}

// Cache implements cache-aside: a hit short-circuits the downstream
// callback entirely; a miss delegates and, on a cacheable success, writes
// the result back. Provider faults never alter the result the caller
// would have gotten without caching — they are logged and swallowed.
type Cache[T any] struct {
	name Name
	opts CacheOptions[T]

	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[CacheEvent]
}

// NewCache constructs a Cache strategy. Panics if opts.Provider is nil.
func NewCache[T any](name Name, opts CacheOptions[T]) *Cache[T] {
	if opts.Provider == nil {
		panic("NewCache requires a non-nil Provider")
	}
	if opts.KeyGenerator == nil {
		opts.KeyGenerator = func(rc *Context) string { return rc.OperationKey() }
	}
	if opts.ShouldCache == nil {
		opts.ShouldCache = func(o Outcome[T]) bool { return o.IsSuccess() }
	}

	registry := metricz.New()
	registry.Counter(CacheHitsTotal)
	registry.Counter(CacheMissesTotal)
	registry.Counter(CacheSetsTotal)
	registry.Counter(CacheFaultsTotal)

	return &Cache[T]{
		name:    name,
		opts:    opts,
		metrics: registry,
		tracer:  tracez.New(),
		hooks:   hookz.New[CacheEvent](),
	}
}

// OnHit registers a handler fired on every cache hit.
func (c *Cache[T]) OnHit(handler func(context.Context, CacheEvent) error) error {
	_, err := c.hooks.Hook(CacheEventHit, handler)
	return err
}

// OnMiss registers a handler fired on every cache miss.
func (c *Cache[T]) OnMiss(handler func(context.Context, CacheEvent) error) error {
	_, err := c.hooks.Hook(CacheEventMiss, handler)
	return err
}

// OnSet registers a handler fired whenever a result is written back.
func (c *Cache[T]) OnSet(handler func(context.Context, CacheEvent) error) error {
	_, err := c.hooks.Hook(CacheEventSet, handler)
	return err
}

// Execute implements Strategy.
func (c *Cache[T]) Execute(rc *Context, next Callback[T]) (result Outcome[T]) {
	defer recoverFromPanic(&result, c.name)

	ctx, span := c.tracer.StartSpan(rc.Context(), CacheSpan)
	span.SetTag(CacheTagName, c.name)
	defer span.Finish()

	key := c.opts.KeyGenerator(rc)
	if key == "" {
		value, err := next(rc)
		if err != nil {
			return Fail[T](wrapError(c.name, err, time.Now()))
		}
		return Succeed(value)
	}

	if value, ok, err := c.opts.Provider.Get(ctx, key); err != nil {
		c.metrics.Counter(CacheFaultsTotal).Inc()
		capitan.Error(ctx, SignalCacheFault, FieldName.Field(c.name), FieldKey.Field(key), FieldError.Field(err.Error()))
	} else if ok {
		span.SetTag(CacheTagHit, "true")
		c.metrics.Counter(CacheHitsTotal).Inc()
		capitan.Info(ctx, SignalCacheHit, FieldName.Field(c.name), FieldKey.Field(key))
		c.hooks.Emit(ctx, CacheEventHit, CacheEvent{Name: c.name, Key: key, Timestamp: time.Now()})
		return Succeed(value)
	}

	span.SetTag(CacheTagHit, "false")
	c.metrics.Counter(CacheMissesTotal).Inc()
	capitan.Info(ctx, SignalCacheMiss, FieldName.Field(c.name), FieldKey.Field(key))
	c.hooks.Emit(ctx, CacheEventMiss, CacheEvent{Name: c.name, Key: key, Timestamp: time.Now()})

	start := time.Now()
	value, err := next(rc)
	if err != nil {
		return Fail[T](wrapError(c.name, err, start))
	}
	outcome := Succeed(value)

	if c.opts.ShouldCache(outcome) {
		if setErr := c.opts.Provider.Set(ctx, key, value, c.opts.TTL); setErr != nil {
			c.metrics.Counter(CacheFaultsTotal).Inc()
			capitan.Error(ctx, SignalCacheFault, FieldName.Field(c.name), FieldKey.Field(key), FieldError.Field(setErr.Error()))
		} else {
			c.metrics.Counter(CacheSetsTotal).Inc()
			capitan.Info(ctx, SignalCacheSet, FieldName.Field(c.name), FieldKey.Field(key))
			c.hooks.Emit(ctx, CacheEventSet, CacheEvent{Name: c.name, Key: key, Timestamp: time.Now()})
		}
	}

	return outcome
}

// Name implements Strategy.
func (c *Cache[T]) Name() Name { return c.name }

// Metrics returns this strategy's metrics registry.
func (c *Cache[T]) Metrics() *metricz.Registry { return c.metrics }

// Tracer returns this strategy's tracer.
func (c *Cache[T]) Tracer() *tracez.Tracer { return c.tracer }

// Close releases this strategy's observability resources.
func (c *Cache[T]) Close() error {
	c.tracer.Close()
	c.hooks.Close()
	return nil
}
