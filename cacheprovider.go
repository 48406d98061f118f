package failz

import (
	"context"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
)

// CacheProvider is the storage backend a Cache strategy delegates to.
// Trimmed from the pack's Valkey client interface down to the five
// operations a cache-aside strategy actually needs; a caller can adapt
// any key/value store (Redis, Valkey, memcache, an in-process map) to
// this shape instead of being tied to one driver.
type CacheProvider[T any] interface {
	// Get returns the cached value for key, or ok=false on a miss.
	Get(ctx context.Context, key string) (value T, ok bool, err error)
	// Set stores value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value T, ttl time.Duration) error
	// Remove deletes key if present; a miss is not an error.
	Remove(ctx context.Context, key string) error
	// Clear removes every entry this provider holds.
	Clear(ctx context.Context) error
	// Size reports the number of live (unexpired) entries.
	Size(ctx context.Context) (int, error)
}

type memoryCacheEntry[T any] struct {
	value     T
	expiresAt time.Time // zero means no expiry
}

// MemoryCacheProvider is an in-process, mutex-guarded CacheProvider
// reference implementation. Entries past their TTL are hidden from Get
// immediately and swept periodically by a background goroutine, the same
// mutex-guarded-map-plus-Clock idiom the other stateful strategies use.
type MemoryCacheProvider[T any] struct {
	mu      sync.Mutex
	entries map[string]memoryCacheEntry[T]
	clock   clockz.Clock
	done    chan struct{}
	closeOnce sync.Once
}

// NewMemoryCacheProvider constructs a MemoryCacheProvider and starts its
// background expiry sweep at the given interval. A zero interval disables
// the sweep; expired entries are still hidden from Get, and are freed only
// when a Get or Set of the same key, or a Clear, drops them.
func NewMemoryCacheProvider[T any](sweepInterval time.Duration, clock clockz.Clock) *MemoryCacheProvider[T] {
	p := &MemoryCacheProvider[T]{
		entries: make(map[string]memoryCacheEntry[T]),
		clock:   clockOrReal(clock),
		done:    make(chan struct{}),
	}
	if sweepInterval > 0 {
		go p.sweepLoop(sweepInterval)
	}
	return p
}

func (p *MemoryCacheProvider[T]) sweepLoop(interval time.Duration) {
	for {
		select {
		case <-p.clock.After(interval):
			p.sweep()
		case <-p.done:
			return
		}
	}
}

func (p *MemoryCacheProvider[T]) sweep() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.clock.Now()
	for key, entry := range p.entries {
		if !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt) {
			delete(p.entries, key)
		}
	}
}

// Get implements CacheProvider.
func (p *MemoryCacheProvider[T]) Get(_ context.Context, key string) (T, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[key]
	if !ok {
		var zero T
		return zero, false, nil
	}
	if !entry.expiresAt.IsZero() && !p.clock.Now().Before(entry.expiresAt) {
		delete(p.entries, key)
		var zero T
		return zero, false, nil
	}
	return entry.value, true, nil
}

// Set implements CacheProvider.
func (p *MemoryCacheProvider[T]) Set(_ context.Context, key string, value T, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = p.clock.Now().Add(ttl)
	}
	p.entries[key] = memoryCacheEntry[T]{value: value, expiresAt: expiresAt}
	return nil
}

// Remove implements CacheProvider.
func (p *MemoryCacheProvider[T]) Remove(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, key)
	return nil
}

// Clear implements CacheProvider.
func (p *MemoryCacheProvider[T]) Clear(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = make(map[string]memoryCacheEntry[T])
	return nil
}

// Size implements CacheProvider.
func (p *MemoryCacheProvider[T]) Size(_ context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	count := 0
	for _, entry := range p.entries {
		if entry.expiresAt.IsZero() || now.Before(entry.expiresAt) {
			count++
		}
	}
	return count, nil
}

// Close stops the background sweep goroutine, if running.
func (p *MemoryCacheProvider[T]) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}
