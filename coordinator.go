package reusablestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	"github.com/goobs/reusablestore/pkg/store"
	"github.com/goobs/reusablestore/pkg/transform"
)

// defaultPreloadTTL is the max age applied by Preload when no default
// TTL is configured.
const defaultPreloadTTL = 24 * time.Hour

// Result is the outcome of a Get. On a miss, Value is nil, the counts
// are 0 and the dates are the Unix epoch.
type Result struct {
	Identifier   string
	StoreName    string
	Value        *DataValue
	ExpiresAt    time.Time
	LastUpdated  time.Time
	LastAccessed time.Time
	GetHitCount  int64
	SetHitCount  int64
}

// Cache coordinates an in-memory layer with an optional persistent
// backend. Reads consult the in-memory layer first and fall back to the
// backend, filling the in-memory layer on the way out. Writes go through
// both layers before returning. All methods are safe for concurrent use.
type Cache struct {
	mu       sync.RWMutex // guards cfg, pipeline and backend across UpdateConfig
	cfg      *Config
	pipeline *transform.Pipeline
	backend  store.Store // nil for memory-only caches

	front    *frontLayer
	tracker  *Tracker
	accessor MetaAccessor
	subs     *registry
	group    singleflight.Group
	stats    stats
	closed   atomic.Bool

	// background cleanup/warmup goroutines, stopped by Close
	bgCancel context.CancelFunc
	bg       sync.WaitGroup
}

// Get retrieves the value for (identifier, storeName). A miss is not an
// error: the returned Result carries a nil Value, zero counts and epoch
// dates. An expired front-layer copy is evicted and the backend
// consulted; only when the backend holds no live entry either is the
// key treated as gone, with subscribers notified with nil. Values that
// fail decryption or decompression are treated as misses.
func (c *Cache) Get(ctx context.Context, identifier, storeName string) (Result, error) {
	if err := validateKeyParts(identifier, storeName); err != nil {
		return Result{}, err
	}
	if c.closed.Load() {
		return Result{}, ErrClosed
	}

	key := store.Key(identifier, storeName)
	now := time.Now()

	c.mu.RLock()
	backend := c.backend
	c.mu.RUnlock()

	frontWasExpired := false
	item, status := c.front.get(key, now)
	switch status {
	case frontHit:
		if val, ok := c.openValue(item.Value); ok {
			c.stats.frontHits.Add(1)
			return c.hit(ctx, identifier, storeName, key, item.ExpiresAt, val)
		}
		// Sealed copy is unreadable (reconfigured password, corruption).
		// Drop it and retry against the backend.
		c.front.delete(key)
	case frontExpired:
		// The front copy is already evicted; the backend may still hold
		// a live entry (an older one surviving a failed optimistic
		// write, or one written by another process), so consult it
		// before declaring the key gone.
		if backend == nil {
			c.evictExpired(ctx, identifier, storeName, key)
			return missResult(identifier, storeName), nil
		}
		frontWasExpired = true
	case frontMiss:
	}

	if backend == nil {
		c.stats.misses.Add(1)
		return missResult(identifier, storeName), nil
	}

	// Concurrent misses on the same key share a single backend read.
	type loaded struct {
		item  store.Item
		found bool
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		it, found, err := backend.Get(ctx, identifier, storeName)
		return loaded{item: it, found: found}, err
	})
	if err != nil {
		return Result{}, fmt.Errorf("backend get: %w", err)
	}

	l := v.(loaded)
	if !l.found {
		if frontWasExpired {
			// Expiry observed in the front layer with nothing live
			// behind it: the key is gone, tell subscribers.
			c.stats.expired.Add(1)
			c.subs.notify(key, nil)
		}
		c.stats.misses.Add(1)
		return missResult(identifier, storeName), nil
	}
	if l.item.Expired(time.Now()) {
		c.evictExpired(ctx, identifier, storeName, key)
		return missResult(identifier, storeName), nil
	}

	val, ok := c.openValue(l.item.Value)
	if !ok {
		c.stats.misses.Add(1)
		return missResult(identifier, storeName), nil
	}

	// Cache-fill so the next read hits the in-memory layer.
	c.front.set(key, l.item)
	c.stats.backendHits.Add(1)
	return c.hit(ctx, identifier, storeName, key, l.item.ExpiresAt, val)
}

// Set seals value once and writes it through the in-memory layer and
// the backend, in that order, before returning. expiresAt must be a
// non-zero time; a time in the past produces an entry that is already
// expired. Subscribers are notified with the plaintext value after both
// writes succeed.
//
// On backend failure the behavior follows the configured WritePolicy:
// optimistic write-through leaves the in-memory layer updated and
// returns the error; strict write-through rolls the in-memory layer
// back first.
func (c *Cache) Set(ctx context.Context, identifier, storeName string, value DataValue, expiresAt time.Time) error {
	if err := validateKeyParts(identifier, storeName); err != nil {
		return err
	}
	if expiresAt.IsZero() {
		return ErrInvalidExpiry
	}
	if c.closed.Load() {
		return ErrClosed
	}

	c.mu.RLock()
	pipeline := c.pipeline
	backend := c.backend
	policy := c.cfg.WritePolicy
	retries := c.cfg.BackendRetries
	c.mu.RUnlock()

	plain, err := value.encode()
	if err != nil {
		return err
	}
	sealed, err := pipeline.Seal(plain)
	if err != nil {
		return fmt.Errorf("seal value: %w", err)
	}

	now := time.Now()
	item := store.Item{
		Identifier:   identifier,
		StoreName:    storeName,
		Value:        sealed,
		ExpiresAt:    expiresAt,
		LastUpdated:  now,
		LastAccessed: now,
	}
	key := store.Key(identifier, storeName)

	c.front.set(key, item)

	if backend != nil {
		if err := writeBackend(ctx, backend, item, retries); err != nil {
			if policy == WriteThroughStrict {
				c.front.delete(key)
			}
			return fmt.Errorf("backend set: %w", err)
		}
	}

	c.stats.sets.Add(1)
	if _, err := c.tracker.IncrementSet(ctx, identifier, storeName); err != nil {
		slog.Warn("set hit count update failed", "identifier", identifier, "store", storeName, "error", err)
	}
	if err := c.tracker.Stamp(ctx, identifier, storeName, now); err != nil {
		slog.Warn("metadata stamp failed", "identifier", identifier, "store", storeName, "error", err)
	}

	c.subs.notify(key, &value)
	return nil
}

// writeBackend performs the backend write, retrying with exponential
// backoff when retries are configured.
func writeBackend(ctx context.Context, backend store.Store, item store.Item, retries uint64) error {
	op := func() error { return backend.Set(ctx, item) }
	if retries == 0 {
		return op()
	}
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), retries), ctx))
}

// Remove deletes the entry from both layers, resets its metadata and
// notifies subscribers with nil. Removing an absent key is a no-op,
// never an error.
func (c *Cache) Remove(ctx context.Context, identifier, storeName string) error {
	if err := validateKeyParts(identifier, storeName); err != nil {
		return err
	}
	if c.closed.Load() {
		return ErrClosed
	}

	c.mu.RLock()
	backend := c.backend
	c.mu.RUnlock()

	key := store.Key(identifier, storeName)
	c.front.delete(key)

	if backend != nil {
		if err := backend.Remove(ctx, identifier, storeName); err != nil {
			return fmt.Errorf("backend remove: %w", err)
		}
	}

	if err := c.tracker.Reset(ctx, identifier, storeName); err != nil {
		return fmt.Errorf("reset metadata: %w", err)
	}

	c.stats.removes.Add(1)
	c.subs.notify(key, nil)
	return nil
}

// Clear empties both layers and all metadata. Unlike Remove it does not
// notify per-key subscribers.
func (c *Cache) Clear(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}

	c.mu.RLock()
	backend := c.backend
	c.mu.RUnlock()

	c.front.purge()

	if backend != nil {
		if _, err := backend.Clear(ctx); err != nil {
			return fmt.Errorf("backend clear: %w", err)
		}
	}

	if mc, ok := c.accessor.(MetaClearer); ok {
		if err := mc.ClearAll(ctx); err != nil {
			return fmt.Errorf("clear metadata: %w", err)
		}
	}
	return nil
}

// Preload bulk-writes values, keyed identifier -> storeName -> value,
// with a uniform expiry of now plus the configured default TTL (24h if
// none is configured). Subscribers are notified per entry as it lands.
func (c *Cache) Preload(ctx context.Context, data map[string]map[string]DataValue) error {
	c.mu.RLock()
	ttl := c.cfg.DefaultTTL
	c.mu.RUnlock()
	if ttl <= 0 {
		ttl = defaultPreloadTTL
	}
	expiresAt := time.Now().Add(ttl)

	for identifier, stores := range data {
		for storeName, value := range stores {
			if err := c.Set(ctx, identifier, storeName, value, expiresAt); err != nil {
				return fmt.Errorf("preload %s: %w", store.Key(identifier, storeName), err)
			}
		}
	}
	return nil
}

// GetOrSet returns the cached value, or runs loader on a miss and
// stores its result with the given expiry.
func (c *Cache) GetOrSet(ctx context.Context, identifier, storeName string, loader func(context.Context) (DataValue, error), expiresAt time.Time) (Result, error) {
	res, err := c.Get(ctx, identifier, storeName)
	if err != nil {
		return Result{}, err
	}
	if res.Value != nil {
		return res, nil
	}

	value, err := loader(ctx)
	if err != nil {
		return Result{}, err
	}
	if err := c.Set(ctx, identifier, storeName, value, expiresAt); err != nil {
		return Result{}, err
	}
	return c.Get(ctx, identifier, storeName)
}

// Subscribe registers fn for updates to (identifier, storeName) and
// returns an idempotent unsubscribe function. fn receives the current
// value after every mutation or resolved read, and nil on removal or
// observed expiry. A panic in one listener never suppresses the others.
func (c *Cache) Subscribe(identifier, storeName string, fn Listener) (func(), error) {
	if err := validateKeyParts(identifier, storeName); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, ErrNilListener
	}
	return c.subs.subscribe(store.Key(identifier, storeName), fn), nil
}

// UpdateConfig replaces the configuration and reinitializes whatever
// depends on it: the transform pipeline is rebuilt, the in-memory layer
// resized, and the backend swapped if its selection changed.
func (c *Cache) UpdateConfig(ctx context.Context, opts ...Option) error {
	if c.closed.Load() {
		return ErrClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cfg := *c.cfg
	for _, opt := range opts {
		opt(&cfg)
	}

	pipeline, err := transform.New(transform.Config{
		Codec:      cfg.Codec,
		Level:      cfg.CompressionLevel,
		Password:   cfg.Password,
		KeyLength:  cfg.KeyLength,
		Iterations: cfg.Iterations,
	})
	if err != nil {
		return fmt.Errorf("rebuild pipeline: %w", err)
	}

	if backendChanged(c.cfg, &cfg) {
		newBackend, err := buildBackend(ctx, &cfg)
		if err != nil {
			return fmt.Errorf("rebuild backend: %w", err)
		}
		if c.backend != nil {
			if err := c.backend.Close(); err != nil {
				slog.Warn("closing replaced backend failed", "error", err)
			}
		}
		c.backend = newBackend
	}

	if cfg.Capacity != c.cfg.Capacity {
		evicted := c.front.resize(cfg.Capacity)
		if evicted > 0 {
			slog.Info("in-memory layer resized", "capacity", cfg.Capacity, "evicted", evicted)
		}
	}

	c.pipeline = pipeline
	c.cfg = &cfg
	return nil
}

func backendChanged(old, updated *Config) bool {
	return old.backend != updated.backend ||
		old.cacheID != updated.cacheID ||
		old.addr != updated.addr ||
		old.customStore != updated.customStore
}

// Len returns the number of entries in the in-memory layer. For the
// backend entry count, use Backend().Len.
func (c *Cache) Len() int {
	return c.front.len()
}

// Backend exposes the backend store, or nil for memory-only caches.
// Use it for backend-specific operations such as Cleanup or Len.
func (c *Cache) Backend() store.Store {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.backend
}

// Close stops background warmup and cleanup work and releases the
// backend. Operations after Close return ErrClosed.
func (c *Cache) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.bgCancel()
	c.bg.Wait()
	c.mu.RLock()
	backend := c.backend
	c.mu.RUnlock()
	if backend != nil {
		if err := backend.Close(); err != nil {
			return fmt.Errorf("close backend: %w", err)
		}
	}
	return nil
}

// hit finalizes a successful read: bumps metadata, notifies subscribers
// and assembles the Result. Metadata failures degrade the counters, not
// the read.
func (c *Cache) hit(ctx context.Context, identifier, storeName, key string, expiresAt time.Time, val DataValue) (Result, error) {
	now := time.Now()

	getHits, err := c.tracker.IncrementGet(ctx, identifier, storeName)
	if err != nil {
		slog.Warn("get hit count update failed", "identifier", identifier, "store", storeName, "error", err)
	}
	if err := c.tracker.Touch(ctx, identifier, storeName, now); err != nil {
		slog.Warn("metadata touch failed", "identifier", identifier, "store", storeName, "error", err)
	}
	_, setHits, err := c.tracker.HitCounts(ctx, identifier, storeName)
	if err != nil {
		slog.Warn("hit count load failed", "identifier", identifier, "store", storeName, "error", err)
	}
	updated, _, err := c.tracker.Dates(ctx, identifier, storeName)
	if err != nil {
		slog.Warn("metadata date load failed", "identifier", identifier, "store", storeName, "error", err)
	}

	c.subs.notify(key, &val)

	return Result{
		Identifier:   identifier,
		StoreName:    storeName,
		Value:        &val,
		ExpiresAt:    expiresAt,
		LastUpdated:  updated,
		LastAccessed: now,
		GetHitCount:  getHits,
		SetHitCount:  setHits,
	}, nil
}

// evictExpired completes the EXPIRED -> ABSENT transition: both layers
// dropped, subscribers told the key is gone. Expiration discovery is a
// notifiable event.
func (c *Cache) evictExpired(ctx context.Context, identifier, storeName, key string) {
	c.front.delete(key)

	c.mu.RLock()
	backend := c.backend
	c.mu.RUnlock()
	if backend != nil {
		if err := backend.Remove(ctx, identifier, storeName); err != nil {
			slog.Warn("expired entry backend remove failed", "identifier", identifier, "store", storeName, "error", err)
		}
	}

	c.stats.misses.Add(1)
	c.stats.expired.Add(1)
	c.subs.notify(key, nil)
}

// openValue unseals and decodes a stored value. ok is false when the
// value cannot be authenticated, decompressed or decoded; callers treat
// that as a miss.
func (c *Cache) openValue(sealed transform.Sealed) (DataValue, bool) {
	c.mu.RLock()
	pipeline := c.pipeline
	c.mu.RUnlock()

	plain, err := pipeline.Open(sealed)
	if err != nil {
		if !errors.Is(err, transform.ErrAuthentication) {
			slog.Warn("unsealing cached value failed", "error", err)
		}
		return DataValue{}, false
	}
	val, err := decodeValue(plain)
	if err != nil {
		slog.Warn("decoding cached value failed", "error", err)
		return DataValue{}, false
	}
	return val, true
}

func missResult(identifier, storeName string) Result {
	epoch := time.Unix(0, 0).UTC()
	return Result{
		Identifier:   identifier,
		StoreName:    storeName,
		Value:        nil,
		ExpiresAt:    epoch,
		LastUpdated:  epoch,
		LastAccessed: epoch,
	}
}
