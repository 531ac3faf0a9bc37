// Package reusablestore provides a multi-backend key/value cache: a
// capacity-bounded in-memory layer fronting an optional persistent
// backend, with compression and encryption of stored values, per-key
// hit-count and timestamp metadata, and change notification.
package reusablestore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/goobs/reusablestore/pkg/store"
	"github.com/goobs/reusablestore/pkg/store/filestore"
	"github.com/goobs/reusablestore/pkg/store/redistore"
	"github.com/goobs/reusablestore/pkg/store/valkeystore"
	"github.com/goobs/reusablestore/pkg/transform"
)

// New creates a cache. Without a store option the cache is memory-only;
// WithLocalStore, WithValkeyStore, WithRedisStore, WithStore and
// WithBestStore add a persistent backend behind the in-memory layer.
func New(ctx context.Context, opts ...Option) (*Cache, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	pipeline, err := transform.New(transform.Config{
		Codec:      cfg.Codec,
		Level:      cfg.CompressionLevel,
		Password:   cfg.Password,
		KeyLength:  cfg.KeyLength,
		Iterations: cfg.Iterations,
	})
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}

	front, err := newFrontLayer(cfg.Capacity)
	if err != nil {
		return nil, fmt.Errorf("build in-memory layer: %w", err)
	}

	backend, err := buildBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	accessor := cfg.accessor
	if accessor == nil {
		accessor = newMapAccessor()
	}

	c := &Cache{
		cfg:      cfg,
		pipeline: pipeline,
		backend:  backend,
		front:    front,
		tracker:  NewTracker(accessor),
		accessor: accessor,
		subs:     newRegistry(),
	}

	// Background work outlives the constructor's context but not Close.
	bgCtx, bgCancel := context.WithCancel(context.WithoutCancel(ctx))
	c.bgCancel = bgCancel

	if backend != nil && cfg.CleanupMaxAge > 0 {
		c.bg.Add(1)
		go func() {
			defer c.bg.Done()
			deleted, err := backend.Cleanup(bgCtx, cfg.CleanupMaxAge)
			if err != nil {
				slog.Warn("error during cache cleanup", "error", err)
				return
			}
			if deleted > 0 {
				slog.Info("cache cleanup complete", "deleted", deleted)
			}
		}()
	}

	if backend != nil && cfg.Warmup > 0 {
		c.bg.Add(1)
		go func() {
			defer c.bg.Done()
			warmCtx, cancel := context.WithTimeout(bgCtx, 5*time.Minute)
			defer cancel()
			c.warmup(warmCtx)
		}()
	}

	return c, nil
}

// Memory creates a memory-only cache, ignoring any store option.
func Memory(opts ...Option) (*Cache, error) {
	opts = append(opts, func(c *Config) {
		c.backend = backendNone
		c.customStore = nil
	})
	return New(context.Background(), opts...)
}

// buildBackend constructs the backend selected by the config, or nil
// for memory-only caches.
func buildBackend(ctx context.Context, cfg *Config) (store.Store, error) {
	switch cfg.backend {
	case backendNone:
		return nil, nil //nolint:nilnil // nil backend means memory-only
	case backendFile:
		s, err := filestore.New(cfg.cacheID, "")
		if err != nil {
			return nil, fmt.Errorf("build file store: %w", err)
		}
		slog.Info("initialized cache with file persistence", "cache_id", cfg.cacheID)
		return s, nil
	case backendValkey:
		s, err := valkeystore.New(ctx, cfg.cacheID, cfg.addr)
		if err != nil {
			return nil, fmt.Errorf("build valkey store: %w", err)
		}
		slog.Info("initialized cache with valkey persistence", "cache_id", cfg.cacheID, "addr", cfg.addr)
		return s, nil
	case backendRedis:
		s, err := redistore.New(ctx, cfg.cacheID, cfg.addr)
		if err != nil {
			return nil, fmt.Errorf("build redis store: %w", err)
		}
		slog.Info("initialized cache with redis persistence", "cache_id", cfg.cacheID, "addr", cfg.addr)
		return s, nil
	case backendCustom:
		return cfg.customStore, nil
	default:
		return nil, fmt.Errorf("unknown backend kind %d", cfg.backend)
	}
}

// warmup loads recent backend entries into the in-memory layer. Errors
// are logged, not returned; warmup is best-effort.
func (c *Cache) warmup(ctx context.Context) {
	c.mu.RLock()
	backend := c.backend
	limit := c.cfg.Warmup
	c.mu.RUnlock()
	if backend == nil {
		return
	}

	itemCh, errCh := backend.LoadRecent(ctx, limit)

	loaded := 0
	for item := range itemCh {
		c.front.set(store.Key(item.Identifier, item.StoreName), item)
		loaded++
	}

	select {
	case err := <-errCh:
		if err != nil {
			slog.Warn("error during cache warmup", "error", err, "loaded", loaded)
		}
	default:
	}

	if loaded > 0 {
		slog.Info("cache warmup complete", "loaded", loaded)
	}
}
