// Package redistore provides Redis persistence for reusablestore using
// the go-redis client.
package redistore

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goobs/reusablestore/pkg/store"
)

// Store implements store.Store using Redis.
type Store struct {
	client *redis.Client
	prefix string // key prefix to namespace cache entries
}

// New creates a Redis-backed store. cacheID namespaces the keys; addr
// is "host:port" (default "localhost:6379").
func New(ctx context.Context, cacheID, addr string) (*Store, error) {
	if cacheID == "" {
		return nil, errors.New("cacheID cannot be empty")
	}
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close() //nolint:errcheck // best-effort cleanup
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Store{
		client: client,
		prefix: cacheID + ":",
	}, nil
}

func (s *Store) makeKey(identifier, storeName string) string {
	return s.prefix + store.Key(identifier, storeName)
}

// Get retrieves an item from Redis.
func (s *Store) Get(ctx context.Context, identifier, storeName string) (store.Item, bool, error) {
	data, err := s.client.Get(ctx, s.makeKey(identifier, storeName)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return store.Item{}, false, nil
		}
		return store.Item{}, false, fmt.Errorf("redis get: %w", err)
	}

	var item store.Item
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&item); err != nil {
		return store.Item{}, false, fmt.Errorf("decode item: %w", err)
	}

	if item.Expired(time.Now()) {
		// TTL and entry expiry can disagree by a clock tick; honor the entry.
		if err := s.Remove(ctx, identifier, storeName); err != nil {
			return store.Item{}, false, err
		}
		return store.Item{}, false, nil
	}

	return item, true, nil
}

// Set saves an item to Redis with a TTL matching its expiry.
func (s *Store) Set(ctx context.Context, item store.Item) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(item); err != nil {
		return fmt.Errorf("encode item: %w", err)
	}

	var ttl time.Duration
	if !item.ExpiresAt.IsZero() {
		ttl = time.Until(item.ExpiresAt)
		if ttl <= 0 {
			return nil // already expired
		}
	}

	if err := s.client.Set(ctx, s.makeKey(item.Identifier, item.StoreName), buf.Bytes(), ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Remove deletes an item from Redis.
func (s *Store) Remove(ctx context.Context, identifier, storeName string) error {
	if err := s.client.Del(ctx, s.makeKey(identifier, storeName)).Err(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// scan iterates all keys under this store's prefix.
func (s *Store) scan(ctx context.Context, visit func(keys []string) error) error {
	var cursor uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("scan keys: %w", err)
		}
		if len(keys) > 0 {
			if err := visit(keys); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Clear removes all entries with this store's prefix.
func (s *Store) Clear(ctx context.Context) (int, error) {
	n := 0
	err := s.scan(ctx, func(keys []string) error {
		c, err := s.client.Del(ctx, keys...).Result()
		if err != nil {
			return fmt.Errorf("delete keys: %w", err)
		}
		n += int(c)
		return nil
	})
	return n, err
}

// Len returns the number of entries with this store's prefix.
func (s *Store) Len(ctx context.Context) (int, error) {
	n := 0
	err := s.scan(ctx, func(keys []string) error {
		n += len(keys)
		return nil
	})
	return n, err
}

// LoadRecent streams up to limit most recently updated live entries.
func (s *Store) LoadRecent(ctx context.Context, limit int) (<-chan store.Item, <-chan error) {
	itemCh := make(chan store.Item, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(itemCh)
		defer close(errCh)

		now := time.Now()
		var items []store.Item

		err := s.scan(ctx, func(keys []string) error {
			for _, k := range keys {
				data, err := s.client.Get(ctx, k).Bytes()
				if err != nil {
					if errors.Is(err, redis.Nil) {
						continue // expired between scan and get
					}
					return fmt.Errorf("redis get: %w", err)
				}
				var item store.Item
				if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&item); err != nil {
					continue // skip undecodable entries
				}
				if item.Expired(now) {
					continue
				}
				items = append(items, item)
			}
			return nil
		})
		if err != nil {
			errCh <- err
			return
		}

		sort.Slice(items, func(i, j int) bool {
			return items[i].LastUpdated.After(items[j].LastUpdated)
		})

		for i, item := range items {
			if limit > 0 && i >= limit {
				return
			}
			select {
			case itemCh <- item:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
	}()

	return itemCh, errCh
}

// Cleanup is a no-op: Redis expires entries natively via TTL.
func (*Store) Cleanup(_ context.Context, _ time.Duration) (int, error) {
	return 0, nil
}

// Close releases the Redis client.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}
